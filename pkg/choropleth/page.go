package choropleth

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"

	"github.com/hazyhaar/areastat/pkg/table"
)

// Option is one entry of a selector.
type Option struct {
	Value    string
	Label    string
	Selected bool
}

// Panel is one metric's map, legend and top table on the page.
type Panel struct {
	ID       string
	Metric   string
	GeoJSON  template.JS
	Legend   []LegendEntry
	Top      []table.Ranked
	ChartURL string
}

// PageData is everything the page template needs.
type PageData struct {
	Title   string
	Levels  []Option
	Metrics []Option
	Zooms   []Option
	Center  [2]float64
	Zoom    int
	Panels  []Panel
	// Warning is shown as a banner when the data could not be loaded.
	Warning   string
	Unmatched []string
}

// NewPanel converts a rendered map into a page panel.
func NewPanel(id string, m *Map, top []table.Ranked, chartURL string) (Panel, error) {
	data, err := m.GeoJSON()
	if err != nil {
		return Panel{}, err
	}
	return Panel{
		ID:       id,
		Metric:   m.Metric,
		GeoJSON:  template.JS(data),
		Legend:   m.Scale.Legend(),
		Top:      top,
		ChartURL: chartURL,
	}, nil
}

// WritePage renders the interactive page.
func WritePage(w io.Writer, data PageData) error {
	if err := pageTmpl.Execute(w, data); err != nil {
		return fmt.Errorf("render page: %w", err)
	}
	return nil
}

var pageTmpl = template.Must(template.New("page").Funcs(template.FuncMap{
	"fmt2": func(v float64) string { return fmt.Sprintf("%.2f", v) },
	"json": func(v any) (template.JS, error) {
		b, err := json.Marshal(v)
		return template.JS(b), err
	},
}).Parse(pageHTML))

const pageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<link rel="stylesheet" href="https://unpkg.com/leaflet@1.9.4/dist/leaflet.css" />
<script src="https://unpkg.com/leaflet@1.9.4/dist/leaflet.js"></script>
<style>
body { font-family: sans-serif; margin: 0 1rem; }
form { display: flex; gap: 1rem; align-items: flex-end; margin: 1rem 0; }
.warning { background: #fee5d9; border: 1px solid #de2d26; padding: .5rem 1rem; }
.panel { margin-bottom: 2rem; }
.map { height: 520px; }
.legend span { display: inline-block; width: 1rem; height: 1rem; vertical-align: middle; }
table { border-collapse: collapse; }
td, th { padding: .2rem .6rem; border-bottom: 1px solid #ddd; text-align: left; }
td.num { text-align: right; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{if .Warning}}<div class="warning">Could not build the map: {{.Warning}}</div>{{end}}
<form method="get" action="/">
  <label>Metrics<br><select name="metric" multiple size="6">
  {{range .Metrics}}<option value="{{.Value}}"{{if .Selected}} selected{{end}}>{{.Label}}</option>{{end}}
  </select></label>
  <label>Level<br><select name="level">
  {{range .Levels}}<option value="{{.Value}}"{{if .Selected}} selected{{end}}>{{.Label}}</option>{{end}}
  </select></label>
  <label>Zoom to<br><select name="zoom">
  <option value="">All</option>
  {{range .Zooms}}<option value="{{.Value}}"{{if .Selected}} selected{{end}}>{{.Label}}</option>{{end}}
  </select></label>
  <button type="submit">Show</button>
</form>
{{range .Panels}}
<div class="panel">
  <h2>{{.Metric}}</h2>
  <div id="{{.ID}}" class="map"></div>
  <div class="legend">{{range .Legend}}<span style="background: {{.Color}}"></span> {{fmt2 .From}} to {{fmt2 .To}} {{end}}</div>
  <h3>Top {{len .Top}}</h3>
  <table>
  <tr><th>Area</th><th>{{.Metric}}</th></tr>
  {{range .Top}}<tr><td>{{.Key}}</td><td class="num">{{fmt2 .Value}}</td></tr>{{end}}
  </table>
  {{if .ChartURL}}<img src="{{.ChartURL}}" alt="{{.Metric}} chart">{{end}}
  <script>
  (function() {
    var map = L.map({{.ID}}).setView({{json $.Center}}, {{$.Zoom}});
    L.tileLayer('https://{s}.basemaps.cartocdn.com/light_all/{z}/{x}/{y}{r}.png', {
      attribution: '&copy; OpenStreetMap contributors &copy; CARTO'
    }).addTo(map);
    L.geoJSON({{.GeoJSON}}, {
      style: function(f) {
        return { fillColor: f.properties.fill, weight: 1, color: '#555', fillOpacity: 0.7 };
      },
      onEachFeature: function(f, layer) { layer.bindTooltip(f.properties.tooltip); }
    }).addTo(map);
  })();
  </script>
</div>
{{end}}
{{if .Unmatched}}
<details><summary>{{len .Unmatched}} areas without data (drawn as 0)</summary>
<ul>{{range .Unmatched}}<li>{{.}}</li>{{end}}</ul>
</details>
{{end}}
</body>
</html>
`
