package choropleth

import (
	"errors"
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/hazyhaar/areastat/pkg/table"
)

// BarChart writes a PNG bar chart of rows, in order.
func BarChart(w io.Writer, rows []table.Ranked, metric string) error {
	if len(rows) == 0 {
		return errors.New("bar chart: no rows")
	}
	p := plot.New()
	p.Title.Text = metric
	p.Title.TextStyle.Font.Size = vg.Points(14)
	p.Y.Label.Text = metric

	values := make(plotter.Values, len(rows))
	names := make([]string, len(rows))
	for i, r := range rows {
		values[i] = r.Value
		names[i] = r.Key
	}
	bars, err := plotter.NewBarChart(values, vg.Points(28))
	if err != nil {
		return fmt.Errorf("bar chart: %w", err)
	}
	bars.Color = color.RGBA{R: 0xde, G: 0x2d, B: 0x26, A: 0xff}
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars, plotter.NewGrid())
	p.NominalX(names...)
	p.X.Tick.Label.Rotation = 0.5
	p.X.Tick.Label.XAlign = draw.XRight
	p.X.Tick.Label.YAlign = draw.YCenter

	width := vg.Points(float64(120 + 60*len(rows)))
	wt, err := p.WriterTo(width, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("bar chart: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write chart: %w", err)
	}
	return nil
}
