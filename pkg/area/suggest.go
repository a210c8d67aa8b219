package area

import (
	"sort"

	"github.com/agnivade/levenshtein"
)

// Suggestion is a known name close to an unmatched one.
type Suggestion struct {
	Name     string `json:"name"`
	Distance int    `json:"distance"`
}

// Suggest returns up to max candidates within a third of the name's length
// in edit distance, closest first.
func Suggest(name string, candidates []string, max int) []Suggestion {
	key := MatchKey(name)
	limit := len(key)/3 + 1

	var out []Suggestion
	for _, c := range candidates {
		d := levenshtein.ComputeDistance(key, MatchKey(c))
		if d == 0 || d > limit {
			continue
		}
		out = append(out, Suggestion{Name: c, Distance: d})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Name < out[j].Name
	})
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}
