package area

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// DefaultSubstitutions reconciles population-table names with the names used
// by the ONS county and unitary authority boundary files.
var DefaultSubstitutions = map[string]string{
	"Herefordshire":      "Herefordshire, County of",
	"Bristol":            "Bristol, City of",
	"Kingston upon Hull": "Kingston upon Hull, City of",
}

// MatchKey folds a name into the key used for every join: lowercase, accents
// stripped, whitespace collapsed (e.g. "  Ynys Môn " -> "ynys mon").
func MatchKey(name string) string {
	folded, _, _ := transform.String(stripAccents, strings.ToLower(name))
	return strings.Join(strings.Fields(folded), " ")
}

// Canonicalizer maps raw area names onto the boundary files' naming
// convention through a fixed substitution table.
type Canonicalizer struct {
	subs map[string]string // MatchKey(raw) -> canonical
}

// NewCanonicalizer builds a canonicalizer from DefaultSubstitutions plus
// extra. Entries in extra override the defaults.
func NewCanonicalizer(extra map[string]string) (*Canonicalizer, error) {
	merged := make(map[string]string, len(DefaultSubstitutions)+len(extra))
	for k, v := range DefaultSubstitutions {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}

	c := &Canonicalizer{subs: make(map[string]string, len(merged))}
	for raw, canonical := range merged {
		canonical = collapse(canonical)
		if canonical == "" {
			return nil, fmt.Errorf("substitution for %q has an empty target", raw)
		}
		c.subs[MatchKey(raw)] = canonical
	}

	// A target that is itself a source would make Canonical non-idempotent.
	for raw, canonical := range c.subs {
		if next, ok := c.subs[MatchKey(canonical)]; ok && next != canonical {
			return nil, fmt.Errorf("substitution chain: %q -> %q -> %q", raw, canonical, next)
		}
	}
	return c, nil
}

// MustCanonicalizer is NewCanonicalizer for tables known to be valid.
func MustCanonicalizer(extra map[string]string) *Canonicalizer {
	c, err := NewCanonicalizer(extra)
	if err != nil {
		panic(err)
	}
	return c
}

// Canonical returns the canonical form of name. Unknown names pass through
// with whitespace collapsed.
func (c *Canonicalizer) Canonical(name string) string {
	name = collapse(name)
	if c == nil {
		return name
	}
	if canonical, ok := c.subs[MatchKey(name)]; ok {
		return canonical
	}
	return name
}

// Key is MatchKey(Canonical(name)).
func (c *Canonicalizer) Key(name string) string {
	return MatchKey(c.Canonical(name))
}

// Substitutions returns the table as raw-key -> canonical pairs, sorted by key.
func (c *Canonicalizer) Substitutions() [][2]string {
	out := make([][2]string, 0, len(c.subs))
	for k, v := range c.subs {
		out = append(out, [2]string{k, v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
