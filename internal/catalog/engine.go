// Package catalog filters in-memory collections by facet selections and a
// free-text query.
package catalog

import (
	"slices"
	"strings"
)

// DefaultAll is the sentinel meaning "no constraint" for a facet.
const DefaultAll = "All"

// IsAll reports whether a facet selection places no constraint.
func IsAll(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, DefaultAll)
}

// Facet is a named discrete filter dimension.
type Facet[T any] struct {
	Name  string
	Value func(T) string
	// Fold matches the selection case-insensitively.
	Fold bool
}

// Selection is the filter state of one view.
type Selection struct {
	Facets map[string]string
	Query  string
	// SavedOnly keeps only items whose id is in Saved.
	SavedOnly bool
	Saved     map[string]bool
}

// Engine filters one record type.
type Engine[T any] struct {
	Facets []Facet[T]
	Search func(T) []string
	ID     func(T) string
	// Cascade narrows each facet's options by the selections of the facets
	// listed before it. Otherwise options come from the full set.
	Cascade bool
	// All is the sentinel shown to users; matching is case-insensitive.
	All string
}

// FacetNames lists the facet names in order.
func (e *Engine[T]) FacetNames() []string {
	names := make([]string, len(e.Facets))
	for i, f := range e.Facets {
		names[i] = f.Name
	}
	return names
}

// Sentinel returns the "no constraint" label of the engine.
func (e *Engine[T]) Sentinel() string {
	if e.All == "" {
		return DefaultAll
	}
	return e.All
}

// Filter returns the items matching every active facet, the query and the
// saved-only constraint. Input order is preserved and items is not modified.
func (e *Engine[T]) Filter(items []T, sel Selection) []T {
	q := strings.ToLower(strings.TrimSpace(sel.Query))
	out := make([]T, 0, len(items))
	for _, it := range items {
		if !e.matchFacets(it, sel.Facets, len(e.Facets)) {
			continue
		}
		if q != "" && !e.matchQuery(it, q) {
			continue
		}
		if sel.SavedOnly && (e.ID == nil || !sel.Saved[e.ID(it)]) {
			continue
		}
		out = append(out, it)
	}
	return out
}

// FacetOptions returns the sorted distinct values of every facet.
func (e *Engine[T]) FacetOptions(items []T, sel Selection) map[string][]string {
	opts := make(map[string][]string, len(e.Facets))
	for i, f := range e.Facets {
		seen := make(map[string]struct{})
		vals := []string{}
		for _, it := range items {
			if e.Cascade && !e.matchFacets(it, sel.Facets, i) {
				continue
			}
			v := strings.TrimSpace(f.Value(it))
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			vals = append(vals, v)
		}
		slices.SortFunc(vals, compareFold)
		opts[f.Name] = vals
	}
	return opts
}

// matchFacets checks the first n facets.
func (e *Engine[T]) matchFacets(it T, selected map[string]string, n int) bool {
	for _, f := range e.Facets[:n] {
		want := selected[f.Name]
		if IsAll(want) || strings.EqualFold(want, e.Sentinel()) {
			continue
		}
		got, want := strings.TrimSpace(f.Value(it)), strings.TrimSpace(want)
		match := got == want
		if f.Fold {
			match = strings.EqualFold(got, want)
		}
		if !match {
			return false
		}
	}
	return true
}

func (e *Engine[T]) matchQuery(it T, q string) bool {
	if e.Search == nil {
		return true
	}
	hay := strings.ToLower(strings.Join(e.Search(it), " "))
	return strings.Contains(hay, q)
}

func compareFold(a, b string) int {
	if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}
