package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/bryan-buckman/archaeo/internal/model"
)

func s(v model.FlexString) string { return string(v) }

func join(l model.StringList) string { return strings.Join(l, " ") }

// Articles filters feed items by title and description.
var Articles = &Engine[model.Item]{
	Search: func(it model.Item) []string { return []string{it.Title, it.Description} },
	ID:     func(it model.Item) string { return it.GUID },
}

// Guilds filters craft guilds by industry, matched case-insensitively.
var Guilds = &Engine[model.Guild]{
	Facets: []Facet[model.Guild]{
		{Name: "industry", Value: func(g model.Guild) string { return s(g.Industry) }, Fold: true},
	},
	Search: func(g model.Guild) []string {
		return []string{s(g.Name), s(g.Description), s(g.Industry), s(g.Period),
			join(g.Materials), join(g.Techniques), join(g.Sites)}
	},
	ID: func(g model.Guild) string { return s(g.ID) },
}

// Pottery filters ceramics by ware, period and division.
var Pottery = &Engine[model.Pottery]{
	Facets: []Facet[model.Pottery]{
		{Name: "ware", Value: func(p model.Pottery) string { return s(p.Ware) }},
		{Name: "period", Value: func(p model.Pottery) string { return s(p.Period) }},
		{Name: "division", Value: func(p model.Pottery) string { return s(p.Division) }},
	},
	Search: func(p model.Pottery) []string { return []string{s(p.Name), s(p.Site), s(p.Ware)} },
	ID:     func(p model.Pottery) string { return s(p.ID) },
}

// Stones has no facets; the screen pairs it with a saved-only toggle.
var Stones = &Engine[model.Stone]{
	Search: func(st model.Stone) []string {
		return []string{s(st.Name), s(st.Type), s(st.Color), join(st.Uses), join(st.Sites)}
	},
	ID: func(st model.Stone) string { return s(st.ID) },
}

// Instruments filters by type and period, with "ALL" as the sentinel.
var Instruments = &Engine[model.Instrument]{
	Facets: []Facet[model.Instrument]{
		{Name: "type", Value: func(in model.Instrument) string { return s(in.Type) }},
		{Name: "period", Value: func(in model.Instrument) string { return s(in.Period) }},
	},
	Search: func(in model.Instrument) []string { return []string{s(in.Name), s(in.Region), s(in.Description)} },
	ID:     func(in model.Instrument) string { return s(in.ID) },
	All:    "ALL",
}

// Weaponry filters by era and material.
var Weaponry = &Engine[model.Weapon]{
	Facets: []Facet[model.Weapon]{
		{Name: "era", Value: func(w model.Weapon) string { return s(w.Era) }},
		{Name: "material", Value: func(w model.Weapon) string { return s(w.Material) }},
	},
	Search: func(w model.Weapon) []string { return []string{s(w.Name), s(w.Era), s(w.Material), s(w.FormFactor)} },
	ID:     func(w model.Weapon) string { return s(w.ID) },
}

// Coins filters by dynasty, metal and denomination.
var Coins = &Engine[model.Coin]{
	Facets: []Facet[model.Coin]{
		{Name: "dynasty", Value: func(c model.Coin) string { return s(c.Dynasty) }},
		{Name: "metal", Value: func(c model.Coin) string { return s(c.Metal) }},
		{Name: "denomination", Value: func(c model.Coin) string { return s(c.Denomination) }},
	},
	Search: func(c model.Coin) []string { return []string{s(c.Name), s(c.Dynasty), s(c.Ruler), s(c.Mint)} },
	ID:     func(c model.Coin) string { return s(c.ID) },
}

// Sites narrows progressively: period options depend on the division, and
// subperiod options on both.
var Sites = &Engine[model.Site]{
	Facets: []Facet[model.Site]{
		{Name: "division", Value: func(st model.Site) string { return s(st.Division) }},
		{Name: "period", Value: func(st model.Site) string { return s(st.Period) }},
		{Name: "subperiod", Value: func(st model.Site) string { return s(st.Subperiod) }},
	},
	Search:  func(st model.Site) []string { return []string{s(st.Name), s(st.Type), s(st.Notes)} },
	ID:      func(st model.Site) string { return s(st.ID) },
	Cascade: true,
}

// Inscriptions is searched by title and provenance only.
var Inscriptions = &Engine[model.Inscription]{
	Search: func(in model.Inscription) []string { return []string{s(in.Title), s(in.Provenance)} },
	ID:     func(in model.Inscription) string { return s(in.ID) },
}

// Rulers filters by dynasty.
var Rulers = &Engine[model.Ruler]{
	Facets: []Facet[model.Ruler]{
		{Name: "dynasty", Value: func(r model.Ruler) string { return s(r.Dynasty) }},
	},
	Search: func(r model.Ruler) []string {
		return []string{s(r.Ruler), s(r.Dynasty), s(r.ReignLabel), join(r.Tags), join(r.Achievements)}
	},
	ID: func(r model.Ruler) string { return s(r.ID) },
}

// Science filters science topics by field and period.
var Science = &Engine[model.ScienceTopic]{
	Facets: []Facet[model.ScienceTopic]{
		{Name: "field", Value: func(t model.ScienceTopic) string { return s(t.Field) }},
		{Name: "period", Value: func(t model.ScienceTopic) string { return s(t.Period) }},
	},
	Search: func(t model.ScienceTopic) []string { return []string{s(t.Title), s(t.Summary), join(t.Tags)} },
	ID:     func(t model.ScienceTopic) string { return s(t.ID) },
}

// Decode reads a collection served either as a bare array or wrapped in
// {"items": [...]}.
func Decode[T any](raw []byte) ([]T, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return []T{}, nil
	}
	var out []T
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("decode collection: %w: %v", model.ErrFormat, err)
		}
		return out, nil
	}
	var wrapped struct {
		Items []T `json:"items"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode collection: %w: %v", model.ErrFormat, err)
	}
	if wrapped.Items == nil {
		return []T{}, nil
	}
	return wrapped.Items, nil
}

// NormalizeGuilds keeps published guilds sorted by name.
func NormalizeGuilds(in []model.Guild) []model.Guild {
	out := make([]model.Guild, 0, len(in))
	for _, g := range in {
		if g.Published {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(s(out[i].Name)) < strings.ToLower(s(out[j].Name))
	})
	return out
}

// View is a filtered collection ready to serve.
type View struct {
	Domain  model.Domain        `json:"domain"`
	Items   any                 `json:"items"`
	Count   int                 `json:"count"`
	Total   int                 `json:"total"`
	Facets  map[string][]string `json:"facets"`
	All     string              `json:"all"`
	Source  model.SourceTag     `json:"source,omitempty"`
	Status  string              `json:"status,omitempty"`
	Updated int64               `json:"updated,omitempty"`
}

// Catalog is a domain engine bound to its record type.
type Catalog interface {
	Domain() model.Domain
	FacetNames() []string
	View(raw []byte, sel Selection) (View, error)
}

type binding[T any] struct {
	domain  model.Domain
	engine  *Engine[T]
	prepare func([]T) []T
}

func (b binding[T]) Domain() model.Domain { return b.domain }
func (b binding[T]) FacetNames() []string { return b.engine.FacetNames() }

func (b binding[T]) View(raw []byte, sel Selection) (View, error) {
	items, err := Decode[T](raw)
	if err != nil {
		return View{}, err
	}
	if b.prepare != nil {
		items = b.prepare(items)
	}
	filtered := b.engine.Filter(items, sel)
	return View{
		Domain: b.domain,
		Items:  filtered,
		Count:  len(filtered),
		Total:  len(items),
		Facets: b.engine.FacetOptions(items, sel),
		All:    b.engine.Sentinel(),
	}, nil
}

var registry = map[model.Domain]Catalog{
	model.DomainNews:         binding[model.Item]{domain: model.DomainNews, engine: Articles},
	model.DomainGuilds:       binding[model.Guild]{domain: model.DomainGuilds, engine: Guilds, prepare: NormalizeGuilds},
	model.DomainPottery:      binding[model.Pottery]{domain: model.DomainPottery, engine: Pottery},
	model.DomainStones:       binding[model.Stone]{domain: model.DomainStones, engine: Stones},
	model.DomainInstruments:  binding[model.Instrument]{domain: model.DomainInstruments, engine: Instruments},
	model.DomainWeaponry:     binding[model.Weapon]{domain: model.DomainWeaponry, engine: Weaponry},
	model.DomainCoins:        binding[model.Coin]{domain: model.DomainCoins, engine: Coins},
	model.DomainSites:        binding[model.Site]{domain: model.DomainSites, engine: Sites},
	model.DomainInscriptions: binding[model.Inscription]{domain: model.DomainInscriptions, engine: Inscriptions},
	model.DomainRulers:       binding[model.Ruler]{domain: model.DomainRulers, engine: Rulers},
	model.DomainScience:      binding[model.ScienceTopic]{domain: model.DomainScience, engine: Science},
}

// Lookup returns the catalog of a domain.
func Lookup(d model.Domain) (Catalog, bool) {
	c, ok := registry[d]
	return c, ok
}

// Domains lists the registered domains in name order.
func Domains() []model.Domain {
	out := make([]model.Domain, 0, len(registry))
	for d := range registry {
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}
