package catalog

import (
	"errors"
	"testing"

	"github.com/bryan-buckman/archaeo/internal/model"
	"github.com/stretchr/testify/require"
)

func samplePottery() []model.Pottery {
	return []model.Pottery{
		{ID: "1", Name: "Black polished bowl", Ware: "NBPW", Period: "Mauryan", Division: "Rajshahi", Site: "Mahasthangarh"},
		{ID: "2", Name: "Red jar", Ware: "Redware", Period: "Gupta", Division: "Dhaka", Site: "Wari-Bateshwar"},
		{ID: "3", Name: "Grey dish", Ware: "Greyware", Period: "Mauryan", Division: "Dhaka", Site: "Wari-Bateshwar"},
		{ID: "4", Name: "Rouletted plate", Ware: "Rouletted", Period: "", Division: "Chittagong", Site: "Mainamati"},
	}
}

func ids(items []model.Pottery) []string {
	out := make([]string, len(items))
	for i, p := range items {
		out[i] = string(p.ID)
	}
	return out
}

func TestFilter_AllSentinelReturnsInput(t *testing.T) {
	in := samplePottery()
	for _, sel := range []Selection{
		{},
		{Facets: map[string]string{"ware": "All", "period": "", "division": "all"}},
	} {
		out := Pottery.Filter(in, sel)
		require.Equal(t, in, out)
	}
}

func TestFilter_Conjunctive(t *testing.T) {
	out := Pottery.Filter(samplePottery(), Selection{Facets: map[string]string{"period": "Mauryan", "division": "Dhaka"}})
	require.Equal(t, []string{"3"}, ids(out))
}

func TestFilter_GuildIndustryIgnoresCase(t *testing.T) {
	in := []model.Guild{{ID: "1", Industry: "Textile"}, {ID: "2", Industry: "Metalwork"}}
	out := Guilds.Filter(in, Selection{Facets: map[string]string{"industry": "textile"}})
	require.Len(t, out, 1)
	require.Equal(t, model.FlexString("1"), out[0].ID)

	// Other facets stay exact.
	require.Empty(t, Pottery.Filter(samplePottery(), Selection{Facets: map[string]string{"period": "mauryan"}}))
}

func TestFilter_QueryCaseInsensitiveAcrossFields(t *testing.T) {
	in := samplePottery()
	require.Equal(t, []string{"2", "3"}, ids(Pottery.Filter(in, Selection{Query: "  wari "})))
	require.Equal(t, []string{"1"}, ids(Pottery.Filter(in, Selection{Query: "NBPW"})))
	// Description is not a searchable pottery field.
	require.Empty(t, Pottery.Filter(in, Selection{Query: "no such thing"}))
}

func TestFilter_PreservesOrderAndDoesNotMutate(t *testing.T) {
	in := samplePottery()
	before := samplePottery()
	sel := Selection{Facets: map[string]string{"period": "Mauryan"}, Query: "d"}

	first := Pottery.Filter(in, sel)
	second := Pottery.Filter(in, sel)
	require.Equal(t, first, second)
	require.Equal(t, before, in)
	require.Equal(t, []string{"1", "3"}, ids(first))
}

func TestFilter_SavedOnly(t *testing.T) {
	stones := []model.Stone{
		{ID: "a", Name: "Basalt"},
		{ID: "b", Name: "Sandstone", Uses: model.StringList{"temples"}},
		{ID: "c", Name: "Laterite"},
	}
	out := Stones.Filter(stones, Selection{SavedOnly: true, Saved: map[string]bool{"b": true, "c": true}})
	require.Len(t, out, 2)
	require.Equal(t, model.FlexString("b"), out[0].ID)

	out = Stones.Filter(stones, Selection{SavedOnly: true, Saved: map[string]bool{"b": true, "c": true}, Query: "temple"})
	require.Len(t, out, 1)

	require.Empty(t, Stones.Filter(stones, Selection{SavedOnly: true}))
}

func TestFilter_InstrumentSentinel(t *testing.T) {
	in := []model.Instrument{{ID: "1", Type: "Percussion"}, {ID: "2", Type: "String"}}
	require.Len(t, Instruments.Filter(in, Selection{Facets: map[string]string{"type": "ALL"}}), 2)
	require.Len(t, Instruments.Filter(in, Selection{Facets: map[string]string{"type": "String"}}), 1)
	require.Equal(t, "ALL", Instruments.Sentinel())
	require.Equal(t, "All", Pottery.Sentinel())
}

func TestFacetOptions_FullSetWithoutCascade(t *testing.T) {
	opts := Pottery.FacetOptions(samplePottery(), Selection{Facets: map[string]string{"division": "Dhaka"}})
	require.Equal(t, []string{"Gupta", "Mauryan"}, opts["period"])
	require.Equal(t, []string{"Chittagong", "Dhaka", "Rajshahi"}, opts["division"])
	require.Equal(t, []string{"Greyware", "NBPW", "Redware", "Rouletted"}, opts["ware"])
}

func TestFacetOptions_Cascade(t *testing.T) {
	sites := []model.Site{
		{ID: "1", Division: "Dhaka", Period: "Early Historic", Subperiod: "Mauryan"},
		{ID: "2", Division: "Dhaka", Period: "Medieval", Subperiod: "Sultanate"},
		{ID: "3", Division: "Rajshahi", Period: "Early Historic", Subperiod: "Gupta"},
		{ID: "4", Division: "Rajshahi", Period: "Early Historic", Subperiod: "Pala"},
	}

	opts := Sites.FacetOptions(sites, Selection{})
	require.Equal(t, []string{"Dhaka", "Rajshahi"}, opts["division"])
	require.Equal(t, []string{"Early Historic", "Medieval"}, opts["period"])
	require.Len(t, opts["subperiod"], 4)

	opts = Sites.FacetOptions(sites, Selection{Facets: map[string]string{"division": "Rajshahi"}})
	require.Equal(t, []string{"Dhaka", "Rajshahi"}, opts["division"])
	require.Equal(t, []string{"Early Historic"}, opts["period"])
	require.Equal(t, []string{"Gupta", "Pala"}, opts["subperiod"])

	opts = Sites.FacetOptions(sites, Selection{Facets: map[string]string{"division": "Dhaka", "period": "Medieval"}})
	require.Equal(t, []string{"Sultanate"}, opts["subperiod"])
}

func TestDecode(t *testing.T) {
	out, err := Decode[model.Coin]([]byte(`[{"id":7,"name":"Tanka"}]`))
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, model.FlexString("7"), out[0].ID)

	out, err = Decode[model.Coin]([]byte(`{"items":[{"id":"x"},{"id":"y"}]}`))
	require.NoError(t, err)
	require.Len(t, out, 2)

	out, err = Decode[model.Coin]([]byte(`{"other":1}`))
	require.NoError(t, err)
	require.Empty(t, out)

	_, err = Decode[model.Coin]([]byte(`{oops`))
	require.True(t, errors.Is(err, model.ErrFormat))
}

func TestNormalizeGuilds(t *testing.T) {
	raw := []byte(`[
		{"id":1,"name":"weavers","published":true,"materials":"cotton; silk"},
		{"id":2,"name":"Bead makers","published":"true"},
		{"id":3,"name":"Hidden","published":false},
		{"id":4,"name":"Copper smiths","published":true}
	]`)
	c, ok := Lookup(model.DomainGuilds)
	require.True(t, ok)

	view, err := c.View(raw, Selection{})
	require.NoError(t, err)
	require.Equal(t, 3, view.Total)
	guilds := view.Items.([]model.Guild)
	require.Equal(t, []model.FlexString{"Bead makers", "Copper smiths", "weavers"},
		[]model.FlexString{guilds[0].Name, guilds[1].Name, guilds[2].Name})

	view, err = c.View(raw, Selection{Query: "silk"})
	require.NoError(t, err)
	require.Equal(t, 1, view.Count)
}

func TestRegistry(t *testing.T) {
	for _, d := range []model.Domain{
		model.DomainNews, model.DomainCoins, model.DomainGuilds, model.DomainPottery, model.DomainStones,
		model.DomainWeaponry, model.DomainInstruments, model.DomainSites, model.DomainInscriptions,
		model.DomainRulers, model.DomainScience,
	} {
		c, ok := Lookup(d)
		require.True(t, ok, d)
		require.Equal(t, d, c.Domain())
	}
	require.Len(t, Domains(), 11)

	c, _ := Lookup(model.DomainSites)
	require.Equal(t, []string{"division", "period", "subperiod"}, c.FacetNames())
}
