package model

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Domain names a content area with its own cache and bookmark set.
type Domain string

const (
	DomainNews         Domain = "news"
	DomainCoins        Domain = "coins"
	DomainGuilds       Domain = "guilds"
	DomainPottery      Domain = "pottery"
	DomainStones       Domain = "stones"
	DomainWeaponry     Domain = "weaponry"
	DomainInstruments  Domain = "instruments"
	DomainSites        Domain = "sites"
	DomainInscriptions Domain = "inscriptions"
	DomainRulers       Domain = "rulers"
	DomainScience      Domain = "science"
)

// BookmarkDomains lists the domains that keep a bookmark set.
var BookmarkDomains = []Domain{
	DomainNews, DomainCoins, DomainGuilds, DomainPottery,
	DomainStones, DomainWeaponry, DomainInstruments,
}

// BookmarkKey returns the persisted key of a domain's bookmark set.
// The names match what earlier clients wrote so their data is picked up.
func BookmarkKey(d Domain) string {
	switch d {
	case DomainNews:
		return "bookmarkedArticles"
	case DomainGuilds:
		return "guildBookmarks"
	case DomainWeaponry:
		return "weaponry:bookmarks:v1"
	default:
		return string(d) + ":bookmarks"
	}
}

// ParseDomain validates a domain name.
func ParseDomain(s string) (Domain, bool) {
	d := Domain(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case DomainNews, DomainCoins, DomainGuilds, DomainPottery, DomainStones, DomainWeaponry,
		DomainInstruments, DomainSites, DomainInscriptions, DomainRulers, DomainScience:
		return d, true
	}
	return "", false
}

// FlexString accepts a JSON string or number.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexString(n.String())
		return nil
	}
	*f = ""
	return nil
}

// Flag accepts true/false or their string forms.
type Flag bool

// UnmarshalJSON implements json.Unmarshaler.
func (f *Flag) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = Flag(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, _ := strconv.ParseBool(strings.TrimSpace(s))
		*f = Flag(v)
		return nil
	}
	*f = false
	return nil
}

// Guild is a craft/industry record.
type Guild struct {
	ID          FlexString `json:"id"`
	Name        FlexString `json:"name"`
	Industry    FlexString `json:"industry"`
	Materials   StringList `json:"materials"`
	Techniques  StringList `json:"techniques"`
	Sites       StringList `json:"sites"`
	Period      FlexString `json:"period"`
	Image       FlexString `json:"image"`
	Description FlexString `json:"description"`
	Published   Flag       `json:"published"`
}

// Pottery is a ceramic ware record.
type Pottery struct {
	ID          FlexString `json:"id"`
	Name        FlexString `json:"name"`
	Ware        FlexString `json:"ware"`
	Period      FlexString `json:"period"`
	Division    FlexString `json:"division"`
	Site        FlexString `json:"site"`
	Image       FlexString `json:"image"`
	Description FlexString `json:"description"`
}

// Stone is a building/ornamental stone record.
type Stone struct {
	ID          FlexString `json:"id"`
	Name        FlexString `json:"name"`
	Type        FlexString `json:"type"`
	Color       FlexString `json:"color"`
	Uses        StringList `json:"uses"`
	Sites       StringList `json:"sites"`
	Image       FlexString `json:"image"`
	Description FlexString `json:"description"`
}

// Instrument is a musical instrument record.
type Instrument struct {
	ID          FlexString `json:"id"`
	Name        FlexString `json:"name"`
	Type        FlexString `json:"type"`
	Period      FlexString `json:"period"`
	Region      FlexString `json:"region"`
	Image       FlexString `json:"image"`
	Description FlexString `json:"description"`
}

// Weapon is a weaponry record.
type Weapon struct {
	ID          FlexString `json:"id"`
	Name        FlexString `json:"name"`
	Era         FlexString `json:"era"`
	Material    FlexString `json:"material"`
	SubMaterial FlexString `json:"subMaterial"`
	FormFactor  FlexString `json:"formFactor"`
	StartYear   *int       `json:"startYear,omitempty"`
	EndYear     *int       `json:"endYear,omitempty"`
	Image       FlexString `json:"image"`
	Description FlexString `json:"description"`
}

// Coin is a numismatic record.
type Coin struct {
	ID           FlexString `json:"id"`
	Name         FlexString `json:"name"`
	Dynasty      FlexString `json:"dynasty"`
	Ruler        FlexString `json:"ruler"`
	Metal        FlexString `json:"metal"`
	Denomination FlexString `json:"denomination"`
	Mint         FlexString `json:"mint"`
	Period       FlexString `json:"period"`
	Image        FlexString `json:"image"`
	Description  FlexString `json:"description"`
}

// Site is an excavation site with coordinates.
type Site struct {
	ID        FlexString `json:"id"`
	Name      FlexString `json:"name"`
	Division  FlexString `json:"division"`
	Period    FlexString `json:"period"`
	Subperiod FlexString `json:"subperiod"`
	Type      FlexString `json:"type"`
	Image     FlexString `json:"image"`
	Notes     FlexString `json:"notes"`
	Lat       float64    `json:"lat"`
	Lon       float64    `json:"lon"`
}

// Inscription is an epigraphic record.
type Inscription struct {
	ID          FlexString `json:"id"`
	Title       FlexString `json:"title"`
	Provenance  FlexString `json:"provenance"`
	Script      FlexString `json:"script"`
	Language    FlexString `json:"language"`
	Image       FlexString `json:"image"`
	Description FlexString `json:"description"`
}

// Ruler is a dynasty timeline entry.
type Ruler struct {
	ID           FlexString `json:"id"`
	Ruler        FlexString `json:"ruler"`
	Dynasty      FlexString `json:"dynasty"`
	ReignLabel   FlexString `json:"reignLabel"`
	Tags         StringList `json:"tags"`
	Achievements StringList `json:"achievements"`
}

// ScienceTopic is a science and technology entry.
type ScienceTopic struct {
	ID      FlexString `json:"id"`
	Title   FlexString `json:"title"`
	Field   FlexString `json:"field"`
	Period  FlexString `json:"period"`
	Summary FlexString `json:"summary"`
	Tags    StringList `json:"tags"`
}
