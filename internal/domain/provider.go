package domain

import (
	"encoding/json"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Provider groups offerings into storefront sections.
type Provider string

const (
	ProviderCleaning    Provider = "cleaning"
	ProviderPlumbing    Provider = "plumbing"
	ProviderElectrical  Provider = "electrical"
	ProviderGardening   Provider = "gardening"
	ProviderPestControl Provider = "pest-control"
	ProviderBeauty      Provider = "beauty"
	ProviderOther       Provider = "other"
)

// ProviderInfo holds presentation metadata for a provider section.
type ProviderInfo struct {
	Key         Provider `json:"key"`
	DisplayName string   `json:"displayName"`
	Explanation string   `json:"explanation"`
	BannerColor string   `json:"bannerColor"`
}

var providerTable = map[Provider]ProviderInfo{
	ProviderCleaning: {
		Key:         ProviderCleaning,
		DisplayName: "Cleaning",
		Explanation: "Home, carpet and deep cleaning by vetted cleaners.",
		BannerColor: "#2E86DE",
	},
	ProviderPlumbing: {
		Key:         ProviderPlumbing,
		DisplayName: "Plumbing",
		Explanation: "Leaks, geysers, drains and installations.",
		BannerColor: "#10AC84",
	},
	ProviderElectrical: {
		Key:         ProviderElectrical,
		DisplayName: "Electrical",
		Explanation: "Certified electricians for repairs and compliance.",
		BannerColor: "#F39C12",
	},
	ProviderGardening: {
		Key:         ProviderGardening,
		DisplayName: "Gardening",
		Explanation: "Lawn care, trimming and garden refuse removal.",
		BannerColor: "#27AE60",
	},
	ProviderPestControl: {
		Key:         ProviderPestControl,
		DisplayName: "Pest Control",
		Explanation: "Fumigation and preventative treatments.",
		BannerColor: "#8E44AD",
	},
	ProviderBeauty: {
		Key:         ProviderBeauty,
		DisplayName: "Beauty",
		Explanation: "Hair, nails and grooming at home.",
		BannerColor: "#E84393",
	},
	ProviderOther: {
		Key:         ProviderOther,
		DisplayName: "Other Services",
		Explanation: "More services from our partners.",
		BannerColor: "#636E72",
	},
}

var providerAliases = map[string]Provider{
	"cleaner":      ProviderCleaning,
	"cleaners":     ProviderCleaning,
	"plumber":      ProviderPlumbing,
	"plumbers":     ProviderPlumbing,
	"electrician":  ProviderElectrical,
	"electricians": ProviderElectrical,
	"garden":       ProviderGardening,
	"gardener":     ProviderGardening,
	"pest":         ProviderPestControl,
	"pestcontrol":  ProviderPestControl,
	"salon":        ProviderBeauty,
}

var titleCaser = cases.Title(language.English)

// LookupProvider maps a free-form provider name to a known Provider.
// The boolean is false when the name fell back to ProviderOther.
func LookupProvider(raw string) (Provider, bool) {
	key := providerKey(raw)
	if key == "" {
		return ProviderOther, false
	}
	if _, ok := providerTable[Provider(key)]; ok {
		return Provider(key), true
	}
	if alias, ok := providerAliases[strings.ReplaceAll(key, "-", "")]; ok {
		return alias, true
	}
	if alias, ok := providerAliases[key]; ok {
		return alias, true
	}
	return ProviderOther, false
}

// Info returns the table entry for the provider, defaulting to ProviderOther.
func (p Provider) Info() ProviderInfo {
	if info, ok := providerTable[p]; ok {
		return info
	}
	return providerTable[ProviderOther]
}

// Valid reports whether p is a member of the provider table.
func (p Provider) Valid() bool {
	_, ok := providerTable[p]
	return ok
}

// DisplayLabel prefers the raw label for ProviderOther so unknown partners keep their names.
func DisplayLabel(p Provider, raw string) string {
	if p == ProviderOther {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			return titleCaser.String(trimmed)
		}
	}
	return p.Info().DisplayName
}

// Providers lists the table in key order.
func Providers() []ProviderInfo {
	out := make([]ProviderInfo, 0, len(providerTable))
	for _, info := range providerTable {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// UnmarshalJSON accepts any provider string and normalises it.
func (p *Provider) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if Provider(raw).Valid() {
		*p = Provider(raw)
		return nil
	}
	*p, _ = LookupProvider(raw)
	return nil
}

func providerKey(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.Join(strings.Fields(key), "-")
	key = strings.ReplaceAll(key, "_", "-")
	return key
}
