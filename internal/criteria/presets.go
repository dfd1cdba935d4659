package criteria

import (
	"math"
	"sort"

	"github.com/maldo/backend/internal/core"
)

// Preset names.
const (
	PresetConservative = "Conservative"
	PresetBalanced     = "Balanced"
	PresetAggressive   = "Aggressive"
	PresetDemo         = "Demo"
	PresetCustom       = "Custom"
)

// HighValueThreshold is the platform-wide price (USDC, 6 decimals) above
// which a human must always approve. Principals cannot override it.
const HighValueThreshold int64 = 100_000_000

// Thresholds are the three tunable limits of a preset.
type Thresholds struct {
	MinReputation  int64 `json:"minReputation"` // x100
	MinReviewCount int64 `json:"minReviewCount"`
	MaxPrice       int64 `json:"maxPriceUSDC"`
}

var presets = map[string]Thresholds{
	PresetConservative: {MinReputation: 480, MinReviewCount: 5, MaxPrice: 10_000_000},
	PresetBalanced:     {MinReputation: 450, MinReviewCount: 3, MaxPrice: 50_000_000},
	PresetAggressive:   {MinReputation: 400, MinReviewCount: 1, MaxPrice: 100_000_000},
	PresetDemo:         {MinReputation: 0, MinReviewCount: 0, MaxPrice: math.MaxInt64},
}

// Preset returns the thresholds of a named preset.
func Preset(name string) (Thresholds, bool) {
	t, ok := presets[name]
	return t, ok
}

// PresetNames lists the selectable presets in alphabetical order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default is the config a principal has before saving anything.
func Default(principal string) core.CriteriaConfig {
	t := presets[PresetConservative]
	return core.CriteriaConfig{
		Principal:      principal,
		Preset:         PresetConservative,
		MinReputation:  t.MinReputation,
		MinReviewCount: t.MinReviewCount,
		MaxPrice:       t.MaxPrice,
	}
}
