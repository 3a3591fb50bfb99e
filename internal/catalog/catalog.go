package catalog

import (
	"sort"
	"strings"
)

// Entitlements describes what a plan tier unlocks for a tour operator.
type Entitlements struct {
	MaxPublishedTours int  `json:"max_published_tours"`
	FleetSlots        int  `json:"fleet_slots"`
	AffiliateSeats    int  `json:"affiliate_seats"`
	PrioritySupport   bool `json:"priority_support"`
}

// Tier is a static catalog entry. Levels strictly order tiers; a higher level
// is a more capable plan.
type Tier struct {
	PlanID       string
	Name         string
	Level        int
	Entitlements Entitlements
}

var tiers = map[string]Tier{
	"starter": {
		PlanID: "starter",
		Name:   "Starter",
		Level:  1,
		Entitlements: Entitlements{
			MaxPublishedTours: 3,
			FleetSlots:        1,
			AffiliateSeats:    0,
		},
	},
	"basic": {
		PlanID: "basic",
		Name:   "Basic",
		Level:  2,
		Entitlements: Entitlements{
			MaxPublishedTours: 15,
			FleetSlots:        5,
			AffiliateSeats:    2,
		},
	},
	"pro": {
		PlanID: "pro",
		Name:   "Pro",
		Level:  3,
		Entitlements: Entitlements{
			MaxPublishedTours: 60,
			FleetSlots:        20,
			AffiliateSeats:    10,
			PrioritySupport:   true,
		},
	},
	"scale": {
		PlanID: "scale",
		Name:   "Scale",
		Level:  4,
		Entitlements: Entitlements{
			MaxPublishedTours: -1, // unlimited
			FleetSlots:        -1,
			AffiliateSeats:    50,
			PrioritySupport:   true,
		},
	},
}

// Lookup returns the tier for the given plan id.
func Lookup(planID string) (Tier, bool) {
	tier, ok := tiers[strings.ToLower(strings.TrimSpace(planID))]
	return tier, ok
}

// EntitlementsFor returns the entitlements for a plan id, or the zero value
// when the plan is unknown.
func EntitlementsFor(planID string) Entitlements {
	tier, ok := Lookup(planID)
	if !ok {
		return Entitlements{}
	}
	return tier.Entitlements
}

// LevelFor returns the catalog level for a plan id, zero when unknown.
func LevelFor(planID string) int {
	tier, ok := Lookup(planID)
	if !ok {
		return 0
	}
	return tier.Level
}

// MeetsLevel reports whether a plan satisfies the required minimum level.
// Addons use this to gate purchases.
func MeetsLevel(planID string, required int) bool {
	if required <= 0 {
		return true
	}
	return LevelFor(planID) >= required
}

// All returns every tier ordered by level ascending.
func All() []Tier {
	out := make([]Tier, 0, len(tiers))
	for _, tier := range tiers {
		out = append(out, tier)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}
