package entitlement

import (
	"fmt"
	"sort"
	"strings"
)

// Tier is the ordered premium level of a subscription
type Tier string

// Defining the tiers, lowest first
const (
	TierStandard  Tier = "STANDARD"
	TierPremium   Tier = "PREMIUM"
	TierConcierge Tier = "CONCIERGE"
)

var tierRank = map[Tier]int{
	TierStandard:  0,
	TierPremium:   1,
	TierConcierge: 2,
}

// Rank returns the position of the tier in STANDARD < PREMIUM < CONCIERGE.
// Unknown tiers rank below STANDARD.
func (t Tier) Rank() int {
	r, ok := tierRank[t]
	if !ok {
		return -1
	}
	return r
}

// Valid reports whether t is one of the known tiers
func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// ParseTier accepts a case-insensitive tier name
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

// Feature is a premium capability that can be granted to a subscription
type Feature string

// Defining the closed set of features
const (
	FeatureAdvancedAnalytics Feature = "ADVANCED_ANALYTICS"
	FeatureDisputeFastTrack  Feature = "DISPUTE_FAST_TRACK"
	FeatureConciergeSLA      Feature = "CONCIERGE_SLA"
)

var featureOrder = map[Feature]int{
	FeatureAdvancedAnalytics: 0,
	FeatureDisputeFastTrack:  1,
	FeatureConciergeSLA:      2,
}

// Valid reports whether f is one of the known features
func (f Feature) Valid() bool {
	_, ok := featureOrder[f]
	return ok
}

// ParseFeature accepts a case-insensitive feature name
func ParseFeature(s string) (Feature, error) {
	f := Feature(strings.ToUpper(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", fmt.Errorf("unknown feature %q", s)
	}
	return f, nil
}

// Set is an unordered collection of features
type Set map[Feature]struct{}

// NewSet builds a Set from the given features, dropping duplicates
func NewSet(features ...Feature) Set {
	s := make(Set, len(features))
	for _, f := range features {
		s[f] = struct{}{}
	}
	return s
}

// Has reports whether f is in the set
func (s Set) Has(f Feature) bool {
	_, ok := s[f]
	return ok
}

// Add inserts the features into the set
func (s Set) Add(features ...Feature) {
	for _, f := range features {
		s[f] = struct{}{}
	}
}

// Difference returns the features in s that are not in other
func (s Set) Difference(other Set) Set {
	diff := make(Set)
	for f := range s {
		if !other.Has(f) {
			diff[f] = struct{}{}
		}
	}
	return diff
}

// Sorted returns the features in declaration order. Unknown features sort last by name.
func (s Set) Sorted() []Feature {
	out := make([]Feature, 0, len(s))
	for f := range s {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		oi, iok := featureOrder[out[i]]
		oj, jok := featureOrder[out[j]]
		switch {
		case iok && jok:
			return oi < oj
		case iok != jok:
			return iok
		default:
			return out[i] < out[j]
		}
	})
	return out
}

// Defaults returns the features a tier includes without explicit grants
func Defaults(tier Tier) Set {
	switch tier {
	case TierPremium:
		return NewSet(FeatureAdvancedAnalytics, FeatureDisputeFastTrack)
	case TierConcierge:
		return NewSet(FeatureAdvancedAnalytics, FeatureDisputeFastTrack, FeatureConciergeSLA)
	default:
		return NewSet()
	}
}

// Normalize returns the tier defaults united with the explicit grants
func Normalize(tier Tier, grants ...Feature) Set {
	s := Defaults(tier)
	s.Add(grants...)
	return s
}
