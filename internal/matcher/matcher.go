// Package matcher decides which decoded GRIB messages represent a catalog
// variable.
//
// A message matches a spec through one of two tiers. The primary tier
// compares the short name case-insensitively. The fallback tier, tried only
// when the primary fails and the spec carries hints, scans the free-text
// description for any hint. Both tiers share the typeOfLevel and level gates,
// so a hint can never pull in a message at another level.
package matcher

import (
	"strings"

	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/catalog"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/grib"
)

// Tier records how a message matched a spec.
type Tier int

const (
	TierNone Tier = iota
	TierPrimary
	TierFallback
)

func (t Tier) String() string {
	switch t {
	case TierPrimary:
		return "primary"
	case TierFallback:
		return "fallback"
	default:
		return "none"
	}
}

// Match classifies md against spec.
func Match(spec catalog.Spec, md grib.Metadata) Tier {
	if !levelGates(spec, md) {
		return TierNone
	}
	if containsFold(spec.ShortNames, md.ShortName) {
		return TierPrimary
	}
	if len(spec.FallbackHints) == 0 {
		return TierNone
	}
	desc := strings.ToLower(md.Description)
	for _, hint := range spec.FallbackHints {
		if strings.Contains(desc, strings.ToLower(hint)) {
			return TierFallback
		}
	}
	return TierNone
}

func levelGates(spec catalog.Spec, md grib.Metadata) bool {
	if spec.TypeOfLevel != nil && !contains(spec.TypeOfLevel, md.TypeOfLevel) {
		return false
	}
	if spec.Level != nil && (md.Level == nil || *md.Level != *spec.Level) {
		return false
	}
	return true
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsFold(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// Selection is the outcome of matching one spec against a file.
// Message is nil when nothing matched. Candidates counts every matching
// message, of which only the first is used.
type Selection struct {
	Spec       catalog.Spec
	Message    grib.Message
	Tier       Tier
	Candidates int
}

// Matched reports whether any message matched.
func (s Selection) Matched() bool { return s.Message != nil }

// Select returns the first message matching spec in msgs order.
func Select(spec catalog.Spec, msgs []grib.Message) Selection {
	return SelectAll([]catalog.Spec{spec}, msgs)[0]
}

// SelectAll matches every spec against every message in a single pass and
// returns one selection per spec, in spec order.
func SelectAll(specs []catalog.Spec, msgs []grib.Message) []Selection {
	sels := make([]Selection, len(specs))
	for i, spec := range specs {
		sels[i].Spec = spec
	}
	for _, msg := range msgs {
		md := msg.Metadata()
		for i := range sels {
			tier := Match(sels[i].Spec, md)
			if tier == TierNone {
				continue
			}
			sels[i].Candidates++
			if sels[i].Message == nil {
				sels[i].Message = msg
				sels[i].Tier = tier
			}
		}
	}
	return sels
}
