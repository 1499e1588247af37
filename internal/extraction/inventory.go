package extraction

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/matcher"
)

// InventoryEntry is one distinct (shortName, typeOfLevel, level) found in a
// forecast file, with the catalog variables it would satisfy.
type InventoryEntry struct {
	ShortName   string
	TypeOfLevel string
	Level       *int
	Messages    int
	Matches     []InventoryMatch
}

type InventoryMatch struct {
	Variable string
	Tier     matcher.Tier
}

// Inventory describes one forecast hour file.
type Inventory struct {
	RunDate time.Time
	Hour    int
	Source  string
	Entries []InventoryEntry
}

// Inventory lists the distinct message kinds of one forecast hour file,
// sorted by short name, level type and level. It is meant for tuning
// catalog entries against what the files actually contain.
func (s *Service) Inventory(ctx context.Context, runDate time.Time, hour int) (Inventory, error) {
	if hour < 0 {
		return Inventory{}, fmt.Errorf("hour must not be negative, got %d", hour)
	}
	runDate, err := s.resolveRunDate(ctx, runDate)
	if err != nil {
		return Inventory{}, err
	}

	inv := Inventory{RunDate: runDate, Hour: hour, Source: s.layout.Locator(runDate, hour)}

	file, ok, err := s.fetch(ctx, runDate, hour, false)
	if err != nil {
		return Inventory{}, err
	}
	if !ok {
		return Inventory{}, fmt.Errorf("%w: %s not found", ErrRetrieval, inv.Source)
	}
	defer file.Close()

	type kind struct {
		shortName   string
		typeOfLevel string
		level       int
		hasLevel    bool
	}
	index := map[kind]int{}
	specs := s.catalog.Specs()
	for _, msg := range file.Messages() {
		md := msg.Metadata()
		k := kind{shortName: md.ShortName, typeOfLevel: md.TypeOfLevel}
		if md.Level != nil {
			k.level, k.hasLevel = *md.Level, true
		}

		i, seen := index[k]
		if !seen {
			i = len(inv.Entries)
			index[k] = i
			inv.Entries = append(inv.Entries, InventoryEntry{
				ShortName:   md.ShortName,
				TypeOfLevel: md.TypeOfLevel,
				Level:       md.Level,
			})
		}
		entry := &inv.Entries[i]
		entry.Messages++

		for _, spec := range specs {
			tier := matcher.Match(spec, md)
			if tier == matcher.TierNone || hasMatch(entry.Matches, spec.ID) {
				continue
			}
			entry.Matches = append(entry.Matches, InventoryMatch{Variable: spec.ID, Tier: tier})
		}
	}

	slices.SortStableFunc(inv.Entries, func(a, b InventoryEntry) int {
		return cmp.Or(
			cmp.Compare(a.ShortName, b.ShortName),
			cmp.Compare(a.TypeOfLevel, b.TypeOfLevel),
			compareLevel(a.Level, b.Level),
		)
	})
	return inv, nil
}

func hasMatch(matches []InventoryMatch, variable string) bool {
	return slices.ContainsFunc(matches, func(m InventoryMatch) bool { return m.Variable == variable })
}

// compareLevel orders unknown levels first.
func compareLevel(a, b *int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return cmp.Compare(*a, *b)
	}
}
