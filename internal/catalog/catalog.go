// Package catalog holds the registry of semantic variables the extractor
// understands and how each one is recognised among raw GRIB messages.
package catalog

import (
	"fmt"
	"slices"
	"strings"
)

// Spec describes how to recognise one semantic variable.
// TypeOfLevel and Level are optional: nil means the gate is not applied.
type Spec struct {
	ID            string
	ShortNames    []string
	TypeOfLevel   []string
	Level         *int
	FallbackHints []string
}

func (s Spec) clone() Spec {
	c := Spec{
		ID:            s.ID,
		ShortNames:    slices.Clone(s.ShortNames),
		TypeOfLevel:   slices.Clone(s.TypeOfLevel),
		FallbackHints: slices.Clone(s.FallbackHints),
	}
	if s.Level != nil {
		lvl := *s.Level
		c.Level = &lvl
	}
	return c
}

// ErrUnknownVariables lists every requested name missing from the catalog.
type ErrUnknownVariables struct {
	Names []string
}

func (e *ErrUnknownVariables) Error() string {
	return fmt.Sprintf("unknown variables: %s", strings.Join(e.Names, ", "))
}

// Catalog is an immutable, ordered set of variable specs.
type Catalog struct {
	specs []Spec
	index map[string]int
}

// New builds a catalog from specs, keeping their order.
// It panics on an empty or duplicate id.
func New(specs ...Spec) *Catalog {
	c := &Catalog{
		specs: make([]Spec, 0, len(specs)),
		index: make(map[string]int, len(specs)),
	}
	for _, s := range specs {
		if s.ID == "" {
			panic("catalog: empty variable id")
		}
		if _, dup := c.index[s.ID]; dup {
			panic(fmt.Sprintf("catalog: duplicate variable id %q", s.ID))
		}
		c.index[s.ID] = len(c.specs)
		c.specs = append(c.specs, s.clone())
	}
	return c
}

// IDs returns every registered id in catalog order.
func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.specs))
	for i, s := range c.specs {
		ids[i] = s.ID
	}
	return ids
}

// Specs returns copies of all specs in catalog order.
func (c *Catalog) Specs() []Spec {
	out := make([]Spec, len(c.specs))
	for i, s := range c.specs {
		out[i] = s.clone()
	}
	return out
}

// Lookup returns the spec registered under id.
func (c *Catalog) Lookup(id string) (Spec, bool) {
	i, ok := c.index[id]
	if !ok {
		return Spec{}, false
	}
	return c.specs[i].clone(), true
}

// Resolve maps names to specs in request order. All unknown names are
// reported together. Names are trimmed, blanks are ignored and repeated
// names collapse onto their first occurrence.
func (c *Catalog) Resolve(names []string) ([]Spec, error) {
	var (
		specs   []Spec
		unknown []string
		seen    = make(map[string]bool, len(names))
	)
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		spec, ok := c.Lookup(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		specs = append(specs, spec)
	}
	if len(unknown) > 0 {
		return nil, &ErrUnknownVariables{Names: unknown}
	}
	return specs, nil
}
