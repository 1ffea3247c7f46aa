// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Thermoquad/gripstat/pkg/gripwire"
)

// CustomLabel is shown when the commanded setpoint matches no preset
const CustomLabel = "Customize"

// DefaultTolerance is the per-actuator tolerance used for preset matching
// and duplicate suppression
const DefaultTolerance = 1e-3

// ErrUnknownPreset is returned when a preset name is not in the catalog
var ErrUnknownPreset = errors.New("unknown preset")

// Preset is a named setpoint
type Preset struct {
	Name   string
	Values gripwire.Setpoint
}

// Catalog is an ordered, immutable list of presets. When two presets match
// the same setpoint the earlier one wins.
type Catalog struct {
	presets []Preset
	byName  map[string]int
}

// NewCatalog validates and builds a catalog. Names must be non-empty and
// unique, and every value must lie in [0, 1].
func NewCatalog(presets ...Preset) (*Catalog, error) {
	c := &Catalog{
		presets: make([]Preset, 0, len(presets)),
		byName:  make(map[string]int, len(presets)),
	}
	for i, p := range presets {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return nil, fmt.Errorf("preset %d: empty name", i)
		}
		if name == CustomLabel {
			return nil, fmt.Errorf("preset %d: name %q is reserved", i, name)
		}
		if _, dup := c.byName[name]; dup {
			return nil, fmt.Errorf("preset %d: duplicate name %q", i, name)
		}
		if !p.Values.Valid() {
			return nil, fmt.Errorf("preset %q: values %v outside [0, 1]", name, p.Values)
		}
		c.byName[name] = len(c.presets)
		c.presets = append(c.presets, Preset{Name: name, Values: p.Values})
	}
	return c, nil
}

// DefaultCatalog returns the shapes the gripper ships with
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(
		Preset{"Square Small", gripwire.Setpoint{0, 0, 0, 0}},
		Preset{"Square Large", gripwire.Setpoint{0.8, 0.8, 0.8, 0.8}},
		Preset{"Trapezoid Small", gripwire.Setpoint{1, 0, 0, 0}},
		Preset{"Trapezoid Large", gripwire.Setpoint{1, 1, 1, 0}},
		Preset{"Kite", gripwire.Setpoint{1, 1, 0, 0}},
		Preset{"Rectangle", gripwire.Setpoint{1, 0, 1, 0}},
		Preset{"Avocado", gripwire.Setpoint{0, 0.5, 0, 0.5}},
	)
	if err != nil {
		panic(err)
	}
	return c
}

// Match returns the name of the first preset within tol of sp on every
// actuator, or CustomLabel
func (c *Catalog) Match(sp gripwire.Setpoint, tol float64) string {
	for _, p := range c.presets {
		if p.Values.Equal(sp, tol) {
			return p.Name
		}
	}
	return CustomLabel
}

// Lookup returns the preset with the given name
func (c *Catalog) Lookup(name string) (Preset, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Preset{}, false
	}
	return c.presets[i], true
}

// Names returns preset names in catalog order
func (c *Catalog) Names() []string {
	names := make([]string, len(c.presets))
	for i, p := range c.presets {
		names[i] = p.Name
	}
	return names
}

// All returns a copy of the presets in catalog order
func (c *Catalog) All() []Preset {
	return append([]Preset(nil), c.presets...)
}

// Len returns the number of presets
func (c *Catalog) Len() int {
	return len(c.presets)
}
