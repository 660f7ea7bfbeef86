package provider

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Capability is a named operation an adapter supports.
type Capability uint8

const (
	CapQuote Capability = 1 << iota
	CapHistorical
	CapFundamentals
	CapOptions
	CapForex
	CapFutures
	CapEconomy
)

var capabilityNames = []struct {
	c    Capability
	name string
}{
	{CapQuote, "quote"},
	{CapHistorical, "historical"},
	{CapFundamentals, "fundamentals"},
	{CapOptions, "options"},
	{CapForex, "forex"},
	{CapFutures, "futures"},
	{CapEconomy, "economy"},
}

func (c Capability) String() string {
	for _, n := range capabilityNames {
		if n.c == c {
			return n.name
		}
	}
	return fmt.Sprintf("capability(%d)", uint8(c))
}

// ParseCapability maps a config/wire name back to a Capability.
func ParseCapability(s string) (Capability, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, n := range capabilityNames {
		if n.name == s {
			return n.c, nil
		}
	}
	return 0, fmt.Errorf("unknown capability %q", s)
}

// CapabilitySet is a bit set of Capability values.
type CapabilitySet uint8

func Capabilities(cs ...Capability) CapabilitySet {
	var s CapabilitySet
	for _, c := range cs {
		s |= CapabilitySet(c)
	}
	return s
}

func (s CapabilitySet) Has(c Capability) bool { return s&CapabilitySet(c) != 0 }

func (s CapabilitySet) With(c Capability) CapabilitySet { return s | CapabilitySet(c) }

// List returns the members in declaration order.
func (s CapabilitySet) List() []Capability {
	out := make([]Capability, 0, len(capabilityNames))
	for _, n := range capabilityNames {
		if s.Has(n.c) {
			out = append(out, n.c)
		}
	}
	return out
}

// Strings returns the member names in declaration order.
func (s CapabilitySet) Strings() []string {
	cs := s.List()
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.String()
	}
	return out
}

func (s CapabilitySet) String() string { return strings.Join(s.Strings(), ",") }

func (s CapabilitySet) MarshalJSON() ([]byte, error) { return json.Marshal(s.Strings()) }
