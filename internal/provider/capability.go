package provider

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Capability is a kind of work a provider can perform.
type Capability uint8

const (
	HTR Capability = 1 << iota
	Formatting
	LayoutAnalysis
	VLMDirect
	DocumentIntelligence
)

var capabilityNames = []struct {
	cap  Capability
	name string
}{
	{HTR, "htr"},
	{Formatting, "formatting"},
	{LayoutAnalysis, "layout_analysis"},
	{VLMDirect, "vlm_direct"},
	{DocumentIntelligence, "document_intelligence"},
}

// AllCapabilities lists every capability in declaration order.
func AllCapabilities() []Capability {
	out := make([]Capability, 0, len(capabilityNames))
	for _, c := range capabilityNames {
		out = append(out, c.cap)
	}
	return out
}

func (c Capability) String() string {
	for _, n := range capabilityNames {
		if n.cap == c {
			return n.name
		}
	}
	return fmt.Sprintf("capability(%d)", uint8(c))
}

// ParseCapability accepts the lower or upper case capability name.
func ParseCapability(s string) (Capability, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, n := range capabilityNames {
		if n.name == name {
			return n.cap, nil
		}
	}
	return 0, fmt.Errorf("unknown capability %q", s)
}

// CapabilitySet is an immutable set of capabilities.
type CapabilitySet uint8

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	var s CapabilitySet
	for _, c := range caps {
		s |= CapabilitySet(c)
	}
	return s
}

// ParseCapabilities parses a list of capability names.
func ParseCapabilities(names []string) (CapabilitySet, error) {
	var s CapabilitySet
	for _, name := range names {
		c, err := ParseCapability(name)
		if err != nil {
			return 0, err
		}
		s |= CapabilitySet(c)
	}
	return s, nil
}

// Has reports whether c is in the set.
func (s CapabilitySet) Has(c Capability) bool {
	return s&CapabilitySet(c) != 0
}

// Empty reports whether the set has no capabilities.
func (s CapabilitySet) Empty() bool {
	return s == 0
}

// Subset reports whether every capability in s is also in other.
func (s CapabilitySet) Subset(other CapabilitySet) bool {
	return s&^other == 0
}

// List returns the capabilities in declaration order.
func (s CapabilitySet) List() []Capability {
	var out []Capability
	for _, n := range capabilityNames {
		if s.Has(n.cap) {
			out = append(out, n.cap)
		}
	}
	return out
}

func (s CapabilitySet) String() string {
	caps := s.List()
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = c.String()
	}
	return strings.Join(names, ",")
}

// MarshalJSON encodes the set as a list of capability names.
func (s CapabilitySet) MarshalJSON() ([]byte, error) {
	names := []string{}
	for _, c := range s.List() {
		names = append(names, c.String())
	}
	return json.Marshal(names)
}
