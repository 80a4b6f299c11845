package app

import (
	"fmt"
	"sort"
	"strings"
)

// Capability is a declared permission that drives the isolation decision.
type Capability uint8

const (
	CapNetwork Capability = 1 << iota
	CapFilesystem
	CapSystemInfo
	CapHighFramerate
	CapPersistentState
)

var capabilityNames = map[Capability]string{
	CapNetwork:         "NETWORK",
	CapFilesystem:      "FILESYSTEM",
	CapSystemInfo:      "SYSTEM_INFO",
	CapHighFramerate:   "HIGH_FRAMERATE",
	CapPersistentState: "PERSISTENT_STATE",
}

// String returns the capability name used in manifests and rosters
func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Capability(%d)", uint8(c))
}

// ParseCapability resolves a capability by name, case-insensitively
func ParseCapability(name string) (Capability, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for c, n := range capabilityNames {
		if n == upper {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown capability %q", name)
}

// Capabilities is a set of capabilities.
type Capabilities uint8

// NewCapabilities builds a set from individual capabilities
func NewCapabilities(caps ...Capability) Capabilities {
	var s Capabilities
	for _, c := range caps {
		s |= Capabilities(c)
	}
	return s
}

// ParseCapabilities builds a set from capability names
func ParseCapabilities(names []string) (Capabilities, error) {
	var s Capabilities
	for _, n := range names {
		c, err := ParseCapability(n)
		if err != nil {
			return 0, err
		}
		s |= Capabilities(c)
	}
	return s, nil
}

// Has reports whether c is in the set
func (s Capabilities) Has(c Capability) bool {
	return s&Capabilities(c) != 0
}

// HasAny reports whether any of caps is in the set
func (s Capabilities) HasAny(caps ...Capability) bool {
	for _, c := range caps {
		if s.Has(c) {
			return true
		}
	}
	return false
}

// Names returns the sorted capability names in the set
func (s Capabilities) Names() []string {
	names := make([]string, 0, len(capabilityNames))
	for c, n := range capabilityNames {
		if s.Has(c) {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

func (s Capabilities) String() string {
	if s == 0 {
		return "none"
	}
	return strings.Join(s.Names(), ",")
}
