package model

import (
	"strconv"
	"strings"
)

// MajorVersion extracts the major component from a dotted version
// string ("1.2.3" -> 1). Returns 0 for malformed input.
func MajorVersion(version string) int {
	v := strings.TrimPrefix(strings.TrimSpace(version), "v")
	head, _, _ := strings.Cut(v, ".")
	n, err := strconv.Atoi(head)
	if err != nil {
		return 0
	}
	return n
}

// AgentsCompatible reports whether two devices run agents that can
// terminate a tunnel between them. Tunnel messages are only exchanged
// between agents of the same major version.
func AgentsCompatible(a, b *Device) bool {
	return MajorVersion(a.Versions.Agent) == MajorVersion(b.Versions.Agent)
}
