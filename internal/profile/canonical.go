// Package profile implements the Profile Hasher (spec §4.1, C1): a
// deterministic function from a declared CapabilityProfile to a stable
// pool identity. Canonicalize and Hash are pure functions; neither
// mutates its argument.
package profile

import (
	"encoding/binary"
	"sort"
	"strings"

	"github.com/hyperclast/firebreak/internal/domain"
)

// Canonicalize produces the self-delimiting, length-prefixed byte
// encoding of a profile per spec §4.1's numbered rules:
//
//  1. fs mounts sorted by (path, mode), mode ordered read < read_write.
//  2. net encoded as its enum tag.
//  3. cpu_ms, mem_mb as fixed-width big-endian integers.
//  4. dependencies case-folded on name, constraint trimmed, then sorted.
//  5. every variable-length field is length-prefixed; no free-form text.
//
// The output has no whitespace or separators a human would read; it
// exists only to be hashed, never parsed back.
func Canonicalize(p *domain.CapabilityProfile) []byte {
	mounts := make([]domain.Mount, len(p.FS))
	copy(mounts, p.FS)
	sort.Slice(mounts, func(i, j int) bool {
		if mounts[i].Path != mounts[j].Path {
			return mounts[i].Path < mounts[j].Path
		}
		return mounts[i].Mode < mounts[j].Mode
	})

	deps := normalizeDependencies(p.Dependencies)

	var buf []byte
	buf = appendUint32(buf, uint32(len(mounts)))
	for _, m := range mounts {
		buf = appendLenPrefixed(buf, []byte(m.Path))
		buf = append(buf, byte(m.Mode))
	}

	buf = append(buf, byte(p.Net))
	buf = appendUint32(buf, p.CPUMillis)
	buf = appendUint32(buf, p.MemMB)

	buf = appendUint32(buf, uint32(len(deps)))
	for _, d := range deps {
		buf = appendLenPrefixed(buf, []byte(d.Name))
		buf = appendLenPrefixed(buf, []byte(d.Constraint))
	}

	return buf
}

// normalizeDependencies case-folds names, trims constraint whitespace,
// deduplicates under the canonical name, and sorts lexicographically by
// (name, constraint). When the same name appears with two different
// constraints the first encountered (after sorting) wins, mirroring the
// "ordered set" language in spec §3: dependencies are deduplicated under
// a canonical name comparison.
func normalizeDependencies(in []domain.Dependency) []domain.Dependency {
	byName := make(map[string]domain.Dependency, len(in))
	for _, d := range in {
		name := strings.ToLower(strings.TrimSpace(d.Name))
		constraint := strings.TrimSpace(d.Constraint)
		if existing, exists := byName[name]; !exists || constraint < existing.Constraint {
			byName[name] = domain.Dependency{Name: name, Constraint: constraint}
		}
	}
	out := make([]domain.Dependency, 0, len(byName))
	for _, d := range byName {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Constraint < out[j].Constraint
	})
	return out
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendLenPrefixed(buf []byte, data []byte) []byte {
	buf = appendUint32(buf, uint32(len(data)))
	return append(buf, data...)
}
