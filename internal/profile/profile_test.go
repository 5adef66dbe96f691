package profile

import (
	"testing"

	"github.com/hyperclast/firebreak/internal/domain"
)

// scenario 1 from spec §8: profiles that differ only in field order,
// mount order, dependency order, or dependency name casing must
// canonicalize to the same PoolKey.
func TestCanonicalKeyEquality(t *testing.T) {
	a := &domain.CapabilityProfile{
		FS: []domain.Mount{
			{Path: "/d", Mode: domain.MountRead},
			{Path: "/e", Mode: domain.MountReadWrite},
		},
		Net:       domain.NetNone,
		CPUMillis: 200,
		MemMB:     256,
		Dependencies: []domain.Dependency{
			{Name: "b"},
			{Name: "A", Constraint: ">=1"},
		},
	}
	b := &domain.CapabilityProfile{
		FS: []domain.Mount{
			{Path: "/e", Mode: domain.MountReadWrite},
			{Path: "/d", Mode: domain.MountRead},
		},
		Net:       domain.NetNone,
		CPUMillis: 200,
		MemMB:     256,
		Dependencies: []domain.Dependency{
			{Name: "a", Constraint: ">=1"},
			{Name: "b"},
		},
	}

	if Hash(a) != Hash(b) {
		t.Fatalf("expected identical PoolKey for semantically equal profiles")
	}
}

func TestCanonicalizeDetectsSemanticDifference(t *testing.T) {
	base := &domain.CapabilityProfile{CPUMillis: 200, MemMB: 256, Net: domain.NetNone}
	variant := &domain.CapabilityProfile{CPUMillis: 201, MemMB: 256, Net: domain.NetNone}

	if Hash(base) == Hash(variant) {
		t.Fatalf("expected different PoolKey for different cpu_ms")
	}
}

func TestDependencyDeduplication(t *testing.T) {
	p := &domain.CapabilityProfile{
		CPUMillis: 1, MemMB: 256,
		Dependencies: []domain.Dependency{
			{Name: "Requests", Constraint: ">=2.0"},
			{Name: "requests", Constraint: ">=2.0"},
		},
	}
	deps := normalizeDependencies(p.Dependencies)
	if len(deps) != 1 {
		t.Fatalf("expected deduplication under case-folded name, got %d entries", len(deps))
	}
}
