package profile

import (
	"crypto/sha256"

	"github.com/hyperclast/firebreak/internal/domain"
)

// Hash derives the PoolKey for a profile: the full 256-bit SHA-256
// digest of its canonical encoding. Unlike the teacher's display-only
// crypto.HashString helper (which truncates to 16 hex chars), a pool
// key must not be truncated — collisions here would silently merge two
// distinct capability profiles into one pool.
func Hash(p *domain.CapabilityProfile) domain.PoolKey {
	return sha256.Sum256(Canonicalize(p))
}
