package workload

import (
	"hash/fnv"
	"math/rand"
)

// Subsystem names for PartitionedRNG streams.
const (
	// SubsystemIdentity draws requester identities. Uses the master seed directly.
	SubsystemIdentity = "identity"
	// SubsystemOutcome draws per-request metric and latency outcomes.
	SubsystemOutcome = "outcome"
	// SubsystemRouter seeds the experiment router.
	SubsystemRouter = "router"
)

// PartitionedRNG provides deterministic, isolated RNG streams per subsystem,
// so adding draws to one subsystem never perturbs another.
//
// Derivation: SubsystemIdentity uses the master seed; every other subsystem
// uses masterSeed XOR fnv1a64(name).
//
// Not safe for concurrent use.
type PartitionedRNG struct {
	seed       int64
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a master seed.
func NewPartitionedRNG(seed int64) *PartitionedRNG {
	return &PartitionedRNG{seed: seed, subsystems: make(map[string]*rand.Rand)}
}

// ForSubsystem returns the cached RNG for name, creating it on first use.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := rand.New(rand.NewSource(p.SeedFor(name)))
	p.subsystems[name] = rng
	return rng
}

// SeedFor returns the derived seed for name without creating a stream.
func (p *PartitionedRNG) SeedFor(name string) int64 {
	if name == SubsystemIdentity {
		return p.seed
	}
	return p.seed ^ fnv1a64(name)
}

// Seed returns the master seed.
func (p *PartitionedRNG) Seed() int64 { return p.seed }

func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
