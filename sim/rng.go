package sim

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
)

// === SimulationKey ===

// SimulationKey uniquely identifies a reproducible generator run.
// Two generators built from the same SimulationKey and identical configuration
// draw identical device populations and identical per-device interval and
// value sequences. Emission timestamps still depend on the wall clock.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

// === Subsystem Constants ===

const (
	// SubsystemPopulation is the RNG subsystem used to draw device rates at
	// construction time. Uses the master seed directly.
	SubsystemPopulation = "population"
)

// SubsystemDevice returns the subsystem name for device N.
// Each device samples its intervals and value steps from its own stream, so
// the sequence a device sees does not depend on how its firings interleave
// with other devices.
func SubsystemDevice(index int) string {
	return fmt.Sprintf("device_%d", index)
}

// === PartitionedRNG ===

// PartitionedRNG provides deterministic, isolated RNG instances per subsystem.
//
// Derivation formula:
//   - For SubsystemPopulation: uses masterSeed directly
//   - For all other subsystems: masterSeed XOR fnv1a64(subsystemName)
//
// Thread-safety: NOT thread-safe. Must be called from single goroutine.
type PartitionedRNG struct {
	key        SimulationKey
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named subsystem.
// The same subsystem name always returns the same *rand.Rand instance (cached).
// Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}

	var derivedSeed int64
	if name == SubsystemPopulation {
		derivedSeed = int64(p.key)
	} else {
		derivedSeed = int64(p.key) ^ fnv1a64(name)
	}

	rng := newSeededRand(derivedSeed)
	p.subsystems[name] = rng
	return rng
}

// ForDevice is shorthand for ForSubsystem(SubsystemDevice(index)).
func (p *PartitionedRNG) ForDevice(index int) *rand.Rand {
	return p.ForSubsystem(SubsystemDevice(index))
}

// Key returns the SimulationKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}

// newSeededRand builds a PCG-backed generator from a single 64-bit seed.
// The second PCG word is a fixed odd constant so distinct seeds stay distinct.
func newSeededRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), 0x9e3779b97f4a7c15))
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
