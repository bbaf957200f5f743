package services

import (
	"time"

	"github.com/hivecrack/hivecrack/internal/models"
)

// DefaultSliceSpeed is the assumed keyspace rate for agents with no benchmark
// for the attack's hash mode. Deliberately small so an unbenchmarked agent's
// first slice finishes quickly and calibrates the next one.
const DefaultSliceSpeed = 1_000_000

// SlicePolicy decides the bounds of the next keyspace slice for an attack.
// dispatched is the current high-water mark of already-sliced keyspace; the
// returned slice starts there. A zero limit means the attack has no keyspace
// left to slice.
type SlicePolicy interface {
	NextSlice(attack *models.AttackWithCampaign, speed int64, dispatched int64) (offset, limit int64)
}

// BenchmarkSlicePolicy sizes slices so an agent working at its benchmarked
// speed finishes one in roughly ChunkDuration. When the leftover tail after a
// slice would be below FluctuationPercent of the slice, the tail is merged in
// rather than dispatched as a stub slice.
type BenchmarkSlicePolicy struct {
	ChunkDuration      time.Duration
	FluctuationPercent int
}

// NewBenchmarkSlicePolicy builds the default policy from configuration.
func NewBenchmarkSlicePolicy(chunkDuration time.Duration, fluctuationPercent int) *BenchmarkSlicePolicy {
	return &BenchmarkSlicePolicy{
		ChunkDuration:      chunkDuration,
		FluctuationPercent: fluctuationPercent,
	}
}

// NextSlice implements SlicePolicy.
func (p *BenchmarkSlicePolicy) NextSlice(attack *models.AttackWithCampaign, speed int64, dispatched int64) (offset, limit int64) {
	remaining := attack.KeyspaceTotal - dispatched
	if remaining <= 0 {
		return dispatched, 0
	}

	if speed <= 0 {
		speed = DefaultSliceSpeed
	}
	size := speed * int64(p.ChunkDuration/time.Second)
	if size <= 0 {
		size = speed
	}

	if size >= remaining {
		return dispatched, remaining
	}

	// Absorb a short tail instead of leaving a stub slice behind.
	tail := remaining - size
	if tail*100 <= size*int64(p.FluctuationPercent) {
		return dispatched, remaining
	}
	return dispatched, size
}
