package services

import (
	"testing"
	"time"

	"github.com/hivecrack/hivecrack/internal/models"
)

func TestBenchmarkSlicePolicyNextSlice(t *testing.T) {
	policy := NewBenchmarkSlicePolicy(10*time.Minute, 20)

	attack := func(total int64) *models.AttackWithCampaign {
		return &models.AttackWithCampaign{Attack: models.Attack{KeyspaceTotal: total}}
	}

	tests := []struct {
		name       string
		total      int64
		speed      int64
		dispatched int64
		wantOffset int64
		wantLimit  int64
	}{
		{
			name:       "slice sized by benchmark speed",
			total:      10_000_000_000,
			speed:      1_000_000,
			dispatched: 0,
			wantOffset: 0,
			wantLimit:  600_000_000, // 1M/s for 600s
		},
		{
			name:       "slice starts at the dispatched high-water mark",
			total:      10_000_000_000,
			speed:      1_000_000,
			dispatched: 600_000_000,
			wantOffset: 600_000_000,
			wantLimit:  600_000_000,
		},
		{
			name:       "remaining smaller than slice collapses to remainder",
			total:      1_000,
			speed:      1_000_000,
			dispatched: 400,
			wantOffset: 400,
			wantLimit:  600,
		},
		{
			name:       "short tail is merged into the slice",
			total:      690, // tail of 90 after a 600 slice, within 20%
			speed:      1,
			dispatched: 0,
			wantOffset: 0,
			wantLimit:  690,
		},
		{
			name:       "long tail stays its own future slice",
			total:      900, // tail of 300 after a 600 slice, beyond 20%
			speed:      1,
			dispatched: 0,
			wantOffset: 0,
			wantLimit:  600,
		},
		{
			name:       "exhausted keyspace yields zero limit",
			total:      1_000,
			speed:      1_000_000,
			dispatched: 1_000,
			wantOffset: 1_000,
			wantLimit:  0,
		},
		{
			name:       "unbenchmarked agent falls back to default speed",
			total:      10_000_000_000_000,
			speed:      0,
			dispatched: 0,
			wantOffset: 0,
			wantLimit:  int64(DefaultSliceSpeed) * 600,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offset, limit := policy.NextSlice(attack(tt.total), tt.speed, tt.dispatched)
			if offset != tt.wantOffset || limit != tt.wantLimit {
				t.Errorf("NextSlice() = (%d, %d), want (%d, %d)", offset, limit, tt.wantOffset, tt.wantLimit)
			}
		})
	}
}

func TestNextSliceNeverOverlaps(t *testing.T) {
	policy := NewBenchmarkSlicePolicy(time.Minute, 20)
	attack := &models.AttackWithCampaign{Attack: models.Attack{KeyspaceTotal: 1_000_000}}

	var dispatched int64
	for dispatched < attack.KeyspaceTotal {
		offset, limit := policy.NextSlice(attack, 3_333, dispatched)
		if offset != dispatched {
			t.Fatalf("slice offset %d does not continue from high-water mark %d", offset, dispatched)
		}
		if limit <= 0 {
			t.Fatalf("zero-limit slice before keyspace exhausted (dispatched=%d)", dispatched)
		}
		if offset+limit > attack.KeyspaceTotal {
			t.Fatalf("slice [%d,%d) overruns keyspace %d", offset, offset+limit, attack.KeyspaceTotal)
		}
		dispatched = offset + limit
	}
	if _, limit := policy.NextSlice(attack, 3_333, dispatched); limit != 0 {
		t.Fatalf("expected zero limit after full coverage, got %d", limit)
	}
}
