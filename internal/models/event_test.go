package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name          string
		total, packed int
		want          EventStatus
	}{
		{"no items", 0, 0, EventStatusPlanning},
		{"nothing packed", 4, 0, EventStatusPlanning},
		{"one of four", 4, 1, EventStatusActive},
		{"half packed", 4, 2, EventStatusPacking},
		{"all packed", 4, 4, EventStatusPacking},
		{"just under half", 100, 49, EventStatusActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(tt.total, tt.packed))
		})
	}
}

func TestPackedRatio(t *testing.T) {
	assert.Equal(t, 0.0, PackedRatio(0, 0))
	assert.Equal(t, 0.5, PackedRatio(4, 2))
	assert.Equal(t, 1.0, PackedRatio(3, 3))
}

func TestItemStatusPacked(t *testing.T) {
	assert.False(t, ItemStatusNotStarted.Packed())
	assert.False(t, ItemStatusInProgress.Packed())
	assert.True(t, ItemStatusPacked.Packed())
	assert.True(t, ItemStatusDelivered.Packed())
	assert.False(t, ItemStatus("lost").Valid())
}

func TestItemSetStatusKeepsIsPacked(t *testing.T) {
	var it Item
	it.SetStatus(ItemStatusDelivered)
	assert.True(t, it.IsPacked)
	it.SetStatus(ItemStatusInProgress)
	assert.False(t, it.IsPacked)
}

func TestEventStatusValid(t *testing.T) {
	assert.True(t, EventStatusEnded.Valid())
	assert.False(t, EventStatus("archived").Valid())
}
