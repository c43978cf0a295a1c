package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doukyrie/AquaRegulator-server/internal/domain"
)

func reading(label string, soil float64) domain.Reading {
	return domain.Reading{Label: label, Soil: soil}
}

func TestStoreEvictsOldestAtCapacity(t *testing.T) {
	c := NewTelemetryCache(3)

	c.Store(domain.ChannelRealtime, reading("R1", 1))
	c.Store(domain.ChannelRealtime, reading("R2", 2))
	c.Store(domain.ChannelRealtime, reading("R3", 3))
	c.Store(domain.ChannelRealtime, reading("R4", 4))

	got := c.Snapshot(domain.ChannelRealtime)
	require.Len(t, got, 3)
	assert.Equal(t, "R2", got[0].Label)
	assert.Equal(t, "R3", got[1].Label)
	assert.Equal(t, "R4", got[2].Label)
}

func TestSnapshotReturnsCopy(t *testing.T) {
	c := NewTelemetryCache(4)
	c.Store(domain.ChannelRealtime, reading("R1", 1))

	snap := c.Snapshot(domain.ChannelRealtime)
	snap[0].Label = "mutated"

	again := c.Snapshot(domain.ChannelRealtime)
	assert.Equal(t, "R1", again[0].Label)
}

func TestSnapshotEmptyChannel(t *testing.T) {
	c := NewTelemetryCache(4)
	assert.Empty(t, c.Snapshot(domain.ChannelHistoricalSoil))
}

func TestSnapshotAllSpansChannels(t *testing.T) {
	c := NewTelemetryCache(4)
	c.Store(domain.ChannelRealtime, reading("R1", 1))
	c.Store(domain.ChannelHistoricalEnvironment, reading("E1", 2))
	c.Store(domain.ChannelHistoricalEnvironment, reading("E2", 3))

	all := c.SnapshotAll()
	require.Len(t, all, 3)

	labels := map[string]bool{}
	for _, r := range all {
		labels[r.Label] = true
	}
	assert.True(t, labels["R1"] && labels["E1"] && labels["E2"])
}

func TestCapacityBoundIsStrict(t *testing.T) {
	c := NewTelemetryCache(5)
	for i := 0; i < 50; i++ {
		c.Store(domain.ChannelRealtime, reading("R", float64(i)))
	}
	assert.Equal(t, 5, c.Len(domain.ChannelRealtime))
	snap := c.Snapshot(domain.ChannelRealtime)
	assert.Equal(t, float64(45), snap[0].Soil)
	assert.Equal(t, float64(49), snap[4].Soil)
}
