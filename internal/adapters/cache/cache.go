package cache

import (
	"sync"

	"github.com/doukyrie/AquaRegulator-server/internal/domain"
)

// TelemetryCache keeps a bounded FIFO of readings per channel. Insertion
// order is preserved; at capacity the oldest reading is evicted.
type TelemetryCache struct {
	mu       sync.Mutex
	capacity int
	buffers  map[domain.Channel][]domain.Reading
}

func NewTelemetryCache(capacityPerChannel int) *TelemetryCache {
	if capacityPerChannel <= 0 {
		capacityPerChannel = 120
	}
	return &TelemetryCache{
		capacity: capacityPerChannel,
		buffers:  make(map[domain.Channel][]domain.Reading),
	}
}

func (c *TelemetryCache) Store(channel domain.Channel, reading domain.Reading) {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := c.buffers[channel]
	if len(buf) >= c.capacity {
		copy(buf, buf[1:])
		buf = buf[:len(buf)-1]
	}
	c.buffers[channel] = append(buf, reading)
}

// Snapshot returns a copy of the channel's readings in insertion order.
func (c *TelemetryCache) Snapshot(channel domain.Channel) []domain.Reading {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := c.buffers[channel]
	out := make([]domain.Reading, len(buf))
	copy(out, buf)
	return out
}

// SnapshotAll returns a copy of every cached reading. Order across channels
// is unspecified; order within a channel is preserved.
func (c *TelemetryCache) SnapshotAll() []domain.Reading {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.Reading
	for _, buf := range c.buffers {
		out = append(out, buf...)
	}
	return out
}

func (c *TelemetryCache) Len(channel domain.Channel) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffers[channel])
}
