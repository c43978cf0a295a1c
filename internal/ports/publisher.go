package ports

import "github.com/doukyrie/AquaRegulator-server/internal/domain"

// SnapshotProvider returns the ordered frames delivered to a subscriber
// immediately after accept, before any incremental traffic.
type SnapshotProvider func() []domain.Frame

// Publisher fans telemetry frames out to the connected subscriber set.
type Publisher interface {
	HasSubscribers() bool

	// Publish serializes the frame once and delivers it to every current
	// subscriber. A send failure closes only the failing subscriber.
	Publish(frame domain.Frame)

	SetSnapshotProvider(provider SnapshotProvider)
}
