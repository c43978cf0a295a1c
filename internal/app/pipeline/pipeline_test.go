package pipeline

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doukyrie/AquaRegulator-server/internal/domain"
	"github.com/doukyrie/AquaRegulator-server/internal/ports"
)

type mockGateway struct {
	readings []*domain.Reading
	calls    int
}

func (m *mockGateway) ReadRealtime() *domain.Reading {
	if m.calls >= len(m.readings) {
		return nil
	}
	r := m.readings[m.calls]
	m.calls++
	return r
}

func (m *mockGateway) WriteRegister(address, value uint16) {}
func (m *mockGateway) Close()                              {}

type mockRepo struct {
	env  []domain.Reading
	soil []domain.Reading
}

func (m *mockRepo) LoadEnvironmental(limit int) []domain.Reading { return m.env }
func (m *mockRepo) LoadSoilAndAir(limit int) []domain.Reading    { return m.soil }
func (m *mockRepo) Close() error                                 { return nil }

type mockPublisher struct {
	subscribers bool
	published   []domain.Frame
	provider    ports.SnapshotProvider
}

func (m *mockPublisher) HasSubscribers() bool { return m.subscribers }

func (m *mockPublisher) Publish(frame domain.Frame) {
	m.published = append(m.published, frame)
}

func (m *mockPublisher) SetSnapshotProvider(provider ports.SnapshotProvider) {
	m.provider = provider
}

type mockHealth struct {
	updates []bool
}

func (m *mockHealth) Update(component string, healthy bool, detail string) {
	m.updates = append(m.updates, healthy)
}

type mockObs struct{}

func (mockObs) LogInfo(string, ...ports.Field)            {}
func (mockObs) LogError(string, error, ...ports.Field)    {}
func (mockObs) LogCritical(string, error, ...ports.Field) {}
func (mockObs) IncCounter(string, float64)                {}
func (mockObs) SetGauge(string, float64)                  {}
func (mockObs) ObserveLatency(string, float64)            {}

func reading(label, ts string) domain.Reading {
	return domain.Reading{Label: label, Timestamp: ts}
}

func newTestService(gw *mockGateway, repo *mockRepo, pub *mockPublisher) (*Service, *mockHealth) {
	health := &mockHealth{}
	svc := NewService(Config{RealtimeSeconds: 1, HistoricalSeconds: 60, CacheSize: 10},
		repo, gw, pub, health, mockObs{})
	return svc, health
}

func TestRealtimeTickStoresAndPublishesIncremental(t *testing.T) {
	r := reading("Realtime", "2026-08-05 10:00:00")
	gw := &mockGateway{readings: []*domain.Reading{&r}}
	pub := &mockPublisher{subscribers: true}
	svc, _ := newTestService(gw, &mockRepo{}, pub)

	svc.processRealtime()

	require.Len(t, pub.published, 1)
	frame := pub.published[0]
	assert.Equal(t, domain.ChannelRealtime, frame.Channel)
	assert.False(t, frame.Snapshot)
	assert.Equal(t, "frame-1", frame.CorrelationID)
	require.Len(t, frame.Readings, 1)
	assert.Equal(t, r, frame.Readings[0])

	assert.Equal(t, []domain.Reading{r}, svc.Cache().Snapshot(domain.ChannelRealtime))
}

func TestRealtimeTickWithoutSubscribersStillCaches(t *testing.T) {
	r := reading("Realtime", "2026-08-05 10:00:00")
	gw := &mockGateway{readings: []*domain.Reading{&r}}
	pub := &mockPublisher{subscribers: false}
	svc, _ := newTestService(gw, &mockRepo{}, pub)

	svc.processRealtime()

	assert.Empty(t, pub.published)
	assert.Len(t, svc.Cache().Snapshot(domain.ChannelRealtime), 1)
}

func TestRealtimeReadFailureUpdatesHealth(t *testing.T) {
	gw := &mockGateway{}
	pub := &mockPublisher{subscribers: true}
	svc, health := newTestService(gw, &mockRepo{}, pub)

	svc.processRealtime()

	assert.Empty(t, pub.published)
	require.NotEmpty(t, health.updates)
	assert.False(t, health.updates[len(health.updates)-1])
}

func TestHistoricalTickPublishesSnapshotsPerTable(t *testing.T) {
	repo := &mockRepo{
		env: []domain.Reading{
			reading("Historical_ENV", "2026-08-05 09:00:00"),
			reading("Historical_ENV", "2026-08-05 09:01:00"),
		},
		soil: []domain.Reading{
			reading("Historical_Soil", "2026-08-05 09:00:30"),
		},
	}
	pub := &mockPublisher{subscribers: true}
	svc, _ := newTestService(&mockGateway{}, repo, pub)

	svc.processHistorical()

	require.Len(t, pub.published, 2)
	env := pub.published[0]
	assert.Equal(t, domain.ChannelHistoricalEnvironment, env.Channel)
	assert.True(t, env.Snapshot)
	assert.Len(t, env.Readings, 2)

	soil := pub.published[1]
	assert.Equal(t, domain.ChannelHistoricalSoil, soil.Channel)
	assert.True(t, soil.Snapshot)

	assert.Len(t, svc.Cache().Snapshot(domain.ChannelHistoricalEnvironment), 2)
	assert.Len(t, svc.Cache().Snapshot(domain.ChannelHistoricalSoil), 1)
}

func TestHistoricalEmptyTableStillLetsOtherPublish(t *testing.T) {
	repo := &mockRepo{
		soil: []domain.Reading{reading("Historical_Soil", "2026-08-05 09:00:30")},
	}
	pub := &mockPublisher{subscribers: true}
	svc, _ := newTestService(&mockGateway{}, repo, pub)

	svc.processHistorical()

	require.Len(t, pub.published, 1)
	assert.Equal(t, domain.ChannelHistoricalSoil, pub.published[0].Channel)
}

func TestCorrelationIDsAreProcessMonotonic(t *testing.T) {
	r1 := reading("Realtime", "t1")
	r2 := reading("Realtime", "t2")
	gw := &mockGateway{readings: []*domain.Reading{&r1, &r2}}
	repo := &mockRepo{env: []domain.Reading{reading("Historical_ENV", "t0")}}
	pub := &mockPublisher{subscribers: true}
	svc, _ := newTestService(gw, repo, pub)

	svc.processRealtime()
	svc.processHistorical()
	svc.processRealtime()

	require.Len(t, pub.published, 3)
	prev := 0
	for _, frame := range pub.published {
		suffix := strings.TrimPrefix(frame.CorrelationID, "frame-")
		n, err := strconv.Atoi(suffix)
		require.NoError(t, err)
		assert.Greater(t, n, prev)
		prev = n
	}
}

func TestSnapshotProviderReplaysAllChannels(t *testing.T) {
	pub := &mockPublisher{}
	svc, _ := newTestService(&mockGateway{}, &mockRepo{}, pub)
	require.NotNil(t, pub.provider, "service registers the snapshot provider on construction")

	svc.Cache().Store(domain.ChannelRealtime, reading("R1", "t1"))
	svc.Cache().Store(domain.ChannelRealtime, reading("R2", "t2"))

	frames := pub.provider()
	require.Len(t, frames, 3)
	assert.Equal(t, domain.ChannelRealtime, frames[0].Channel)
	assert.True(t, frames[0].Snapshot)
	assert.Len(t, frames[0].Readings, 2)
	assert.Equal(t, domain.ChannelHistoricalEnvironment, frames[1].Channel)
	assert.Equal(t, domain.ChannelHistoricalSoil, frames[2].Channel)
}

func TestStartStop(t *testing.T) {
	r := reading("Realtime", "t")
	gw := &mockGateway{readings: []*domain.Reading{&r}}
	pub := &mockPublisher{}
	svc, _ := newTestService(gw, &mockRepo{}, pub)

	svc.Start()
	require.Eventually(t, func() bool {
		return len(svc.Cache().Snapshot(domain.ChannelRealtime)) > 0
	}, 2*time.Second, 5*time.Millisecond, "first tick samples the device")
	svc.Stop()

	// Stop joins the worker; another Stop is a no-op.
	svc.Stop()
}
