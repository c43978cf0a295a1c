package pipeline

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/doukyrie/AquaRegulator-server/internal/adapters/cache"
	"github.com/doukyrie/AquaRegulator-server/internal/domain"
	"github.com/doukyrie/AquaRegulator-server/internal/ports"
)

const healthComponent = "telemetry_service"

type Config struct {
	RealtimeSeconds   int `json:"realtimeSeconds"`
	HistoricalSeconds int `json:"historicalSeconds"`
	CacheSize         int `json:"cacheSize"`
}

func (c *Config) ApplyDefaults() {
	if c.RealtimeSeconds <= 0 {
		c.RealtimeSeconds = 5
	}
	if c.HistoricalSeconds <= 0 {
		c.HistoricalSeconds = 60
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 120
	}
}

// Service multiplexes the fast realtime cadence with the slower historical
// cadence against the shared bounded cache, and feeds the publisher. The
// first iteration always runs the historical branch.
type Service struct {
	cfg       Config
	repo      ports.Repository
	gateway   ports.Gateway
	publisher ports.Publisher
	health    ports.Health
	obs       ports.Observability
	cache     *cache.TelemetryCache

	running     atomic.Bool
	stopCh      chan struct{}
	doneCh      chan struct{}
	correlation atomic.Uint64
}

func NewService(cfg Config, repo ports.Repository, gateway ports.Gateway, publisher ports.Publisher, health ports.Health, obs ports.Observability) *Service {
	cfg.ApplyDefaults()
	s := &Service{
		cfg:       cfg,
		repo:      repo,
		gateway:   gateway,
		publisher: publisher,
		health:    health,
		obs:       obs,
		cache:     cache.NewTelemetryCache(cfg.CacheSize),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	publisher.SetSnapshotProvider(s.snapshotFrames)
	return s
}

// Cache exposes the channel cache shared with the snapshot path.
func (s *Service) Cache() *cache.TelemetryCache {
	return s.cache
}

func (s *Service) Start() {
	if s.running.Swap(true) {
		return
	}
	go s.runLoop()
}

func (s *Service) Stop() {
	if !s.running.Swap(false) {
		return
	}
	close(s.stopCh)
	<-s.doneCh
}

func (s *Service) runLoop() {
	defer close(s.doneCh)

	realtimeInterval := time.Duration(s.cfg.RealtimeSeconds) * time.Second
	historicalInterval := time.Duration(s.cfg.HistoricalSeconds) * time.Second

	// Backdated so the first tick runs the historical branch unconditionally.
	lastHistorical := time.Now().Add(-historicalInterval)

	for s.running.Load() {
		tickStart := time.Now()

		s.processRealtime()

		if time.Since(lastHistorical) >= historicalInterval {
			s.processHistorical()
			lastHistorical = time.Now()
		}

		wait := realtimeInterval - time.Since(tickStart)
		if wait > 0 {
			select {
			case <-s.stopCh:
				return
			case <-time.After(wait):
			}
		}
	}
}

func (s *Service) processRealtime() {
	reading := s.gateway.ReadRealtime()
	if reading == nil {
		s.obs.IncCounter("aqua_device_read_failures_total", 1)
		s.health.Update(healthComponent, false, "Realtime read failed")
		return
	}

	s.cache.Store(domain.ChannelRealtime, *reading)

	if s.publisher.HasSubscribers() {
		s.publisher.Publish(domain.Frame{
			Channel:       domain.ChannelRealtime,
			Snapshot:      false,
			CorrelationID: s.nextCorrelationID(),
			Readings:      []domain.Reading{*reading},
		})
	}

	s.health.Update(healthComponent, true, "Realtime frame published")
}

func (s *Service) processHistorical() {
	env := s.repo.LoadEnvironmental(s.cfg.CacheSize)
	soil := s.repo.LoadSoilAndAir(s.cfg.CacheSize)

	for _, reading := range env {
		s.cache.Store(domain.ChannelHistoricalEnvironment, reading)
	}
	for _, reading := range soil {
		s.cache.Store(domain.ChannelHistoricalSoil, reading)
	}

	if s.publisher.HasSubscribers() {
		if len(env) > 0 {
			s.publisher.Publish(s.buildFrame(domain.ChannelHistoricalEnvironment, env))
		}
		if len(soil) > 0 {
			s.publisher.Publish(s.buildFrame(domain.ChannelHistoricalSoil, soil))
		}
	}

	s.health.Update(healthComponent, true, "Historical frame published")
}

// snapshotFrames builds the replay sequence delivered to each newly accepted
// subscriber: the cached state of all three channels, in channel order.
func (s *Service) snapshotFrames() []domain.Frame {
	return []domain.Frame{
		s.buildFrame(domain.ChannelRealtime, s.cache.Snapshot(domain.ChannelRealtime)),
		s.buildFrame(domain.ChannelHistoricalEnvironment, s.cache.Snapshot(domain.ChannelHistoricalEnvironment)),
		s.buildFrame(domain.ChannelHistoricalSoil, s.cache.Snapshot(domain.ChannelHistoricalSoil)),
	}
}

func (s *Service) buildFrame(channel domain.Channel, readings []domain.Reading) domain.Frame {
	return domain.Frame{
		Channel:       channel,
		Readings:      readings,
		Snapshot:      true,
		CorrelationID: s.nextCorrelationID(),
	}
}

func (s *Service) nextCorrelationID() string {
	return "frame-" + strconv.FormatUint(s.correlation.Add(1), 10)
}
