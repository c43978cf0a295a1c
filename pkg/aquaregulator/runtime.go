package aquaregulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/doukyrie/AquaRegulator-server/internal/adapters/health"
	"github.com/doukyrie/AquaRegulator-server/internal/adapters/modbus"
	"github.com/doukyrie/AquaRegulator-server/internal/adapters/observability"
	"github.com/doukyrie/AquaRegulator-server/internal/adapters/repository"
	"github.com/doukyrie/AquaRegulator-server/internal/adapters/tcpserver"
	"github.com/doukyrie/AquaRegulator-server/internal/adapters/video"
	"github.com/doukyrie/AquaRegulator-server/internal/app/command"
	"github.com/doukyrie/AquaRegulator-server/internal/app/config"
	"github.com/doukyrie/AquaRegulator-server/internal/app/pipeline"
	"github.com/doukyrie/AquaRegulator-server/internal/ports"
)

const supervisorPollInterval = 5 * time.Second

// Option customizes the dependencies wired into the Runtime.
type Option func(*overrides)

type overrides struct {
	gateway       ports.Gateway
	repo          ports.Repository
	publisher     ports.Publisher
	healthSink    ports.Health
	observability ports.Observability
}

// WithGateway injects a custom device gateway (simulators, test fakes).
func WithGateway(g ports.Gateway) Option {
	return func(o *overrides) { o.gateway = g }
}

// WithRepository injects a custom historical repository.
func WithRepository(r ports.Repository) Option {
	return func(o *overrides) { o.repo = r }
}

// WithPublisher injects a custom subscriber server.
func WithPublisher(p ports.Publisher) Option {
	return func(o *overrides) { o.publisher = p }
}

// WithHealth injects a custom health sink in place of the file-backed
// registry.
func WithHealth(h ports.Health) Option {
	return func(o *overrides) { o.healthSink = h }
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs ports.Observability) Option {
	return func(o *overrides) { o.observability = obs }
}

// Runtime owns every long-lived component for the process lifetime and wires
// them in dependency order.
type Runtime struct {
	manager *config.Manager
	cfg     *config.Config
	obs     ports.Observability

	healthSink ports.Health
	registry   *health.Registry
	repo       ports.Repository
	gateway    ports.Gateway
	router     *command.Router
	publisher  ports.Publisher
	tcpServer  *tcpserver.Server
	service    *pipeline.Service
	relay      *video.Relay
	metricsSrv *http.Server

	reloadRequested atomic.Bool
}

// New loads configuration from path and constructs the component graph. A
// database connect failure here is fatal per the startup contract.
func New(path string, opts ...Option) (*Runtime, error) {
	return NewFromManager(config.NewManager(path), opts...)
}

// NewFromManager builds the runtime from an existing configuration manager.
func NewFromManager(manager *config.Manager, opts ...Option) (*Runtime, error) {
	if manager == nil {
		return nil, fmt.Errorf("config manager is required")
	}

	var ov overrides
	for _, opt := range opts {
		if opt != nil {
			opt(&ov)
		}
	}

	cfg := manager.Get()
	r := &Runtime{manager: manager, cfg: cfg}

	r.obs = ov.observability
	if r.obs == nil {
		r.obs = observability.NewPromObs()
	}

	r.healthSink = ov.healthSink
	if r.healthSink == nil {
		r.registry = health.NewRegistry(cfg.Health.StatusFile,
			time.Duration(cfg.Health.IntervalSeconds)*time.Second)
		r.healthSink = r.registry
	}

	r.repo = ov.repo
	if r.repo == nil {
		repo := repository.NewTelemetryRepository(cfg.Database, r.healthSink)
		if err := repo.Initialize(); err != nil {
			return nil, fmt.Errorf("database bootstrap: %w", err)
		}
		r.repo = repo
	}

	r.gateway = ov.gateway
	if r.gateway == nil {
		r.gateway = modbus.NewGateway(cfg.Sensor, r.healthSink)
	}

	r.router = command.NewRouter(r.gateway, r.healthSink, r.obs, r.diagnostics, func() {
		r.reloadRequested.Store(true)
	})

	r.publisher = ov.publisher
	if r.publisher == nil {
		r.tcpServer = tcpserver.NewServer(cfg.Publisher, r.router, r.healthSink, r.obs)
		r.publisher = r.tcpServer
	}

	r.service = pipeline.NewService(cfg.Pipeline, r.repo, r.gateway, r.publisher, r.healthSink, r.obs)
	r.relay = video.NewRelay(r.healthSink, r.obs)

	return r, nil
}

// diagnostics renders the document returned for a diagnostics command.
func (r *Runtime) diagnostics() string {
	doc := map[string]any{
		"telemetry": map[string]any{
			"subscribers": r.publisher != nil && r.publisher.HasSubscribers(),
		},
		"pipeline": map[string]any{
			"realtimeSeconds":   r.cfg.Pipeline.RealtimeSeconds,
			"historicalSeconds": r.cfg.Pipeline.HistoricalSeconds,
		},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return `{"status":"error","message":"diagnostics unavailable"}`
	}
	return string(data)
}

// Start brings the components up in dependency order. A telemetry listener
// failure is fatal; a video relay failure only degrades.
func (r *Runtime) Start() error {
	if r.registry != nil {
		r.registry.Start()
	}

	if r.tcpServer != nil {
		if err := r.tcpServer.Start(); err != nil {
			return fmt.Errorf("telemetry publisher: %w", err)
		}
	}

	r.service.Start()

	if err := r.relay.Start(r.cfg.Video.Port); err != nil {
		log.Printf("supervisor: video relay failed to start: %v", err)
	}

	r.startMetrics()
	log.Printf("supervisor: AquaRegulator backend is running")
	return nil
}

// Run starts the runtime and blocks until the context is cancelled, polling
// for configuration changes on the supervisor interval.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Start(); err != nil {
		return err
	}

	ticker := time.NewTicker(supervisorPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return r.Shutdown(shutdownCtx)
		case <-ticker.C:
			if r.reloadRequested.Swap(false) {
				r.manager.ReloadIfChanged()
				log.Printf("supervisor: configuration reload requested but runtime hot-reload is not guaranteed for all services")
			} else {
				r.manager.ReloadIfChanged()
			}
		}
	}
}

// Shutdown stops components in reverse order: video, pipeline, server,
// health.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error

	r.relay.Stop()
	r.service.Stop()
	if r.tcpServer != nil {
		r.tcpServer.Stop()
	}

	if r.metricsSrv != nil {
		if err := r.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}

	r.gateway.Close()
	if err := r.repo.Close(); err != nil {
		errs = append(errs, err)
	}

	if r.registry != nil {
		r.registry.Stop()
	}

	return errors.Join(errs...)
}

func (r *Runtime) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.metricsSrv = &http.Server{
		Addr:    r.cfg.Metrics.Addr,
		Handler: mux,
	}

	go func() {
		if err := r.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("supervisor: metrics server exited: %v", err)
		}
	}()
}
