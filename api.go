package aquaregulator

import (
	base "github.com/doukyrie/AquaRegulator-server/pkg/aquaregulator"

	"github.com/doukyrie/AquaRegulator-server/internal/app/config"
	"github.com/doukyrie/AquaRegulator-server/internal/domain"
)

// Type aliases so consumers can import the module root directly.
type (
	Runtime = base.Runtime
	Option  = base.Option

	Config        = config.Config
	Manager       = config.Manager
	VideoConfig   = config.VideoConfig
	HealthConfig  = config.HealthConfig
	MetricsConfig = config.MetricsConfig

	Reading = domain.Reading
	Frame   = domain.Frame
	Channel = domain.Channel
)

// Channel values.
const (
	ChannelRealtime              = domain.ChannelRealtime
	ChannelHistoricalEnvironment = domain.ChannelHistoricalEnvironment
	ChannelHistoricalSoil        = domain.ChannelHistoricalSoil
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

func DefaultConfig() *Config {
	return config.Default()
}

func NewConfigManager(path string) *Manager {
	return config.NewManager(path)
}

// Runtime construction and options.
func New(path string, opts ...Option) (*Runtime, error) {
	return base.New(path, opts...)
}

func NewFromManager(manager *Manager, opts ...Option) (*Runtime, error) {
	return base.NewFromManager(manager, opts...)
}

var (
	WithGateway       = base.WithGateway
	WithRepository    = base.WithRepository
	WithPublisher     = base.WithPublisher
	WithHealth        = base.WithHealth
	WithObservability = base.WithObservability
)

// Frame wire codec, usable by subscriber clients.
var (
	EncodeFrame = domain.EncodeFrame
	DecodeFrame = domain.DecodeFrame
)
