package modbus

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"github.com/doukyrie/AquaRegulator-server/internal/domain"
	"github.com/doukyrie/AquaRegulator-server/internal/ports"
)

const healthComponent = "sensor_gateway"

// Config captures the runtime details required to reach the Modbus TCP
// sensor board.
type Config struct {
	Endpoint     string `json:"endpoint"`
	Port         int    `json:"port"`
	RetrySeconds int    `json:"retrySeconds"`
	Registers    int    `json:"registers"`
}

func (c *Config) ApplyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "127.0.0.1"
	}
	if c.Port <= 0 {
		c.Port = 502
	}
	if c.RetrySeconds <= 0 {
		c.RetrySeconds = 5
	}
	if c.Registers <= 0 {
		c.Registers = 6
	}
}

// registerClient is the slice of the Modbus client the gateway uses.
type registerClient interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	WriteSingleRegister(address, value uint16) ([]byte, error)
}

type connectFunc func(cfg Config) (registerClient, io.Closer, error)

func dialModbus(cfg Config) (registerClient, io.Closer, error) {
	handler := modbus.NewTCPClientHandler(net.JoinHostPort(cfg.Endpoint, strconv.Itoa(cfg.Port)))
	handler.Timeout = 3 * time.Second
	handler.SlaveId = 1
	if err := handler.Connect(); err != nil {
		handler.Close()
		return nil, nil, fmt.Errorf("modbus connect: %w", err)
	}
	return modbus.NewClient(handler), handler, nil
}

// Gateway serializes all field-device I/O behind a single mutex. After a
// failed connect attempt, further attempts are suppressed until the retry
// interval has elapsed.
type Gateway struct {
	cfg    Config
	health ports.Health

	mu          sync.Mutex
	client      registerClient
	closer      io.Closer
	lastAttempt time.Time

	now     func() time.Time
	connect connectFunc
}

func NewGateway(cfg Config, health ports.Health) *Gateway {
	cfg.ApplyDefaults()
	return &Gateway{
		cfg:     cfg,
		health:  health,
		now:     time.Now,
		connect: dialModbus,
	}
}

// ReadRealtime reads the configured number of holding registers starting at
// address 0 and decodes them as centi-units of soil, gas, raindrop,
// temperature, humidity and light.
func (g *Gateway) ReadRealtime() *domain.Reading {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.ensureConnectionLocked() {
		return nil
	}

	data, err := g.client.ReadHoldingRegisters(0, uint16(g.cfg.Registers))
	if err != nil {
		g.handleFailureLocked(fmt.Sprintf("read registers failed: %v", err))
		return nil
	}

	reading := &domain.Reading{
		Label:     "Realtime",
		Timestamp: g.now().Format("2006-01-02 15:04:05"),
	}
	if len(data) >= 12 {
		reading.Soil = float64(binary.BigEndian.Uint16(data[0:2])) / 100.0
		reading.Gas = float64(binary.BigEndian.Uint16(data[2:4])) / 100.0
		reading.Raindrop = float64(binary.BigEndian.Uint16(data[4:6])) / 100.0
		reading.Temperature = float64(binary.BigEndian.Uint16(data[6:8])) / 100.0
		reading.Humidity = float64(binary.BigEndian.Uint16(data[8:10])) / 100.0
		reading.Light = float64(binary.BigEndian.Uint16(data[10:12])) / 100.0
	}

	g.health.Update(healthComponent, true, "Realtime sample collected")
	return reading
}

// WriteRegister writes one 16-bit holding register.
func (g *Gateway) WriteRegister(address, value uint16) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.ensureConnectionLocked() {
		return
	}
	if _, err := g.client.WriteSingleRegister(address, value); err != nil {
		g.handleFailureLocked(fmt.Sprintf("write register %d failed: %v", address, err))
		return
	}
	g.health.Update(healthComponent, true, "Register write successful")
}

func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dropConnectionLocked()
}

func (g *Gateway) ensureConnectionLocked() bool {
	if g.client != nil {
		return true
	}

	now := g.now()
	if now.Sub(g.lastAttempt) < time.Duration(g.cfg.RetrySeconds)*time.Second {
		return false
	}
	g.lastAttempt = now

	client, closer, err := g.connect(g.cfg)
	if err != nil {
		g.handleFailureLocked(fmt.Sprintf("connection error: %v", err))
		return false
	}
	g.client = client
	g.closer = closer
	g.health.Update(healthComponent, true, "Modbus connected")
	log.Printf("sensor_gateway: connected to %s:%d", g.cfg.Endpoint, g.cfg.Port)
	return true
}

// handleFailureLocked discards the connection so the next operation goes
// through the rate-limited reconnect path.
func (g *Gateway) handleFailureLocked(reason string) {
	log.Printf("sensor_gateway: %s", reason)
	g.health.Update(healthComponent, false, reason)
	g.dropConnectionLocked()
}

func (g *Gateway) dropConnectionLocked() {
	if g.closer != nil {
		g.closer.Close()
	}
	g.client = nil
	g.closer = nil
}

var _ ports.Gateway = (*Gateway)(nil)
