package command

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/doukyrie/AquaRegulator-server/internal/ports"
)

const healthComponent = "command_router"

// DiagnosticsProvider returns the JSON document served for a diagnostics
// command.
type DiagnosticsProvider func() string

// ReloadFunc is invoked when a subscriber requests a configuration reload.
type ReloadFunc func()

type envelope struct {
	Type    string  `json:"type"`
	Soil    float64 `json:"soil"`
	Rain    float64 `json:"rain"`
	Temp    float64 `json:"temp"`
	Light   float64 `json:"light"`
	Mode    int     `json:"mode"`
	Address int     `json:"address"`
	Value   int     `json:"value"`
}

// Router parses newline-terminated JSON command lines and dispatches them to
// the device gateway, the diagnostics provider or the reload signal. Bytes
// accumulate per connection until a full line is present; every complete
// line yields exactly one reply.
type Router struct {
	gateway     ports.Gateway
	health      ports.Health
	obs         ports.Observability
	diagnostics DiagnosticsProvider
	reload      ReloadFunc

	mu      sync.Mutex
	buffers map[uint64][]byte
}

func NewRouter(gateway ports.Gateway, health ports.Health, obs ports.Observability, diagnostics DiagnosticsProvider, reload ReloadFunc) *Router {
	return &Router{
		gateway:     gateway,
		health:      health,
		obs:         obs,
		diagnostics: diagnostics,
		reload:      reload,
		buffers:     make(map[uint64][]byte),
	}
}

// Feed appends chunk to the connection's buffer and dispatches every
// complete line in order. Replies are handed to respond without the
// trailing newline.
func (r *Router) Feed(connID uint64, chunk []byte, respond func(reply string)) {
	r.mu.Lock()
	buf := append(r.buffers[connID], chunk...)

	var lines [][]byte
	for {
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := make([]byte, idx)
		copy(line, buf[:idx])
		lines = append(lines, line)
		buf = buf[idx+1:]
	}
	r.buffers[connID] = buf
	r.mu.Unlock()

	for _, line := range lines {
		reply := r.dispatch(line)
		if reply != "" && respond != nil {
			respond(reply)
		}
	}
}

// Drop discards buffered bytes for a closed connection.
func (r *Router) Drop(connID uint64) {
	r.mu.Lock()
	delete(r.buffers, connID)
	r.mu.Unlock()
}

func (r *Router) dispatch(line []byte) string {
	msg := envelope{Address: -1}
	if err := json.Unmarshal(line, &msg); err != nil {
		r.health.Update(healthComponent, false, err.Error())
		return `{"status":"error","message":"invalid payload"}`
	}

	r.obs.IncCounter("aqua_commands_processed_total", 1)

	switch msg.Type {
	case "threshold":
		r.gateway.WriteRegister(10, centiUnits(msg.Soil))
		r.gateway.WriteRegister(11, centiUnits(msg.Rain))
		r.gateway.WriteRegister(12, centiUnits(msg.Temp))
		r.gateway.WriteRegister(13, centiUnits(msg.Light))
		r.health.Update(healthComponent, true, "threshold updated")
		return `{"status":"ok","message":"threshold updated"}`
	case "light_control":
		r.gateway.WriteRegister(14, centiUnits(msg.Light))
		r.health.Update(healthComponent, true, "light control updated")
		return `{"status":"ok","message":"light control updated"}`
	case "mode_select":
		r.gateway.WriteRegister(15, uint16(msg.Mode))
		r.health.Update(healthComponent, true, "mode updated")
		return `{"status":"ok","message":"mode updated"}`
	case "write_register":
		if msg.Address >= 0 {
			r.gateway.WriteRegister(uint16(msg.Address), uint16(msg.Value))
		}
		return `{"status":"ok","message":"register write queued"}`
	case "diagnostics":
		if r.diagnostics != nil {
			return r.diagnostics()
		}
		return `{"status":"error","message":"diagnostics unavailable"}`
	case "config_reload":
		if r.reload != nil {
			r.reload()
		}
		return `{"status":"ok","message":"configuration reload requested"}`
	default:
		return `{"status":"error","message":"unknown command"}`
	}
}

// centiUnits scales a threshold to the device's centi-unit register value.
// Values above 655.35 wrap to 16 bits, matching the device contract.
func centiUnits(v float64) uint16 {
	return uint16(int64(v * 100))
}

var _ ports.CommandStream = (*Router)(nil)
