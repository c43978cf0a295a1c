package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doukyrie/AquaRegulator-server/internal/domain"
	"github.com/doukyrie/AquaRegulator-server/internal/ports"
)

type mockGateway struct {
	writes [][2]uint16
}

func (m *mockGateway) ReadRealtime() *domain.Reading { return nil }

func (m *mockGateway) WriteRegister(address, value uint16) {
	m.writes = append(m.writes, [2]uint16{address, value})
}

func (m *mockGateway) Close() {}

type mockHealth struct {
	updates []bool
}

func (m *mockHealth) Update(component string, healthy bool, detail string) {
	m.updates = append(m.updates, healthy)
}

type mockObs struct {
	counters map[string]float64
}

func (m *mockObs) LogInfo(string, ...ports.Field)            {}
func (m *mockObs) LogError(string, error, ...ports.Field)    {}
func (m *mockObs) LogCritical(string, error, ...ports.Field) {}
func (m *mockObs) IncCounter(name string, v float64) {
	if m.counters == nil {
		m.counters = make(map[string]float64)
	}
	m.counters[name] += v
}
func (m *mockObs) SetGauge(string, float64)       {}
func (m *mockObs) ObserveLatency(string, float64) {}

func newTestRouter(diag DiagnosticsProvider, reload ReloadFunc) (*Router, *mockGateway, *mockHealth) {
	gw := &mockGateway{}
	health := &mockHealth{}
	return NewRouter(gw, health, &mockObs{}, diag, reload), gw, health
}

func feedLine(r *Router, line string) []string {
	var replies []string
	r.Feed(1, []byte(line+"\n"), func(reply string) {
		replies = append(replies, reply)
	})
	return replies
}

func TestThresholdCommand(t *testing.T) {
	r, gw, _ := newTestRouter(nil, nil)

	replies := feedLine(r, `{"type":"threshold","soil":45.5,"rain":12.0,"temp":25.0,"light":800.0}`)

	require.Equal(t, []string{`{"status":"ok","message":"threshold updated"}`}, replies)
	require.Equal(t, [][2]uint16{{10, 4550}, {11, 1200}, {12, 2500}, {13, 14464}}, gw.writes)
}

func TestThresholdDefaultsMissingFieldsToZero(t *testing.T) {
	r, gw, _ := newTestRouter(nil, nil)

	feedLine(r, `{"type":"threshold","soil":10.0}`)

	require.Equal(t, [][2]uint16{{10, 1000}, {11, 0}, {12, 0}, {13, 0}}, gw.writes)
}

func TestLightControlCommand(t *testing.T) {
	r, gw, _ := newTestRouter(nil, nil)

	replies := feedLine(r, `{"type":"light_control","light":50.5}`)

	assert.Equal(t, []string{`{"status":"ok","message":"light control updated"}`}, replies)
	require.Equal(t, [][2]uint16{{14, 5050}}, gw.writes)
}

func TestModeSelectCommand(t *testing.T) {
	r, gw, _ := newTestRouter(nil, nil)

	replies := feedLine(r, `{"type":"mode_select","mode":2}`)

	assert.Equal(t, []string{`{"status":"ok","message":"mode updated"}`}, replies)
	require.Equal(t, [][2]uint16{{15, 2}}, gw.writes)
}

func TestWriteRegisterCommand(t *testing.T) {
	r, gw, _ := newTestRouter(nil, nil)

	replies := feedLine(r, `{"type":"write_register","address":12,"value":77}`)

	assert.Equal(t, []string{`{"status":"ok","message":"register write queued"}`}, replies)
	require.Equal(t, [][2]uint16{{12, 77}}, gw.writes)
}

func TestWriteRegisterNegativeAddressIgnored(t *testing.T) {
	r, gw, _ := newTestRouter(nil, nil)

	replies := feedLine(r, `{"type":"write_register","value":77}`)

	assert.Equal(t, []string{`{"status":"ok","message":"register write queued"}`}, replies)
	assert.Empty(t, gw.writes)
}

func TestDiagnosticsCommand(t *testing.T) {
	r, _, _ := newTestRouter(func() string { return `{"telemetry":{"subscribers":true}}` }, nil)

	replies := feedLine(r, `{"type":"diagnostics"}`)

	assert.Equal(t, []string{`{"telemetry":{"subscribers":true}}`}, replies)
}

func TestConfigReloadCommand(t *testing.T) {
	reloaded := false
	r, _, _ := newTestRouter(nil, func() { reloaded = true })

	replies := feedLine(r, `{"type":"config_reload"}`)

	assert.Equal(t, []string{`{"status":"ok","message":"configuration reload requested"}`}, replies)
	assert.True(t, reloaded)
}

func TestUnknownCommand(t *testing.T) {
	r, _, _ := newTestRouter(nil, nil)

	replies := feedLine(r, `{"type":"unknown_x"}`)

	assert.Equal(t, []string{`{"status":"error","message":"unknown command"}`}, replies)

	// The connection keeps working after an unknown command.
	replies = feedLine(r, `{"type":"mode_select","mode":1}`)
	assert.Equal(t, []string{`{"status":"ok","message":"mode updated"}`}, replies)
}

func TestInvalidPayload(t *testing.T) {
	r, _, health := newTestRouter(nil, nil)

	replies := feedLine(r, `{not json`)

	assert.Equal(t, []string{`{"status":"error","message":"invalid payload"}`}, replies)
	require.NotEmpty(t, health.updates)
	assert.False(t, health.updates[len(health.updates)-1])
}

func TestLineSplitAcrossChunksDispatchesOnce(t *testing.T) {
	r, gw, _ := newTestRouter(nil, nil)

	var replies []string
	respond := func(reply string) { replies = append(replies, reply) }

	r.Feed(7, []byte(`{"type":"mode_sel`), respond)
	assert.Empty(t, replies)
	assert.Empty(t, gw.writes)

	r.Feed(7, []byte("ect\",\"mode\":3}\n"), respond)
	require.Equal(t, []string{`{"status":"ok","message":"mode updated"}`}, replies)
	require.Equal(t, [][2]uint16{{15, 3}}, gw.writes)
}

func TestMultipleLinesInOneChunk(t *testing.T) {
	r, _, _ := newTestRouter(nil, nil)

	var replies []string
	r.Feed(9, []byte("{\"type\":\"mode_select\",\"mode\":1}\n{\"type\":\"unknown_x\"}\n"), func(reply string) {
		replies = append(replies, reply)
	})

	require.Equal(t, []string{
		`{"status":"ok","message":"mode updated"}`,
		`{"status":"error","message":"unknown command"}`,
	}, replies)
}

func TestDropDiscardsPartialBuffer(t *testing.T) {
	r, gw, _ := newTestRouter(nil, nil)

	r.Feed(3, []byte(`{"type":"mode_select"`), nil)
	r.Drop(3)
	r.Feed(3, []byte(",\"mode\":5}\n"), nil)

	assert.Empty(t, gw.writes)
}
