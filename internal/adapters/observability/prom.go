package observability

import (
	"fmt"
	"log"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/doukyrie/AquaRegulator-server/internal/ports"
)

type PromObs struct {
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

func NewPromObs() *PromObs {
	frames := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aqua_frames_published_total",
		Help: "Total telemetry frames delivered to the subscriber set.",
	})
	commands := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aqua_commands_processed_total",
		Help: "Total command lines dispatched by the command router.",
	})
	readFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aqua_device_read_failures_total",
		Help: "Realtime sensor reads that returned no data.",
	})
	videoRelayed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aqua_video_packets_relayed_total",
		Help: "Video packets forwarded to subscribers.",
	})
	videoDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aqua_video_packets_dropped_total",
		Help: "Video packets dropped by the bounded relay queue.",
	})
	subscribers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aqua_subscribers",
		Help: "Currently connected telemetry subscribers.",
	})
	videoClients := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aqua_video_clients",
		Help: "Currently connected video relay clients.",
	})
	publishLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "aqua_publish_latency_seconds",
		Help:    "Time to hand one frame to every subscriber send queue.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
	})

	prometheus.MustRegister(frames, commands, readFailures, videoRelayed, videoDropped,
		subscribers, videoClients, publishLatency)

	return &PromObs{
		counters: map[string]prometheus.Counter{
			"aqua_frames_published_total":      frames,
			"aqua_commands_processed_total":    commands,
			"aqua_device_read_failures_total":  readFailures,
			"aqua_video_packets_relayed_total": videoRelayed,
			"aqua_video_packets_dropped_total": videoDropped,
		},
		gauges: map[string]prometheus.Gauge{
			"aqua_subscribers":   subscribers,
			"aqua_video_clients": videoClients,
		},
		histos: map[string]prometheus.Observer{
			"aqua_publish_latency_seconds": publishLatency,
		},
	}
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	log.Printf("INFO: %s%s", msg, renderFields(fields))
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	if err != nil {
		log.Printf("ERROR: %s: %v%s", msg, err, renderFields(fields))
	}
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	if err != nil {
		log.Printf("CRITICAL: %s: %v%s", msg, err, renderFields(fields))
	}
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func renderFields(fields []ports.Field) string {
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	return b.String()
}

var _ ports.Observability = (*PromObs)(nil)
