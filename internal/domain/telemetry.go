package domain

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Channel identifies one logical stream of readings.
type Channel int

const (
	ChannelRealtime Channel = iota
	ChannelHistoricalEnvironment
	ChannelHistoricalSoil
)

// Token returns the stable wire name of the channel.
func (c Channel) Token() string {
	switch c {
	case ChannelRealtime:
		return "realtime"
	case ChannelHistoricalEnvironment:
		return "historical_env"
	case ChannelHistoricalSoil:
		return "historical_soil"
	default:
		return "unknown"
	}
}

// ChannelFromToken maps a wire name back to its channel.
func ChannelFromToken(token string) (Channel, bool) {
	switch token {
	case "realtime":
		return ChannelRealtime, true
	case "historical_env":
		return ChannelHistoricalEnvironment, true
	case "historical_soil":
		return ChannelHistoricalSoil, true
	default:
		return ChannelRealtime, false
	}
}

// Reading is one telemetry data point. Absent numeric fields stay 0.
type Reading struct {
	Label       string  `json:"label"`
	Timestamp   string  `json:"timestamp"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Light       float64 `json:"light"`
	Soil        float64 `json:"soil"`
	Gas         float64 `json:"gas"`
	Raindrop    float64 `json:"raindrop"`
}

// Frame is the unit published to telemetry subscribers. Snapshot frames
// replay cached state; an incremental realtime frame carries exactly one
// freshly sampled reading.
type Frame struct {
	Channel       Channel
	Readings      []Reading
	Snapshot      bool
	CorrelationID string
}

type frameWire struct {
	Channel       string    `json:"channel"`
	Snapshot      bool      `json:"snapshot"`
	CorrelationID string    `json:"correlationId"`
	Readings      []Reading `json:"readings"`
}

// MarshalJSON renders the channel as its wire token and never emits a null
// readings array.
func (f Frame) MarshalJSON() ([]byte, error) {
	readings := f.Readings
	if readings == nil {
		readings = []Reading{}
	}
	return json.Marshal(frameWire{
		Channel:       f.Channel.Token(),
		Snapshot:      f.Snapshot,
		CorrelationID: f.CorrelationID,
		Readings:      readings,
	})
}

func (f *Frame) UnmarshalJSON(data []byte) error {
	var w frameWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	channel, ok := ChannelFromToken(w.Channel)
	if !ok {
		return fmt.Errorf("unknown channel token %q", w.Channel)
	}
	f.Channel = channel
	f.Snapshot = w.Snapshot
	f.CorrelationID = w.CorrelationID
	f.Readings = w.Readings
	return nil
}

const frameLenPrefix = 4

// EncodeFrame serializes a frame for the telemetry wire: a 4-byte big-endian
// unsigned length followed by exactly one JSON object.
func EncodeFrame(f Frame) ([]byte, error) {
	payload, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, frameLenPrefix+len(payload))
	binary.BigEndian.PutUint32(buf[:frameLenPrefix], uint32(len(payload)))
	copy(buf[frameLenPrefix:], payload)
	return buf, nil
}

// DecodeFrame reads one length-prefixed frame from r.
func DecodeFrame(r io.Reader) (Frame, error) {
	var hdr [frameLenPrefix]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	payload := make([]byte, binary.BigEndian.Uint32(hdr[:]))
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, fmt.Errorf("frame body: %w", err)
	}
	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return Frame{}, fmt.Errorf("frame decode: %w", err)
	}
	return f, nil
}
