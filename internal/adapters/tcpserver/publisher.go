package tcpserver

import (
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/doukyrie/AquaRegulator-server/internal/domain"
	"github.com/doukyrie/AquaRegulator-server/internal/ports"
)

const healthComponent = "telemetry_publisher"

// sendQueueDepth bounds the per-subscriber outbound queue. A subscriber that
// falls this far behind is closed rather than allowed to stall the rest.
const sendQueueDepth = 64

type Config struct {
	BindAddress    string `json:"bindAddress"`
	Port           int    `json:"port"`
	WorkerThreads  int    `json:"workerThreads"`
	MaxConnections int    `json:"maxConnections"`
}

func (c *Config) ApplyDefaults() {
	if c.BindAddress == "" {
		c.BindAddress = "0.0.0.0"
	}
	if c.Port <= 0 {
		c.Port = 5555
	}
	if c.WorkerThreads <= 0 {
		c.WorkerThreads = 4
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 200
	}
}

type subscriber struct {
	id     uint64
	conn   net.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

// trySend enqueues without blocking. A full queue or a closed subscriber
// reports failure so the caller can drop the connection.
func (s *subscriber) trySend(buf []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.sendCh <- buf:
		return true
	default:
		return false
	}
}

// Server accepts long-lived telemetry subscribers, replays snapshot frames
// on accept, broadcasts length-prefixed frames, and feeds inbound bytes to
// the command plane. Concurrent command dispatch is bounded by the worker
// pool size.
type Server struct {
	cfg      Config
	commands ports.CommandStream
	health   ports.Health
	obs      ports.Observability

	mu          sync.Mutex
	ln          net.Listener
	subscribers map[uint64]*subscriber
	snapshot    ports.SnapshotProvider

	nextID    atomic.Uint64
	closed    atomic.Bool
	wg        sync.WaitGroup
	workerSem chan struct{}
}

func NewServer(cfg Config, commands ports.CommandStream, health ports.Health, obs ports.Observability) *Server {
	cfg.ApplyDefaults()
	return &Server{
		cfg:         cfg,
		commands:    commands,
		health:      health,
		obs:         obs,
		subscribers: make(map[uint64]*subscriber),
		workerSem:   make(chan struct{}, cfg.WorkerThreads),
	}
}

func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.BindAddress, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.health.Update(healthComponent, false, fmt.Sprintf("listen failed: %v", err))
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.health.Update(healthComponent, true, "Server listening")
	log.Printf("telemetry_publisher: listening on %s", ln.Addr())

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr reports the bound listener address.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop refuses new connections and closes every subscriber. Each
// subscriber's connection is closed at once, so frames still waiting in its
// send queue are not delivered.
func (s *Server) Stop() {
	if s.closed.Swap(true) {
		return
	}

	s.mu.Lock()
	ln := s.ln
	subs := make([]*subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, sub := range subs {
		s.closeSubscriber(sub)
	}
	s.wg.Wait()
	s.health.Update(healthComponent, false, "Server stopped")
}

func (s *Server) HasSubscribers() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers) > 0
}

func (s *Server) SetSnapshotProvider(provider ports.SnapshotProvider) {
	s.mu.Lock()
	s.snapshot = provider
	s.mu.Unlock()
}

// Publish serializes the frame once and hands it to every current
// subscriber's send queue. A subscriber whose queue is full is closed;
// the others are unaffected.
func (s *Server) Publish(frame domain.Frame) {
	if s.closed.Load() {
		return
	}

	s.mu.Lock()
	subs := make([]*subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	if len(subs) == 0 {
		return
	}

	buf, err := domain.EncodeFrame(frame)
	if err != nil {
		s.obs.LogError("frame_encode_failed", err, ports.Field{Key: "channel", Value: frame.Channel.Token()})
		return
	}

	start := time.Now()
	for _, sub := range subs {
		if !sub.trySend(buf) {
			log.Printf("telemetry_publisher: subscriber %d lagging, closing", sub.id)
			s.closeSubscriber(sub)
		}
	}
	s.obs.ObserveLatency("aqua_publish_latency_seconds", time.Since(start).Seconds())
	s.obs.IncCounter("aqua_frames_published_total", 1)
	s.health.Update(healthComponent, true, "Frame delivered to clients")
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closed.Load() {
				return
			}
			log.Printf("telemetry_publisher: accept failed: %v", err)
			continue
		}
		s.register(conn)
	}
}

// register admits one connection: under the subscriber lock it replays the
// snapshot sequence into the fresh send queue and only then joins the
// broadcast set, so no incremental frame can precede the snapshot.
func (s *Server) register(conn net.Conn) {
	s.mu.Lock()
	if s.closed.Load() || len(s.subscribers) >= s.cfg.MaxConnections {
		s.mu.Unlock()
		conn.Close()
		return
	}

	sub := &subscriber{
		id:     s.nextID.Add(1),
		conn:   conn,
		sendCh: make(chan []byte, sendQueueDepth),
		done:   make(chan struct{}),
	}

	if s.snapshot != nil {
		for _, frame := range s.snapshot() {
			buf, err := domain.EncodeFrame(frame)
			if err != nil {
				s.obs.LogError("snapshot_encode_failed", err)
				continue
			}
			sub.trySend(buf)
		}
	}

	s.subscribers[sub.id] = sub
	count := len(s.subscribers)
	s.mu.Unlock()

	s.obs.SetGauge("aqua_subscribers", float64(count))
	s.health.Update(healthComponent, true, "Client connected: "+strconv.FormatUint(sub.id, 10))

	s.wg.Add(2)
	go s.writeLoop(sub)
	go s.readLoop(sub)
}

func (s *Server) writeLoop(sub *subscriber) {
	defer s.wg.Done()
	for {
		select {
		case buf := <-sub.sendCh:
			if _, err := sub.conn.Write(buf); err != nil {
				s.closeSubscriber(sub)
				return
			}
		case <-sub.done:
			// Empty the queue. closeSubscriber has normally closed the
			// connection already, so the first write fails and the
			// remaining frames are dropped.
			for {
				select {
				case buf := <-sub.sendCh:
					if _, err := sub.conn.Write(buf); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (s *Server) readLoop(sub *subscriber) {
	defer s.wg.Done()
	defer s.closeSubscriber(sub)

	buf := make([]byte, 4096)
	for {
		n, err := sub.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			s.workerSem <- struct{}{}
			s.commands.Feed(sub.id, chunk, func(reply string) {
				if !sub.trySend([]byte(reply + "\n")) {
					s.closeSubscriber(sub)
				}
			})
			<-s.workerSem
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) closeSubscriber(sub *subscriber) {
	sub.once.Do(func() {
		close(sub.done)
		sub.conn.Close()

		s.mu.Lock()
		delete(s.subscribers, sub.id)
		count := len(s.subscribers)
		s.mu.Unlock()

		s.commands.Drop(sub.id)
		s.obs.SetGauge("aqua_subscribers", float64(count))
		s.health.Update(healthComponent, true, "Client disconnected: "+strconv.FormatUint(sub.id, 10))
	})
}

var _ ports.Publisher = (*Server)(nil)
