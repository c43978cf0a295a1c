package video

import (
	"bytes"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/doukyrie/AquaRegulator-server/internal/ports"
)

const healthComponent = "video_manager"

// queueCapacity bounds the packet queue; the oldest packet is dropped when a
// publisher outruns the relay worker.
const queueCapacity = 256

const writeTimeout = 5 * time.Second

var rolePrefix = []byte("ROLE:")

// Packet is one opaque chunk of video data as received from a publisher.
type Packet struct {
	Data      []byte
	Timestamp time.Time
}

type client struct {
	id        uint64
	conn      net.Conn
	publisher bool
}

// Relay accepts video clients, upgrades those that declare ROLE:PUBLISHER,
// and forwards publisher bytes verbatim to every subscriber-role client
// through a single relay worker.
type Relay struct {
	health ports.Health
	obs    ports.Observability

	mu      sync.Mutex
	ln      net.Listener
	clients map[uint64]*client

	queueMu sync.Mutex
	queueCv *sync.Cond
	queue   []Packet
	running bool

	nextID atomic.Uint64
	wg     sync.WaitGroup
}

func NewRelay(health ports.Health, obs ports.Observability) *Relay {
	r := &Relay{
		health:  health,
		obs:     obs,
		clients: make(map[uint64]*client),
	}
	r.queueCv = sync.NewCond(&r.queueMu)
	return r
}

func (r *Relay) Start(port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort("0.0.0.0", strconv.Itoa(port)))
	if err != nil {
		r.health.Update(healthComponent, false, "Start failed")
		return fmt.Errorf("video listen: %w", err)
	}

	r.mu.Lock()
	r.ln = ln
	r.mu.Unlock()

	r.queueMu.Lock()
	r.running = true
	r.queueMu.Unlock()

	r.wg.Add(2)
	go r.acceptLoop(ln)
	go r.relayLoop()

	log.Printf("video_manager: started on port %d", port)
	r.health.Update(healthComponent, true, "Listening on port "+strconv.Itoa(port))
	return nil
}

func (r *Relay) Stop() {
	r.queueMu.Lock()
	if !r.running {
		r.queueMu.Unlock()
		return
	}
	r.running = false
	r.queueCv.Broadcast()
	r.queueMu.Unlock()

	r.mu.Lock()
	if r.ln != nil {
		r.ln.Close()
	}
	for _, c := range r.clients {
		c.conn.Close()
	}
	r.mu.Unlock()

	r.wg.Wait()
}

// Addr reports the bound listener address.
func (r *Relay) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ln == nil {
		return nil
	}
	return r.ln.Addr()
}

func (r *Relay) acceptLoop(ln net.Listener) {
	defer r.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}

		c := &client{id: r.nextID.Add(1), conn: conn}
		r.mu.Lock()
		r.clients[c.id] = c
		count := len(r.clients)
		r.mu.Unlock()

		r.obs.SetGauge("aqua_video_clients", float64(count))
		r.health.Update(healthComponent, true, "Client connected: "+strconv.FormatUint(c.id, 10))

		r.wg.Add(1)
		go r.readLoop(c)
	}
}

func (r *Relay) readLoop(c *client) {
	defer r.wg.Done()
	defer r.dropClient(c)

	buf := make([]byte, 64*1024)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			r.handlePayload(c, buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (r *Relay) handlePayload(c *client, payload []byte) {
	if bytes.HasPrefix(payload, rolePrefix) {
		role := string(payload[len(rolePrefix):])
		r.mu.Lock()
		c.publisher = role == "PUBLISHER"
		r.mu.Unlock()
		log.Printf("video_manager: client %d role updated -> %s", c.id, role)
		return
	}

	r.mu.Lock()
	isPublisher := c.publisher
	r.mu.Unlock()
	if !isPublisher {
		log.Printf("video_manager: subscriber %d attempted to push data, ignored", c.id)
		return
	}

	pkt := Packet{Data: append([]byte(nil), payload...), Timestamp: time.Now()}

	r.queueMu.Lock()
	if len(r.queue) >= queueCapacity {
		copy(r.queue, r.queue[1:])
		r.queue = r.queue[:len(r.queue)-1]
		r.obs.IncCounter("aqua_video_packets_dropped_total", 1)
	}
	r.queue = append(r.queue, pkt)
	r.queueMu.Unlock()
	r.queueCv.Signal()
}

// relayLoop is the single consumer of the packet queue. Each packet is sent
// verbatim to every subscriber-role client; one failing client does not
// affect the rest.
func (r *Relay) relayLoop() {
	defer r.wg.Done()
	for {
		r.queueMu.Lock()
		for len(r.queue) == 0 && r.running {
			r.queueCv.Wait()
		}
		if !r.running {
			r.queueMu.Unlock()
			return
		}
		pkt := r.queue[0]
		copy(r.queue, r.queue[1:])
		r.queue = r.queue[:len(r.queue)-1]
		r.queueMu.Unlock()

		r.mu.Lock()
		targets := make([]*client, 0, len(r.clients))
		for _, c := range r.clients {
			if !c.publisher {
				targets = append(targets, c)
			}
		}
		r.mu.Unlock()

		for _, c := range targets {
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := c.conn.Write(pkt.Data); err != nil {
				log.Printf("video_manager: send to client %d failed: %v", c.id, err)
				c.conn.Close()
			}
		}

		r.obs.IncCounter("aqua_video_packets_relayed_total", 1)
		r.health.Update(healthComponent, true, "Video packet broadcast")
	}
}

func (r *Relay) dropClient(c *client) {
	c.conn.Close()
	r.mu.Lock()
	delete(r.clients, c.id)
	count := len(r.clients)
	r.mu.Unlock()

	r.obs.SetGauge("aqua_video_clients", float64(count))
	r.health.Update(healthComponent, true, "Client disconnected: "+strconv.FormatUint(c.id, 10))
}
