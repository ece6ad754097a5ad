// Package gateway fans indicator results out to WebSocket subscribers.
// Every result is wrapped in an envelope carrying a global and a
// per-channel sequence so clients can detect gaps and ask for a replay.
package gateway

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"stochroc/internal/model"
)

const (
	sendBuffer   = 256
	replayWindow = 500 // envelopes kept per channel
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

type latestEntry struct {
	envelope []byte
	seq      int64
}

// Hub tracks connected clients and the latest envelope per channel.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	latest      map[string]latestEntry
	seq         int64
	channelSeqs map[string]int64
	replayBufs  map[string]*ReplayBuffer

	log *slog.Logger

	// OnClients is called with the client count after every connect and
	// disconnect (optional).
	OnClients func(n int)
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients:     make(map[*Client]struct{}),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
		log:         slog.Default().With("component", "ws"),
	}
}

// Publish broadcasts one indicator result on its pub/sub channel name.
// Results that cannot be encoded (NaN/Inf) are dropped.
func (h *Hub) Publish(r model.IndicatorResult) bool {
	data := r.JSON()
	if data == nil {
		return false
	}
	h.Broadcast(r.PubSubChannel(), data)
	return true
}

// Broadcast sends data on channel to every client whose subscriptions match.
func (h *Hub) Broadcast(channel string, data []byte) {
	h.mu.Lock()
	h.seq++
	h.channelSeqs[channel]++
	channelSeq := h.channelSeqs[channel]
	env := appendEnvelope(nil, channel, data, time.Now().UTC(), h.seq, channelSeq)
	h.latest[channel] = latestEntry{envelope: env, seq: channelSeq}

	rb, ok := h.replayBufs[channel]
	if !ok {
		rb = NewReplayBuffer(replayWindow)
		h.replayBufs[channel] = rb
	}
	rb.Push(channelSeq, env)

	for c := range h.clients {
		if !c.matchesChannel(channel) {
			continue
		}
		select {
		case c.send <- env:
		default:
			// slow client; it will see the gap in channel_seq
		}
	}
	h.mu.Unlock()
}

// ServeHTTP upgrades the connection and registers the client. The client
// first receives the latest envelope of every channel.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", "err", err)
		return
	}
	conn.EnableWriteCompression(true)

	c := newClient(h, conn)

	h.mu.Lock()
	h.clients[c] = struct{}{}
	for _, e := range h.latest {
		select {
		case c.send <- e.envelope:
		default:
		}
	}
	n := len(h.clients)
	h.mu.Unlock()

	h.log.Info("client connected", "clients", n, "remote", r.RemoteAddr)
	if h.OnClients != nil {
		h.OnClients(n)
	}

	go c.writePump()
	go c.readPump()
}

// removeClient unregisters c and closes its send queue.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()

	h.log.Info("client disconnected", "clients", n)
	if h.OnClients != nil {
		h.OnClients(n)
	}
}

// replay returns buffered envelopes for channel with seq in [from, to].
func (h *Hub) replay(channel string, from, to int64) [][]byte {
	h.mu.RLock()
	rb, ok := h.replayBufs[channel]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	entries := rb.Range(from, to)
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = e.Data
	}
	return out
}

// ChannelSeq returns the last sequence number sent on channel.
func (h *Hub) ChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.conn.Close()
	}
}
