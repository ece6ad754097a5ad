package gateway

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client is one WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Subscriptions keyed by "exchange:token@tf". No subscriptions means
	// the client receives every channel.
	subMu sync.RWMutex
	subs  map[string]subscription
}

// subscription selects indicator results for one symbol and timeframe.
// An empty Indicators list selects all of them.
type subscription struct {
	Symbol     string
	TF         int
	Indicators map[string]bool
}

func subKey(symbol string, tf int) string {
	return symbol + "@" + strconv.Itoa(tf)
}

// inbound is every message a client may send.
type inbound struct {
	Type       string   `json:"type"` // SUBSCRIBE, UNSUBSCRIBE, REPLAY
	ReqID      string   `json:"req_id,omitempty"`
	Symbol     string   `json:"symbol"` // "NSE:2885"
	TF         int      `json:"tf"`
	Indicators []string `json:"indicators"`
	Channel    string   `json:"channel"`
	FromSeq    int64    `json:"from_seq"`
	ToSeq      int64    `json:"to_seq"`
	Ping       int64    `json:"ping"`
}

type reply struct {
	Type     string `json:"type"`
	ReqID    string `json:"req_id,omitempty"`
	Error    string `json:"error,omitempty"`
	Ping     int64  `json:"ping,omitempty"`
	ServerTS int64  `json:"server_ts,omitempty"`
	Replayed int    `json:"replayed,omitempty"`
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		hub:  h,
		subs: make(map[string]subscription),
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendReply(reply{Type: "error", Error: "invalid JSON"})
			continue
		}

		switch msg.Type {
		case "SUBSCRIBE":
			c.handleSubscribe(msg)
		case "UNSUBSCRIBE":
			c.subMu.Lock()
			delete(c.subs, subKey(msg.Symbol, msg.TF))
			c.subMu.Unlock()
			c.sendReply(reply{Type: "unsubscribed", ReqID: msg.ReqID})
		case "REPLAY":
			c.handleReplay(msg)
		default:
			if msg.Ping > 0 {
				c.sendReply(reply{Type: "pong", Ping: msg.Ping, ServerTS: time.Now().UnixMilli()})
				continue
			}
			c.sendReply(reply{Type: "error", ReqID: msg.ReqID, Error: "unknown type " + msg.Type})
		}
	}
}

func (c *Client) handleSubscribe(msg inbound) {
	if msg.Symbol == "" || msg.TF <= 0 {
		c.sendReply(reply{Type: "error", ReqID: msg.ReqID, Error: "symbol and tf are required"})
		return
	}

	sub := subscription{Symbol: msg.Symbol, TF: msg.TF}
	if len(msg.Indicators) > 0 {
		sub.Indicators = make(map[string]bool, len(msg.Indicators))
		for _, name := range msg.Indicators {
			sub.Indicators[name] = true
		}
	}

	c.subMu.Lock()
	c.subs[subKey(sub.Symbol, sub.TF)] = sub
	c.subMu.Unlock()

	c.hub.log.Debug("client subscribed", "symbol", msg.Symbol, "tf", msg.TF, "indicators", msg.Indicators)
	c.sendReply(reply{Type: "subscribed", ReqID: msg.ReqID})
}

// handleReplay resends buffered envelopes so a client can fill a gap it
// detected in channel_seq.
func (c *Client) handleReplay(msg inbound) {
	to := msg.ToSeq
	if to <= 0 {
		to = c.hub.ChannelSeq(msg.Channel)
	}
	envs := c.hub.replay(msg.Channel, msg.FromSeq, to)
	for _, env := range envs {
		select {
		case c.send <- env:
		default:
		}
	}
	c.sendReply(reply{Type: "replayed", ReqID: msg.ReqID, Replayed: len(envs)})
}

// sendReply is only called from readPump, so send is still open.
func (c *Client) sendReply(r reply) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// matchesChannel reports whether this client wants envelopes on channel.
func (c *Client) matchesChannel(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	if len(c.subs) == 0 {
		return true
	}

	p := parseChannel(channel)
	if p == nil {
		return true
	}

	sub, ok := c.subs[subKey(p.symbol(), p.tf)]
	if !ok {
		return false
	}
	return sub.Indicators == nil || sub.Indicators[p.indName]
}
