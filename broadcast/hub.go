package broadcast

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"chat-core/logger"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin checks belong to the fronting proxy
	},
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	clientBuffer   = 256
)

// Hub bridges bus topics to websocket connections. Clients send
// subscribe/unsubscribe frames; the hub fans matching bus events into
// each client's send buffer.
type Hub struct {
	bus *Bus
	log *logger.Logger

	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}
	done    chan struct{}
	once    sync.Once

	// Session hooks, fired with the client's user id when a socket
	// identifying itself opens or closes. Presence wiring lives here.
	onConnect    func(userID string)
	onDisconnect func(userID string)
}

// Client is one websocket connection and its topic subscriptions.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string

	mu   sync.Mutex
	subs map[string]*Subscription
}

// clientFrame is the control message a client sends to manage its
// subscriptions.
type clientFrame struct {
	Action string `json:"action"` // "subscribe" | "unsubscribe"
	Topic  string `json:"topic"`
}

// wireEvent is what the hub writes to a socket.
type wireEvent struct {
	Topic string      `json:"topic"`
	Type  string      `json:"type"`
	Data  interface{} `json:"data,omitempty"`
}

// NewHub creates a hub over the given bus.
func NewHub(bus *Bus, log *logger.Logger) *Hub {
	return &Hub{
		bus:        bus,
		log:        log,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]struct{}),
		done:       make(chan struct{}),
	}
}

// Run owns the client registry until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			c.dropSubscriptions()
		case <-h.done:
			return
		}
	}
}

// Stop terminates the hub loop.
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.done) })
}

// SetSessionHooks installs the connect/disconnect callbacks. Must be
// called before the hub starts serving.
func (h *Hub) SetSessionHooks(onConnect, onDisconnect func(userID string)) {
	h.onConnect = onConnect
	h.onDisconnect = onDisconnect
}

// ServeWS upgrades an HTTP request into a hub client. The optional
// "user" query parameter identifies the session for presence purposes;
// authentication happens upstream.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Errorw("websocket upgrade failed", "err", err)
		return
	}
	c := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, clientBuffer),
		userID: r.URL.Query().Get("user"),
		subs:   make(map[string]*Subscription),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	if c.userID != "" && h.onConnect != nil {
		h.onConnect(c.userID)
	}
	go c.writePump()
	go c.readPump()
}

func (c *Client) dropSubscriptions() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, sub := range c.subs {
		sub.Unsubscribe()
		delete(c.subs, topic)
	}
}

func (c *Client) subscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[topic]; ok {
		return
	}
	sub := c.hub.bus.Subscribe(topic)
	c.subs[topic] = sub
	go c.forward(topic, sub)
}

func (c *Client) unsubscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub, ok := c.subs[topic]; ok {
		sub.Unsubscribe()
		delete(c.subs, topic)
	}
}

// forward copies one subscription's events into the client send buffer.
func (c *Client) forward(topic string, sub *Subscription) {
	for ev := range sub.C {
		payload, err := json.Marshal(wireEvent{Topic: topic, Type: ev.Type, Data: ev.Data})
		if err != nil {
			c.hub.log.Errorw("failed to encode event", "topic", topic, "err", err)
			continue
		}
		select {
		case c.send <- payload:
		default:
			// Slow socket; the event is dropped for this client only.
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
			c.dropSubscriptions()
		}
		c.conn.Close()
		if c.userID != "" && c.hub.onDisconnect != nil {
			c.hub.onDisconnect(c.userID)
		}
	}()
	c.conn.SetReadLimit(maxMessageSize)
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
		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Topic == "" {
			continue
		}
		switch frame.Action {
		case "subscribe":
			c.subscribe(frame.Topic)
		case "unsubscribe":
			c.unsubscribe(frame.Topic)
		}
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
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
