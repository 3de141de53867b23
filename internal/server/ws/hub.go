// Package ws streams ledger events to WebSocket clients. Each event is sent
// as a protobuf Struct frame: binary by default, protojson text when the
// client connects with ?format=json. A client reconnecting with ?since=<seq>
// first receives the later events still held in the Redis ledger stream.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/castbet/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
	sendBufferSize = 256

	backfillPage    = 500
	backfillTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan *structpb.Struct
	json bool
	subs map[string]bool
	mu   sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to change its channels.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// delivery is one event routed to the channels it belongs to.
type delivery struct {
	channels []string
	frame    *structpb.Struct
}

// replayed is a backfilled frame for a single client.
type replayed struct {
	client *client
	frame  *structpb.Struct
}

// Config captures runtime metadata sent to clients on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// Hub fans ledger events out to connected clients. Events arrive either from
// the Redis signal bus, so every replica sees every commit, or directly
// through PublishEvent when the hub runs next to the sequencer.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan delivery
	replay     chan replayed
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
}

// NewHub creates a hub. bus may be nil.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan delivery, 256),
		replay:     make(chan replayed, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		mode:       mode,
		startedAt:  startedAt,
	}
}

// EventFrame converts ev into the frame sent to clients.
func EventFrame(ev domain.Event) (*structpb.Struct, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("ws: marshal event: %w", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("ws: decode event: %w", err)
	}
	return structpb.NewStruct(map[string]any{
		"type":    "event",
		"channel": domain.ChannelLedger,
		"payload": payload,
	})
}

func channelsFor(ev domain.Event) []string {
	chs := []string{domain.ChannelLedger}
	if ev.MarketID != "" {
		chs = append(chs, domain.MarketChannel(ev.MarketID))
	}
	return chs
}

// PublishEvent queues ev for every subscribed client. It never blocks; when
// the hub is saturated the event is dropped.
func (h *Hub) PublishEvent(_ context.Context, ev domain.Event) error {
	frame, err := EventFrame(ev)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- delivery{channels: channelsFor(ev), frame: frame}:
		return nil
	default:
		return fmt.Errorf("ws: broadcast queue full, dropped seq %d", ev.Seq)
	}
}

// Run starts the hub's main loop. It exits when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		go h.subscribeBus(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", h.clientCount()))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", h.clientCount()))

		case d := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.subscribedAny(d.channels) {
					continue
				}
				select {
				case c.send <- d.frame:
				default:
					h.logger.Warn("ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()

		case r := <-h.replay:
			h.mu.RLock()
			if h.clients[r.client] {
				select {
				case r.client.send <- r.frame:
				default:
					h.logger.Warn("ws: dropping backfill for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// backfill sends c every event after since that is still in the ledger
// stream and matches its channels. Live delivery has already started, so a
// client may see a seq twice around the handoff.
func (h *Hub) backfill(ctx context.Context, c *client, since uint64) {
	lastID := "0"
	sent := 0
	for {
		msgs, err := h.bus.StreamRead(ctx, domain.StreamLedger, lastID, backfillPage)
		if err != nil {
			h.logger.Warn("ws: backfill read failed", slog.String("error", err.Error()))
			return
		}
		for _, m := range msgs {
			lastID = m.ID
			var ev domain.Event
			if json.Unmarshal(m.Payload, &ev) != nil || ev.Seq <= since || !c.subscribedAny(channelsFor(ev)) {
				continue
			}
			frame, err := EventFrame(ev)
			if err != nil {
				continue
			}
			select {
			case h.replay <- replayed{client: c, frame: frame}:
				sent++
			case <-ctx.Done():
				return
			}
		}
		if len(msgs) < backfillPage {
			break
		}
	}
	h.logger.Debug("ws: backfill sent", slog.Uint64("since", since), slog.Int("events", sent))
}

// subscribeBus forwards ledger events published on the signal bus.
func (h *Hub) subscribeBus(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, domain.ChannelLedger)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to ledger channel", slog.String("error", err.Error()))
		return
	}
	h.logger.Info("ws: subscribed to channel", slog.String("channel", domain.ChannelLedger))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: ledger subscription closed")
				return
			}
			var ev domain.Event
			if err := json.Unmarshal(data, &ev); err != nil {
				h.logger.Warn("ws: undecodable ledger event", slog.String("error", err.Error()))
				continue
			}
			frame, err := EventFrame(ev)
			if err != nil {
				continue
			}
			select {
			case h.broadcast <- delivery{channels: channelsFor(ev), frame: frame}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection. Clients start
// on the ledger channel, or on the channels listed in ?channels=a,b.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	var since uint64
	raw := r.URL.Query().Get("since")
	resume := raw != ""
	if resume {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "since must be a ledger seq", http.StatusBadRequest)
			return
		}
		since = n
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan *structpb.Struct, sendBufferSize),
		json: r.URL.Query().Get("format") == "json",
		subs: make(map[string]bool),
	}
	if chs := r.URL.Query().Get("channels"); chs != "" {
		for _, ch := range strings.Split(chs, ",") {
			if ch = strings.TrimSpace(ch); ch != "" {
				c.subs[ch] = true
			}
		}
	} else {
		c.subs[domain.ChannelLedger] = true
	}

	h.register <- c
	c.sendStatus()

	go c.writePump()
	go c.readPump()

	if resume && h.bus != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), backfillTimeout)
			defer cancel()
			h.backfill(ctx, c, since)
		}()
	}
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump handles subscription requests until the connection closes.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

// sendStatus tells a new client which mode the server runs in.
func (c *client) sendStatus() {
	uptime := max(int64(time.Since(c.hub.startedAt).Seconds()), 0)
	frame, err := structpb.NewStruct(map[string]any{
		"type": "status",
		"payload": map[string]any{
			"mode":           c.hub.mode,
			"uptime_seconds": uptime,
		},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (c *client) subscribedAny(channels []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ch := range channels {
		if c.subs[ch] {
			return true
		}
	}
	return false
}

func (c *client) encode(frame *structpb.Struct) (int, []byte, error) {
	if c.json {
		b, err := protojson.Marshal(frame)
		return websocket.TextMessage, b, err
	}
	b, err := proto.Marshal(frame)
	return websocket.BinaryMessage, b, err
}

// writePump sends frames and keepalive pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			kind, data, err := c.encode(frame)
			if err != nil {
				c.hub.logger.Warn("ws: encode frame failed", slog.String("error", err.Error()))
				continue
			}
			if err := c.conn.WriteMessage(kind, data); err != nil {
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
