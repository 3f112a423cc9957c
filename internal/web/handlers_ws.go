package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"nhooyr.io/websocket"

	"otbr-gateway/internal/gateway"
)

const wsReadLimit = 16 << 10

// WSHub fans gateway events out to WebSocket clients. Each client may
// restrict the event types it receives.
type WSHub struct {
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
	logger  *slog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan gateway.Event

	done     chan struct{}
	stopOnce sync.Once
}

type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	events map[string]bool // nil receives every event type
}

func (c *wsClient) wants(eventType string) bool {
	return c.events == nil || c.events[eventType]
}

// parseEventFilter reads a comma-separated list of event types. An empty
// list means every type.
func parseEventFilter(list string) map[string]bool {
	var events map[string]bool
	for _, typ := range strings.Split(list, ",") {
		typ = strings.TrimSpace(typ)
		if typ == "" {
			continue
		}
		if events == nil {
			events = make(map[string]bool)
		}
		events[typ] = true
	}
	return events
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]struct{}),
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan gateway.Event, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub event loop.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			// Close all remaining clients on shutdown
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client connected", "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client disconnected", "total", total)

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("ws marshal", "type", event.Type, "err", err)
				continue
			}
			h.mu.Lock()
			var slow []*wsClient
			for client := range h.clients {
				if !client.wants(event.Type) {
					continue
				}
				select {
				case client.send <- data:
				default:
					// Client too slow, mark for eviction
					slow = append(slow, client)
				}
			}
			for _, client := range slow {
				delete(h.clients, client)
				close(client.send)
				h.logger.Warn("ws client evicted (too slow)")
			}
			h.mu.Unlock()
		}
	}
}

// Stop signals the hub to shut down. Safe to call multiple times.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Broadcast queues event for every client subscribed to its type. It never
// blocks; events are dropped when the queue is full.
func (h *WSHub) Broadcast(event gateway.Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("ws broadcast channel full, dropping event", "type", event.Type)
	}
}

// sendTo queues data for one client. It reports false when the client is
// gone or its queue is full.
func (h *WSHub) sendTo(client *wsClient, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[client]; !ok {
		return false
	}
	select {
	case client.send <- data:
		return true
	default:
		h.logger.Warn("ws client queue full, dropping reply")
		return false
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}
	// If no allowedOrigins configured, nhooyr defaults to same-origin check.

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}

	conn.SetReadLimit(wsReadLimit)

	client := &wsClient{
		conn:   conn,
		send:   make(chan []byte, 64),
		events: parseEventFilter(r.URL.Query().Get("events")),
	}

	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.wsWritePump(client)
	s.wsReadPump(client)
}

func (s *Server) wsWritePump(client *wsClient) {
	for msg := range client.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := client.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	// Channel closed by hub; close connection.
	client.conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) wsReadPump(client *wsClient) {
	defer func() {
		select {
		case s.wsHub.unregister <- client:
		case <-s.wsHub.done:
			// Hub already shut down; close connection directly.
			client.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel read context when hub shuts down.
	go func() {
		select {
		case <-s.wsHub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		typ, msg, err := client.conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		reply := s.wsRequest(ctx, msg)
		if reply != nil {
			s.wsHub.sendTo(client, reply)
		}
	}
}

// wsRequest runs one {"id","method","params"} request and builds the reply
// frame. A missing id is replaced by a fresh one.
func (s *Server) wsRequest(ctx context.Context, msg []byte) []byte {
	if !gjson.ValidBytes(msg) {
		return wsFrame(uuid.NewString(), "", "error", `"invalid json"`)
	}
	req := gjson.ParseBytes(msg)
	id := req.Get("id").String()
	if id == "" {
		id = uuid.NewString()
	}
	method := req.Get("method").String()
	if method == "" {
		return wsFrame(id, method, "error", `"method is required"`)
	}

	var raw []byte
	switch params := req.Get("params"); params.Type {
	case gjson.String:
		raw = []byte(params.Str)
	case gjson.JSON:
		raw = []byte(params.Raw)
	}

	doc, err := s.gw.Call(ctx, method, raw)
	if errors.Is(err, gateway.ErrUnknownCommand) {
		return wsFrame(id, method, "error", `"unknown method"`)
	}
	if err != nil {
		s.logger.Error("ws call", "method", method, "err", err)
		return wsFrame(id, method, "error", `"internal server error"`)
	}
	result, err := doc.MarshalJSON()
	if err != nil {
		s.logger.Error("ws encode reply", "method", method, "err", err)
		return wsFrame(id, method, "error", `"internal server error"`)
	}
	return wsFrame(id, method, "result", string(result))
}

func wsFrame(id, method, key, raw string) []byte {
	out, _ := sjson.SetBytes([]byte(`{}`), "id", id)
	if method != "" {
		out, _ = sjson.SetBytes(out, "method", method)
	}
	out, _ = sjson.SetRawBytes(out, key, []byte(raw))
	return out
}
