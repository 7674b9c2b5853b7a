package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yegors/airportguess/internal/assign"
	"github.com/yegors/airportguess/internal/guesser"
	"github.com/yegors/airportguess/internal/track"
	"github.com/yegors/airportguess/pkg/logger"
)

// Message types exchanged with clients
const (
	MessageTypeRunCompleted    = "run_completed"    // Server pushes the summary and guesses of a finished run
	MessageTypeSummaryRequest  = "summary_request"  // Client asks for the current session summary
	MessageTypeSummaryResponse = "summary_response" // Server answers a summary request
	MessageTypeFilterUpdate    = "filter_update"    // Client sends filter preferences
	MessageTypeError           = "error"
)

const (
	sendBufferSize      = 256
	broadcastBufferSize = 64
	writeWait           = 10 * time.Second
)

// Message represents a WebSocket message
type Message struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// ClientFilters selects which guesses a client receives with run_completed messages
type ClientFilters struct {
	Phases      map[string]bool `json:"phases"`       // phase -> enabled, missing = enabled
	MatchedOnly bool            `json:"matched_only"` // Skip guesses without an airport
}

// Matches reports whether g passes the filters. Only phases explicitly set to false are
// excluded.
func (f *ClientFilters) Matches(g assign.Guess) bool {
	if f == nil {
		return true
	}
	if f.MatchedOnly && !g.Matched() {
		return false
	}
	if enabled, exists := f.Phases[g.Phase.String()]; exists && !enabled {
		return false
	}
	return true
}

// SummarySource answers summary requests
type SummarySource interface {
	Summary() guesser.Summary
}

// Client represents a WebSocket client
type Client struct {
	conn    *websocket.Conn
	send    chan *Message
	server  *Server
	mu      sync.Mutex
	closed  bool
	filters *ClientFilters
}

// Server fans run events out to connected clients
type Server struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	upgrader   websocket.Upgrader
	source     SummarySource
	logger     *logger.Logger
	mu         sync.RWMutex
	done       chan struct{}
	doneOnce   sync.Once
}

// NewServer creates a new WebSocket server. source may be nil, in which case summary
// requests are answered with an error message.
func NewServer(source SummarySource, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	return &Server{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, broadcastBufferSize),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		source: source,
		logger: log.Named("web-socket"),
		done:   make(chan struct{}),
	}
}

// Run dispatches registrations and broadcasts until ctx is cancelled
func (s *Server) Run(ctx context.Context) {
	s.logger.Info("Starting WebSocket server")
	defer s.doneOnce.Do(func() { close(s.done) })

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			for client := range s.clients {
				s.removeLocked(client)
			}
			s.mu.Unlock()
			s.logger.Info("WebSocket server stopped")
			return

		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			clientCount := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client registered", logger.Int("client_count", clientCount))

		case client := <-s.unregister:
			s.mu.Lock()
			s.removeLocked(client)
			clientCount := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client unregistered", logger.Int("client_count", clientCount))

		case message := <-s.broadcast:
			s.mu.RLock()
			clientsToRemove := make([]*Client, 0)
			for client := range s.clients {
				if !client.SendMessage(s.messageFor(client, message)) {
					clientsToRemove = append(clientsToRemove, client)
				}
			}
			s.mu.RUnlock()

			if len(clientsToRemove) > 0 {
				s.mu.Lock()
				for _, client := range clientsToRemove {
					s.removeLocked(client)
				}
				s.mu.Unlock()
			}
		}
	}
}

// removeLocked drops client and closes its send channel. s.mu must be held.
func (s *Server) removeLocked(client *Client) {
	if _, ok := s.clients[client]; !ok {
		return
	}
	delete(s.clients, client)
	client.mu.Lock()
	if !client.closed {
		client.closed = true
		close(client.send)
	}
	client.mu.Unlock()
}

// ClientCount returns the number of registered clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// HandleConnection upgrades the request and registers the client
func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection",
			logger.Error(err),
			logger.String("remote_addr", r.RemoteAddr))
		return
	}

	s.logger.Debug("Upgraded connection to WebSocket",
		logger.String("remote_addr", r.RemoteAddr))

	client := &Client{
		conn:   conn,
		send:   make(chan *Message, sendBufferSize),
		server: s,
	}

	select {
	case s.register <- client:
	case <-s.done:
		conn.Close()
		return
	}

	go client.readPump()
	go client.writePump()
}

// Broadcast queues message for every client. The message is dropped when the queue is
// full so publishers never block on slow clients.
func (s *Server) Broadcast(message *Message) {
	select {
	case s.broadcast <- message:
	default:
		s.logger.Warn("Broadcast queue full, dropping message",
			logger.String("message_type", message.Type))
	}
}

// NotifyRun publishes a completed run to all clients
func (s *Server) NotifyRun(summary guesser.Summary, guesses []assign.Guess) {
	s.Broadcast(&Message{
		Type: MessageTypeRunCompleted,
		Data: map[string]any{
			"summary": summary,
			"guesses": guesses,
		},
	})
}

// messageFor applies the client's filters to run_completed messages
func (s *Server) messageFor(client *Client, message *Message) *Message {
	if message.Type != MessageTypeRunCompleted {
		return message
	}
	guesses, ok := message.Data["guesses"].([]assign.Guess)
	if !ok {
		return message
	}
	filters := client.Filters()
	if filters == nil {
		return message
	}

	kept := make([]assign.Guess, 0, len(guesses))
	for _, g := range guesses {
		if filters.Matches(g) {
			kept = append(kept, g)
		}
	}
	data := make(map[string]any, len(message.Data))
	for k, v := range message.Data {
		data[k] = v
	}
	data["guesses"] = kept
	return &Message{Type: message.Type, Data: data}
}

// handleMessage processes a message received from client
func (s *Server) handleMessage(client *Client, messageType string, data json.RawMessage) {
	switch messageType {
	case MessageTypeFilterUpdate:
		var filters ClientFilters
		if err := json.Unmarshal(data, &filters); err != nil {
			client.SendMessage(errorMessage("invalid filters: " + err.Error()))
			return
		}
		phases := make(map[string]bool, len(filters.Phases))
		for name, enabled := range filters.Phases {
			phase, err := track.ParsePhase(name)
			if err != nil {
				client.SendMessage(errorMessage(err.Error()))
				return
			}
			phases[phase.String()] = enabled
		}
		filters.Phases = phases
		client.UpdateFilters(&filters)

	case MessageTypeSummaryRequest:
		if s.source == nil {
			client.SendMessage(errorMessage("no session"))
			return
		}
		client.SendMessage(&Message{
			Type: MessageTypeSummaryResponse,
			Data: map[string]any{"summary": s.source.Summary()},
		})

	default:
		client.SendMessage(errorMessage("unknown message type: " + messageType))
	}
}

func errorMessage(msg string) *Message {
	return &Message{Type: MessageTypeError, Data: map[string]any{"error": msg}}
}

// readPump reads client messages until the connection fails
func (c *Client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-c.server.done:
		}
		c.conn.Close()
	}()

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.server.logger.Error("WebSocket read error", logger.Error(err))
			}
			return
		}

		var message struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			c.server.logger.Debug("Failed to parse WebSocket message", logger.Error(err))
			c.SendMessage(errorMessage("invalid message"))
			continue
		}

		c.server.handleMessage(c, message.Type, message.Data)
	}
}

// writePump writes queued messages to the connection
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(message); err != nil {
			c.server.logger.Debug("Failed to write message", logger.Error(err))
			return
		}
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// SendMessage queues message for this client without blocking. It returns false when the
// client is closed or its queue is full.
func (c *Client) SendMessage(message *Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// UpdateFilters replaces the client's active filters
func (c *Client) UpdateFilters(filters *ClientFilters) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters = filters
}

// Filters returns a copy of the client's current filters
func (c *Client) Filters() *ClientFilters {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.filters == nil {
		return nil
	}
	filtersCopy := &ClientFilters{
		Phases:      make(map[string]bool, len(c.filters.Phases)),
		MatchedOnly: c.filters.MatchedOnly,
	}
	for phase, enabled := range c.filters.Phases {
		filtersCopy.Phases[phase] = enabled
	}
	return filtersCopy
}
