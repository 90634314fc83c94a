package lcu

import (
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hoangvu12/bocchi-sub000/internal/events"
)

// EventType represents LCU WebSocket opcodes
type EventType int

const (
	EventTypeSubscribe   EventType = 5
	EventTypeUnsubscribe EventType = 6
	EventTypeEvent       EventType = 8
)

// PushEvent is a single push message delivered on a subscribed topic.
type PushEvent struct {
	Topic     string
	EventType string // "Create", "Update", "Delete"
	URI       string
	Data      json.RawMessage
}

// EventHandler receives push events for one topic.
type EventHandler func(ev PushEvent)

// Socket maintains the LCU WebSocket connection and dispatches
// push events to per-topic handlers. When the connection drops it
// keeps redialing until the client comes back or Disconnect is called.
type Socket struct {
	log *zap.Logger

	mu           sync.Mutex
	conn         *websocket.Conn
	credentials  *Credentials
	isConnected  bool
	reconnecting bool
	stopChan     chan struct{}

	handlersMu sync.RWMutex
	handlers   map[string]EventHandler

	errors    *events.Feed[error]
	recovered *events.Feed[struct{}]

	reconnectInterval time.Duration
}

// NewSocket creates a new LCU WebSocket client
func NewSocket(log *zap.Logger) *Socket {
	if log == nil {
		log = zap.NewNop()
	}
	return &Socket{
		log:               log,
		handlers:          make(map[string]EventHandler),
		errors:            events.NewFeed[error](),
		recovered:         events.NewFeed[struct{}](),
		stopChan:          make(chan struct{}),
		reconnectInterval: 2 * time.Second,
	}
}

// Errors emits one value per failed read or redial attempt.
func (s *Socket) Errors() *events.Feed[error] {
	return s.errors
}

// Recovered emits after a dropped connection has been reestablished
// and all topics resubscribed.
func (s *Socket) Recovered() *events.Feed[struct{}] {
	return s.recovered
}

// Subscribe registers a handler for a topic. If the socket is already
// connected the subscription frame is sent immediately; otherwise it is
// sent on the next Connect.
func (s *Socket) Subscribe(topic string, handler EventHandler) error {
	s.handlersMu.Lock()
	s.handlers[topic] = handler
	s.handlersMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isConnected {
		return nil
	}
	return s.conn.WriteJSON([]interface{}{EventTypeSubscribe, topic})
}

// Unsubscribe removes the handler for a topic
func (s *Socket) Unsubscribe(topic string) error {
	s.handlersMu.Lock()
	delete(s.handlers, topic)
	s.handlersMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isConnected {
		return nil
	}
	return s.conn.WriteJSON([]interface{}{EventTypeUnsubscribe, topic})
}

// Connect establishes the WebSocket connection to LCU and subscribes
// every registered topic
func (s *Socket) Connect(creds *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isConnected || s.reconnecting {
		return nil
	}

	conn, err := s.dial(creds)
	if err != nil {
		return err
	}

	s.conn = conn
	s.credentials = creds
	s.isConnected = true
	s.stopChan = make(chan struct{})

	if err := s.resubscribeLocked(); err != nil {
		conn.Close()
		s.conn = nil
		s.isConnected = false
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	go s.listen(conn, s.stopChan)

	return nil
}

func (s *Socket) dial(creds *Credentials) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true,
		},
		HandshakeTimeout: 5 * time.Second,
	}

	url := fmt.Sprintf("wss://127.0.0.1:%s", creds.Port)
	header := http.Header{}
	auth := base64.StdEncoding.EncodeToString([]byte("riot:" + creds.Password))
	header.Set("Authorization", "Basic "+auth)

	conn, _, err := dialer.Dial(url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to LCU WebSocket: %w", err)
	}
	return conn, nil
}

// resubscribeLocked sends a subscription frame for every registered
// topic. Caller must hold s.mu.
func (s *Socket) resubscribeLocked() error {
	s.handlersMu.RLock()
	topics := make([]string, 0, len(s.handlers))
	for topic := range s.handlers {
		topics = append(topics, topic)
	}
	s.handlersMu.RUnlock()

	for _, topic := range topics {
		if err := s.conn.WriteJSON([]interface{}{EventTypeSubscribe, topic}); err != nil {
			return err
		}
	}
	return nil
}

// listen reads messages until the connection fails or the socket is
// stopped. On failure it hands off to the reconnect loop.
func (s *Socket) listen(conn *websocket.Conn, stop chan struct{}) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			s.log.Warn("websocket read failed", zap.Error(err))
			s.errors.Emit(err)
			s.reconnect(stop)
			return
		}

		s.handleMessage(message)
	}
}

// reconnect redials until it succeeds or the socket is stopped. Every
// failed attempt is reported on the Errors feed so consumers can track
// how long the push stream has been down.
func (s *Socket) reconnect(stop chan struct{}) {
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.isConnected = false
	s.reconnecting = true
	creds := s.credentials
	interval := s.reconnectInterval
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
	}()

	if creds == nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			conn, err := s.dial(creds)
			if err != nil {
				s.errors.Emit(err)
				continue
			}

			s.mu.Lock()
			s.conn = conn
			s.isConnected = true
			err = s.resubscribeLocked()
			if err != nil {
				conn.Close()
				s.conn = nil
				s.isConnected = false
			}
			s.mu.Unlock()

			if err != nil {
				s.log.Warn("resubscribe after reconnect failed", zap.Error(err))
				s.errors.Emit(err)
				continue
			}

			s.log.Info("websocket reconnected")
			s.recovered.Emit(struct{}{})
			go s.listen(conn, stop)
			return
		}
	}
}

// handleMessage processes incoming WebSocket messages
func (s *Socket) handleMessage(data []byte) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		// LCU sends an empty frame right after connecting
		return
	}

	if len(raw) < 3 {
		return
	}

	var opcode EventType
	if err := json.Unmarshal(raw[0], &opcode); err != nil {
		return
	}
	if opcode != EventTypeEvent {
		return
	}

	var topic string
	if err := json.Unmarshal(raw[1], &topic); err != nil {
		return
	}

	s.handlersMu.RLock()
	handler := s.handlers[topic]
	s.handlersMu.RUnlock()
	if handler == nil {
		return
	}

	var payload struct {
		EventType string          `json:"eventType"`
		URI       string          `json:"uri"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw[2], &payload); err != nil {
		s.log.Debug("malformed push payload", zap.String("topic", topic), zap.Error(err))
		return
	}

	handler(PushEvent{
		Topic:     topic,
		EventType: payload.EventType,
		URI:       payload.URI,
		Data:      payload.Data,
	})
}

// Disconnect closes the WebSocket connection
func (s *Socket) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	close(s.stopChan)
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.isConnected = false
	s.reconnecting = false
	s.stopChan = make(chan struct{})
}

// IsConnected returns whether the WebSocket is connected
func (s *Socket) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isConnected
}
