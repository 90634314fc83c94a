// Package bridge re-publishes engine events over an embedded NATS
// server so external tools can consume them without linking the engine.
package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subject carries every envelope the bridge publishes.
const Subject = "bocchi.events"

const readyTimeout = 5 * time.Second

// Envelope wraps one engine event for the wire.
type Envelope struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Bridge runs the embedded server and the publishing connection.
type Bridge struct {
	log    *zap.Logger
	server *server.Server
	nc     *nats.Conn
}

// Start brings up an embedded NATS server on 127.0.0.1 and connects a
// publishing client to it. Port -1 picks a random free port.
func Start(port int, log *zap.Logger) (*Bridge, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ns, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded nats server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded nats server did not become ready")
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to embedded nats server: %w", err)
	}

	log.Info("event bridge listening", zap.String("url", ns.ClientURL()))
	return &Bridge{log: log, server: ns, nc: nc}, nil
}

// ClientURL returns the address external consumers connect to.
func (b *Bridge) ClientURL() string {
	return b.server.ClientURL()
}

// Publish sends one event envelope. A payload that fails to marshal is
// dropped with a log line; the engine never blocks on the bridge.
func (b *Bridge) Publish(eventType string, payload any) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			b.log.Warn("failed to marshal bridge payload", zap.String("type", eventType), zap.Error(err))
			return
		}
		raw = data
	}
	data, err := json.Marshal(Envelope{Type: eventType, Timestamp: time.Now().UTC(), Payload: raw})
	if err != nil {
		b.log.Warn("failed to marshal bridge envelope", zap.String("type", eventType), zap.Error(err))
		return
	}
	if err := b.nc.Publish(Subject, data); err != nil {
		b.log.Warn("bridge publish failed", zap.String("type", eventType), zap.Error(err))
	}
}

// Stop flushes pending publishes and shuts the server down.
func (b *Bridge) Stop() {
	if b.nc != nil {
		b.nc.Flush()
		b.nc.Close()
	}
	if b.server != nil {
		b.server.Shutdown()
		b.server.WaitForShutdown()
	}
	b.log.Info("event bridge stopped")
}
