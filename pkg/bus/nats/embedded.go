package nats

import (
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServer wraps an in-process NATS server with JetStream enabled,
// so a single binary can host the distributed bus without an external broker.
type EmbeddedServer struct {
	server   *server.Server
	url      string
	storeDir string
}

// StartEmbeddedServer starts an embedded NATS server on a random port.
func StartEmbeddedServer() (*EmbeddedServer, error) {
	// An empty StoreDir would fall back to a path shared by every server
	// on the machine, leaking JetStream state between instances.
	storeDir, err := os.MkdirTemp("", "nats-embedded-")
	if err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1, // random port
		JetStream: true,
		StoreDir:  storeDir,
	}

	s, err := server.NewServer(opts)
	if err != nil {
		os.RemoveAll(storeDir)
		return nil, fmt.Errorf("creating embedded server: %w", err)
	}

	go s.Start()

	if !s.ReadyForConnections(5 * time.Second) {
		s.Shutdown()
		os.RemoveAll(storeDir)
		return nil, fmt.Errorf("embedded server not ready")
	}

	return &EmbeddedServer{
		server:   s,
		url:      s.ClientURL(),
		storeDir: storeDir,
	}, nil
}

// URL returns the connection URL for the embedded server.
func (e *EmbeddedServer) URL() string {
	return e.url
}

// Shutdown stops the embedded server and waits for it to exit.
func (e *EmbeddedServer) Shutdown() {
	if e.server != nil {
		e.server.Shutdown()
		e.server.WaitForShutdown()
	}
	if e.storeDir != "" {
		os.RemoveAll(e.storeDir)
	}
}

// NewEmbeddedEventBus starts an embedded server and connects an event bus
// to it. The caller owns both and shuts the bus down before the server.
func NewEmbeddedEventBus(opts ...Option) (*EventBus, *EmbeddedServer, error) {
	srv, err := StartEmbeddedServer()
	if err != nil {
		return nil, nil, fmt.Errorf("starting embedded server: %w", err)
	}

	config := DefaultConfig()
	config.URL = srv.URL()

	bus, err := NewEventBus(config, opts...)
	if err != nil {
		srv.Shutdown()
		return nil, nil, fmt.Errorf("creating event bus: %w", err)
	}

	return bus, srv, nil
}

// TestConfig returns a config with short retention, suitable for tests
// against an embedded server.
func TestConfig(serverURL string) Config {
	return Config{
		URL:            serverURL,
		StreamName:     "TEST_EVENTS",
		StreamSubjects: []string{"events.>"},
		MaxAge:         time.Minute,
		MaxBytes:       10 * 1024 * 1024, // 10 MB
	}
}
