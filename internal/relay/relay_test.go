package relay

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-relay/internal/mailbox"
	_ "github.com/nerrad567/gray-logic-relay/migrations" // register embedded migrations
)

// testStore creates a migrated temp-file database and returns a store over it.
func testStore(t *testing.T) mailbox.Store {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	return mailbox.NewSQLiteStore(db.DB)
}

// testRelayConfig returns relay tunables shrunk for fast tests.
func testRelayConfig() config.RelayConfig {
	return config.RelayConfig{
		DrainInterval:         10 * time.Millisecond,
		DrainMaxBackoff:       50 * time.Millisecond,
		PollInterval:          10 * time.Millisecond,
		DefaultCallTimeout:    2 * time.Second,
		SubscribeTimeout:      2 * time.Second,
		RetentionWindow:       time.Hour,
		ReaperInterval:        time.Hour,
		ReconnectInitialDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:     100 * time.Millisecond,
	}
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")
}

func testInstance() config.InstanceConfig {
	return config.InstanceConfig{ID: "home", Name: "Home", Host: "localhost", Port: 8123}
}

// sentMessage records one message the worker pushed onto a fake connection.
type sentMessage struct {
	Token   int64
	Kind    string
	Payload json.RawMessage
}

// fakeConn is a scripted instance connection. An optional responder is
// invoked per send; tests can also push inbound messages directly and drop
// the connection to exercise failure paths.
type fakeConn struct {
	mu        sync.Mutex
	nextToken int64
	sent      []sentMessage

	inbound   chan *Inbound
	closed    chan struct{}
	closeOnce sync.Once

	// respond, when set, is called in its own goroutine after each send.
	respond func(c *fakeConn, token int64, kind string, payload json.RawMessage)
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan *Inbound, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Send(_ context.Context, kind string, payload json.RawMessage) (int64, error) {
	select {
	case <-c.closed:
		return 0, errors.New("connection closed")
	default:
	}

	c.mu.Lock()
	c.nextToken++
	token := c.nextToken
	c.sent = append(c.sent, sentMessage{Token: token, Kind: kind, Payload: payload})
	responder := c.respond
	c.mu.Unlock()

	if responder != nil {
		go responder(c, token, kind, payload)
	}
	return token, nil
}

func (c *fakeConn) Receive(ctx context.Context) (*Inbound, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, errors.New("connection closed")
	case msg := <-c.inbound:
		return msg, nil
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// push delivers an inbound message unless the connection is closed.
func (c *fakeConn) push(msg *Inbound) {
	select {
	case c.inbound <- msg:
	case <-c.closed:
	}
}

func (c *fakeConn) sentMessages() []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMessage(nil), c.sent...)
}

// fakeDialer hands out a scripted sequence of connections.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (d *fakeDialer) Dial(_ context.Context, _ config.InstanceConfig) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dials >= len(d.conns) {
		return nil, errors.New("no more connections scripted")
	}
	conn := d.conns[d.dials]
	d.dials++
	return conn, nil
}

// startWorker runs a worker against the dialer and stops it with the test.
func startWorker(t *testing.T, store mailbox.Store, dialer Dialer, cfg config.RelayConfig) *Worker {
	t.Helper()

	worker := NewWorker(testInstance(), store, dialer, cfg, testLogger(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return worker
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
