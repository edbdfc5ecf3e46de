package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-relay/internal/relay"
)

// The recorder must remain a drop-in relay.Metrics implementation.
var _ relay.Metrics = (*Recorder)(nil)

func testConfig() config.MetricsConfig {
	return config.MetricsConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "test-token",
		Org:           "grayrelay",
		Bucket:        "relay_metrics",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

func TestConnectDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := Connect(cfg)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestCloseNil(t *testing.T) {
	rec := &Recorder{}
	if err := rec.Close(); err != nil {
		t.Errorf("Close() on zero recorder error = %v, want nil", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	rec := &Recorder{}
	if rec.IsConnected() {
		t.Error("IsConnected() = true on zero recorder, want false")
	}
}

func TestHealthCheckDisconnected(t *testing.T) {
	rec := &Recorder{}

	err := rec.HealthCheck(context.Background())
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

// All recorder methods must be safe no-ops while disconnected: the relay
// keeps calling them through reconnect windows.
func TestRecordDisconnectedIsNoOp(t *testing.T) {
	rec := &Recorder{}

	rec.RecordQueueDepth("home", 3)
	rec.RecordCall("home", "call_service", 120*time.Millisecond, "ok")
	rec.RecordConnection("home", true)
	rec.RecordReaperSweep(7)
	rec.WritePoint("custom", map[string]string{"k": "v"}, map[string]interface{}{"n": 1})
	rec.Flush()
}
