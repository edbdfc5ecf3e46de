package metrics

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// RecordQueueDepth records the number of pending mailbox entries observed
// for an instance during a drain pass.
//
// The write is non-blocking; data is batched and sent asynchronously.
func (r *Recorder) RecordQueueDepth(instanceID string, depth int) {
	if !r.IsConnected() {
		return
	}

	point := write.NewPoint(
		"relay_queue",
		map[string]string{
			"instance": instanceID,
		},
		map[string]interface{}{
			"depth": depth,
		},
		time.Now(),
	)

	r.writeAPI.WritePoint(point)
}

// RecordCall records the latency and outcome of one completed call.
//
// Parameters:
//   - instanceID: Instance the call was relayed to
//   - kind: Command kind (e.g., "call_service")
//   - duration: Wall-clock time from submission to terminal state
//   - outcome: One of "ok", "timeout", "connection_lost", "error"
func (r *Recorder) RecordCall(instanceID, kind string, duration time.Duration, outcome string) {
	if !r.IsConnected() {
		return
	}

	point := write.NewPoint(
		"relay_calls",
		map[string]string{
			"instance": instanceID,
			"kind":     kind,
			"outcome":  outcome,
		},
		map[string]interface{}{
			"duration_ms": float64(duration) / float64(time.Millisecond),
		},
		time.Now(),
	)

	r.writeAPI.WritePoint(point)
}

// RecordConnection records an instance connection state transition.
func (r *Recorder) RecordConnection(instanceID string, connected bool) {
	if !r.IsConnected() {
		return
	}

	up := 0
	if connected {
		up = 1
	}

	point := write.NewPoint(
		"relay_connections",
		map[string]string{
			"instance": instanceID,
		},
		map[string]interface{}{
			"up": up,
		},
		time.Now(),
	)

	r.writeAPI.WritePoint(point)
}

// RecordReaperSweep records the number of expired entries deleted by one
// reaper sweep.
func (r *Recorder) RecordReaperSweep(deleted int64) {
	if !r.IsConnected() {
		return
	}

	point := write.NewPoint(
		"relay_reaper",
		map[string]string{},
		map[string]interface{}{
			"deleted": deleted,
		},
		time.Now(),
	)

	r.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the recorder helpers.
func (r *Recorder) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !r.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	r.writeAPI.WritePoint(point)
}
