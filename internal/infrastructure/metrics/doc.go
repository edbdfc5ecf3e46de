// Package metrics provides InfluxDB-backed measurement recording for
// Gray Logic Relay.
//
// It wraps the official influxdb-client-go v2 library with the relay's
// patterns for connection management, non-blocking batched writes, and
// health monitoring.
//
// # Purpose
//
// The recorder captures relay operational telemetry:
//   - Mailbox queue depth per instance
//   - Call latency and outcome per instance
//   - Instance connection up/down transitions
//   - Reaper sweep deletion counts
//
// # Usage
//
//	rec, err := metrics.Connect(cfg.Metrics)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rec.Close()
//
//	rec.RecordCall("home", "call_service", 420*time.Millisecond, "ok")
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered via a
// callback. Connection and health check errors are returned directly.
package metrics
