// Package database provides the SQLite persistence layer for Gray Logic Relay.
//
// It wraps database/sql with:
//   - Connection setup (WAL mode, busy timeout, foreign keys)
//   - Embedded SQL migrations with per-migration transactions
//   - Health checks for readiness probes
//
// The database holds the relay mailbox: the durable queue of outstanding and
// recently completed requests to external hub instances. SQLite's WAL mode is
// what allows many caller processes to poll their entries while a connection
// worker writes state transitions.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: "./data/grayrelay.db", WALMode: true})
//	if err != nil { ... }
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil { ... }
package database
