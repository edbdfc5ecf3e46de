// Package relay moves messages between synchronous callers and long-lived
// instance connections through the durable mailbox.
//
// Three actors share the mailbox and nothing else:
//
//   - Worker: one per instance, holds the sole connection, drains pending
//     entries onto it, and writes every inbound response, acknowledgment,
//     and event back into the matching row.
//   - Caller: lives inside request handlers, inserts entries and polls them
//     under a hard wall-clock deadline.
//   - Reaper: deletes entries past the retention window on a fixed cadence.
//
// Because all coordination happens through conditional row updates in the
// store, a caller giving up, a worker delivering late, and the reaper
// sweeping can race freely: exactly one writer wins each transition and the
// losers drop their update.
//
// Conn and Dialer are the package's only contract with the external
// service; the framing lives in hubclient and tests supply scripted fakes.
package relay
