// Package mailbox provides the durable request/response relay table backing
// the relay service.
//
// Every outbound call and subscription becomes one mailbox entry. Callers
// insert entries and poll them; connection workers drain pending entries,
// forward them upstream, and write results, subscription acks, and collected
// events back into the same row. Because the table is the only shared state,
// callers and workers can live in different processes and survive restarts
// independently.
//
// Each entry moves through a small state machine:
//
//	pending -> processing -> done | failed | timeout
//	pending -> processing -> subscribed -> collecting -> done | failed | timeout
//
// All state changes are conditional single-row updates carrying the expected
// current state, so racing writers (a worker delivering a late result, a
// caller marking a timeout, the reaper sweeping) resolve deterministically:
// one wins, the rest see ErrStaleState.
package mailbox
