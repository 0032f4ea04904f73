// Package dispatch queues notifications and publishes them from a worker
// pool.
//
// Enqueue never blocks: a full queue rejects with ErrQueueFull. Workers are
// supervised and restarted if they exit unexpectedly. An optional token
// bucket limits publishes per second, and notifications carrying a dedup key
// are suppressed for a configurable window, optionally across restarts when
// a storage.Store is attached.
//
// Lifecycle changes are reported on the event bus as dispatch.* events.
package dispatch
