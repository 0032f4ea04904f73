// Package storage persists what the daemon needs across restarts:
//   - a journal of handler deliveries (one row per handler invocation)
//   - dispatch dedup windows
//
// Two drivers exist: "file" (JSON lines plus a compacted snapshot) and
// "sqlite" (modernc.org/sqlite, no cgo).
package storage
