// Package store provides persistence for coven-notifier.
//
// # Architecture
//
// Store combines two narrow interfaces:
//
//   - SignInStore: per-conversation SignInState. A conversation that has never
//     been seen reads as ErrNotFound, which callers treat as unauthenticated.
//   - NotificationLedger: an append-only record of proactive notification
//     attempts, listed most recent first.
//
// Two implementations exist:
//
//   - MemoryStore: process memory only, the default.
//   - SQLiteStore: modernc.org/sqlite (pure Go, no cgo) with WAL enabled.
//
// # Data Models
//
//   - SignInState: status (unauthenticated, challenged, authenticated), the
//     delegated token once authenticated, and the outstanding challenge id.
//   - NotificationRecord: target, tenant, outcome (delivered, not_installed,
//     failed), conversation id, and error text.
//
// # Concurrency
//
// Both implementations are safe for concurrent use. Neither serializes
// read-modify-write sequences on one conversation; the messaging service
// delivers one turn at a time per conversation.
//
// # Schema
//
// SQLiteStore creates its tables on open with CREATE TABLE IF NOT EXISTS.
package store
