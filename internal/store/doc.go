// Package store is sendpilot's system-of-record.
//
// It persists sessions (as a fire-and-forget mirror of the in-memory
// registry), campaigns, contacts, and the delivery queue. Two backends:
//   - SQLite (modernc.org/sqlite, WAL) for normal operation
//   - an in-memory map store for tests
package store
