// Package storage persists handshakes, derived contacts, and discovered
// application descriptors in a local SQLite database.
package storage
