// Package defaults provides the persisted-defaults port: a small durable
// key-value store for the session fields that must survive restarts.
// It is injected at orchestrator construction rather than accessed through
// a process-wide singleton.
package defaults
