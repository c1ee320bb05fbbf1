// Package bridge maps radio-permission and matching-engine events into
// session-state transitions.
package bridge
