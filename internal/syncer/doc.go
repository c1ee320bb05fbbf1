// Package syncer drives one synchronization cycle: contact regeneration,
// counter refresh, client resolution, and the known-cases sync against
// the backend.
package syncer
