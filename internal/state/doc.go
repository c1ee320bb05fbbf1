// Package state holds the mutable session record of the tracing SDK and
// fans out every mutation to a registered observer.
//
// All mutations go through a single-writer mutex; observer notifications
// and public completion callbacks are delivered on one serial delivery
// goroutine so callers never observe partial updates and never block on
// observer code.
package state
