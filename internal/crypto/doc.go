// Package crypto manages the rotating secret-key chain and derives the
// publishable key for a self-reported onset date. The orchestrator treats
// the derived material as opaque.
package crypto
