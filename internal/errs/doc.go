// Package errs defines the shared error taxonomy for the tracing SDK.
package errs
