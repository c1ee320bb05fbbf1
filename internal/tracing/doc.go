// Package tracing exposes the session orchestrator: the single façade
// composing the session state, client cache, sync coordinator, exposure
// reporter, and the permission and match bridges. External callers see
// only the Tracer; radio and matching collaborators push events through
// the bridges it hands out.
package tracing
