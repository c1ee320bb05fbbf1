// Package client resolves and caches the backend client used to publish
// exposure reports. Resolution depends on the application configuration:
// a Manual config carries its descriptor, a Discovery config resolves it
// from the synchronized application list.
package client
