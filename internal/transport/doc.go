// Package transport binds the coordinator's domain packages to an
// HTTP/JSON RPC surface, with a WebSocket upgrade for StreamHeartbeats.
package transport
