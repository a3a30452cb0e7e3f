// Package timeouts defines shared timeout constants used across the gateway.
// Centralizing these values prevents drift between process boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// UpstreamRequest caps one call from the gateway to a workspace API. Chat
// invocations are exempt; the serving endpoint sets its own ceiling.
const UpstreamRequest = 30 * time.Second
