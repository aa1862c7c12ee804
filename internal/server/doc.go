// Package server hosts the Fiber HTTP service and the glue between incoming
// requests and the caching engine: request IDs, origin URL resolution,
// strategy classification and the shared origin HTTP client.
// Diagnostics paths under /-/ bypass resolution so admin routes registered
// after NewApp can serve them.
package server
