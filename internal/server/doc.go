// Package server exposes the aggregator's HTTP query surface: cached
// account state, per-channel WebSocket views, connection health and
// forced reconnects, the portfolio rollup, error history, sink-backed
// history queries, and the /ws broadcast endpoint.
//
// Responses are JSON with permissive CORS. Most routes sit behind a
// per-client-IP rate limiter; the reconnect and error-clear routes
// carry tighter fixed limits.
package server
