// Package supervisor builds and runs the per-account machinery.
//
// For each configured account it constructs the token minter, the REST
// client and poller, and the WebSocket connector, wires every connector
// into the shared merge layer, and owns start and stop ordering. It is
// also the query surface's window into connection health and forced
// reconnects.
package supervisor
