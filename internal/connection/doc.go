// Package connection implements the per-account WebSocket connector.
//
// Each account runs one Conn:
//   - Dials the exchange stream (optionally via the account's proxy),
//     mints an auth token and subscribes to the account's positions,
//     orders and trades channels
//   - Reads frames and dispatches each to the wired handler in arrival
//     order; malformed frames are logged and dropped
//   - Heartbeats every 30 s and force-closes the socket after 60 s
//     without a pong or a data frame
//   - Reconnects through the shared two-phase retry machine (60 s for
//     up to 5 attempts, then 300 s)
package connection
