// Package api provides the signed REST client for the Lighter exchange.
//
// Endpoints used:
//   - GET /api/v1/account             (account snapshot by index)
//   - GET /api/v1/accountActiveOrders (resting orders for one market)
//
// The client makes exactly one attempt per call. Retrying is owned by
// the poller's two-phase backoff machine, so a failed call surfaces
// immediately with a classifiable error.
package api
