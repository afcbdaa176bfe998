// Package hub fans frames out to the attached dashboard clients.
//
// A Hub holds the subscriber set; each subscriber is a Session wrapping
// one WebSocket connection with a write mutex and deadline. Broadcast
// serializes a frame once, writes it to every subscriber, and detaches
// the ones whose write failed.
package hub
