// Package merge applies WebSocket frames to the shared cache.
//
// One Layer is the frame handler for every account connector. Each
// frame is forwarded to the broadcast hub first, then routed by its
// channel: orders and positions frames replace their cache entries,
// trades frames merge into the per-market trade history with identity
// dedup and bounded retention. Frames with no recognized channel but an
// account_index field land under ws_update:<id>.
package merge
