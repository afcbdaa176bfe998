// Package model defines shared data types used across the Lighter aggregator.
//
// Conventions:
//   - Upstream JSON payloads are preserved verbatim as Doc (map[string]any)
//   - Timestamps: float64 Unix seconds, matching the exchange wire format
//   - Account indexes: int64
package model
