// Package poller implements the per-account REST connector.
//
// Each account runs one Poller:
//   - Polls the account snapshot every poll interval and writes it to
//     the cache under "account:<index>"
//   - Fans out active-order fetches per position market in parallel and
//     keeps the concatenated list for the next snapshot
//   - Gates outbound attempts through the shared two-phase retry state
//     so a failing upstream is probed at 60 s, then 300 s
//   - Hands periodic snapshots to the durable sink, best-effort
//
// A poller never retries inside a tick. One tick, at most one snapshot
// request plus its order fan-out.
package poller
