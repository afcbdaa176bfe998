// Package sink persists account state to Postgres, best-effort.
//
// The sink is opt-in: without the SINK_DB_USER/SINK_DB_PASSWORD pair,
// or when the database cannot be reached at startup, it stays disabled
// and the rest of the service runs unchanged.
//
// Producers hand documents to Save* methods, which transform them into
// rows and push them onto per-table growable buffers. One writer per
// table drains its buffer and inserts with pgx.Batch, flushing on batch
// size or a ticker. Trade inserts dedup on (account_index, trade_id)
// with ON CONFLICT DO NOTHING, so delivery is at-least-once and the
// table stays exactly-once.
package sink
