// Package queue persists migration items in SQLite and exposes helpers for
// driving their lifecycle.
//
// The Store manages database connections, schema migrations, stats queries,
// the published checkpoint, run records, and persisted signer sessions so
// interrupted migrations resume without re-publishing. Items capture the
// normalized source content, uploaded media, the signed event id, and
// per-relay publish outcomes.
//
// Treat this package as the single source of truth for queue semantics; new
// statuses or columns get a migration under migrations/.
package queue
