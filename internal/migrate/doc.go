// Package migrate orchestrates a publishing run: it snapshots the
// non-checkpointed queue, runs a fixed-size worker pool, and drives each
// item through download, sign, upload, publish, and checkpoint. Item
// failures are isolated; only a broken signing identity aborts the run.
package migrate
