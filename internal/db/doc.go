// Package db owns the run ledger: a SQLite database recording every batch
// run and the outcome of each scan it touched.
//
// Responsibilities:
//   - open the database with the connection pragmas the ledger relies on
//   - apply the embedded schema migrations (golang-migrate, iofs source)
//   - persist runs and per-scan results, retrying while SQLite is busy
//
// The ledger is observational. Artifact presence on disk remains the only
// signal the pipeline uses to decide whether a scan is already done.
//
// Dependency rule: db imports only monitoring; pipeline code depends on the
// Ledger interface it declares, not on this package.
package db
