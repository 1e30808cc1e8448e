// Package pipeline drives the two batch passes over a scan list.
//
// The export pass turns raw scan assets into labeled, subsampled point
// clouds: ingest, aggregate, don't-care filter, box class filter, sample,
// persist. The normals pass reads exported scenes back and writes oriented
// per-point normals.
//
// Responsibilities:
//   - per-scan orchestration and error classification (ok, skipped, empty,
//     failed)
//   - skipping scans whose artifacts already exist
//   - bounded concurrency across scans and context cancellation
//   - recording outcomes in an optional run ledger
//
// A failing scan never stops the batch. Only context cancellation does.
package pipeline
