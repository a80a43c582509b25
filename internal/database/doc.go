// Package database provides the SQLite run ledger for narchiver.
//
// The Ledger stores:
//   - One row per crawl run with its counters and final status
//   - One row per persisted page, keyed by run and tag URL
//
// Design decision: We use SQLite (via modernc.org/sqlite) because:
// 1. No external service - the ledger is a single file next to the archives
// 2. CGO-free implementation allows easy cross-compilation
// 3. WAL mode lets `narchiver runs` read while a crawl is writing
package database
