// Package store provides SQLite-backed durable storage for the game state.
//
// The store holds every record set of the game core:
//   - Territories, cells, cell transfers (audit rows), technologies, blocs
//   - Ledger balances and the ledger entry journal (keyed by operation id)
//   - Wars and their target cells
//   - Votes, ballots, laws, legal history, eras
//   - Market listings
//   - Tick summaries and append-only ranking rows
//   - Events
//
// # Units of Work
//
// All mutations run inside Store.WithTx. The callback receives a *Queries bound
// to the transaction; returning an error rolls back every statement, so a
// multi-step mutation (debit+credit, transfer+audit row, tally+ballot,
// refund+status) is either fully applied or not visible at all.
//
// Conditional updates (UPDATE ... WHERE status = ?, WHERE balance >= ?) report
// whether they matched so engines can detect lost races without a separate read.
//
// # Database Configuration
//
// Connection parameters are set through the DSN so they apply to every pooled
// connection:
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - _txlock=immediate: Writers take the write lock at BEGIN, so a transaction
//     never fails late with SQLITE_BUSY after reading
package store
