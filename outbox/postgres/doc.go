// Package postgres provides the PostgreSQL outbox store.
//
// The source uses:
//   - READ COMMITTED isolation
//   - SELECT ... FOR UPDATE SKIP LOCKED, so concurrent relays never pick the
//     same records
//   - ORDER BY created_at, id (oldest first, bounding staleness)
//   - LIMIT for batching
//
// Published rows are never deleted by the relay; retention is a separate
// sweep over published_at outside the delivery contract.
package postgres
