// Package outbox implements the transactional outbox half of the event
// pipeline.
//
// Flow:
//  1. Inside a business transaction, a saga store appends an Entry next to
//     the state change it announces. Both commit or neither does.
//  2. A Relay polls a Source for unpublished records, sends each one to the
//     broker, and marks it published in a separate idempotent update.
//  3. A send failure leaves the record unpublished for the next pass; after
//     MaxAttempts the record is parked dead instead of retried forever.
//
// The relay crashing between a confirmed send and the published update means
// a record can be sent twice. That is the at-least-once contract; consumers
// absorb duplicates through the saga status guard.
package outbox
