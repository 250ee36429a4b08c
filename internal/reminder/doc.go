// Package reminder is the scheduling and deduplication engine.
//
// A tick fetches candidate sessions, classifies them against the
// pre-start and post-end windows, expands each due session into
// addressed recipients and delivers at most once per
// (session, recipient, type) key. Outcomes are kept in a Ledger, which
// also bounds retries of failed keys. A Sweeper evicts old sent records
// and Trigger re-enters the same path for a single session on demand.
package reminder
