// Package projections drives read models and event handlers from the chain
// event log. Each subscriber keeps a checkpoint of the last global position
// it processed; a batch of state writes and the checkpoint that covers it
// commit in one transaction. A PostgreSQL advisory lock per subscriber keeps
// a single writer across processes, and a subscriber that keeps failing is
// parked in the dead_letter status until it is rebuilt or resumed.
package projections
