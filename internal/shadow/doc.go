// Package shadow holds the immutable shadow tree of each surface and
// computes the view mutations that turn one committed tree into the next.
//
// A Tree is committed by whoever runs layout, on any goroutine. Each commit
// produces a Transaction stamped with a per-surface sequence number; the
// mounting manager applies transactions in sequence order on the main loop.
//
// Mutation order inside a transaction:
//
//	Remove  (per parent, highest index first)
//	Delete
//	Create
//	Update
//	Insert  (per parent, ascending index)
//
// so every index refers to the parent's children as they are at that point.
package shadow
