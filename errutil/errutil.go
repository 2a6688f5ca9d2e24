// Package errutil centralizes the sentinel errors shared by the migration
// and replicated-write paths. The sentinels are built with ewrap; call
// sites that add context wrap them with fmt.Errorf and %w, so a caller can
// recover the sentinel with errors.Is.
package errutil

import "github.com/hyp3rd/ewrap"

var (
	// ErrClusterKeyMismatch is returned when a message's cluster key does
	// not match the local cluster key at the time it would be applied.
	ErrClusterKeyMismatch = ewrap.New("cluster key mismatch")

	// ErrQueueFull is returned by a fabric send when the destination's
	// lane is backpressured. Recoverable: callers sleep and retry.
	ErrQueueFull = ewrap.New("fabric queue full")

	// ErrNoNode is returned by a fabric send when the destination is not
	// known to the transport. Not recoverable locally.
	ErrNoNode = ewrap.New("no such node")

	// ErrOutOfSpace is returned by a storage collaborator when a write
	// would exceed its configured capacity.
	ErrOutOfSpace = ewrap.New("out of space")

	// ErrForbidden is returned when a write falls under a pending
	// truncate-before-LUT and must be rejected.
	ErrForbidden = ewrap.New("forbidden by truncate")

	// ErrNotFound is returned when an operation targets a digest absent
	// from the local tree.
	ErrNotFound = ewrap.New("not found")

	// ErrPickleMalformed is returned by the codec when a buffer cannot be
	// parsed as a well-formed pickle.
	ErrPickleMalformed = ewrap.New("pickle malformed")

	// ErrTimeout is returned when a replicated-write deadline elapses
	// before every destination has acked.
	ErrTimeout = ewrap.New("replicated write timed out")

	// ErrDuplicateAck is returned, informationally, when an ack arrives
	// for a destination bit already set.
	ErrDuplicateAck = ewrap.New("duplicate ack")

	// ErrSessionAborted is returned once an emigration or immigration
	// session has been marked aborted and should be discarded by callers
	// still holding a reference to it.
	ErrSessionAborted = ewrap.New("session aborted")

	// ErrInvalidState is returned when an operation is attempted from a
	// partition or session state that does not permit it.
	ErrInvalidState = ewrap.New("invalid state for operation")
)
