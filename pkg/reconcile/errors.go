package reconcile

import "errors"

var (
	// ErrNoSession is returned when no user identity was resolved for the
	// request. Nothing is read or written.
	ErrNoSession = errors.New("no user session")

	// ErrForeignRecord is returned when any record in the batch carries a
	// user id other than the session user. The whole batch is rejected
	// before any write.
	ErrForeignRecord = errors.New("record belongs to another user")

	// ErrInvalidRecord is returned when a record fails schema validation.
	// The whole batch is rejected before any write.
	ErrInvalidRecord = errors.New("invalid record")
)
