package reconcile

import "errors"

var (
	// ErrDuplicateCandidate is reported when an event matches more than one counterpart.
	ErrDuplicateCandidate = errors.New("duplicate candidate")
	// ErrRemoteWrite is reported when inserting or updating a remote event fails.
	ErrRemoteWrite = errors.New("remote write failed")
	// ErrMissingMatch marks a linked event whose counterpart is not known. It is not a failure.
	ErrMissingMatch = errors.New("no matching event")
)
