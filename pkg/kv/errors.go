package kv

import "errors"

// Sentinel errors returned at every layer boundary. Backend key-not-found
// is deliberately not an error value callers need to branch on in the
// common path: Read-style methods report "absent" as ok=false (or an empty
// result) with a nil error, and only genuine failures (I/O, corruption,
// misuse) are reported through error.
var (
	// ErrNotFound names the "key absent" condition. No function in this
	// module returns it: every Read/ReadMulti/ReadAll reports absence
	// through its ok result or an empty result with a nil error.
	ErrNotFound = errors.New("hierdb: key not found")

	// ErrAlreadyCommitted is returned by Commit on a node that has
	// already committed, and by any write attempted against a node that
	// has committed or been cancelled.
	ErrAlreadyCommitted = errors.New("hierdb: transaction already committed")

	// ErrUncommittedChildren is returned by Commit when the node has
	// outstanding uncommitted children.
	ErrUncommittedChildren = errors.New("hierdb: transaction has uncommitted children")

	// ErrConflict is returned by Commit when a committed sibling already
	// touched a key this transaction also touched.
	ErrConflict = errors.New("hierdb: conflicting commit from a sibling transaction")

	// ErrClosed is returned by a cache layer's CommitTransaction when no
	// transaction is open. BoltStore does not return it after Close.
	ErrClosed = errors.New("hierdb: store is closed")

	// ErrWrongCardinality names an operation used against an index of
	// the wrong cardinality. No function in this module returns it: the
	// engine code treats Append on a unique index as an alias for Set.
	ErrWrongCardinality = errors.New("hierdb: operation not valid for this index's cardinality")
)
