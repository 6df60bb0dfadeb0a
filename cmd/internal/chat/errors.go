package chat

import "errors"

var (
	// ErrClosed is returned when an operation reaches a synchronizer whose
	// thread screen has been closed.
	ErrClosed = errors.New("chat: synchronizer closed")

	// ErrEmptyContent rejects a send with no content and no attachment
	// before any network call.
	ErrEmptyContent = errors.New("chat: empty content")

	// ErrMissingIdentity rejects operations before thread and user identity
	// are resolved.
	ErrMissingIdentity = errors.New("chat: missing thread or user identity")

	// ErrInvalidKind rejects a send with an unknown content kind.
	ErrInvalidKind = errors.New("chat: invalid content kind")
)
