package domain

import "errors"

var (
	// ErrInvalidRequest covers malformed join parameters; the connection is
	// never upgraded.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrRoomNotFound means the code is unknown or the room already expired.
	ErrRoomNotFound = errors.New("room not found")
	// ErrUnauthorized means a host attach presented the wrong join token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRoleConflict means the host slot is already occupied.
	ErrRoleConflict = errors.New("role conflict")
	// ErrRoomClosed means the room was reclaimed while the request was in flight.
	ErrRoomClosed = errors.New("room closed")
	// ErrCodeSpaceExhausted means code generation ran out of retry budget.
	ErrCodeSpaceExhausted = errors.New("room code space exhausted")
)
