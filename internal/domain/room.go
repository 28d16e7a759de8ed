// Package domain contains entities without logic, just meta-data.
package domain

type (
	// RoomCode is the short human-typable identifier of an active room.
	RoomCode string
	// JoinToken is the secret required to attach to a room as host.
	JoinToken string
)

// ParticipantID is process-unique and never reused within a process lifetime.
type ParticipantID uint64
