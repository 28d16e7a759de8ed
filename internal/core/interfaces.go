package core

import (
	"context"

	"github.com/dkeye/partyhub/internal/domain"
)

// Frame is a raw message payload.
type Frame []byte

// Endpoint abstracts a duplex message channel to one participant.
// Owned by the adapter; the adapter must Close() it.
// A failed TrySend is an implicit disconnect and the caller is expected
// to detach the participant.
type Endpoint interface {
	TrySend(Frame) error
	Receive(ctx context.Context) (Frame, error)
	Close()
}

// PublishResult reports delivery stats/backpressure to the session layer.
type PublishResult struct {
	SentTo  int
	Dropped []domain.ParticipantID
}

// ParticipantDTO is a read-only view for APIs (no transport fields).
type ParticipantDTO struct {
	ID   domain.ParticipantID `json:"id"`
	Name string               `json:"name"`
	Role domain.Role          `json:"role"`
}

// RoomService is the core-facing API of a room.
// It owns the participant set but never touches transport resources,
// except for sending frames through registered endpoints.
type RoomService interface {
	Code() domain.RoomCode

	// Authorize checks the attach rules without mutating the room. The HTTP
	// layer calls it before upgrading so rejected joins never cost a socket.
	Authorize(role domain.Role, token domain.JoinToken) error

	Attach(role domain.Role, meta domain.Profile, token domain.JoinToken, ep Endpoint) (domain.ParticipantID, error)
	Detach(id domain.ParticipantID)
	Relay(from domain.ParticipantID, data Frame) PublishResult

	ParticipantCount() int
	RosterSnapshot() []ParticipantDTO
	IsEmpty() bool
}
