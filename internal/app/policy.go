package app

import (
	"github.com/dkeye/partyhub/internal/core"
	"github.com/dkeye/partyhub/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	DetachParticipant
)

// Policy decides what happens to a participant whose endpoint rejected a
// relayed frame.
type Policy interface {
	OnBackpressure(room core.RoomService, id domain.ParticipantID) BackpressureAction
}

// DetachPolicy treats a failed send as an implicit disconnect.
type DetachPolicy struct{}

func (DetachPolicy) OnBackpressure(core.RoomService, domain.ParticipantID) BackpressureAction {
	return DetachParticipant
}
