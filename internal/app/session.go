// Package app holds per-connection control flow between the transport
// adapters and the room core.
package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/partyhub/internal/core"
	"github.com/dkeye/partyhub/internal/domain"
)

type State int

const (
	StateConnecting State = iota
	StateAttached
	StateClosed
)

// Session runs one connection's lifetime: attach, receive loop, detach.
// Detach happens exactly once, on any exit path, even if attach never
// completed.
type Session struct {
	room   core.RoomService
	ep     core.Endpoint
	role   domain.Role
	meta   domain.Profile
	token  domain.JoinToken
	policy Policy

	mu    sync.Mutex
	state State
	id    domain.ParticipantID
	once  sync.Once
}

func NewSession(room core.RoomService, ep core.Endpoint, role domain.Role, meta domain.Profile, token domain.JoinToken, policy Policy) *Session {
	if policy == nil {
		policy = DetachPolicy{}
	}
	return &Session{
		room:   room,
		ep:     ep,
		role:   role,
		meta:   meta,
		token:  token,
		policy: policy,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run drives the state machine until the connection dies or ctx is canceled.
// Panics are recovered here so one misbehaving connection cannot take down
// the process.
func (s *Session) Run(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("module", "app.session").Str("room", string(s.room.Code())).
				Any("panic", rec).Msg("session panicked")
		}
		s.Close()
	}()

	id, err := s.room.Attach(s.role, s.meta, s.token, s.ep)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.session").Str("room", string(s.room.Code())).
			Str("role", string(s.role)).Msg("attach failed")
		return
	}
	s.mu.Lock()
	if s.state == StateClosed {
		// Close raced the attach; it found nothing to detach, so the
		// cleanup falls to us. Closed is terminal, never downgrade it.
		s.mu.Unlock()
		s.room.Detach(id)
		return
	}
	s.id = id
	s.state = StateAttached
	s.mu.Unlock()

	for {
		frame, err := s.ep.Receive(ctx)
		if err != nil {
			log.Debug().Err(err).Str("module", "app.session").Str("room", string(s.room.Code())).
				Uint64("id", uint64(id)).Msg("receive loop done")
			return
		}
		res := s.room.Relay(id, frame)
		for _, dropped := range res.Dropped {
			switch s.policy.OnBackpressure(s.room, dropped) {
			case DetachParticipant:
				s.room.Detach(dropped)
			case DropFrame, NoAction:
			}
		}
	}
}

// Close transitions to the terminal state: detach once, release the endpoint.
func (s *Session) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		id := s.id
		attached := s.state == StateAttached
		s.state = StateClosed
		s.mu.Unlock()
		if attached {
			s.room.Detach(id)
		}
		s.ep.Close()
	})
}
