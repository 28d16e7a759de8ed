package core

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/partyhub/internal/domain"
	"github.com/dkeye/partyhub/internal/protocol"
)

// participant pairs attach-time meta with its transport endpoint.
// The pc counter seeds every control frame sent to this endpoint.
type participant struct {
	id   domain.ParticipantID
	meta domain.Profile
	role domain.Role
	ep   Endpoint
	pc   uint32
}

// nextPC must be called with the room lock held.
func (p *participant) nextPC() uint32 {
	v := p.pc
	p.pc++
	return v
}

// delivery is a frame bound to a recipient, snapshotted under the lock and
// sent after release so a slow consumer never stalls the room.
type delivery struct {
	id    domain.ParticipantID
	ep    Endpoint
	frame Frame
}

// room is a threadsafe in-memory room: one optional host, N players.
// It closes endpoints it detaches so the owning session unblocks.
type room struct {
	code      domain.RoomCode
	token     domain.JoinToken
	createdAt time.Time

	seq            *atomic.Uint64
	allowReconnect bool

	mu         sync.RWMutex
	host       *participant
	players    map[domain.ParticipantID]*participant
	hostSeen   bool
	closed     bool
	emptySince time.Time
}

func newRoom(code domain.RoomCode, token domain.JoinToken, seq *atomic.Uint64, allowReconnect bool) *room {
	now := time.Now()
	return &room{
		code:           code,
		token:          token,
		createdAt:      now,
		seq:            seq,
		allowReconnect: allowReconnect,
		players:        make(map[domain.ParticipantID]*participant),
		emptySince:     now,
	}
}

func (r *room) Code() domain.RoomCode { return r.code }

// count must be called with the room lock held.
func (r *room) count() int {
	n := len(r.players)
	if r.host != nil {
		n++
	}
	return n
}

func (r *room) Authorize(role domain.Role, token domain.JoinToken) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return domain.ErrRoomClosed
	}
	if role == domain.RoleHost {
		if token != r.token {
			return domain.ErrUnauthorized
		}
		if r.host != nil {
			return domain.ErrRoleConflict
		}
	}
	return nil
}

func (r *room) Attach(role domain.Role, meta domain.Profile, token domain.JoinToken, ep Endpoint) (domain.ParticipantID, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, domain.ErrRoomClosed
	}
	reconnect := false
	if role == domain.RoleHost {
		if token != r.token {
			r.mu.Unlock()
			return 0, domain.ErrUnauthorized
		}
		if r.host != nil {
			r.mu.Unlock()
			return 0, domain.ErrRoleConflict
		}
		reconnect = r.allowReconnect && r.hostSeen
	}

	p := &participant{
		id:   domain.ParticipantID(r.seq.Add(1)),
		meta: meta,
		role: role,
		ep:   ep,
		pc:   protocol.PacketSeed,
	}

	secret := ""
	if role == domain.RoleHost {
		secret = string(r.token)
	}
	welcome, err := protocol.Encode(p.nextPC(), protocol.OpWelcome, protocol.Welcome{
		ID:        p.id,
		Secret:    secret,
		Reconnect: reconnect,
		DeviceID:  meta.Device,
	})
	if err != nil {
		r.mu.Unlock()
		return 0, fmt.Errorf("encode welcome: %w", err)
	}
	// The welcome goes out before the endpoint is registered for relay, so
	// it is guaranteed to be the first frame the participant sees. A failed
	// send means the connection is already dead: no partial attach.
	if err := ep.TrySend(welcome); err != nil {
		r.mu.Unlock()
		return 0, fmt.Errorf("send welcome: %w", err)
	}

	if role == domain.RoleHost {
		r.host = p
		r.hostSeen = true
	} else {
		r.players[p.id] = p
	}
	r.emptySince = time.Time{}

	var notify *delivery
	if role == domain.RolePlayer && r.host != nil {
		b, encErr := protocol.Encode(r.host.nextPC(), protocol.OpRoster, protocol.RosterChange{
			ID:    p.id,
			Name:  meta.Name,
			Count: r.count(),
		})
		if encErr != nil {
			log.Warn().Err(encErr).Str("module", "core.room").Str("code", string(r.code)).
				Uint64("host", uint64(r.host.id)).Msg("roster notice encode failed")
		} else {
			notify = &delivery{id: r.host.id, ep: r.host.ep, frame: b}
		}
	}
	r.mu.Unlock()

	if notify != nil {
		if err := notify.ep.TrySend(notify.frame); err != nil {
			log.Warn().Str("module", "core.room").Str("code", string(r.code)).
				Uint64("host", uint64(notify.id)).Msg("roster notice dropped")
		}
	}
	log.Info().Str("module", "core.room").Str("code", string(r.code)).
		Uint64("id", uint64(p.id)).Str("role", string(role)).
		Bool("reconnect", reconnect).Msg("participant attached")
	return p.id, nil
}

// Detach is idempotent: a second call for the same id is a no-op.
func (r *room) Detach(id domain.ParticipantID) {
	r.mu.Lock()
	var left *participant
	if r.host != nil && r.host.id == id {
		left = r.host
		r.host = nil
	} else if p, ok := r.players[id]; ok {
		left = p
		delete(r.players, id)
	}
	if left == nil {
		r.mu.Unlock()
		return
	}
	if r.count() == 0 {
		r.emptySince = time.Now()
	}
	notice := protocol.RosterChange{ID: left.id, Name: left.meta.Name, Count: r.count()}
	targets := make([]delivery, 0, r.count())
	if r.host != nil {
		if b, err := protocol.Encode(r.host.nextPC(), protocol.OpLeave, notice); err == nil {
			targets = append(targets, delivery{id: r.host.id, ep: r.host.ep, frame: b})
		}
	}
	for _, p := range r.players {
		if b, err := protocol.Encode(p.nextPC(), protocol.OpLeave, notice); err == nil {
			targets = append(targets, delivery{id: p.id, ep: p.ep, frame: b})
		}
	}
	r.mu.Unlock()

	left.ep.Close()
	for _, t := range targets {
		if err := t.ep.TrySend(t.frame); err != nil {
			log.Warn().Str("module", "core.room").Str("code", string(r.code)).
				Uint64("to", uint64(t.id)).Msg("departure notice dropped")
		}
	}
	log.Info().Str("module", "core.room").Str("code", string(r.code)).
		Uint64("id", uint64(id)).Msg("participant detached")
}

// Relay routes a frame per role: host frames fan out to every player,
// player frames go to the host only. Unroutable frames are dropped.
func (r *room) Relay(from domain.ParticipantID, data Frame) PublishResult {
	r.mu.RLock()
	fromHost := r.host != nil && r.host.id == from
	var targets []delivery
	switch {
	case fromHost:
		targets = make([]delivery, 0, len(r.players))
		for _, p := range r.players {
			targets = append(targets, delivery{id: p.id, ep: p.ep, frame: data})
		}
	default:
		if _, ok := r.players[from]; !ok {
			// Sender already detached; stale frame.
			r.mu.RUnlock()
			return PublishResult{}
		}
		if r.host != nil {
			targets = []delivery{{id: r.host.id, ep: r.host.ep, frame: data}}
		}
	}
	r.mu.RUnlock()

	res := PublishResult{}
	if len(targets) == 0 {
		if !fromHost {
			log.Warn().Str("module", "core.room").Str("code", string(r.code)).
				Uint64("from", uint64(from)).Msg("no host attached, frame dropped")
		}
		return res
	}
	for _, t := range targets {
		if err := t.ep.TrySend(t.frame); err != nil {
			res.Dropped = append(res.Dropped, t.id)
			continue
		}
		res.SentTo++
	}
	return res
}

func (r *room) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count()
}

func (r *room) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count() == 0
}

func (r *room) RosterSnapshot() []ParticipantDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ParticipantDTO, 0, r.count())
	if r.host != nil {
		out = append(out, ParticipantDTO{ID: r.host.id, Name: r.host.meta.Name, Role: r.host.role})
	}
	for _, p := range r.players {
		out = append(out, ParticipantDTO{ID: p.id, Name: p.meta.Name, Role: p.role})
	}
	return out
}

// expired reports whether the room has been empty past ttl.
func (r *room) expired(ttl time.Duration, now time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return true
	}
	return r.count() == 0 && !r.emptySince.IsZero() && now.Sub(r.emptySince) > ttl
}

// close marks the room dead and closes every endpoint, which unblocks the
// owning sessions; their own Detach calls then no-op.
func (r *room) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	eps := make([]Endpoint, 0, r.count())
	if r.host != nil {
		eps = append(eps, r.host.ep)
		r.host = nil
	}
	for _, p := range r.players {
		eps = append(eps, p.ep)
	}
	r.players = make(map[domain.ParticipantID]*participant)
	r.mu.Unlock()

	for _, ep := range eps {
		ep.Close()
	}
	log.Info().Str("module", "core.room").Str("code", string(r.code)).Msg("room closed")
}
