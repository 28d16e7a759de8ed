package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/partyhub/internal/domain"
)

// codeAlphabet skips ambiguous glyphs (I/O/0/1) so codes stay human-typable.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	tokenBytes     = 12
	createAttempts = 16
)

type RegistryConfig struct {
	CodeLength         int
	IdleTTL            time.Duration
	SweepInterval      time.Duration
	AllowHostReconnect bool
}

// Registry owns every room instance exclusively; rooms never outlive their
// registry entry. It also owns the process-wide participant id sequence.
type Registry struct {
	cfg RegistryConfig
	seq atomic.Uint64

	mu    sync.RWMutex
	rooms map[domain.RoomCode]*room
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = 4
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 60 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 15 * time.Second
	}
	return &Registry{
		cfg:   cfg,
		rooms: make(map[domain.RoomCode]*room),
	}
}

// Create allocates an empty room under a fresh code. Collisions are retried
// under a bounded budget; concurrent creates never race onto the same code
// because insertion happens under the write lock.
func (g *Registry) Create() (domain.RoomCode, domain.JoinToken, error) {
	token, err := newToken()
	if err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for attempt := 0; attempt < createAttempts; attempt++ {
		code, err := newCode(g.cfg.CodeLength)
		if err != nil {
			return "", "", fmt.Errorf("generate code: %w", err)
		}
		if _, taken := g.rooms[code]; taken {
			continue
		}
		g.rooms[code] = newRoom(code, token, &g.seq, g.cfg.AllowHostReconnect)
		log.Info().Str("module", "core.registry").Str("code", string(code)).Msg("room created")
		return code, token, nil
	}
	log.Error().Str("module", "core.registry").Int("rooms", len(g.rooms)).Msg("code space saturated")
	return "", "", domain.ErrCodeSpaceExhausted
}

// Get returns the room for a code, or false if unknown or already reclaimed.
func (g *Registry) Get(code domain.RoomCode) (RoomService, bool) {
	g.mu.RLock()
	r, ok := g.rooms[code]
	g.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return r, true
}

// Close removes a room explicitly, detaching everyone still connected.
func (g *Registry) Close(code domain.RoomCode) {
	g.mu.Lock()
	r, ok := g.rooms[code]
	delete(g.rooms, code)
	g.mu.Unlock()
	if ok {
		r.close()
	}
}

func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// Run drives the sweep loop until ctx is canceled, then closes every room.
func (g *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.Sweep(time.Now())
		case <-ctx.Done():
			g.Shutdown()
			return
		}
	}
}

// Sweep removes rooms that have been empty past the idle TTL. Expiry is
// checked under each room's own lock, so attach/detach on unrelated rooms is
// never blocked.
func (g *Registry) Sweep(now time.Time) {
	g.mu.RLock()
	var stale []*room
	for _, r := range g.rooms {
		if r.expired(g.cfg.IdleTTL, now) {
			stale = append(stale, r)
		}
	}
	g.mu.RUnlock()

	for _, r := range stale {
		g.mu.Lock()
		// Re-check: a participant may have attached since the scan.
		if !r.expired(g.cfg.IdleTTL, now) {
			g.mu.Unlock()
			continue
		}
		delete(g.rooms, r.code)
		g.mu.Unlock()
		r.close()
		log.Info().Str("module", "core.registry").Str("code", string(r.code)).Msg("idle room swept")
	}
}

// Shutdown closes all rooms and empties the registry.
func (g *Registry) Shutdown() {
	g.mu.Lock()
	rooms := make([]*room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.rooms = make(map[domain.RoomCode]*room)
	g.mu.Unlock()

	for _, r := range rooms {
		r.close()
	}
	log.Info().Str("module", "core.registry").Int("rooms", len(rooms)).Msg("registry shut down")
}

func newCode(length int) (domain.RoomCode, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return domain.RoomCode(b), nil
}

func newToken() (domain.JoinToken, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return domain.JoinToken(hex.EncodeToString(b)), nil
}
