package core_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/partyhub/internal/core"
	"github.com/dkeye/partyhub/internal/domain"
	"github.com/dkeye/partyhub/internal/protocol"
)

// fakeEndpoint is an in-memory core.Endpoint for tests.
type fakeEndpoint struct {
	mu     sync.Mutex
	frames []core.Frame
	fail   bool
	closed bool
	recv   chan core.Frame
}

func newFakeEndpoint() *fakeEndpoint {
	return &fakeEndpoint{recv: make(chan core.Frame, 16)}
}

func (f *fakeEndpoint) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail || f.closed {
		return errors.New("send failed")
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeEndpoint) Receive(ctx context.Context) (core.Frame, error) {
	select {
	case fr, ok := <-f.recv:
		if !ok {
			return nil, errors.New("endpoint closed")
		}
		return fr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeEndpoint) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.recv)
}

func (f *fakeEndpoint) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeEndpoint) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeEndpoint) sent() []core.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.Frame, len(f.frames))
	copy(out, f.frames)
	return out
}

// envelope mirrors protocol.Envelope with a concrete result for decoding.
type envelope struct {
	PC     uint32 `json:"pc"`
	Opcode string `json:"opcode"`
	Result struct {
		ID        uint64 `json:"id"`
		Secret    string `json:"secret"`
		Reconnect bool   `json:"reconnect"`
		DeviceID  string `json:"deviceId"`
		Name      string `json:"name"`
		Count     int    `json:"count"`
	} `json:"result"`
}

func decodeEnvelopes(t *testing.T, frames []core.Frame) []envelope {
	t.Helper()
	out := make([]envelope, 0, len(frames))
	for _, fr := range frames {
		var env envelope
		require.NoError(t, json.Unmarshal(fr, &env))
		out = append(out, env)
	}
	return out
}

func newTestRegistry(ttl time.Duration, allowReconnect bool) *core.Registry {
	return core.NewRegistry(core.RegistryConfig{
		CodeLength:         4,
		IdleTTL:            ttl,
		SweepInterval:      time.Hour,
		AllowHostReconnect: allowReconnect,
	})
}

func createRoom(t *testing.T, reg *core.Registry) (core.RoomService, domain.JoinToken) {
	t.Helper()
	code, token, err := reg.Create()
	require.NoError(t, err)
	room, ok := reg.Get(code)
	require.True(t, ok)
	return room, token
}

func profile(name string) domain.Profile {
	p, _ := domain.NewProfile(name, "u-"+name, "d-"+name)
	return p
}

func TestRoomAttachHostWelcome(t *testing.T) {
	reg := newTestRegistry(time.Minute, true)
	room, token := createRoom(t, reg)

	ep := newFakeEndpoint()
	id, err := room.Attach(domain.RoleHost, profile("Bob"), token, ep)
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantID(1), id)

	envs := decodeEnvelopes(t, ep.sent())
	require.Len(t, envs, 1)
	assert.Equal(t, protocol.OpWelcome, envs[0].Opcode)
	assert.Equal(t, protocol.PacketSeed, envs[0].PC)
	assert.Equal(t, uint64(1), envs[0].Result.ID)
	assert.Equal(t, string(token), envs[0].Result.Secret)
	assert.False(t, envs[0].Result.Reconnect)
	assert.Equal(t, "d-Bob", envs[0].Result.DeviceID)
}

func TestRoomAttachHostWrongToken(t *testing.T) {
	reg := newTestRegistry(time.Minute, true)
	room, _ := createRoom(t, reg)

	ep := newFakeEndpoint()
	_, err := room.Attach(domain.RoleHost, profile("Mallory"), "not-the-token", ep)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, 0, room.ParticipantCount())
	assert.Empty(t, ep.sent())
}

func TestRoomSecondHostConflict(t *testing.T) {
	reg := newTestRegistry(time.Minute, true)
	room, token := createRoom(t, reg)

	_, err := room.Attach(domain.RoleHost, profile("Bob"), token, newFakeEndpoint())
	require.NoError(t, err)

	_, err = room.Attach(domain.RoleHost, profile("Eve"), token, newFakeEndpoint())
	require.ErrorIs(t, err, domain.ErrRoleConflict)
	assert.Equal(t, 1, room.ParticipantCount())
}

func TestRoomConcurrentHostAttach(t *testing.T) {
	reg := newTestRegistry(time.Minute, true)
	room, token := createRoom(t, reg)

	const attempts = 16
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := room.Attach(domain.RoleHost, profile("Bob"), token, newFakeEndpoint())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrRoleConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, attempts-1, conflicts)
	assert.Equal(t, 1, room.ParticipantCount())
}

func TestRoomPlayerAttachNotifiesHost(t *testing.T) {
	reg := newTestRegistry(time.Minute, true)
	room, token := createRoom(t, reg)

	hostEp := newFakeEndpoint()
	_, err := room.Attach(domain.RoleHost, profile("Bob"), token, hostEp)
	require.NoError(t, err)

	// Players never need the token.
	aliceEp := newFakeEndpoint()
	aliceID, err := room.Attach(domain.RolePlayer, profile("Alice"), "", aliceEp)
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantID(2), aliceID)

	aliceEnvs := decodeEnvelopes(t, aliceEp.sent())
	require.Len(t, aliceEnvs, 1)
	assert.Equal(t, protocol.OpWelcome, aliceEnvs[0].Opcode)
	assert.Empty(t, aliceEnvs[0].Result.Secret)

	hostEnvs := decodeEnvelopes(t, hostEp.sent())
	require.Len(t, hostEnvs, 2)
	assert.Equal(t, protocol.OpRoster, hostEnvs[1].Opcode)
	assert.Equal(t, "Alice", hostEnvs[1].Result.Name)
	assert.Equal(t, uint64(2), hostEnvs[1].Result.ID)
	assert.Equal(t, 2, hostEnvs[1].Result.Count)
	// Per-connection packet counter keeps climbing.
	assert.Equal(t, protocol.PacketSeed+1, hostEnvs[1].PC)
}

func TestRoomRelayDirectional(t *testing.T) {
	reg := newTestRegistry(time.Minute, true)
	room, token := createRoom(t, reg)

	hostEp := newFakeEndpoint()
	hostID, err := room.Attach(domain.RoleHost, profile("Bob"), token, hostEp)
	require.NoError(t, err)

	aliceEp := newFakeEndpoint()
	aliceID, err := room.Attach(domain.RolePlayer, profile("Alice"), "", aliceEp)
	require.NoError(t, err)

	carolEp := newFakeEndpoint()
	_, err = room.Attach(domain.RolePlayer, profile("Carol"), "", carolEp)
	require.NoError(t, err)

	hostSentBefore := len(hostEp.sent())

	res := room.Relay(hostID, core.Frame(`"start"`))
	assert.Equal(t, 2, res.SentTo)
	assert.Empty(t, res.Dropped)
	assert.Contains(t, string(aliceEp.sent()[len(aliceEp.sent())-1]), "start")
	assert.Contains(t, string(carolEp.sent()[len(carolEp.sent())-1]), "start")
	// The host never receives its own broadcast.
	assert.Len(t, hostEp.sent(), hostSentBefore)

	carolSentBefore := len(carolEp.sent())
	res = room.Relay(aliceID, core.Frame(`"guess"`))
	assert.Equal(t, 1, res.SentTo)
	assert.Contains(t, string(hostEp.sent()[len(hostEp.sent())-1]), "guess")
	// Player frames never reach other players.
	assert.Len(t, carolEp.sent(), carolSentBefore)
}

func TestRoomRelayWithoutHostDropsFrame(t *testing.T) {
	reg := newTestRegistry(time.Minute, true)
	room, _ := createRoom(t, reg)

	aliceEp := newFakeEndpoint()
	aliceID, err := room.Attach(domain.RolePlayer, profile("Alice"), "", aliceEp)
	require.NoError(t, err)

	res := room.Relay(aliceID, core.Frame(`"anyone?"`))
	assert.Equal(t, 0, res.SentTo)
	assert.Empty(t, res.Dropped)
	// Alice only ever saw her welcome.
	assert.Len(t, aliceEp.sent(), 1)
}

func TestRoomDetachIdempotentAndNotifies(t *testing.T) {
	reg := newTestRegistry(time.Minute, true)
	room, token := createRoom(t, reg)

	hostEp := newFakeEndpoint()
	_, err := room.Attach(domain.RoleHost, profile("Bob"), token, hostEp)
	require.NoError(t, err)

	aliceEp := newFakeEndpoint()
	aliceID, err := room.Attach(domain.RolePlayer, profile("Alice"), "", aliceEp)
	require.NoError(t, err)

	carolEp := newFakeEndpoint()
	_, err = room.Attach(domain.RolePlayer, profile("Carol"), "", carolEp)
	require.NoError(t, err)

	room.Detach(aliceID)
	assert.Equal(t, 2, room.ParticipantCount())
	assert.True(t, aliceEp.isClosed())

	hostEnvs := decodeEnvelopes(t, hostEp.sent())
	last := hostEnvs[len(hostEnvs)-1]
	assert.Equal(t, protocol.OpLeave, last.Opcode)
	assert.Equal(t, "Alice", last.Result.Name)
	assert.Equal(t, 2, last.Result.Count)

	carolEnvs := decodeEnvelopes(t, carolEp.sent())
	assert.Equal(t, protocol.OpLeave, carolEnvs[len(carolEnvs)-1].Opcode)

	// Second detach is a no-op.
	hostFrames := len(hostEp.sent())
	room.Detach(aliceID)
	assert.Equal(t, 2, room.ParticipantCount())
	assert.Len(t, hostEp.sent(), hostFrames)
}

func TestRoomHostDetachKeepsPlayers(t *testing.T) {
	reg := newTestRegistry(time.Minute, true)
	room, token := createRoom(t, reg)

	hostEp := newFakeEndpoint()
	hostID, err := room.Attach(domain.RoleHost, profile("Bob"), token, hostEp)
	require.NoError(t, err)

	aliceEp := newFakeEndpoint()
	_, err = room.Attach(domain.RolePlayer, profile("Alice"), "", aliceEp)
	require.NoError(t, err)

	room.Detach(hostID)
	assert.Equal(t, 1, room.ParticipantCount())
	assert.False(t, room.IsEmpty())

	aliceEnvs := decodeEnvelopes(t, aliceEp.sent())
	assert.Equal(t, protocol.OpLeave, aliceEnvs[len(aliceEnvs)-1].Opcode)
	assert.Equal(t, "Bob", aliceEnvs[len(aliceEnvs)-1].Result.Name)
}

func TestRoomHostReconnect(t *testing.T) {
	tests := []struct {
		name           string
		allowReconnect bool
		wantReconnect  bool
	}{
		{name: "policy allows reconnect", allowReconnect: true, wantReconnect: true},
		{name: "policy treats it as fresh attach", allowReconnect: false, wantReconnect: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newTestRegistry(time.Minute, tt.allowReconnect)
			room, token := createRoom(t, reg)

			hostID, err := room.Attach(domain.RoleHost, profile("Bob"), token, newFakeEndpoint())
			require.NoError(t, err)
			room.Detach(hostID)

			ep := newFakeEndpoint()
			newID, err := room.Attach(domain.RoleHost, profile("Bob"), token, ep)
			require.NoError(t, err)
			assert.Greater(t, newID, hostID)

			envs := decodeEnvelopes(t, ep.sent())
			require.Len(t, envs, 1)
			assert.Equal(t, tt.wantReconnect, envs[0].Result.Reconnect)
		})
	}
}

func TestRoomWelcomeSendFailureIsNoPartialAttach(t *testing.T) {
	reg := newTestRegistry(time.Minute, true)
	room, token := createRoom(t, reg)

	ep := newFakeEndpoint()
	ep.setFail(true)
	_, err := room.Attach(domain.RoleHost, profile("Bob"), token, ep)
	require.Error(t, err)
	assert.Equal(t, 0, room.ParticipantCount())
	assert.True(t, room.IsEmpty())
}

func TestRoomRelayDropsDeadEndpoints(t *testing.T) {
	reg := newTestRegistry(time.Minute, true)
	room, token := createRoom(t, reg)

	hostEp := newFakeEndpoint()
	hostID, err := room.Attach(domain.RoleHost, profile("Bob"), token, hostEp)
	require.NoError(t, err)

	aliceEp := newFakeEndpoint()
	aliceID, err := room.Attach(domain.RolePlayer, profile("Alice"), "", aliceEp)
	require.NoError(t, err)

	aliceEp.setFail(true)
	res := room.Relay(hostID, core.Frame(`"start"`))
	assert.Equal(t, 0, res.SentTo)
	assert.Equal(t, []domain.ParticipantID{aliceID}, res.Dropped)
}

func TestRoomRosterSnapshot(t *testing.T) {
	reg := newTestRegistry(time.Minute, true)
	room, token := createRoom(t, reg)

	_, err := room.Attach(domain.RoleHost, profile("Bob"), token, newFakeEndpoint())
	require.NoError(t, err)
	_, err = room.Attach(domain.RolePlayer, profile("Alice"), "", newFakeEndpoint())
	require.NoError(t, err)

	roster := room.RosterSnapshot()
	require.Len(t, roster, 2)
	names := []string{roster[0].Name, roster[1].Name}
	assert.Contains(t, names, "Bob")
	assert.Contains(t, names, "Alice")
}
