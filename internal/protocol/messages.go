// Package protocol defines the control frames the server originates.
// Relayed game payloads are opaque and never pass through here.
package protocol

import (
	"encoding/json"

	"github.com/dkeye/partyhub/internal/domain"
)

const (
	OpWelcome = "client/welcome"
	OpRoster  = "room/roster"
	OpLeave   = "room/leave"
)

// PacketSeed is the initial value of the per-connection packet counter.
const PacketSeed uint32 = 3

// Envelope wraps every server-originated control frame.
type Envelope struct {
	PC     uint32 `json:"pc"`
	Opcode string `json:"opcode"`
	Result any    `json:"result"`
}

// Welcome is the first frame a participant receives after a successful attach.
// Secret echoes the join token for hosts and is empty for players.
type Welcome struct {
	ID        domain.ParticipantID `json:"id"`
	Secret    string               `json:"secret"`
	Reconnect bool                 `json:"reconnect"`
	DeviceID  string               `json:"deviceId"`
}

// RosterChange announces a participant joining or leaving to whoever the
// routing rules say should hear about it.
type RosterChange struct {
	ID    domain.ParticipantID `json:"id"`
	Name  string               `json:"name"`
	Count int                  `json:"count"`
}

// Encode marshals a control frame with its envelope.
func Encode(pc uint32, opcode string, result any) ([]byte, error) {
	return json.Marshal(Envelope{PC: pc, Opcode: opcode, Result: result})
}
