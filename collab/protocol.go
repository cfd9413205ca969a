package collab

import (
	"encoding/json"
)

// control actions carried by the envelope
const (
	ActionMembers   = "members"
	ActionJoin      = "join"
	ActionLeave     = "leave"
	ActionReady     = "ready"
	ActionBroadcast = "broadcast"
	ActionHeartbeat = "heartbeat"
)

// close code/reason pair for a deliberate exit. The close handler decides
// voluntariness by the current session status, not by this code, since
// close-code propagation is not guaranteed symmetric across the transport.
const (
	ForceDisconnectCode   = 4086
	ForceDisconnectReason = "FORCE_DISCONNECTED"
)

// ControlEnvelope is the wire format for all control messages,
// JSON-encoded text frames.
type ControlEnvelope struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

type outboundEnvelope struct {
	Action string         `json:"action"`
	Data   map[string]any `json:"data"`
}

// Participant identity rules:
//   - Id is the stable per-account identity, used for roster dedup
//   - Uuid is the per-session identity, unique per connection instance,
//     used for message-origin filtering. A reconnecting account gets a
//     new Uuid.
//
// Color is not authoritative here. It is sourced per-Uuid from the
// synchronization engine when the roster is read out, never stored on
// the tracked record.
type Participant struct {
	Id     int    `json:"id"`
	Uuid   string `json:"uuid"`
	Avatar string `json:"avatar"`
	Name   string `json:"name"`
	Iid    int    `json:"iid"`
	Color  string `json:"color,omitempty"`
}

// BroadcastPayload is the data of an inbound `broadcast` envelope.
type BroadcastPayload struct {
	Uuid string          `json:"uuid"`
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

// Message is a relayed application broadcast delivered to message
// callbacks. Echoes of locally authored broadcasts are filtered out
// before delivery.
type Message struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}
