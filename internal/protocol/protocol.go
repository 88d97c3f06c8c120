// Package protocol defines the named events and payloads exchanged over a
// coderoom websocket connection. Every frame is a JSON envelope naming the
// event and carrying its payload.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client -> server events.
const (
	EventJoin              = "join"
	EventCodeChange        = "code-change"
	EventSyncCode          = "sync-code"
	EventSetUserPermission = "set-user-permission"
	EventRaiseHand         = "raise-hand"
	EventTyping            = "typing"
	EventKickUser          = "kick-user"
	EventBlockEditing      = "block-editing"
	EventTerminalRun       = "terminal-run"
	EventTerminalInput     = "terminal-input"
)

// Server -> client events.
const (
	EventJoined           = "joined"
	EventDisconnected     = "disconnected"
	EventPermissionUpdate = "permission-update"
	EventActiveEditor     = "active-editor"
	EventUserKicked       = "user-kicked"
	EventKickSuccess      = "kick-success"
	EventKickError        = "kick-error"
	EventEditingBlocked   = "editing-blocked"
	EventTerminalOutput   = "terminal-output"
)

// Envelope frames a single message on the wire.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode marshals an event and its payload into a wire frame.
func Encode(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Payload: raw})
}

// Decode parses a wire frame into an envelope without touching the payload.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("decode frame: missing event name")
	}
	return &env, nil
}

// Bind unmarshals the payload into the given struct.
func (e *Envelope) Bind(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("bind %s payload: %w", e.Event, err)
	}
	return nil
}

// ClientInfo is one roster entry.
type ClientInfo struct {
	SocketID string `json:"socketId"`
	Username string `json:"username"`
}

type Join struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

type Joined struct {
	Clients  []ClientInfo `json:"clients"`
	Username string       `json:"username"`
	SocketID string       `json:"socketId"`
}

type CodeChange struct {
	RoomID string `json:"roomId,omitempty"`
	Code   string `json:"code"`
	Mode   string `json:"mode"`
}

type SyncCode struct {
	SocketID string `json:"socketId"`
	Code     string `json:"code"`
}

type SetUserPermission struct {
	RoomID         string `json:"roomId"`
	TargetSocketID string `json:"targetSocketId"`
	CanEdit        bool   `json:"canEdit"`
}

// PermissionUpdate is the full per-room moderation snapshot. Every member in
// the roster has an entry in Permissions.
type PermissionUpdate struct {
	AdminID     string          `json:"adminId"`
	Permissions map[string]bool `json:"permissions"`
	Hands       []string        `json:"hands"`
}

type RaiseHand struct {
	RoomID string `json:"roomId"`
	Raised bool   `json:"raised"`
}

type Typing struct {
	RoomID string `json:"roomId"`
}

// ActiveEditor names who is currently typing in the shared buffer. An empty
// SocketID means nobody is.
type ActiveEditor struct {
	SocketID string `json:"socketId"`
	Username string `json:"username,omitempty"`
}

type KickUser struct {
	RoomID         string `json:"roomId"`
	TargetSocketID string `json:"targetSocketId"`
}

type UserKicked struct {
	Reason string `json:"reason"`
}

type KickSuccess struct {
	Username string `json:"username"`
}

type KickError struct {
	Error string `json:"error"`
}

type BlockEditing struct {
	RoomID  string `json:"roomId"`
	Blocked bool   `json:"blocked"`
}

type EditingBlocked struct {
	Blocked bool `json:"blocked"`
}

type TerminalRun struct {
	RoomID   string `json:"roomId"`
	Language string `json:"language"`
	Code     string `json:"code"`
}

// TerminalOutput is one streamed execution chunk, unicast to the requester.
type TerminalOutput struct {
	Output  string `json:"output"`
	IsError bool   `json:"isError,omitempty"`
	Done    bool   `json:"done,omitempty"`
}

type TerminalInput struct {
	Input string `json:"input"`
}

type Disconnected struct {
	SocketID string `json:"socketId"`
	Username string `json:"username"`
}
