// Package room owns the per-room collaboration state: membership, admin,
// edit permissions, raised hands and the active-editor pointer. Every
// transition mutates state and emits its broadcasts inside one critical
// section, so members never observe a half-updated snapshot.
package room

import (
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/antonkrylov/coderoom/internal/protocol"
	"github.com/antonkrylov/coderoom/internal/registry"
)

const (
	defaultIdleDelay = 1500 * time.Millisecond
	defaultKickGrace = 100 * time.Millisecond

	kickReason    = "You were removed by admin"
	kickErrorText = "Failed to remove user"
)

// Sender delivers events to live connections. Implementations must not block
// and must not call back into the Manager.
type Sender interface {
	// Send emits a named event to one connection. Unknown ids are dropped.
	Send(connID, event string, payload any)
	// Has reports whether the connection is currently live.
	Has(connID string) bool
	// Close forcibly tears down the connection's transport.
	Close(connID string)
}

// state is one room. Guarded by the owning Manager's mutex.
type state struct {
	id           string
	adminID      string
	members      []string // join order; admin transfer picks members[0]
	permissions  map[string]bool
	hands        map[string]struct{}
	activeEditor string
	typingTimer  *time.Timer
	typingGen    uint64
}

// Manager is the room directory plus the state machine for every room in it.
// Rooms are created lazily on first join and never reaped.
type Manager struct {
	Names  *registry.Registry
	Sender Sender
	Logger *slog.Logger

	// IdleDelay clears the active editor after no typing; zero means 1.5s.
	IdleDelay time.Duration
	// KickGrace delays the forced disconnect so the user-kicked notice can
	// reach the target first; zero means 100ms.
	KickGrace time.Duration

	mu     sync.Mutex
	rooms  map[string]*state
	member map[string]string // connID -> roomID, one room per connection
}

func NewManager(names *registry.Registry, sender Sender, logger *slog.Logger) *Manager {
	return &Manager{
		Names:  names,
		Sender: sender,
		Logger: logger,
		rooms:  make(map[string]*state),
		member: make(map[string]string),
	}
}

func (m *Manager) idleDelay() time.Duration {
	if m.IdleDelay > 0 {
		return m.IdleDelay
	}
	return defaultIdleDelay
}

func (m *Manager) kickGrace() time.Duration {
	if m.KickGrace > 0 {
		return m.KickGrace
	}
	return defaultKickGrace
}

// Join records the display name and adds the connection to the room,
// creating the room with this connection as admin when it is unseen. Every
// current member receives the new roster and a permission snapshot.
func (m *Manager) Join(roomID, connID, username string) {
	m.Names.Set(connID, username)

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.member[connID]; ok && prev != roomID {
		m.leaveLocked(connID, prev)
	}

	r := m.rooms[roomID]
	if r == nil {
		r = &state{
			id:          roomID,
			adminID:     connID,
			permissions: make(map[string]bool),
			hands:       make(map[string]struct{}),
		}
		m.rooms[roomID] = r
	}
	if !slices.Contains(r.members, connID) {
		r.members = append(r.members, connID)
	}
	m.member[connID] = roomID

	// Every member gets a permission entry, default true.
	for _, id := range r.members {
		if _, ok := r.permissions[id]; !ok {
			r.permissions[id] = true
		}
	}

	joined := protocol.Joined{
		Clients:  m.rosterLocked(r),
		Username: username,
		SocketID: connID,
	}
	for _, id := range r.members {
		m.Sender.Send(id, protocol.EventJoined, joined)
	}
	m.broadcastSnapshotLocked(r)
	m.Logger.Info("member joined", "room", roomID, "conn", connID, "username", username, "members", len(r.members))
}

// CodeChange relays a shared-buffer edit to the other members, gated by the
// sender's edit permission. Non-shared modes are never forwarded.
func (m *Manager) CodeChange(roomID, connID, code, mode string) {
	if mode != "shared" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rooms[roomID]
	if r == nil {
		return
	}
	if canEdit, ok := r.permissions[connID]; ok && !canEdit && connID != r.adminID {
		return
	}
	payload := protocol.CodeChange{Code: code, Mode: "shared"}
	for _, id := range r.members {
		if id != connID {
			m.Sender.Send(id, protocol.EventCodeChange, payload)
		}
	}
}

// SyncCode hands the authoritative buffer to one specific connection,
// typically a newcomer. The server is a relay here, not the owner.
func (m *Manager) SyncCode(targetID, code string) {
	m.Sender.Send(targetID, protocol.EventCodeChange, protocol.CodeChange{Code: code, Mode: "shared"})
}

// SetPermission updates one member's edit permission. Only the admin may
// call it; anybody else is silently ignored.
func (m *Manager) SetPermission(roomID, callerID, targetID string, canEdit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rooms[roomID]
	if r == nil || callerID != r.adminID {
		return
	}
	r.permissions[targetID] = canEdit
	m.broadcastSnapshotLocked(r)
}

// RaiseHand toggles the caller in the room's hand-raise set.
func (m *Manager) RaiseHand(roomID, connID string, raised bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rooms[roomID]
	if r == nil {
		return
	}
	if raised {
		r.hands[connID] = struct{}{}
	} else {
		delete(r.hands, connID)
	}
	m.broadcastSnapshotLocked(r)
}

// Typing marks the caller as the active editor, broadcasting only on the
// transition, and re-arms the idle timer. Cancel-and-re-arm is atomic: only
// one timer generation is ever live per room.
func (m *Manager) Typing(roomID, connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rooms[roomID]
	if r == nil {
		return
	}
	if r.activeEditor != connID {
		r.activeEditor = connID
		m.broadcastLocked(r, protocol.EventActiveEditor, protocol.ActiveEditor{
			SocketID: connID,
			Username: m.Names.Name(connID),
		})
	}
	if r.typingTimer != nil {
		r.typingTimer.Stop()
	}
	r.typingGen++
	gen := r.typingGen
	r.typingTimer = time.AfterFunc(m.idleDelay(), func() {
		m.expireActiveEditor(roomID, connID, gen)
	})
}

func (m *Manager) expireActiveEditor(roomID, connID string, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rooms[roomID]
	if r == nil || r.typingGen != gen || r.activeEditor != connID {
		return
	}
	r.activeEditor = ""
	r.typingTimer = nil
	m.broadcastLocked(r, protocol.EventActiveEditor, protocol.ActiveEditor{})
}

// BlockEditing relays the legacy room-wide editing block to every member.
func (m *Manager) BlockEditing(roomID string, blocked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rooms[roomID]
	if r == nil {
		return
	}
	m.broadcastLocked(r, protocol.EventEditingBlocked, protocol.EditingBlocked{Blocked: blocked})
}

// Kick removes a member on the admin's behalf: the target is told why, the
// admin is told whether it worked, and the target's transport is torn down
// after a short grace delay. Non-admin callers are silently ignored.
func (m *Manager) Kick(roomID, callerID, targetID string) {
	m.mu.Lock()
	r := m.rooms[roomID]
	if r == nil || callerID != r.adminID {
		m.mu.Unlock()
		return
	}
	if !m.Sender.Has(targetID) {
		m.mu.Unlock()
		m.Sender.Send(callerID, protocol.EventKickError, protocol.KickError{Error: kickErrorText})
		return
	}
	username := m.Names.Name(targetID)
	m.mu.Unlock()

	m.Sender.Send(targetID, protocol.EventUserKicked, protocol.UserKicked{Reason: kickReason})
	m.Sender.Send(callerID, protocol.EventKickSuccess, protocol.KickSuccess{Username: username})
	time.AfterFunc(m.kickGrace(), func() {
		m.Sender.Close(targetID)
	})
	m.Logger.Info("member kicked", "room", roomID, "conn", targetID, "by", callerID)
}

// Disconnect cascade-cleans the connection out of its room: permission entry
// and hand dropped, admin transferred to the first remaining member in join
// order, active editor cleared, snapshot and member-left notices broadcast.
// Finally the connection leaves the registry.
func (m *Manager) Disconnect(connID string) {
	m.mu.Lock()
	if roomID, ok := m.member[connID]; ok {
		m.leaveLocked(connID, roomID)
	}
	delete(m.member, connID)
	m.mu.Unlock()

	m.Names.Remove(connID)
}

func (m *Manager) leaveLocked(connID, roomID string) {
	r := m.rooms[roomID]
	if r == nil {
		return
	}
	if i := slices.Index(r.members, connID); i >= 0 {
		r.members = slices.Delete(r.members, i, i+1)
	}
	delete(r.permissions, connID)
	delete(r.hands, connID)

	if r.adminID == connID {
		if len(r.members) > 0 {
			r.adminID = r.members[0]
		} else {
			r.adminID = ""
		}
	}
	if r.activeEditor == connID {
		r.activeEditor = ""
		r.typingGen++
		if r.typingTimer != nil {
			r.typingTimer.Stop()
			r.typingTimer = nil
		}
		m.broadcastLocked(r, protocol.EventActiveEditor, protocol.ActiveEditor{})
	}

	m.broadcastSnapshotLocked(r)
	m.broadcastLocked(r, protocol.EventDisconnected, protocol.Disconnected{
		SocketID: connID,
		Username: m.Names.Name(connID),
	})
	m.Logger.Info("member left", "room", roomID, "conn", connID, "members", len(r.members))
}

// Snapshot returns the room's current moderation snapshot and roster, mainly
// for diagnostics and tests.
func (m *Manager) Snapshot(roomID string) (protocol.PermissionUpdate, []protocol.ClientInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rooms[roomID]
	if r == nil {
		return protocol.PermissionUpdate{}, nil, false
	}
	return m.snapshotLocked(r), m.rosterLocked(r), true
}

func (m *Manager) rosterLocked(r *state) []protocol.ClientInfo {
	roster := make([]protocol.ClientInfo, 0, len(r.members))
	for _, id := range r.members {
		roster = append(roster, protocol.ClientInfo{SocketID: id, Username: m.Names.Name(id)})
	}
	return roster
}

func (m *Manager) snapshotLocked(r *state) protocol.PermissionUpdate {
	hands := slices.Sorted(maps.Keys(r.hands))
	if hands == nil {
		hands = []string{}
	}
	return protocol.PermissionUpdate{
		AdminID:     r.adminID,
		Permissions: maps.Clone(r.permissions),
		Hands:       hands,
	}
}

func (m *Manager) broadcastSnapshotLocked(r *state) {
	m.broadcastLocked(r, protocol.EventPermissionUpdate, m.snapshotLocked(r))
}

func (m *Manager) broadcastLocked(r *state, event string, payload any) {
	for _, id := range r.members {
		m.Sender.Send(id, event, payload)
	}
}
