package server

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/antonkrylov/coderoom/internal/exec"
	"github.com/antonkrylov/coderoom/internal/protocol"
)

// route dispatches one inbound frame. Handler failures are contained: a
// panic is logged and never takes the process down.
func (s *Server) route(c *client, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panic", "conn", c.id, "err", r)
		}
	}()

	env, err := protocol.Decode(data)
	if err != nil {
		s.logger.Debug("bad frame", "conn", c.id, "err", err)
		return
	}

	switch env.Event {
	case protocol.EventJoin:
		var p protocol.Join
		if err := env.Bind(&p); err != nil {
			s.logger.Debug("bad payload", "conn", c.id, "err", err)
			return
		}
		s.rooms.Join(p.RoomID, c.id, p.Username)
		s.tap.RoomEvent(p.RoomID, "joined", map[string]any{"conn": c.id, "username": p.Username})

	case protocol.EventCodeChange:
		var p protocol.CodeChange
		if err := env.Bind(&p); err != nil {
			return
		}
		s.rooms.CodeChange(p.RoomID, c.id, p.Code, p.Mode)

	case protocol.EventSyncCode:
		var p protocol.SyncCode
		if err := env.Bind(&p); err != nil {
			return
		}
		s.rooms.SyncCode(p.SocketID, p.Code)

	case protocol.EventSetUserPermission:
		var p protocol.SetUserPermission
		if err := env.Bind(&p); err != nil {
			return
		}
		s.rooms.SetPermission(p.RoomID, c.id, p.TargetSocketID, p.CanEdit)

	case protocol.EventRaiseHand:
		var p protocol.RaiseHand
		if err := env.Bind(&p); err != nil {
			return
		}
		s.rooms.RaiseHand(p.RoomID, c.id, p.Raised)

	case protocol.EventTyping:
		var p protocol.Typing
		if err := env.Bind(&p); err != nil {
			return
		}
		s.rooms.Typing(p.RoomID, c.id)

	case protocol.EventBlockEditing:
		var p protocol.BlockEditing
		if err := env.Bind(&p); err != nil {
			return
		}
		s.rooms.BlockEditing(p.RoomID, p.Blocked)

	case protocol.EventKickUser:
		var p protocol.KickUser
		if err := env.Bind(&p); err != nil {
			return
		}
		s.rooms.Kick(p.RoomID, c.id, p.TargetSocketID)
		s.tap.RoomEvent(p.RoomID, "kick", map[string]any{"by": c.id, "target": p.TargetSocketID})

	case protocol.EventTerminalRun:
		s.handleTerminalRun(c, env)

	case protocol.EventTerminalInput:
		s.handleTerminalInput(c, env)

	default:
		s.logger.Debug("unknown event", "conn", c.id, "event", env.Event)
	}
}

func (s *Server) handleTerminalRun(c *client, env *protocol.Envelope) {
	var p protocol.TerminalRun
	if err := env.Bind(&p); err != nil {
		s.logger.Debug("bad payload", "conn", c.id, "err", err)
		return
	}
	req := exec.Request{
		RunID:    uuid.NewString(),
		ConnID:   c.id,
		Language: p.Language,
		Code:     p.Code,
	}
	emit := func(ch exec.Chunk) {
		s.Send(c.id, protocol.EventTerminalOutput, protocol.TerminalOutput{
			Output:  ch.Output,
			IsError: ch.IsError,
			Done:    ch.Done,
		})
	}
	s.tap.RunEvent(req.RunID, "started", map[string]any{"conn": c.id, "room": p.RoomID, "language": p.Language})

	// Each run is its own task; concurrent runs from different members
	// never block event handling or each other.
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("run panic", "run", req.RunID, "err", r)
				emit(exec.Chunk{Output: fmt.Sprintf("%v\n", r), IsError: true, Done: true})
			}
		}()
		if s.sandboxed {
			emit(exec.Chunk{Output: fmt.Sprintf("Run %s starting (sandboxed)...\n", req.RunID)})
		}
		s.runner.Run(s.baseCtx, req, emit)
		s.tap.RunEvent(req.RunID, "finished", map[string]any{"conn": c.id})
	}()
}

func (s *Server) handleTerminalInput(c *client, env *protocol.Envelope) {
	var p protocol.TerminalInput
	if err := env.Bind(&p); err != nil {
		return
	}
	if err := s.orch.RelayStdin(c.id, p.Input); err != nil {
		msg := "No running process to send input to.\n"
		if !errors.Is(err, exec.ErrNoProcess) {
			msg = "Failed to write to process stdin: " + err.Error() + "\n"
		}
		s.Send(c.id, protocol.EventTerminalOutput, protocol.TerminalOutput{Output: msg, IsError: true})
	}
}
