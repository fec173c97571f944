package session

import (
	"errors"
	"strings"

	"arcatch.ai/internal/protocol"
	"arcatch.ai/internal/sim/geom"
	"arcatch.ai/internal/sim/loader"
)

// Apply executes one input command on the session goroutine.
func (s *Session) Apply(msg protocol.InputMsg) protocol.InputResultMsg {
	res := protocol.InputResultMsg{
		Type:            "INPUT_RESULT",
		ProtocolVersion: protocol.Version,
		ReqID:           msg.ReqID,
		Accepted:        true,
		Tick:            s.tick,
	}
	reject := func(code, message string) protocol.InputResultMsg {
		res.Accepted = false
		res.Code = code
		res.Message = message
		return res
	}

	switch strings.ToUpper(strings.TrimSpace(msg.Type)) {
	case protocol.CmdViewer:
		if msg.Position == nil {
			return reject(protocol.ErrBadRequest, "missing position")
		}
		s.viewer.Position = *msg.Position
		if msg.Direction != nil && !msg.Direction.IsZero() {
			s.viewer.Forward = msg.Direction.Normalize()
		}

	case protocol.CmdHand:
		if msg.Position == nil {
			return reject(protocol.ErrBadRequest, "missing position")
		}
		var dir geom.Vec3
		if msg.Direction != nil {
			dir = *msg.Direction
		}
		s.gesture.UpdateHand(*msg.Position, dir, s.now)

	case protocol.CmdGrabPress:
		s.gesture.Press(s.now)

	case protocol.CmdGrabRelease:
		if th, ok := s.gesture.Release(s.now); ok {
			s.throw(th)
			res.InstanceID = th.Target.ID
		}

	case protocol.CmdCapture:
		target := s.capture.Target()
		if _, ok := s.capture.Attempt(s.viewer); !ok {
			return reject(protocol.ErrInvalidTarget, "no capture attempt possible")
		}
		res.InstanceID = target.ID

	case protocol.CmdExitCapture:
		s.capture.Exit("user")

	case protocol.CmdSpawn:
		if strings.TrimSpace(msg.CreatureID) == "" {
			return reject(protocol.ErrBadRequest, "missing creature_id")
		}
		inst, err := s.Spawn(msg.CreatureID, loader.LoadOptions{
			Position:  msg.Position,
			Scale:     msg.Scale,
			Animation: msg.Animation,
		})
		if errors.Is(err, ErrCapacity) {
			return reject(protocol.ErrCapacity, err.Error())
		}
		res.InstanceID = inst.ID
		if inst.Fallback {
			res.Code = protocol.ErrUnknownCreature
			res.Message = "spawned fallback placeholder"
		}

	case protocol.CmdUnload:
		inst, ok := s.active.Get(msg.InstanceID)
		if !ok {
			return reject(protocol.ErrInvalidTarget, "unknown instance")
		}
		s.Unload(inst)
		res.InstanceID = inst.ID

	case protocol.CmdUnloadAll:
		s.UnloadAll()

	default:
		return reject(protocol.ErrUnknownCommand, "unknown command "+msg.Type)
	}
	return res
}
