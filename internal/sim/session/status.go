package session

import (
	"arcatch.ai/internal/protocol"
	"arcatch.ai/internal/sim/events"
	"arcatch.ai/internal/sim/geom"
)

// Metrics counts session events and samples gauges at the end of each tick.
type Metrics struct {
	Tick     uint64            `json:"tick"`
	Active   int               `json:"active"`
	InFlight int               `json:"in_flight"`
	Events   map[string]uint64 `json:"events"`
}

func (s *Session) count(ev events.Event) {
	s.mu.Lock()
	s.counts[ev.Kind]++
	s.mu.Unlock()
}

// Status returns the snapshot published at the end of the last tick. It is
// safe to call from any goroutine.
func (s *Session) Status() protocol.StatusMsg {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	st.Creatures = append([]protocol.CreatureStatus(nil), s.status.Creatures...)
	return st
}

func (s *Session) Metrics() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.metrics
	m.Events = make(map[string]uint64, len(s.counts))
	for k, v := range s.counts {
		m.Events[string(k)] = v
	}
	return m
}

func (s *Session) publishStatus() {
	st := protocol.StatusMsg{
		Type:            protocol.TypeStatus,
		ProtocolVersion: protocol.Version,
		Tick:            s.tick,
		Viewer:          s.viewer,
		InFlight:        s.projector.InFlight(),
	}
	for _, inst := range s.active.Snapshot() {
		st.Creatures = append(st.Creatures, protocol.CreatureStatus{
			InstanceID: inst.ID,
			CreatureID: inst.Config.ID,
			Name:       inst.Config.Name(),
			State:      inst.State().String(),
			Position:   inst.Position,
			Distance:   geom.Dist(s.viewer.Position, inst.Position),
			Rare:       inst.Config.IsRare,
			Fallback:   inst.Fallback,
			Animation:  inst.Animation,
		})
	}

	cs := s.capture.Session()
	st.Capture = protocol.CaptureStatus{
		Phase:     cs.Phase.String(),
		TargetID:  cs.TargetID,
		Capturing: cs.Capturing,
		Distance:  cs.Distance,
		Progress:  cs.Progress,
		Warning:   cs.Warning,
	}
	if cs.Last != nil {
		ok := cs.Last.Success
		st.Capture.LastOK = &ok
		st.Capture.LastOdds = cs.Last.Chance
	}
	st.Grab = protocol.GrabStatus{Phase: s.gesture.Phase().String()}
	if t := s.gesture.Target(); t != nil {
		st.Grab.TargetID = t.ID
	}

	s.mu.Lock()
	s.status = st
	s.metrics = Metrics{Tick: s.tick, Active: s.active.Len(), InFlight: st.InFlight}
	s.mu.Unlock()
}
