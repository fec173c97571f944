// Package capture implements the capture session: scanning for a nearby
// creature, holding it in capture mode, and resolving an explicit attempt.
package capture

import (
	"log"
	"time"

	"arcatch.ai/internal/sim/creature"
	"arcatch.ai/internal/sim/events"
	"arcatch.ai/internal/sim/geom"
	"arcatch.ai/internal/sim/tuning"
)

type Phase int

const (
	PhaseScanning Phase = iota
	PhaseCaptureMode
	PhaseResolving
	PhaseSuccess
	PhaseFail
)

func (p Phase) String() string {
	switch p {
	case PhaseCaptureMode:
		return "CAPTURE_MODE"
	case PhaseResolving:
		return "RESOLVING"
	case PhaseSuccess:
		return "SUCCESS"
	case PhaseFail:
		return "FAIL"
	default:
		return "SCANNING"
	}
}

const (
	WarningNone     = ""
	WarningTooClose = "too_close"
	WarningTooFar   = "too_far"
)

type Rand interface {
	Float64() float64
}

// Mover is the movement side of the ownership hand-off.
type Mover interface {
	Detach(inst *creature.Instance, to creature.State) bool
	Resume(inst *creature.Instance, from creature.Owner) bool
	Escape(inst *creature.Instance, from creature.Owner) bool
}

// Sink receives successfully captured creatures. It must take ownership or
// destroy the instance; anything left alive is destroyed by the machine.
type Sink interface {
	Captured(inst *creature.Instance)
}

type SinkFunc func(inst *creature.Instance)

func (f SinkFunc) Captured(inst *creature.Instance) { f(inst) }

type Config struct {
	Tuning tuning.CaptureTuning
	Mover  Mover
	Sink   Sink
	Rand   Rand
	Bus    *events.Bus
	Logger *log.Logger
	// Eligible further filters scan candidates (e.g. the creature in hand).
	Eligible func(*creature.Instance) bool
}

// Session is a read-only view of the capture state.
type Session struct {
	Phase        Phase         `json:"phase"`
	TargetID     string        `json:"target_id,omitempty"`
	EnteredAt    time.Duration `json:"entered_at"`
	Capturing    bool          `json:"capturing"`
	PhaseElapsed time.Duration `json:"phase_elapsed"`
	Distance     float64       `json:"distance"`
	Progress     float64       `json:"progress"`
	Warning      string        `json:"warning,omitempty"`
	Last         *Result       `json:"last,omitempty"`
}

type Machine struct {
	cfg  Config
	odds Odds

	phase        Phase
	target       *creature.Instance
	enteredAt    time.Duration
	capturing    bool
	phaseElapsed time.Duration
	distance     float64
	progress     float64
	warning      string
	last         *Result
}

func New(cfg Config) *Machine {
	return &Machine{
		cfg: cfg,
		odds: Odds{
			CaptureDistance: cfg.Tuning.Distance,
			BaseRate:        cfg.Tuning.SuccessRate,
			RarePenalty:     cfg.Tuning.RarePenalty,
		},
	}
}

func (m *Machine) Phase() Phase { return m.phase }
func (m *Machine) Target() *creature.Instance { return m.target }
func (m *Machine) Capturing() bool { return m.capturing }
func (m *Machine) Odds() Odds { return m.odds }
func (m *Machine) SearchRadius() float64 { return 2 * m.cfg.Tuning.Distance }

func (m *Machine) Session() Session {
	s := Session{
		Phase:        m.phase,
		EnteredAt:    m.enteredAt,
		Capturing:    m.capturing,
		PhaseElapsed: m.phaseElapsed,
		Distance:     m.distance,
		Progress:     m.progress,
		Warning:      m.warning,
	}
	if m.target != nil {
		s.TargetID = m.target.ID
	}
	if m.last != nil {
		r := *m.last
		s.Last = &r
	}
	return s
}

// Tick advances the machine once. candidates is the active set in registry
// order.
func (m *Machine) Tick(now, dt time.Duration, viewer geom.Pose, candidates []*creature.Instance) {
	switch m.phase {
	case PhaseScanning:
		if inst := m.scan(viewer, candidates); inst != nil {
			m.Enter(inst, now, viewer)
		}
	case PhaseCaptureMode:
		if !m.targetValid(viewer, candidates) {
			m.Exit("target_invalid")
			return
		}
		m.track(viewer)
	case PhaseSuccess, PhaseFail:
		m.phaseElapsed += dt
		hold := m.cfg.Tuning.FailDisplay
		if m.phase == PhaseSuccess {
			hold = m.cfg.Tuning.SuccessDisplay
		}
		if m.phaseElapsed >= hold {
			m.finish()
		}
	}
}

// Enter starts a capture session on inst. It is rejected silently while a
// session is active.
func (m *Machine) Enter(inst *creature.Instance, now time.Duration, viewer geom.Pose) bool {
	if inst == nil || m.capturing || m.phase != PhaseScanning {
		return false
	}
	if !m.cfg.Mover.Detach(inst, creature.StateInCaptureMode) {
		return false
	}
	m.phase = PhaseCaptureMode
	m.target = inst
	m.enteredAt = now
	m.phaseElapsed = 0
	m.warning = WarningNone
	m.track(viewer)
	m.cfg.Bus.Publish(events.Event{
		Kind:       events.CaptureModeEntered,
		InstanceID: inst.ID,
		CreatureID: inst.Config.ID,
		Data:       map[string]any{"distance": m.distance, "rare": inst.Config.IsRare},
	})
	m.printf("enter id=%s creature=%s dist=%.2f", inst.ID, inst.Config.ID, m.distance)
	return true
}

// Attempt resolves the session. It is the only way resolution begins and is
// a no-op unless in capture mode with the target inside the valid band.
func (m *Machine) Attempt(viewer geom.Pose) (Result, bool) {
	if m.phase != PhaseCaptureMode || m.capturing || m.target == nil {
		return Result{}, false
	}
	d := geom.Dist(viewer.Position, m.target.Position)
	if d < m.cfg.Tuning.MinDistance || d > m.cfg.Tuning.Distance {
		m.printf("attempt rejected id=%s dist=%.2f", m.target.ID, d)
		return Result{}, false
	}
	m.capturing = true
	m.phase = PhaseResolving
	m.phaseElapsed = 0

	target := m.target
	res := m.odds.Resolve(d, target.Config.IsRare, m.cfg.Rand.Float64())
	m.last = &res
	m.cfg.Bus.Publish(events.Event{
		Kind:       events.CaptureResolved,
		InstanceID: target.ID,
		CreatureID: target.Config.ID,
		Data: map[string]any{
			"success":  res.Success,
			"distance": res.Distance,
			"accuracy": res.Accuracy,
			"chance":   res.Chance,
			"draw":     res.Draw,
			"rare":     res.Rare,
		},
	})
	m.printf("resolved id=%s dist=%.2f chance=%.3f draw=%.3f success=%v", target.ID, d, res.Chance, res.Draw, res.Success)

	if res.Success {
		m.phase = PhaseSuccess
		m.cfg.Bus.Publish(events.Event{Kind: events.CaptureSuccess, InstanceID: target.ID, CreatureID: target.Config.ID})
		if m.cfg.Sink != nil {
			m.cfg.Sink.Captured(target)
		}
		if target.Alive() {
			target.Destroy()
		}
	} else {
		m.phase = PhaseFail
		m.cfg.Bus.Publish(events.Event{Kind: events.CaptureFail, InstanceID: target.ID, CreatureID: target.Config.ID})
		if !m.cfg.Mover.Escape(target, creature.OwnerCapture) {
			m.cfg.Mover.Resume(target, creature.OwnerCapture)
		}
	}
	return res, true
}

// Exit leaves capture mode and resets the session. It is safe at any phase:
// an unresolved target goes back to movement; a resolved one has already
// been disposed of.
func (m *Machine) Exit(reason string) {
	if m.phase == PhaseScanning {
		return
	}
	target := m.target
	if target != nil && target.Owner() == creature.OwnerCapture {
		m.cfg.Mover.Resume(target, creature.OwnerCapture)
	}
	ev := events.Event{Kind: events.CaptureModeExited, Data: map[string]any{"reason": reason}}
	if target != nil {
		ev.InstanceID = target.ID
		ev.CreatureID = target.Config.ID
	}
	m.reset()
	m.cfg.Bus.Publish(ev)
	m.printf("exit reason=%s", reason)
}

func (m *Machine) finish() {
	reason := "fail"
	if m.phase == PhaseSuccess {
		reason = "success"
	}
	m.Exit(reason)
}

func (m *Machine) reset() {
	m.phase = PhaseScanning
	m.target = nil
	m.enteredAt = 0
	m.capturing = false
	m.phaseElapsed = 0
	m.distance = 0
	m.progress = 0
	m.warning = WarningNone
}

// scan returns the first candidate, in registry order, inside the capture
// distance among those overlapping the search radius.
func (m *Machine) scan(viewer geom.Pose, candidates []*creature.Instance) *creature.Instance {
	radius := m.SearchRadius()
	for _, inst := range candidates {
		if !m.eligible(inst) {
			continue
		}
		d := geom.Dist(viewer.Position, inst.Position)
		if d > radius {
			continue
		}
		if d <= m.cfg.Tuning.Distance {
			return inst
		}
	}
	return nil
}

func (m *Machine) eligible(inst *creature.Instance) bool {
	if inst == nil || !inst.Alive() || inst.Owner() != creature.OwnerMovement {
		return false
	}
	if inst.State() == creature.StateEscaping {
		return false
	}
	if m.cfg.Eligible != nil && !m.cfg.Eligible(inst) {
		return false
	}
	return true
}

func (m *Machine) targetValid(viewer geom.Pose, candidates []*creature.Instance) bool {
	t := m.target
	if t == nil || t.State() != creature.StateInCaptureMode {
		return false
	}
	found := false
	for _, inst := range candidates {
		if inst == t {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	return geom.Dist(viewer.Position, t.Position) <= m.SearchRadius()
}

func (m *Machine) track(viewer geom.Pose) {
	if m.target == nil {
		return
	}
	d := geom.Dist(viewer.Position, m.target.Position)
	m.distance = d
	warning := WarningNone
	switch {
	case d < m.cfg.Tuning.MinDistance:
		warning = WarningTooClose
	case d > m.cfg.Tuning.Distance:
		warning = WarningTooFar
	default:
		m.progress = geom.Clamp(1-d/m.cfg.Tuning.Distance, 0, 1)
	}
	if warning != m.warning {
		m.warning = warning
		if warning != WarningNone {
			m.cfg.Bus.Publish(events.Event{
				Kind:       events.CaptureWarning,
				InstanceID: m.target.ID,
				CreatureID: m.target.Config.ID,
				Data:       map[string]any{"warning": warning, "distance": d},
			})
		}
	}
}

func (m *Machine) printf(format string, args ...any) {
	if m.cfg.Logger != nil {
		m.cfg.Logger.Printf(format, args...)
	}
}
