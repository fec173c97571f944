// Package gesture turns a hand pose stream and button edges into grab and
// throw events bound to a single creature.
package gesture

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
	PhaseIdle Phase = iota
	// PhasePressed is a press that has not yet been held for the grab threshold.
	PhasePressed
	PhaseGrabbing
)

func (p Phase) String() string {
	switch p {
	case PhasePressed:
		return "PRESSED"
	case PhaseGrabbing:
		return "GRABBING"
	default:
		return "IDLE"
	}
}

// Raycaster finds the first creature hit by a ray within maxDist.
type Raycaster interface {
	Raycast(origin, dir geom.Vec3, maxDist float64) (*creature.Instance, float64, bool)
}

// Throw is a release with a bound target.
type Throw struct {
	Target    *creature.Instance
	Direction geom.Vec3
}

type Recognizer struct {
	cfg    tuning.GestureTuning
	ray    Raycaster
	bus    *events.Bus
	logger *log.Logger
	viewer func() geom.Pose

	handPos    geom.Vec3
	handDir    geom.Vec3
	velocity   geom.Vec3
	lastSample time.Duration
	sampled    bool

	phase        Phase
	pressedAt    time.Duration
	grabStart    time.Duration
	grabStartPos geom.Vec3
	target       *creature.Instance
}

func New(cfg tuning.GestureTuning, ray Raycaster, viewer func() geom.Pose, bus *events.Bus, logger *log.Logger) *Recognizer {
	if viewer == nil {
		viewer = func() geom.Pose { return geom.Pose{Forward: geom.Forward} }
	}
	return &Recognizer{cfg: cfg, ray: ray, viewer: viewer, bus: bus, logger: logger, handDir: geom.Forward}
}

func (r *Recognizer) Phase() Phase { return r.phase }
func (r *Recognizer) Target() *creature.Instance { return r.target }
func (r *Recognizer) Velocity() geom.Vec3 { return r.velocity }
func (r *Recognizer) HandPosition() geom.Vec3 { return r.handPos }
func (r *Recognizer) GrabStart() (time.Duration, geom.Vec3) { return r.grabStart, r.grabStartPos }

// UpdateHand feeds one hand sample. Velocity is exponentially smoothed.
func (r *Recognizer) UpdateHand(pos, dir geom.Vec3, now time.Duration) {
	if r.sampled && now > r.lastSample {
		dt := (now - r.lastSample).Seconds()
		inst := pos.Sub(r.handPos).Scale(1 / dt)
		a := geom.Clamp(r.cfg.VelocitySmoothing, 0, 1)
		r.velocity = r.velocity.Scale(1 - a).Add(inst.Scale(a))
	}
	r.handPos = pos
	if !dir.IsZero() {
		r.handDir = dir.Normalize()
	}
	r.lastSample = now
	r.sampled = true
}

// Press starts a grab cycle. Repeated presses while one is active are ignored.
func (r *Recognizer) Press(now time.Duration) {
	if r.phase != PhaseIdle {
		return
	}
	r.phase = PhasePressed
	r.pressedAt = now
}

// Release ends the grab cycle. A throw is returned only when a target was
// bound; the target is cleared either way.
func (r *Recognizer) Release(now time.Duration) (Throw, bool) {
	switch r.phase {
	case PhaseIdle:
		return Throw{}, false
	case PhasePressed:
		if now-r.pressedAt < r.cfg.GrabThreshold {
			r.phase = PhaseIdle
			return Throw{}, false
		}
		r.beginGrab(now)
	}

	target := r.target
	r.clear()
	if target == nil {
		return Throw{}, false
	}
	th := Throw{Target: target, Direction: r.throwDirection()}
	r.bus.Publish(events.Event{
		Kind:       events.ThrowTarget,
		InstanceID: target.ID,
		CreatureID: target.Config.ID,
		Data:       map[string]any{"direction": th.Direction},
	})
	r.printf("throw id=%s dir=(%.2f,%.2f,%.2f)", target.ID, th.Direction.X, th.Direction.Y, th.Direction.Z)
	return th, true
}

// Tick promotes a held press to a grab and cancels grabs that outlive the
// timeout without a release.
func (r *Recognizer) Tick(now time.Duration) {
	switch r.phase {
	case PhasePressed:
		if now-r.pressedAt >= r.cfg.GrabThreshold {
			r.beginGrab(now)
		}
	case PhaseGrabbing:
		if r.cfg.Timeout > 0 && now-r.grabStart > r.cfg.Timeout {
			r.Cancel("timeout")
		}
	}
}

// Cancel drops the grab without a throw.
func (r *Recognizer) Cancel(reason string) {
	if r.phase == PhaseIdle {
		return
	}
	target := r.target
	r.clear()
	if target == nil {
		return
	}
	r.bus.Publish(events.Event{
		Kind:       events.GrabCancelled,
		InstanceID: target.ID,
		CreatureID: target.Config.ID,
		Data:       map[string]any{"reason": reason},
	})
	r.printf("grab cancelled id=%s reason=%s", target.ID, reason)
}

// Forget clears the bound target if it is inst, keeping the grab cycle.
func (r *Recognizer) Forget(inst *creature.Instance) {
	if inst != nil && r.target == inst {
		r.target = nil
	}
}

func (r *Recognizer) beginGrab(now time.Duration) {
	r.phase = PhaseGrabbing
	r.grabStart = now
	r.grabStartPos = r.handPos
	if r.ray == nil {
		return
	}
	origin := r.viewer().Position
	hit, dist, ok := r.ray.Raycast(origin, r.handDir, r.cfg.GrabRange)
	if !ok || hit == nil {
		return
	}
	r.target = hit
	r.bus.Publish(events.Event{
		Kind:       events.GrabTarget,
		InstanceID: hit.ID,
		CreatureID: hit.Config.ID,
		Data:       map[string]any{"distance": dist},
	})
	r.printf("grab id=%s dist=%.2f", hit.ID, dist)
}

func (r *Recognizer) throwDirection() geom.Vec3 {
	if r.velocity.Len() > 1e-3 {
		return r.velocity.Normalize()
	}
	if !r.handDir.IsZero() {
		return r.handDir
	}
	return r.viewer().Facing()
}

func (r *Recognizer) clear() {
	r.phase = PhaseIdle
	r.target = nil
}

func (r *Recognizer) printf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}
