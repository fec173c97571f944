// Package movement drives idle wandering and escape for creatures owned by
// the movement subsystem.
package movement

import (
	"log"
	"math"
	"time"

	"arcatch.ai/internal/sim/creature"
	"arcatch.ai/internal/sim/events"
	"arcatch.ai/internal/sim/geom"
	"arcatch.ai/internal/sim/tuning"
)

// Rand is the subset of *math/rand.Rand the controller draws from.
type Rand interface {
	Float64() float64
}

type phase int

const (
	phaseWait phase = iota
	phaseMove
	phaseEscape
)

type track struct {
	phase    phase
	waitLeft float64

	from, to geom.Vec3
	elapsed  float64
	duration float64

	// near is the previous tick's proximity result, for edge triggering.
	near bool
}

type Controller struct {
	cfg    tuning.MovementTuning
	rng    Rand
	bus    *events.Bus
	logger *log.Logger

	viewer geom.Pose
	tracks map[string]*track
}

func New(cfg tuning.MovementTuning, rng Rand, bus *events.Bus, logger *log.Logger) *Controller {
	return &Controller{
		cfg:    cfg,
		rng:    rng,
		bus:    bus,
		logger: logger,
		viewer: geom.Pose{Forward: geom.Forward},
		tracks: map[string]*track{},
	}
}

func (c *Controller) SetViewer(p geom.Pose) { c.viewer = p }

// Tick advances every movement-owned instance by dt. Instances owned by
// another subsystem are left untouched; tracks of instances that are gone
// are dropped.
func (c *Controller) Tick(dt time.Duration, instances []*creature.Instance) {
	sec := dt.Seconds()
	seen := make(map[string]bool, len(instances))
	for _, inst := range instances {
		if inst == nil || !inst.Alive() {
			continue
		}
		seen[inst.ID] = true
		if inst.Owner() != creature.OwnerMovement {
			continue
		}
		tr := c.trackFor(inst)
		c.checkProximity(inst, tr)
		c.advance(inst, tr, sec)
	}
	for id := range c.tracks {
		if !seen[id] {
			delete(c.tracks, id)
		}
	}
}

// Escape sends inst directly away from the viewer. from is the subsystem
// handing it over (movement itself for proximity, capture for a failed
// attempt). It reports false when the instance is already escaping or from
// does not own it.
func (c *Controller) Escape(inst *creature.Instance, from creature.Owner) bool {
	if inst == nil || !inst.Alive() {
		return false
	}
	tr := c.trackFor(inst)
	if inst.State() == creature.StateEscaping && tr.phase == phaseEscape {
		return false
	}
	if inst.State() != creature.StateEscaping && !inst.Handoff(from, creature.StateEscaping) {
		return false
	}
	c.beginEscape(inst, tr)
	return true
}

// Detach hands inst to another owner, abandoning any wander or escape in
// progress. The caller becomes responsible for the instance.
func (c *Controller) Detach(inst *creature.Instance, to creature.State) bool {
	if inst == nil || to.Owner() == creature.OwnerMovement {
		return false
	}
	if !inst.Handoff(creature.OwnerMovement, to) {
		return false
	}
	delete(c.tracks, inst.ID)
	return true
}

// Resume returns inst from owner to wandering around its current position.
func (c *Controller) Resume(inst *creature.Instance, from creature.Owner) bool {
	if inst == nil || !inst.Handoff(from, creature.StateWandering) {
		return false
	}
	inst.Anchor = inst.Position
	tr := c.trackFor(inst)
	tr.phase = phaseWait
	tr.waitLeft = c.drawWait()
	return true
}

func (c *Controller) trackFor(inst *creature.Instance) *track {
	tr, ok := c.tracks[inst.ID]
	if !ok {
		tr = &track{phase: phaseWait, waitLeft: c.drawWait()}
		c.tracks[inst.ID] = tr
	}
	return tr
}

func (c *Controller) checkProximity(inst *creature.Instance, tr *track) {
	d := geom.Dist(inst.Position, c.viewer.Position)
	near := d < c.cfg.DetectionRadius
	wasNear := tr.near
	tr.near = near
	if !near || wasNear || !inst.Config.Shy || inst.State() == creature.StateEscaping {
		return
	}
	if c.Escape(inst, creature.OwnerMovement) {
		c.printf("proximity escape id=%s dist=%.2f", inst.ID, d)
	}
}

func (c *Controller) advance(inst *creature.Instance, tr *track, sec float64) {
	switch tr.phase {
	case phaseWait:
		tr.waitLeft -= sec
		if tr.waitLeft > 0 {
			return
		}
		if !inst.Handoff(creature.OwnerMovement, creature.StateMovingToTarget) {
			return
		}
		tr.from = inst.Position
		tr.to = c.pickTarget(inst)
		tr.elapsed = 0
		tr.duration = travelTime(geom.Dist(tr.from, tr.to), c.cfg.Speed)
		tr.phase = phaseMove
		inst.Rotation = geom.LookRotation(tr.to.Sub(tr.from))

	case phaseMove:
		if c.step(inst, tr, sec, geom.EaseInOut) {
			inst.Handoff(creature.OwnerMovement, creature.StateWandering)
			tr.phase = phaseWait
			tr.waitLeft = c.drawWait()
			c.bus.Publish(events.Event{Kind: events.MovementComplete, InstanceID: inst.ID, CreatureID: inst.Config.ID})
		}

	case phaseEscape:
		if c.step(inst, tr, sec, linear) {
			inst.Anchor = inst.Position
			inst.Handoff(creature.OwnerMovement, creature.StateWandering)
			tr.phase = phaseWait
			tr.waitLeft = c.drawWait()
			c.bus.Publish(events.Event{Kind: events.EscapeComplete, InstanceID: inst.ID, CreatureID: inst.Config.ID})
		}
	}
}

// step interpolates along the track and reports arrival.
func (c *Controller) step(inst *creature.Instance, tr *track, sec float64, ease func(float64) float64) bool {
	tr.elapsed += sec
	if tr.duration <= 0 || tr.elapsed >= tr.duration {
		inst.Position = tr.to
		return true
	}
	inst.Position = geom.Lerp(tr.from, tr.to, ease(tr.elapsed/tr.duration))
	return false
}

func (c *Controller) beginEscape(inst *creature.Instance, tr *track) {
	away := inst.Position.Sub(c.viewer.Position).Horizontal().Normalize()
	if away.IsZero() {
		away = c.viewer.Facing().Horizontal().Normalize()
	}
	if away.IsZero() {
		away = geom.Forward
	}
	tr.phase = phaseEscape
	tr.from = inst.Position
	tr.to = inst.Position.Add(away.Scale(c.cfg.EscapeDistance))
	tr.elapsed = 0
	tr.duration = travelTime(c.cfg.EscapeDistance, c.cfg.Speed*c.cfg.EscapeSpeedMultiplier)
	inst.Rotation = geom.LookRotation(away)
	c.bus.Publish(events.Event{
		Kind:       events.EscapeStarted,
		InstanceID: inst.ID,
		CreatureID: inst.Config.ID,
		Data:       map[string]any{"target": tr.to},
	})
}

// pickTarget draws a point within the wander radius of the anchor, with Y
// held inside the configured height band.
func (c *Controller) pickTarget(inst *creature.Instance) geom.Vec3 {
	angle := c.rng.Float64() * 2 * math.Pi
	r := c.cfg.WanderRadius * math.Sqrt(c.rng.Float64())
	h := c.cfg.HeightMin + c.rng.Float64()*(c.cfg.HeightMax-c.cfg.HeightMin)
	return geom.Vec3{
		X: inst.Anchor.X + r*math.Cos(angle),
		Y: geom.Clamp(inst.Anchor.Y+h, c.cfg.HeightMin, c.cfg.HeightMax),
		Z: inst.Anchor.Z + r*math.Sin(angle),
	}
}

func (c *Controller) drawWait() float64 {
	lo, hi := c.cfg.WaitMin.Seconds(), c.cfg.WaitMax.Seconds()
	if hi <= lo {
		return lo
	}
	return lo + c.rng.Float64()*(hi-lo)
}

func travelTime(dist, speed float64) float64 {
	if speed <= 0 {
		return 0
	}
	return dist / speed
}

func linear(t float64) float64 { return t }

func (c *Controller) printf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
