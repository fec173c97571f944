package creature

import (
	"time"

	"arcatch.ai/internal/sim/catalogs"
	"arcatch.ai/internal/sim/geom"
)

type State int

const (
	StateWandering State = iota + 1
	StateMovingToTarget
	StateEscaping
	StateInCaptureMode
	StateProjected
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateWandering:
		return "WANDERING"
	case StateMovingToTarget:
		return "MOVING_TO_TARGET"
	case StateEscaping:
		return "ESCAPING"
	case StateInCaptureMode:
		return "IN_CAPTURE_MODE"
	case StateProjected:
		return "PROJECTED"
	case StateDestroyed:
		return "DESTROYED"
	default:
		return "UNKNOWN"
	}
}

// Owner is the subsystem allowed to drive an instance in a given state.
type Owner int

const (
	OwnerNone Owner = iota
	OwnerMovement
	OwnerCapture
	OwnerProjection
)

func (o Owner) String() string {
	switch o {
	case OwnerMovement:
		return "movement"
	case OwnerCapture:
		return "capture"
	case OwnerProjection:
		return "projection"
	default:
		return "none"
	}
}

func (s State) Owner() Owner {
	switch s {
	case StateWandering, StateMovingToTarget, StateEscaping:
		return OwnerMovement
	case StateInCaptureMode:
		return OwnerCapture
	case StateProjected:
		return OwnerProjection
	default:
		return OwnerNone
	}
}

// Instance is a live creature. Its single state field makes the owning
// subsystem unambiguous at every tick.
type Instance struct {
	ID     string
	Config catalogs.CreatureConfig

	Position geom.Vec3
	Rotation geom.Quat
	Scale    geom.Vec3
	// Anchor is the center of the wander area.
	Anchor geom.Vec3

	Animation      string
	UsePhysics     bool
	Mass           float64
	Collider       geom.Vec3
	Shadows        bool
	GroundAnchored bool
	Fallback       bool
	Tint           string

	SpawnedAt time.Duration

	state State
}

func New(id string, cfg catalogs.CreatureConfig) *Instance {
	return &Instance{
		ID:       id,
		Config:   cfg,
		Rotation: geom.Identity(),
		Scale:    geom.Uniform(1),
		state:    StateWandering,
	}
}

func (i *Instance) State() State { return i.state }

func (i *Instance) Owner() Owner { return i.state.Owner() }

// Alive reports whether the instance is still present in the world.
func (i *Instance) Alive() bool {
	return i != nil && i.state != StateDestroyed && i.state != StateProjected
}

// Handoff moves the instance to state `to` if `from` currently owns it.
func (i *Instance) Handoff(from Owner, to State) bool {
	if i == nil || i.state.Owner() != from || from == OwnerNone {
		return false
	}
	i.state = to
	return true
}

// Destroy is terminal and idempotent. It reports whether this call destroyed it.
func (i *Instance) Destroy() bool {
	if i == nil || i.state == StateDestroyed {
		return false
	}
	i.state = StateDestroyed
	return true
}

// BoundingRadius approximates the collider as a sphere in world units.
func (i *Instance) BoundingRadius() float64 {
	return i.Collider.MaxComponent() * i.Scale.MaxComponent() / 2
}
