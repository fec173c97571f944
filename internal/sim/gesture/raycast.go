package gesture

import (
	"arcatch.ai/internal/sim/creature"
	"arcatch.ai/internal/sim/geom"
)

// SphereRaycaster tests the ray against each instance's bounding sphere.
// The nearest hit wins.
type SphereRaycaster struct {
	Active *creature.ActiveSet
	// Eligible filters candidates; nil accepts movement-owned instances.
	Eligible func(*creature.Instance) bool
}

func (s SphereRaycaster) Raycast(origin, dir geom.Vec3, maxDist float64) (*creature.Instance, float64, bool) {
	if s.Active == nil {
		return nil, 0, false
	}
	dir = dir.Normalize()
	if dir.IsZero() {
		return nil, 0, false
	}
	var best *creature.Instance
	bestDist := 0.0
	for _, inst := range s.Active.Snapshot() {
		if !s.eligible(inst) {
			continue
		}
		d, ok := geom.RaySphere(origin, dir, inst.Position, inst.BoundingRadius())
		if !ok || (maxDist > 0 && d > maxDist) {
			continue
		}
		if best == nil || d < bestDist {
			best, bestDist = inst, d
		}
	}
	return best, bestDist, best != nil
}

func (s SphereRaycaster) eligible(inst *creature.Instance) bool {
	if !inst.Alive() {
		return false
	}
	if s.Eligible != nil {
		return s.Eligible(inst)
	}
	return inst.Owner() == creature.OwnerMovement
}
