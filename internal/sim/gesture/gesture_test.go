package gesture

import (
	"math"
	"testing"
	"time"

	"arcatch.ai/internal/sim/catalogs"
	"arcatch.ai/internal/sim/creature"
	"arcatch.ai/internal/sim/events"
	"arcatch.ai/internal/sim/geom"
	"arcatch.ai/internal/sim/tuning"
)

const ms = time.Millisecond

func setup(t *testing.T, positions ...geom.Vec3) (*Recognizer, *creature.ActiveSet, *[]events.Event) {
	t.Helper()
	active := creature.NewActiveSet(0)
	for i, p := range positions {
		inst := creature.New(string(rune('A'+i)), catalogs.Builtin().ByID["dragon"])
		inst.Position = p
		inst.Collider = inst.Config.ColliderSize
		inst.Scale = geom.Uniform(inst.Config.DefaultScale)
		if err := active.Add(inst); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	bus := events.NewBus()
	var got []events.Event
	bus.SubscribeAll(func(ev events.Event) { got = append(got, ev) })
	r := New(tuning.Defaults().Gesture, SphereRaycaster{Active: active}, nil, bus, nil)
	return r, active, &got
}

func count(evs []events.Event, k events.Kind) int {
	n := 0
	for _, ev := range evs {
		if ev.Kind == k {
			n++
		}
	}
	return n
}

func TestGrabThrow_PairsOnce(t *testing.T) {
	r, _, got := setup(t, geom.V(0, 0, -2))
	r.UpdateHand(geom.V(0, 0, 0), geom.Forward, 0)
	r.Press(0)
	r.Tick(50 * ms)
	if r.Phase() != PhasePressed {
		t.Fatalf("grab must wait for threshold, phase=%v", r.Phase())
	}
	r.Tick(100 * ms)
	if r.Phase() != PhaseGrabbing || r.Target() == nil {
		t.Fatalf("expected bound grab, phase=%v", r.Phase())
	}

	r.UpdateHand(geom.V(0.1, 0, 0), geom.Forward, 150*ms)
	r.UpdateHand(geom.V(0.2, 0, 0), geom.Forward, 200*ms)
	th, ok := r.Release(210 * ms)
	if !ok || th.Target == nil {
		t.Fatalf("expected a throw")
	}
	if math.Abs(th.Direction.X-1) > 1e-9 {
		t.Fatalf("throw direction should follow hand velocity, got %+v", th.Direction)
	}
	if _, again := r.Release(220 * ms); again {
		t.Fatalf("second release must not throw")
	}
	if count(*got, events.GrabTarget) != 1 || count(*got, events.ThrowTarget) != 1 {
		t.Fatalf("grab=%d throw=%d", count(*got, events.GrabTarget), count(*got, events.ThrowTarget))
	}
	if r.Target() != nil || r.Phase() != PhaseIdle {
		t.Fatalf("target left bound after release")
	}
}

func TestTimeout_CancelsWithoutThrow(t *testing.T) {
	r, _, got := setup(t, geom.V(0, 0, -2))
	r.Press(0)
	r.Tick(100 * ms)
	if r.Target() == nil {
		t.Fatalf("expected target")
	}
	r.Tick(2200 * ms)
	if r.Phase() != PhaseIdle || r.Target() != nil {
		t.Fatalf("stuck grab not cancelled")
	}
	if _, ok := r.Release(2300 * ms); ok {
		t.Fatalf("release after timeout must not throw")
	}
	if count(*got, events.ThrowTarget) != 0 || count(*got, events.GrabCancelled) != 1 {
		t.Fatalf("throw=%d cancelled=%d", count(*got, events.ThrowTarget), count(*got, events.GrabCancelled))
	}
}

func TestShortPress_Debounced(t *testing.T) {
	r, _, got := setup(t, geom.V(0, 0, -2))
	r.Press(0)
	if _, ok := r.Release(40 * ms); ok {
		t.Fatalf("tap must not throw")
	}
	if len(*got) != 0 || r.Phase() != PhaseIdle {
		t.Fatalf("tap produced events %v", *got)
	}
}

func TestGrab_MissStillGrabbing(t *testing.T) {
	r, _, got := setup(t, geom.V(3, 0, -2))
	r.Press(0)
	r.Tick(100 * ms)
	if r.Phase() != PhaseGrabbing || r.Target() != nil {
		t.Fatalf("miss should grab nothing, phase=%v", r.Phase())
	}
	if _, ok := r.Release(300 * ms); ok || len(*got) != 0 {
		t.Fatalf("miss produced a throw")
	}
}

func TestThrowDirection_FallsBackToHand(t *testing.T) {
	r, _, _ := setup(t, geom.V(0, 0, -2))
	r.UpdateHand(geom.V(0, 0, 0), geom.V(0, 0, -2), 0)
	r.Press(0)
	th, ok := r.Release(150 * ms)
	if !ok || th.Direction != geom.Forward {
		t.Fatalf("expected hand direction, got %+v ok=%v", th.Direction, ok)
	}
}

func TestSphereRaycaster_NearestEligible(t *testing.T) {
	_, active, _ := setup(t, geom.V(0, 0, -4), geom.V(0, 0, -2), geom.V(0, 0, -1))
	near, _ := active.Get("C")
	near.Handoff(creature.OwnerMovement, creature.StateInCaptureMode)

	ray := SphereRaycaster{Active: active}
	hit, d, ok := ray.Raycast(geom.Vec3{}, geom.Forward, 5)
	if !ok || hit.ID != "B" {
		t.Fatalf("expected B, got %v", hit)
	}
	if math.Abs(d-(2-0.48)) > 1e-9 {
		t.Fatalf("hit distance=%v", d)
	}
	if _, _, ok := ray.Raycast(geom.Vec3{}, geom.Forward, 1); ok {
		t.Fatalf("range limit ignored")
	}
}
