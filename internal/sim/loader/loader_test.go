package loader

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"arcatch.ai/internal/sim/catalogs"
	"arcatch.ai/internal/sim/creature"
	"arcatch.ai/internal/sim/events"
	"arcatch.ai/internal/sim/geom"
)

func newTestLoader(t *testing.T, mut func(*Config)) (*Loader, *[]events.Event) {
	t.Helper()
	bus := events.NewBus()
	var got []events.Event
	bus.SubscribeAll(func(ev events.Event) { got = append(got, ev) })
	cfg := Config{
		Catalog: catalogs.Builtin(),
		Active:  creature.NewActiveSet(5),
		Bus:     bus,
	}
	if mut != nil {
		mut(&cfg)
	}
	return New(cfg), &got
}

func count(evs []events.Event, kind events.Kind) int {
	n := 0
	for _, ev := range evs {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func TestLoadCreature_UnknownIDSpawnsFallback(t *testing.T) {
	var errs []error
	l, got := newTestLoader(t, func(c *Config) {
		c.OnError = func(_ string, err error) { errs = append(errs, err) }
	})

	inst := l.LoadCreature("nonexistent", LoadOptions{})
	if inst == nil {
		t.Fatalf("LoadCreature must never return nil")
	}
	if !inst.Fallback || inst.Tint != "red" || inst.Config.ID != catalogs.FallbackID {
		t.Fatalf("expected red fallback, got %+v", inst)
	}
	if math.Abs(inst.Scale.X-0.3) > 1e-9 {
		t.Fatalf("fallback scale=%v", inst.Scale.X)
	}
	if n := count(*got, events.LoadingError); n != 1 {
		t.Fatalf("LOADING_ERROR count=%d", n)
	}
	if len(errs) != 1 || !errors.Is(errs[0], ErrUnknownCreature) {
		t.Fatalf("OnError calls=%v", errs)
	}
	if !l.Active().Contains(inst) {
		t.Fatalf("fallback must be registered")
	}
}

func TestLoadCreature_SuggestsCloseIDs(t *testing.T) {
	l, got := newTestLoader(t, nil)
	l.LoadCreature("dragn", LoadOptions{})
	var ev events.Event
	for _, e := range *got {
		if e.Kind == events.LoadingError {
			ev = e
		}
	}
	sugg, _ := ev.Data["suggestions"].([]string)
	if len(sugg) == 0 || sugg[0] != "dragon" {
		t.Fatalf("suggestions=%v", sugg)
	}
	if s := l.Suggest("zzzzzzzz"); len(s) != 0 {
		t.Fatalf("unexpected suggestions %v", s)
	}
}

func TestLoadCreature_DefaultsAndOverrides(t *testing.T) {
	l, got := newTestLoader(t, nil)
	scale := 1.5
	inst := l.LoadCreature("dragon", LoadOptions{Scale: &scale, Animation: "fly"})
	if inst.Fallback {
		t.Fatalf("dragon should load")
	}
	if inst.Scale.X != 1.5 || inst.Animation != "fly" {
		t.Fatalf("overrides not applied: scale=%v anim=%q", inst.Scale.X, inst.Animation)
	}
	if !inst.GroundAnchored {
		t.Fatalf("dragon requires a ground plane")
	}
	want := geom.V(0, 0, -2)
	if geom.Dist(inst.Position, want) > 1e-9 {
		t.Fatalf("default position=%+v", inst.Position)
	}
	if count(*got, events.CreatureLoaded) != 1 {
		t.Fatalf("expected one CREATURE_LOADED")
	}

	cat := l.LoadCreature("cat", LoadOptions{Animation: "breathe_fire"})
	if cat.Animation != "sit" {
		t.Fatalf("unsupported animation should fall back to default, got %q", cat.Animation)
	}
	if cat.ID == inst.ID {
		t.Fatalf("instance ids must be unique")
	}
}

func TestLoadCreature_PlacementClampedExplicitNot(t *testing.T) {
	l, _ := newTestLoader(t, func(c *Config) {
		c.Placement = PlacementFunc(func(catalogs.CreatureConfig) (geom.Vec3, bool) {
			return geom.V(0.3, 0, -9), true
		})
	})
	inst := l.LoadCreature("wolf", LoadOptions{})
	if math.Abs(inst.Position.Z+5) > 1e-9 || inst.Position.X != 0.3 {
		t.Fatalf("provider position should clamp to 5m, got %+v", inst.Position)
	}

	far := geom.V(0, 0, -9)
	inst = l.LoadCreature("wolf", LoadOptions{Position: &far})
	if inst.Position != far {
		t.Fatalf("explicit position must not be clamped: %+v", inst.Position)
	}
}

func TestClampAlongForward_Near(t *testing.T) {
	viewer := geom.Pose{Forward: geom.V(1, 0, 0)}
	p := ClampAlongForward(geom.V(0.1, 0, 2), viewer, 0.5, 5)
	if math.Abs(p.X-0.5) > 1e-9 || p.Z != 2 {
		t.Fatalf("near clamp=%+v", p)
	}
}

func TestLoadCreature_MissingAssetFallsBack(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "cat.glb"), []byte("glTF"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	var errs []error
	l, got := newTestLoader(t, func(c *Config) {
		c.Assets = DirAssets(dir)
		c.OnError = func(_ string, err error) { errs = append(errs, err) }
	})

	if inst := l.LoadCreature("cat", LoadOptions{}); inst.Fallback {
		t.Fatalf("cat asset exists")
	}
	pos := geom.V(1, 0, -1)
	inst := l.LoadCreature("pikachu", LoadOptions{Position: &pos})
	if !inst.Fallback || inst.Position != pos {
		t.Fatalf("expected fallback at requested position, got %+v", inst)
	}
	if len(errs) != 1 || !errors.Is(errs[0], ErrInvalidAsset) {
		t.Fatalf("errs=%v", errs)
	}
	if count(*got, events.LoadingError) != 1 {
		t.Fatalf("expected one LOADING_ERROR")
	}
}

func TestLoadCreature_BadFormat(t *testing.T) {
	cat := &catalogs.Catalog{ByID: map[string]catalogs.CreatureConfig{
		"blob": {ID: "blob", ModelPath: "blob.fbx", DefaultScale: 1},
	}}
	l, _ := newTestLoader(t, func(c *Config) { c.Catalog = cat })
	if inst := l.LoadCreature("blob", LoadOptions{}); !inst.Fallback {
		t.Fatalf("non-glb model should fall back")
	}
}

func TestUnloadCreature_Idempotent(t *testing.T) {
	l, got := newTestLoader(t, nil)
	a := l.LoadCreature("cat", LoadOptions{})
	b := l.LoadCreature("wolf", LoadOptions{})

	if !l.UnloadCreature(a) {
		t.Fatalf("first unload should succeed")
	}
	if l.UnloadCreature(a) {
		t.Fatalf("second unload should be a no-op")
	}
	if a.State() != creature.StateDestroyed {
		t.Fatalf("unloaded instance state=%v", a.State())
	}
	if count(*got, events.CreatureUnloaded) != 1 {
		t.Fatalf("expected one CREATURE_UNLOADED")
	}

	// A destroyed but still registered instance is removed without error.
	b.Destroy()
	if n := l.UnloadAll(); n != 1 || l.Active().Len() != 0 {
		t.Fatalf("UnloadAll n=%d remaining=%d", n, l.Active().Len())
	}
}
