package loader

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"arcatch.ai/internal/sim/catalogs"
	"arcatch.ai/internal/sim/creature"
	"arcatch.ai/internal/sim/events"
	"arcatch.ai/internal/sim/geom"
)

var (
	ErrUnknownCreature = errors.New("unknown creature")
	ErrInvalidAsset    = errors.New("invalid model asset")
)

// PlacementProvider resolves a world-space spawn point for a config.
// ok=false means no surface was found and the loader uses its default.
type PlacementProvider interface {
	FindPlacementPosition(cfg catalogs.CreatureConfig) (pos geom.Vec3, ok bool)
}

type PlacementFunc func(cfg catalogs.CreatureConfig) (geom.Vec3, bool)

func (f PlacementFunc) FindPlacementPosition(cfg catalogs.CreatureConfig) (geom.Vec3, bool) {
	return f(cfg)
}

type AssetStore interface {
	Exists(modelPath string) bool
}

// DirAssets checks model files under a base directory.
type DirAssets string

func (d DirAssets) Exists(modelPath string) bool {
	st, err := os.Stat(filepath.Join(string(d), modelPath))
	return err == nil && !st.IsDir()
}

type LoadOptions struct {
	Position  *geom.Vec3
	Scale     *float64
	Animation string
}

type Config struct {
	Catalog *catalogs.Catalog
	Active  *creature.ActiveSet
	Bus     *events.Bus

	Placement PlacementProvider
	// Assets is optional; when nil only the model extension is checked.
	Assets AssetStore

	Viewer func() geom.Pose
	Clock  func() time.Duration

	// DefaultDistance places creatures ahead of the viewer when no position is known.
	DefaultDistance float64

	OnError func(requestedID string, err error)
	Logger  *log.Logger
}

type Loader struct {
	cfg     Config
	nextNum uint64
}

func New(cfg Config) *Loader {
	if cfg.Catalog == nil {
		cfg.Catalog = catalogs.Builtin()
	}
	if cfg.Active == nil {
		cfg.Active = creature.NewActiveSet(0)
	}
	if cfg.Viewer == nil {
		cfg.Viewer = func() geom.Pose { return geom.Pose{Forward: geom.Forward} }
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Duration { return 0 }
	}
	if cfg.DefaultDistance <= 0 {
		cfg.DefaultDistance = 2
	}
	return &Loader{cfg: cfg}
}

// LoadCreature spawns id and registers it. It never returns nil: any failure
// degrades to the fallback placeholder.
func (l *Loader) LoadCreature(id string, opts LoadOptions) *creature.Instance {
	cfg, ok := l.cfg.Catalog.Get(id)
	if !ok {
		err := fmt.Errorf("%w: %q", ErrUnknownCreature, id)
		return l.fail(id, opts, err, l.Suggest(id))
	}
	if err := l.verifyAsset(cfg.ModelPath); err != nil {
		return l.fail(id, opts, err, nil)
	}
	inst, err := l.spawn(cfg, opts)
	if err != nil {
		return l.fail(id, opts, err, nil)
	}
	l.register(inst)
	return inst
}

// UnloadCreature removes inst from the active set and destroys it. It is a
// no-op for instances that are not registered.
func (l *Loader) UnloadCreature(inst *creature.Instance) bool {
	if inst == nil || !l.cfg.Active.Contains(inst) {
		return false
	}
	l.cfg.Active.Remove(inst.ID)
	inst.Destroy()
	l.cfg.Bus.Publish(events.Event{Kind: events.CreatureUnloaded, InstanceID: inst.ID, CreatureID: inst.Config.ID})
	l.printf("unloaded id=%s creature=%s", inst.ID, inst.Config.ID)
	return true
}

func (l *Loader) UnloadAll() int {
	n := 0
	for _, inst := range l.cfg.Active.Snapshot() {
		if l.UnloadCreature(inst) {
			n++
		}
	}
	return n
}

func (l *Loader) ListAvailable() []string { return l.cfg.Catalog.List() }

func (l *Loader) Config(id string) (catalogs.CreatureConfig, bool) { return l.cfg.Catalog.Get(id) }

func (l *Loader) Active() *creature.ActiveSet { return l.cfg.Active }

// Suggest returns up to three known ids close to a mistyped one.
func (l *Loader) Suggest(id string) []string {
	token := strings.ToLower(strings.TrimSpace(id))
	if token == "" {
		return nil
	}
	type scored struct {
		id   string
		dist int
	}
	var out []scored
	for _, cand := range l.cfg.Catalog.List() {
		dist := levenshtein.ComputeDistance(token, strings.ToLower(cand))
		if dist > suggestLimit(len(cand)) {
			continue
		}
		out = append(out, scored{id: cand, dist: dist})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].dist == out[j].dist {
			return out[i].id < out[j].id
		}
		return out[i].dist < out[j].dist
	})
	if len(out) > 3 {
		out = out[:3]
	}
	ids := make([]string, 0, len(out))
	for _, s := range out {
		ids = append(ids, s.id)
	}
	return ids
}

func suggestLimit(n int) int {
	if n <= 4 {
		return 1
	}
	return n / 3
}

func (l *Loader) verifyAsset(modelPath string) error {
	if !strings.HasSuffix(strings.ToLower(modelPath), ".glb") {
		return fmt.Errorf("%w: unsupported format %q", ErrInvalidAsset, modelPath)
	}
	if l.cfg.Assets != nil && !l.cfg.Assets.Exists(modelPath) {
		return fmt.Errorf("%w: missing %q", ErrInvalidAsset, modelPath)
	}
	return nil
}

func (l *Loader) spawn(cfg catalogs.CreatureConfig, opts LoadOptions) (inst *creature.Instance, err error) {
	defer func() {
		if r := recover(); r != nil {
			inst = nil
			err = fmt.Errorf("spawn %s: %v", cfg.ID, r)
		}
	}()

	inst = creature.New(l.newID(), cfg)
	inst.Position = l.resolvePosition(cfg, opts.Position)
	inst.Anchor = inst.Position
	inst.Rotation = cfg.DefaultRotation
	if inst.Rotation == (geom.Quat{}) {
		inst.Rotation = geom.Identity()
	}

	scale := cfg.DefaultScale
	if opts.Scale != nil && *opts.Scale > 0 {
		scale = *opts.Scale
	}
	inst.Scale = geom.Uniform(scale)

	inst.UsePhysics = cfg.UsePhysics
	inst.Mass = cfg.Mass
	inst.Collider = cfg.ColliderSize
	inst.Shadows = cfg.ShadowEnabled
	inst.GroundAnchored = cfg.RequireGroundPlane

	switch {
	case cfg.SupportsAnimation(opts.Animation):
		inst.Animation = opts.Animation
	case opts.Animation != "":
		l.printf("animation %q not supported by %s; using %q", opts.Animation, cfg.ID, cfg.DefaultAnimation)
		inst.Animation = cfg.DefaultAnimation
	default:
		inst.Animation = cfg.DefaultAnimation
	}
	inst.SpawnedAt = l.cfg.Clock()
	return inst, nil
}

// resolvePosition prefers an explicit position, then the placement provider
// (clamped along the viewer's forward axis), then a point straight ahead.
func (l *Loader) resolvePosition(cfg catalogs.CreatureConfig, explicit *geom.Vec3) geom.Vec3 {
	if explicit != nil {
		return *explicit
	}
	viewer := l.cfg.Viewer()
	if l.cfg.Placement != nil {
		if p, ok := l.cfg.Placement.FindPlacementPosition(cfg); ok {
			return ClampAlongForward(p, viewer, cfg.MinPlacementDistance, cfg.MaxPlacementDistance)
		}
	}
	return l.defaultPosition(viewer, cfg)
}

func (l *Loader) defaultPosition(viewer geom.Pose, cfg catalogs.CreatureConfig) geom.Vec3 {
	d := l.cfg.DefaultDistance
	if d < cfg.MinPlacementDistance {
		d = cfg.MinPlacementDistance
	}
	if cfg.MaxPlacementDistance > 0 && d > cfg.MaxPlacementDistance {
		d = cfg.MaxPlacementDistance
	}
	p := viewer.Position.Add(viewer.Facing().Scale(d))
	p.Y = 0
	return p
}

// ClampAlongForward shifts p along the viewer's forward axis so its forward
// distance lies in [min,max]. A non-positive max means unbounded.
func ClampAlongForward(p geom.Vec3, viewer geom.Pose, min, max float64) geom.Vec3 {
	fwd := viewer.Facing()
	d := p.Sub(viewer.Position).Dot(fwd)
	switch {
	case max > 0 && d > max:
		return p.Sub(fwd.Scale(d - max))
	case d < min:
		return p.Add(fwd.Scale(min - d))
	}
	return p
}

func (l *Loader) fail(id string, opts LoadOptions, err error, suggestions []string) *creature.Instance {
	if len(suggestions) > 0 {
		l.printf("load failed id=%q err=%v did_you_mean=%s", id, err, strings.Join(suggestions, ","))
	} else {
		l.printf("load failed id=%q err=%v", id, err)
	}
	data := map[string]any{"requested_id": id, "error": err.Error()}
	if len(suggestions) > 0 {
		data["suggestions"] = suggestions
	}
	l.cfg.Bus.Publish(events.Event{Kind: events.LoadingError, CreatureID: id, Data: data})
	if l.cfg.OnError != nil {
		l.cfg.OnError(id, err)
	}
	return l.loadFallback(opts)
}

func (l *Loader) loadFallback(opts LoadOptions) *creature.Instance {
	cfg := catalogs.Fallback()
	inst := creature.New(l.newID(), cfg)
	if opts.Position != nil {
		inst.Position = *opts.Position
	} else {
		inst.Position = l.defaultPosition(l.cfg.Viewer(), cfg)
	}
	inst.Anchor = inst.Position
	inst.Scale = geom.Uniform(cfg.DefaultScale)
	inst.Collider = cfg.ColliderSize
	inst.Fallback = true
	inst.Tint = "red"
	inst.SpawnedAt = l.cfg.Clock()
	l.register(inst)
	return inst
}

func (l *Loader) register(inst *creature.Instance) {
	if err := l.cfg.Active.Add(inst); err != nil {
		l.printf("register id=%s: %v", inst.ID, err)
	}
	l.cfg.Bus.Publish(events.Event{
		Kind:       events.CreatureLoaded,
		InstanceID: inst.ID,
		CreatureID: inst.Config.ID,
		Data: map[string]any{
			"position":        inst.Position,
			"scale":           inst.Scale.X,
			"animation":       inst.Animation,
			"fallback":        inst.Fallback,
			"ground_anchored": inst.GroundAnchored,
		},
	})
	l.printf("loaded id=%s creature=%s pos=(%.2f,%.2f,%.2f) fallback=%v", inst.ID, inst.Config.ID, inst.Position.X, inst.Position.Y, inst.Position.Z, inst.Fallback)
}

func (l *Loader) newID() string {
	l.nextNum++
	return fmt.Sprintf("C%06d", l.nextNum)
}

func (l *Loader) printf(format string, args ...any) {
	if l.cfg.Logger != nil {
		l.cfg.Logger.Printf(format, args...)
	}
}
