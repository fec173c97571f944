// Package session owns one of each subsystem and steps them on a single
// goroutine. HTTP and websocket handlers reach it through channels.
package session

import (
	"context"
	"errors"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"arcatch.ai/internal/projection"
	"arcatch.ai/internal/protocol"
	"arcatch.ai/internal/sim/capture"
	"arcatch.ai/internal/sim/catalogs"
	"arcatch.ai/internal/sim/creature"
	"arcatch.ai/internal/sim/events"
	"arcatch.ai/internal/sim/geom"
	"arcatch.ai/internal/sim/gesture"
	"arcatch.ai/internal/sim/loader"
	"arcatch.ai/internal/sim/movement"
	"arcatch.ai/internal/sim/tuning"
)

var (
	ErrCapacity = errors.New("active creature capacity reached")
	ErrClosed   = errors.New("session closed")
)

// Projector hands creatures to the remote display.
type Projector interface {
	Project(inst *creature.Instance, from creature.Owner, dir geom.Vec3) (protocol.CreaturePayload, bool)
	Completions() <-chan projection.Completion
	InFlight() int
}

type Config struct {
	Tuning  tuning.Tuning
	Catalog *catalogs.Catalog
	Seed    int64

	// Placement proposes spawn points; nil scatters them around the viewer
	// within the spawn radius.
	Placement loader.PlacementProvider
	Assets    loader.AssetStore
	Raycaster gesture.Raycaster
	Projector Projector
	// CaptureRand overrides the resolution draw source.
	CaptureRand capture.Rand

	Logger *log.Logger
}

type inputReq struct {
	msg  protocol.InputMsg
	resp chan protocol.InputResultMsg
}

type Session struct {
	cfg    Config
	tun    tuning.Tuning
	logger *log.Logger

	bus       *events.Bus
	active    *creature.ActiveSet
	loader    *loader.Loader
	mover     *movement.Controller
	gesture   *gesture.Recognizer
	capture   *capture.Machine
	projector Projector
	spawnRng  *rand.Rand

	tick       uint64
	now        time.Duration
	viewer     geom.Pose
	sinceSpawn time.Duration
	// pending holds projected instances until their send completes.
	pending map[string]*creature.Instance

	inputs chan inputReq
	stop   chan struct{}
	once   sync.Once

	mu      sync.RWMutex
	status  protocol.StatusMsg
	metrics Metrics
	counts  map[events.Kind]uint64
}

func New(cfg Config) (*Session, error) {
	tun := cfg.Tuning
	if tun.TickRateHz == 0 {
		tun = tuning.Defaults()
	}
	if err := tun.Validate(); err != nil {
		return nil, err
	}
	if cfg.Catalog == nil {
		cfg.Catalog = catalogs.Builtin()
	}
	if cfg.Projector == nil {
		cfg.Projector = projection.New(projection.Config{Tuning: tun.Projection, Logger: cfg.Logger})
	}

	s := &Session{
		cfg:       cfg,
		tun:       tun,
		logger:    cfg.Logger,
		bus:       events.NewBus(),
		active:    creature.NewActiveSet(tun.Spawn.MaxCreatures),
		projector: cfg.Projector,
		spawnRng:  rand.New(rand.NewSource(cfg.Seed + 2)),
		viewer:    geom.Pose{Forward: geom.Forward},
		pending:   map[string]*creature.Instance{},
		inputs:    make(chan inputReq, 256),
		stop:      make(chan struct{}),
		counts:    map[events.Kind]uint64{},
	}
	s.bus.SetClock(func() (uint64, time.Duration) { return s.tick, s.now })
	s.bus.SubscribeAll(s.count)

	placement := cfg.Placement
	if placement == nil {
		placement = loader.PlacementFunc(s.scatter)
	}
	s.loader = loader.New(loader.Config{
		Catalog:         cfg.Catalog,
		Active:          s.active,
		Bus:             s.bus,
		Placement:       placement,
		Assets:          cfg.Assets,
		Viewer:          func() geom.Pose { return s.viewer },
		Clock:           func() time.Duration { return s.now },
		DefaultDistance: tun.Spawn.DefaultDistance,
		Logger:          cfg.Logger,
	})
	s.mover = movement.New(tun.Movement, rand.New(rand.NewSource(cfg.Seed+1)), s.bus, cfg.Logger)

	ray := cfg.Raycaster
	if ray == nil {
		ray = gesture.SphereRaycaster{Active: s.active}
	}
	s.gesture = gesture.New(tun.Gesture, ray, func() geom.Pose { return s.viewer }, s.bus, cfg.Logger)

	draws := cfg.CaptureRand
	if draws == nil {
		draws = rand.New(rand.NewSource(cfg.Seed))
	}
	s.capture = capture.New(capture.Config{
		Tuning:   tun.Capture,
		Mover:    s.mover,
		Sink:     capture.SinkFunc(s.captured),
		Rand:     draws,
		Bus:      s.bus,
		Logger:   cfg.Logger,
		Eligible: func(inst *creature.Instance) bool { return inst != s.gesture.Target() },
	})
	s.publishStatus()
	return s, nil
}

func (s *Session) Bus() *events.Bus { return s.bus }
func (s *Session) Active() *creature.ActiveSet { return s.active }
func (s *Session) Loader() *loader.Loader { return s.loader }
func (s *Session) Capture() *capture.Machine { return s.capture }
func (s *Session) Gesture() *gesture.Recognizer { return s.gesture }
func (s *Session) Tuning() tuning.Tuning { return s.tun }
func (s *Session) Catalog() *catalogs.Catalog { return s.cfg.Catalog }
func (s *Session) Now() time.Duration { return s.now }
func (s *Session) CurrentTick() uint64 { return s.tick }
func (s *Session) Viewer() geom.Pose { return s.viewer }

func (s *Session) Run(ctx context.Context) error {
	if h, ok := s.projector.(interface{ RunHealth(context.Context) }); ok {
		go h.RunHealth(ctx)
	}
	dt := s.tun.TickDuration()
	ticker := time.NewTicker(dt)
	defer ticker.Stop()

	var pending []inputReq
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case req := <-s.inputs:
			pending = append(pending, req)
		case <-ticker.C:
			for _, req := range pending {
				req.resp <- s.Apply(req.msg)
			}
			pending = pending[:0]
			s.StepOnce(dt)
		}
	}
}

func (s *Session) Close() {
	s.once.Do(func() { close(s.stop) })
}

// Submit queues msg for the next tick and waits for its result.
func (s *Session) Submit(ctx context.Context, msg protocol.InputMsg) (protocol.InputResultMsg, error) {
	req := inputReq{msg: msg, resp: make(chan protocol.InputResultMsg, 1)}
	select {
	case s.inputs <- req:
	case <-s.stop:
		return protocol.InputResultMsg{}, ErrClosed
	case <-ctx.Done():
		return protocol.InputResultMsg{}, ctx.Err()
	}
	select {
	case res := <-req.resp:
		return res, nil
	case <-s.stop:
		return protocol.InputResultMsg{}, ErrClosed
	case <-ctx.Done():
		return protocol.InputResultMsg{}, ctx.Err()
	}
}

// StepOnce advances the session clock by dt and ticks every subsystem.
// Outside of Run it must only be called from the owning goroutine.
func (s *Session) StepOnce(dt time.Duration) {
	s.tick++
	s.now += dt

	s.drainCompletions()
	s.drainHealth()
	s.runSpawner(dt)

	s.gesture.Tick(s.now)
	snapshot := s.active.Snapshot()
	s.mover.SetViewer(s.viewer)
	s.mover.Tick(dt, snapshot)
	s.capture.Tick(s.now, dt, s.viewer, s.active.Snapshot())
	s.sweep()

	s.publishStatus()
}

// Spawn loads a creature unless the active set is full. Unknown ids still
// spawn the fallback placeholder.
func (s *Session) Spawn(id string, opts loader.LoadOptions) (*creature.Instance, error) {
	if s.active.Full() {
		s.bus.Publish(events.Event{
			Kind:       events.SpawnRejected,
			CreatureID: id,
			Data:       map[string]any{"reason": "capacity", "capacity": s.active.Capacity()},
		})
		s.printf("spawn rejected creature=%s active=%d cap=%d", id, s.active.Len(), s.active.Capacity())
		return nil, ErrCapacity
	}
	return s.loader.LoadCreature(id, opts), nil
}

// Unload removes one creature, releasing it from capture or grab first.
func (s *Session) Unload(inst *creature.Instance) bool {
	if inst == nil {
		return false
	}
	if s.capture.Target() == inst {
		s.capture.Exit("unloaded")
	}
	s.gesture.Forget(inst)
	delete(s.pending, inst.ID)
	return s.loader.UnloadCreature(inst)
}

func (s *Session) UnloadAll() int {
	s.capture.Exit("unload_all")
	s.gesture.Cancel("unload_all")
	for id := range s.pending {
		delete(s.pending, id)
	}
	return s.loader.UnloadAll()
}

func (s *Session) captured(inst *creature.Instance) {
	dir := inst.Position.Sub(s.viewer.Position).Horizontal().Normalize()
	if dir.IsZero() {
		dir = s.viewer.Facing()
	}
	s.project(inst, creature.OwnerCapture, dir)
}

func (s *Session) throw(th gesture.Throw) {
	inst := th.Target
	if inst == nil || !s.active.Contains(inst) || inst.Owner() != creature.OwnerMovement {
		return
	}
	s.project(inst, creature.OwnerMovement, th.Direction)
}

func (s *Session) project(inst *creature.Instance, from creature.Owner, dir geom.Vec3) {
	payload, ok := s.projector.Project(inst, from, dir)
	if !ok {
		s.printf("projection refused id=%s owner=%s", inst.ID, inst.Owner())
		return
	}
	s.pending[inst.ID] = inst
	s.bus.Publish(events.Event{
		Kind:       events.ProjectionSent,
		InstanceID: inst.ID,
		CreatureID: inst.Config.ID,
		Data: map[string]any{
			"target_position": payload.TargetPosition,
			"model_path":      payload.ModelPath,
			"via":             from.String(),
		},
	})
}

func (s *Session) drainCompletions() {
	for {
		select {
		case c := <-s.projector.Completions():
			s.complete(c)
		default:
			return
		}
	}
}

func (s *Session) complete(c projection.Completion) {
	ev := events.Event{
		Kind:       events.ProjectionDelivered,
		InstanceID: c.InstanceID,
		CreatureID: c.CreatureID,
		Data:       map[string]any{"status": c.StatusCode, "elapsed_ms": c.Elapsed.Milliseconds()},
	}
	if !c.OK() {
		ev.Kind = events.ProjectionFailed
		ev.Data["error"] = c.Err.Error()
	}
	s.bus.Publish(ev)

	inst, ok := s.pending[c.InstanceID]
	if !ok {
		return
	}
	delete(s.pending, c.InstanceID)
	s.loader.UnloadCreature(inst)
}

func (s *Session) drainHealth() {
	h, ok := s.projector.(interface {
		HealthResults() <-chan projection.HealthResult
	})
	if !ok {
		return
	}
	for {
		select {
		case r := <-h.HealthResults():
			data := map[string]any{"ok": r.OK, "status": r.StatusCode}
			if r.Err != nil {
				data["error"] = r.Err.Error()
			}
			s.bus.Publish(events.Event{Kind: events.DeviceHealth, Data: data})
		default:
			return
		}
	}
}

// sweep drops destroyed instances that no projection is waiting on.
func (s *Session) sweep() {
	for _, inst := range s.active.Snapshot() {
		if inst.State() != creature.StateDestroyed {
			continue
		}
		if _, waiting := s.pending[inst.ID]; waiting {
			continue
		}
		s.loader.UnloadCreature(inst)
	}
}

func (s *Session) runSpawner(dt time.Duration) {
	sp := s.tun.Spawn
	if !sp.AutoSpawn || sp.Interval <= 0 {
		return
	}
	s.sinceSpawn += dt
	if s.sinceSpawn < sp.Interval {
		return
	}
	s.sinceSpawn = 0
	if s.active.Full() {
		return
	}
	ids := s.cfg.Catalog.List()
	if len(ids) == 0 {
		return
	}
	_, _ = s.Spawn(ids[s.spawnRng.Intn(len(ids))], loader.LoadOptions{})
}

// scatter proposes a ground point around the viewer within the spawn radius.
func (s *Session) scatter(cfg catalogs.CreatureConfig) (geom.Vec3, bool) {
	r := s.tun.Spawn.Radius
	if r <= 0 {
		return geom.Vec3{}, false
	}
	angle := s.spawnRng.Float64() * 2 * math.Pi
	d := cfg.MinPlacementDistance + s.spawnRng.Float64()*(r-cfg.MinPlacementDistance)
	if d < 0 {
		d = 0
	}
	p := s.viewer.Position.Add(geom.V(math.Cos(angle)*d, 0, math.Sin(angle)*d))
	p.Y = 0
	return p, true
}

func (s *Session) printf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
