package fieldview

import (
	"strings"
	"testing"

	"github.com/gdamore/tcell/v2"

	"arcatch.ai/internal/protocol"
	"arcatch.ai/internal/sim/events"
	"arcatch.ai/internal/sim/geom"
)

func newScreen(t *testing.T, w, h int) tcell.SimulationScreen {
	t.Helper()
	screen := tcell.NewSimulationScreen("UTF-8")
	if err := screen.Init(); err != nil {
		t.Fatalf("init screen: %v", err)
	}
	screen.SetSize(w, h)
	return screen
}

func row(screen tcell.Screen, y int) string {
	w, _ := screen.Size()
	var b strings.Builder
	for x := 0; x < w; x++ {
		r, _, _, _ := screen.GetContent(x, y)
		b.WriteRune(r)
	}
	return b.String()
}

// find scans the map area left of the side panel.
func find(screen tcell.Screen, want rune) (int, int, tcell.Style, bool) {
	w, h := screen.Size()
	for y := 1; y < h-1; y++ {
		for x := 0; x < w-panelWidth; x++ {
			r, _, style, _ := screen.GetContent(x, y)
			if r == want {
				return x, y, style, true
			}
		}
	}
	return 0, 0, tcell.StyleDefault, false
}

func TestView_RendersViewerCreaturesAndPanel(t *testing.T) {
	screen := newScreen(t, 100, 30)
	defer screen.Fini()

	ok := true
	st := protocol.StatusMsg{
		Tick:   42,
		Viewer: geom.Pose{Forward: geom.Forward},
		Creatures: []protocol.CreatureStatus{
			{InstanceID: "C000001", CreatureID: "dragon", Name: "Dragon", State: "IN_CAPTURE_MODE", Position: geom.V(0, 0, -2), Distance: 2},
			{InstanceID: "C000002", CreatureID: "wolf", Name: "Wolf", State: "ESCAPING", Position: geom.V(3, 0, 1), Distance: 3.2},
		},
		Capture: protocol.CaptureStatus{Phase: "CAPTURE_MODE", TargetID: "C000001", Capturing: true, Distance: 2, Progress: 0.5, Warning: "too_far", LastOK: &ok, LastOdds: 0.56},
		Grab:    protocol.GrabStatus{Phase: "IDLE"},
	}
	v := NewView(screen, 5, 2)
	v.Render(st)

	if got := row(screen, 0); !strings.Contains(got, "tick 42") || !strings.Contains(got, "creatures 2") {
		t.Fatalf("header=%q", got)
	}

	vx, vy, _, found := find(screen, '^')
	if !found {
		t.Fatalf("viewer glyph not drawn")
	}
	dx, dy, style, found := find(screen, 'D')
	if !found {
		t.Fatalf("dragon glyph not drawn")
	}
	if dx != vx || dy >= vy {
		t.Fatalf("dragon ahead of viewer should be straight up: viewer=(%d,%d) dragon=(%d,%d)", vx, vy, dx, dy)
	}
	if style != styleCapture {
		t.Fatalf("capture target must use capture style")
	}
	wx, wy, _, found := find(screen, 'W')
	if !found || wx <= vx || wy <= vy {
		t.Fatalf("wolf should be right of and behind viewer: viewer=(%d,%d) wolf=(%d,%d) found=%v", vx, vy, wx, wy, found)
	}

	var panel strings.Builder
	for y := 0; y < 30; y++ {
		panel.WriteString(row(screen, y))
		panel.WriteByte('\n')
	}
	for _, want := range []string{"CAPTURE CAPTURE_MODE", "warning: too far", "last: captured (56%)", "GRAB IDLE", "Dragon", "escaping"} {
		if !strings.Contains(panel.String(), want) {
			t.Fatalf("panel missing %q:\n%s", want, panel.String())
		}
	}
}

func TestView_SkipsCreaturesOutOfRange(t *testing.T) {
	screen := newScreen(t, 80, 24)
	defer screen.Fini()

	st := protocol.StatusMsg{
		Viewer:    geom.Pose{Forward: geom.V(1, 0, 0)},
		Creatures: []protocol.CreatureStatus{{InstanceID: "C1", Name: "Pikachu", Position: geom.V(0, 0, -50)}},
	}
	NewView(screen, 5, 0).Render(st)
	if _, _, _, found := find(screen, '>'); !found {
		t.Fatalf("viewer facing +X should draw '>'")
	}
	if _, _, _, found := find(screen, 'P'); found {
		t.Fatalf("out-of-range creature drawn on the map")
	}
}

func TestController_KeysMapToCommands(t *testing.T) {
	c := NewController([]string{"cat", "dragon"})

	cmds, quit := c.Key(tcell.NewEventKey(tcell.KeyRune, 'w', tcell.ModNone))
	if quit || len(cmds) != 2 || cmds[0].Type != protocol.CmdViewer || cmds[1].Type != protocol.CmdHand {
		t.Fatalf("w: %+v quit=%v", cmds, quit)
	}
	if cmds[0].Position.Z != -0.25 {
		t.Fatalf("forward step should move toward -Z, got %+v", *cmds[0].Position)
	}
	if cmds[1].Position.Z >= cmds[0].Position.Z {
		t.Fatalf("hand should be ahead of viewer")
	}

	c.Key(tcell.NewEventKey(tcell.KeyRight, 0, tcell.ModNone))
	for i := 0; i < 5; i++ {
		c.Key(tcell.NewEventKey(tcell.KeyRight, 0, tcell.ModNone))
	}
	if f := c.Pose.Facing(); f.X < 0.99 {
		t.Fatalf("six right turns of 15deg should face +X, got %+v", f)
	}

	cmds, _ = c.Key(tcell.NewEventKey(tcell.KeyRune, 'g', tcell.ModNone))
	if len(cmds) != 3 || cmds[2].Type != protocol.CmdGrabPress || !c.Grabbing() {
		t.Fatalf("first g should press: %+v", cmds)
	}
	cmds, _ = c.Key(tcell.NewEventKey(tcell.KeyRune, 'g', tcell.ModNone))
	if len(cmds) != 1 || cmds[0].Type != protocol.CmdGrabRelease || c.Grabbing() {
		t.Fatalf("second g should release: %+v", cmds)
	}

	cmds, _ = c.Key(tcell.NewEventKey(tcell.KeyRune, '2', tcell.ModNone))
	if len(cmds) != 1 || cmds[0].Type != protocol.CmdSpawn || cmds[0].CreatureID != "dragon" {
		t.Fatalf("2 should spawn dragon: %+v", cmds)
	}
	if cmds, _ = c.Key(tcell.NewEventKey(tcell.KeyRune, '9', tcell.ModNone)); len(cmds) != 0 {
		t.Fatalf("unbound slot should be ignored: %+v", cmds)
	}
	if cmds, _ = c.Key(tcell.NewEventKey(tcell.KeyRune, ' ', tcell.ModNone)); len(cmds) != 1 || cmds[0].Type != protocol.CmdCapture {
		t.Fatalf("space should attempt capture: %+v", cmds)
	}
	if _, quit = c.Key(tcell.NewEventKey(tcell.KeyEscape, 0, tcell.ModNone)); !quit {
		t.Fatalf("escape should quit")
	}
}

func TestAttachCues_MapsEvents(t *testing.T) {
	bus := events.NewBus()
	rec := &Recorder{}
	detach := AttachCues(bus, rec)

	bus.Publish(events.Event{Kind: events.CreatureLoaded})
	bus.Publish(events.Event{Kind: events.CaptureModeEntered})
	bus.Publish(events.Event{Kind: events.CaptureSuccess})
	bus.Publish(events.Event{Kind: events.CaptureFail})
	detach()
	bus.Publish(events.Event{Kind: events.GrabTarget})

	got := rec.Cues()
	want := []Cue{CueCaptureMode, CueSuccess, CueFail}
	if len(got) != len(want) {
		t.Fatalf("cues=%v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("cues=%v want %v", got, want)
		}
	}
}

func TestCueStreamer_Length(t *testing.T) {
	s := CueStreamer(CueSuccess)
	if s == nil {
		t.Fatalf("missing success cue")
	}
	buf := make([][2]float64, 512)
	total := 0
	peak := 0.0
	for {
		n, ok := s.Stream(buf)
		total += n
		for _, smp := range buf[:n] {
			if smp[0] > peak {
				peak = smp[0]
			}
		}
		if !ok {
			break
		}
	}
	want := sampleRate.N(90e6) + sampleRate.N(90e6) + sampleRate.N(160e6)
	if total != want {
		t.Fatalf("samples=%d want %d", total, want)
	}
	if peak <= 0 || peak > 1 {
		t.Fatalf("peak=%v", peak)
	}
	if CueStreamer(Cue(99)) != nil {
		t.Fatalf("unknown cue should have no sound")
	}
}
