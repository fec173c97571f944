package projection

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"arcatch.ai/internal/protocol"
	"arcatch.ai/internal/sim/catalogs"
	"arcatch.ai/internal/sim/creature"
	"arcatch.ai/internal/sim/geom"
	"arcatch.ai/internal/sim/tuning"
)

func tuningFor(t *testing.T, srvURL string) tuning.ProjectionTuning {
	t.Helper()
	tu := tuning.Defaults().Projection
	u, err := url.Parse(srvURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split host: %v", err)
	}
	tu.DeviceIP = host
	tu.Port, _ = strconv.Atoi(port)
	tu.Timeout = 2 * time.Second
	return tu
}

func newDragon() *creature.Instance {
	inst := creature.New("C000001", catalogs.Builtin().ByID["dragon"])
	inst.Position = geom.V(0, 0, -1)
	inst.Scale = geom.Uniform(0.8)
	inst.Animation = "idle"
	return inst
}

func waitCompletion(t *testing.T, ch *Channel) Completion {
	t.Helper()
	select {
	case c := <-ch.Completions():
		return c
	case <-time.After(3 * time.Second):
		t.Fatalf("no completion")
	}
	return Completion{}
}

func TestProject_DeliversAndDestroysBeforeReply(t *testing.T) {
	release := make(chan struct{})
	got := make(chan protocol.CreaturePayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/creature" {
			http.Error(w, "bad route", http.StatusNotFound)
			return
		}
		if ct := r.Header.Get("content-type"); ct != "application/json" {
			http.Error(w, "bad content type "+ct, http.StatusBadRequest)
			return
		}
		var p protocol.CreaturePayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		got <- p
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := New(Config{Tuning: tuningFor(t, srv.URL)})
	defer ch.Close()

	inst := newDragon()
	payload, ok := ch.Project(inst, creature.OwnerMovement, geom.V(0, 0, -1))
	if !ok {
		t.Fatalf("project rejected")
	}
	if inst.State() != creature.StateDestroyed {
		t.Fatalf("local instance must be gone at dispatch, state=%v", inst.State())
	}

	var recv protocol.CreaturePayload
	select {
	case recv = <-got:
	case <-time.After(3 * time.Second):
		t.Fatalf("display never received payload")
	}
	if ch.InFlight() != 1 {
		t.Fatalf("in flight=%d", ch.InFlight())
	}
	close(release)

	c := waitCompletion(t, ch)
	if !c.OK() || c.StatusCode != http.StatusOK || c.InstanceID != "C000001" {
		t.Fatalf("completion=%+v", c)
	}
	if recv != payload || recv.CreatureID != "dragon" || recv.CreatureName != "Dragon" {
		t.Fatalf("payload mismatch: %+v vs %+v", recv, payload)
	}
	if st := ch.Stats(); st.Sent != 1 || st.Delivered != 1 || st.InFlight != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestProject_FailureStillDestroysLocalCopy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "display busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ch := New(Config{Tuning: tuningFor(t, srv.URL)})
	defer ch.Close()

	inst := newDragon()
	if _, ok := ch.Project(inst, creature.OwnerMovement, geom.Forward); !ok {
		t.Fatalf("project rejected")
	}
	c := waitCompletion(t, ch)
	if c.OK() || c.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected failure, got %+v", c)
	}
	if inst.State() != creature.StateDestroyed || inst.Alive() {
		t.Fatalf("failed transmission must not resurrect the creature")
	}
	if st := ch.Stats(); st.Failed != 1 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestProject_UnreachableDevice(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	tu := tuningFor(t, srv.URL)
	srv.Close()

	ch := New(Config{Tuning: tu})
	defer ch.Close()
	inst := newDragon()
	ch.Project(inst, creature.OwnerMovement, geom.Forward)
	if c := waitCompletion(t, ch); c.OK() {
		t.Fatalf("expected network error")
	}
	if inst.Alive() {
		t.Fatalf("instance survived failed send")
	}
}

func TestProject_RequiresOwner(t *testing.T) {
	ch := New(Config{Tuning: tuning.Defaults().Projection})
	defer ch.Close()
	inst := newDragon()
	if _, ok := ch.Project(inst, creature.OwnerCapture, geom.Forward); ok {
		t.Fatalf("capture does not own a wandering creature")
	}
	if inst.State() != creature.StateWandering || ch.Stats().Sent != 0 {
		t.Fatalf("rejected projection changed state")
	}
}

func TestBuildPayload_TargetAndRotation(t *testing.T) {
	inst := newDragon()
	p := BuildPayload(inst, geom.V(1, 0, 0), 2)
	if geom.Dist(p.TargetPosition, geom.V(2, 0, -1)) > 1e-9 {
		t.Fatalf("target=%+v", p.TargetPosition)
	}
	facing := p.TargetRotation.Rotate(geom.Forward)
	if math.Abs(facing.X-1) > 1e-9 {
		t.Fatalf("rotation should face the throw, got %+v", facing)
	}
	if p.OriginalScale != geom.Uniform(0.8) || p.AnimationData != "idle" || p.ModelPath != "dragon.glb" {
		t.Fatalf("payload=%+v", p)
	}
}

func TestFlatEncoding_Parses(t *testing.T) {
	p := BuildPayload(newDragon(), geom.V(0, 0, -1), 2)
	body := EncodeFlat(p)
	back, err := ParseFlat(body)
	if err != nil {
		t.Fatalf("parse: %v\n%s", err, body)
	}
	if back != p {
		t.Fatalf("flat mismatch:\n%+v\n%+v", back, p)
	}
	if _, err := ParseFlat([]byte("creatureName: x\n")); err == nil {
		t.Fatalf("missing id must fail")
	}
	if _, err := Encode(p, "xml"); err == nil {
		t.Fatalf("unknown encoding must fail")
	}
}

func TestFlatEncoding_EscapesLineBreaks(t *testing.T) {
	p := BuildPayload(newDragon(), geom.V(0, 0, -1), 2)
	p.CreatureName = "Sir\nPounce\r"
	p.ModelPath = `models\dragon.glb`
	p.AnimationData = `roar\n`
	back, err := ParseFlat(EncodeFlat(p))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if back != p {
		t.Fatalf("flat mismatch:\n%+v\n%+v", back, p)
	}
}

func TestCheckHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	}))
	defer srv.Close()

	tu := tuningFor(t, srv.URL)
	ch := New(Config{Tuning: tu})
	if r := ch.CheckHealth(context.Background()); !r.OK {
		t.Fatalf("health=%+v", r)
	}
	tu.HealthPath = "/missing"
	ch = New(Config{Tuning: tu})
	if r := ch.CheckHealth(context.Background()); r.OK || r.StatusCode != http.StatusNotFound {
		t.Fatalf("expected failed probe, got %+v", r)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	go ch.RunHealth(ctx)
	select {
	case r := <-ch.HealthResults():
		if r.OK {
			t.Fatalf("cancelled probe reported ok")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no health result")
	}
}
