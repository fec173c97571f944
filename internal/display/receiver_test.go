package display

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"arcatch.ai/internal/projection"
	"arcatch.ai/internal/protocol"
	"arcatch.ai/internal/sim/catalogs"
	"arcatch.ai/internal/sim/creature"
	"arcatch.ai/internal/sim/geom"
	"arcatch.ai/internal/sim/tuning"
)

func newReceiver(t *testing.T, now *time.Time) *Receiver {
	t.Helper()
	r, err := NewReceiver(Config{Now: func() time.Time { return *now }})
	if err != nil {
		t.Fatalf("NewReceiver: %v", err)
	}
	return r
}

func TestReceiver_ShowsValidPayloadAndMapsDrawable(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := newReceiver(t, &now)
	if cur := r.Current(); !cur.Placeholder || cur.Drawable != PlaceholderDrawable {
		t.Fatalf("expected placeholder at start, got %+v", cur)
	}

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	body := `{"creatureId":"Dragon","creatureName":"Dragon","modelPath":"dragon.glb","targetPosition":{"x":0,"y":0,"z":-4}}`
	resp, err := http.Post(srv.URL+protocol.DefaultCreaturePath, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	var ack protocol.DisplayAck
	_ = json.NewDecoder(resp.Body).Decode(&ack)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || ack.Drawable != "dragon_360" {
		t.Fatalf("status=%d ack=%+v", resp.StatusCode, ack)
	}

	cur := r.Current()
	if cur.Placeholder || cur.Info != "ID: Dragon" || cur.Payload.TargetPosition.Z != -4 {
		t.Fatalf("unexpected showing: %+v", cur)
	}

	resp, err = http.Get(srv.URL + protocol.DefaultHealthPath)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	var h protocol.HealthMsg
	_ = json.NewDecoder(resp.Body).Decode(&h)
	resp.Body.Close()
	if h.Status != "ok" || h.Showing != "Dragon" || h.Shown != 1 {
		t.Fatalf("health=%+v", h)
	}
}

func TestReceiver_RejectsSchemaViolations(t *testing.T) {
	now := time.Now()
	r := newReceiver(t, &now)
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	for _, body := range []string{
		`{"creatureName":"Cat","modelPath":"cat.glb"}`,
		`{"creatureId":"","creatureName":"Cat","modelPath":"cat.glb"}`,
		`{"creatureId":"cat","creatureName":"Cat","modelPath":"cat.glb","targetPosition":{"x":"1"}}`,
		`not a payload`,
	} {
		resp, err := http.Post(srv.URL+protocol.DefaultCreaturePath, "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %q: status=%d", body, resp.StatusCode)
		}
	}
	if cur := r.Current(); !cur.Placeholder || r.Shown() != 0 {
		t.Fatalf("rejected bodies must leave the placeholder: %+v", cur)
	}
}

func TestReceiver_UnknownCreatureUsesDefaultDrawable(t *testing.T) {
	now := time.Now()
	r := newReceiver(t, &now)
	sh, err := r.Show([]byte(`{"creatureId":"fox","creatureName":"Fox","modelPath":"fox.glb"}`))
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if sh.Drawable != DefaultDrawable {
		t.Fatalf("drawable=%s", sh.Drawable)
	}
}

func TestReceiver_RotationSpinsAndDrags(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := newReceiver(t, &now)
	if got := r.Rotation(now.Add(time.Second)); got != 0 {
		t.Fatalf("placeholder must not spin, got %v", got)
	}
	if _, err := r.Show([]byte(`{"creatureId":"cat","creatureName":"Cat","modelPath":"cat.glb"}`)); err != nil {
		t.Fatalf("Show: %v", err)
	}
	if got := r.Rotation(now.Add(500 * time.Millisecond)); got != 10 {
		t.Fatalf("rotation after 500ms=%v want 10", got)
	}
	if got := r.Rotation(now.Add(18 * time.Second)); got != 0 {
		t.Fatalf("rotation must wrap at 360, got %v", got)
	}
	r.Drag(40)
	if got := r.Rotation(now); got != 340 {
		t.Fatalf("drag rotation=%v want 340", got)
	}
	if !r.ToggleZoom() || r.ToggleZoom() {
		t.Fatalf("zoom toggle mismatch")
	}
}

func TestReceiver_AcceptsChannelDeliveryInBothEncodings(t *testing.T) {
	for _, enc := range []string{tuning.EncodingJSON, tuning.EncodingFlat} {
		t.Run(enc, func(t *testing.T) {
			now := time.Now()
			shown := make(chan Showing, 1)
			r, err := NewReceiver(Config{Now: func() time.Time { return now }, OnShow: func(s Showing) { shown <- s }})
			if err != nil {
				t.Fatalf("NewReceiver: %v", err)
			}
			srv := httptest.NewServer(r.Handler())
			defer srv.Close()

			u, _ := url.Parse(srv.URL)
			host, port, _ := net.SplitHostPort(u.Host)
			tu := tuning.Defaults().Projection
			tu.DeviceIP = host
			tu.Port, _ = strconv.Atoi(port)
			tu.BodyEncoding = enc
			tu.Timeout = 2 * time.Second

			ch := projection.New(projection.Config{Tuning: tu})
			defer ch.Close()

			inst := creature.New("C000001", catalogs.Builtin().ByID["wolf"])
			inst.Position = geom.V(1, 0, -2)
			inst.Scale = geom.Uniform(0.6)
			if _, ok := ch.Project(inst, creature.OwnerMovement, geom.V(0, 0, -1)); !ok {
				t.Fatalf("Project refused")
			}

			select {
			case c := <-ch.Completions():
				if !c.OK() || c.StatusCode != http.StatusOK {
					t.Fatalf("completion=%+v", c)
				}
			case <-time.After(3 * time.Second):
				t.Fatalf("no completion")
			}
			sh := <-shown
			if sh.CreatureID != "wolf" || sh.Drawable != "wolf_360" || sh.Payload.OriginalScale.X != 0.6 {
				t.Fatalf("unexpected showing: %+v", sh)
			}
		})
	}
}
