package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"arcatch.ai/internal/persistence/indexdb"
	persistlog "arcatch.ai/internal/persistence/log"
	"arcatch.ai/internal/projection"
	"arcatch.ai/internal/protocol"
	"arcatch.ai/internal/sim/catalogs"
	"arcatch.ai/internal/sim/session"
	"arcatch.ai/internal/sim/tuning"
	"arcatch.ai/internal/transport/observer"
)

func newTestApp(t *testing.T) *app {
	t.Helper()

	device := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(device.Close)
	host, port, err := net.SplitHostPort(strings.TrimPrefix(device.URL, "http://"))
	if err != nil {
		t.Fatalf("device addr: %v", err)
	}

	tune := tuning.Defaults()
	tune.Spawn.AutoSpawn = false
	tune.Projection.DeviceIP = host
	tune.Projection.Port, _ = strconv.Atoi(port)

	dir := t.TempDir()
	ledger, err := indexdb.OpenSQLite(filepath.Join(dir, "ledger", "captures.sqlite"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	proj := projection.New(projection.Config{Tuning: tune.Projection})
	sess, err := session.New(session.Config{Tuning: tune, Catalog: catalogs.Builtin(), Seed: 7, Projector: proj})
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	eventLog := persistlog.NewEventLogger(dir)
	eventLog.Attach(sess.Bus())
	ledger.Attach(sess.Bus())
	hub := observer.NewHub(64)
	hub.Attach(sess.Bus())

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = sess.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		sess.Close()
		_ = proj.Close()
		_ = eventLog.Close()
		_ = ledger.Close()
	})

	return &app{
		sess:      sess,
		proj:      proj,
		ledger:    ledger,
		eventLog:  eventLog,
		observer:  observer.NewServer(observer.Config{Hub: hub}),
		sessionID: "test",
		logger:    log.New(io.Discard, "", 0),
	}
}

func postInput(t *testing.T, mux http.Handler, body string) (int, protocol.InputResultMsg) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/input", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	var res protocol.InputResultMsg
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode input result: %v body=%s", err, rec.Body.String())
	}
	return rec.Code, res
}

func TestInput_SpawnAndStatus(t *testing.T) {
	a := newTestApp(t)
	mux := a.routes()

	code, res := postInput(t, mux, `{"type":"SPAWN","creature_id":"dragon","req_id":"r1"}`)
	if code != http.StatusOK || !res.Accepted || res.InstanceID == "" || res.ReqID != "r1" {
		t.Fatalf("spawn: code=%d res=%+v", code, res)
	}

	code, res = postInput(t, mux, `{"type":"SPAWN","creature_id":"dargon"}`)
	if code != http.StatusOK || !res.Accepted || res.Code != protocol.ErrUnknownCreature {
		t.Fatalf("unknown id should spawn fallback: code=%d res=%+v", code, res)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code=%d", rec.Code)
	}
	var st protocol.StatusMsg
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Type != protocol.TypeStatus || len(st.Creatures) != 2 {
		t.Fatalf("status=%+v", st)
	}
	var dragon bool
	for _, c := range st.Creatures {
		if c.CreatureID == "dragon" && c.Rare {
			dragon = true
		}
	}
	if !dragon {
		t.Fatalf("dragon missing from status: %+v", st.Creatures)
	}
}

func TestInput_Rejections(t *testing.T) {
	a := newTestApp(t)
	mux := a.routes()

	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"bad json", `{"type":`, http.StatusBadRequest, protocol.ErrProtoBadRequest},
		{"protocol version", `{"type":"UNLOAD_ALL","protocol_version":"0.1"}`, http.StatusBadRequest, protocol.ErrProtoBadRequest},
		{"unknown command", `{"type":"DANCE"}`, http.StatusBadRequest, protocol.ErrUnknownCommand},
		{"viewer without position", `{"type":"VIEWER"}`, http.StatusBadRequest, protocol.ErrBadRequest},
		{"capture without target", `{"type":"CAPTURE_ATTEMPT"}`, http.StatusConflict, protocol.ErrInvalidTarget},
		{"unload unknown", `{"type":"UNLOAD","instance_id":"C999999"}`, http.StatusConflict, protocol.ErrInvalidTarget},
	}
	for _, tc := range cases {
		code, res := postInput(t, mux, tc.body)
		if code != tc.status || res.Accepted || res.Code != tc.code {
			t.Fatalf("%s: code=%d res=%+v", tc.name, code, res)
		}
		if !protocol.IsKnownCode(res.Code) {
			t.Fatalf("%s: unknown code %q", tc.name, res.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/input", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /v1/input code=%d", rec.Code)
	}
}

func TestInput_CapacityConflict(t *testing.T) {
	a := newTestApp(t)
	mux := a.routes()

	max := a.sess.Tuning().Spawn.MaxCreatures
	for i := 0; i < max; i++ {
		if code, res := postInput(t, mux, `{"type":"SPAWN","creature_id":"cat"}`); code != http.StatusOK || !res.Accepted {
			t.Fatalf("spawn %d: code=%d res=%+v", i, code, res)
		}
	}
	code, res := postInput(t, mux, `{"type":"SPAWN","creature_id":"cat"}`)
	if code != http.StatusConflict || res.Code != protocol.ErrCapacity {
		t.Fatalf("over capacity: code=%d res=%+v", code, res)
	}

	if code, res := postInput(t, mux, `{"type":"UNLOAD_ALL"}`); code != http.StatusOK || !res.Accepted {
		t.Fatalf("unload all: code=%d res=%+v", code, res)
	}
	if code, _ := postInput(t, mux, `{"type":"SPAWN","creature_id":"cat"}`); code != http.StatusOK {
		t.Fatalf("spawn after unload all: code=%d", code)
	}
}

func TestLedger_LoopbackOnlyAndSummary(t *testing.T) {
	a := newTestApp(t)
	mux := a.routes()

	postInput(t, mux, `{"type":"SPAWN","creature_id":"dragon"}`)
	postInput(t, mux, `{"type":"SPAWN","creature_id":"dragon"}`)
	postInput(t, mux, `{"type":"SPAWN","creature_id":"wolf"}`)

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/ledger", nil)
	req.RemoteAddr = "8.8.8.8:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-loopback ledger, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/v1/ledger", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("ledger code=%d body=%s", rec.Code, rec.Body.String())
	}
	var body struct {
		OK        bool                      `json:"ok"`
		SessionID string                    `json:"session_id"`
		Creatures []indexdb.CreatureSummary `json:"creatures"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode ledger: %v", err)
	}
	if !body.OK || body.SessionID != "test" || len(body.Creatures) != 2 {
		t.Fatalf("ledger=%+v", body)
	}
	if body.Creatures[0].CreatureID != "dragon" || body.Creatures[0].Spawns != 2 {
		t.Fatalf("dragon row=%+v", body.Creatures[0])
	}
	if body.Creatures[1].CreatureID != "wolf" || body.Creatures[1].Spawns != 1 {
		t.Fatalf("wolf row=%+v", body.Creatures[1])
	}
}

func TestMetrics_ExposesSessionAndSinks(t *testing.T) {
	a := newTestApp(t)
	mux := a.routes()
	postInput(t, mux, `{"type":"SPAWN","creature_id":"pikachu"}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics code=%d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`arcatch_session_events_total{session="test",kind="CREATURE_LOADED"} 1`,
		`arcatch_projection_total{session="test",result="sent"} 0`,
		`arcatch_ledger_dropped_total{session="test",table="spawns"} 0`,
		`arcatch_event_log_total{session="test",result="ok"}`,
		`arcatch_observer_clients{session="test"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}
