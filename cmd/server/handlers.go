package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/pprof"
	"sort"
	"time"

	"arcatch.ai/internal/persistence/indexdb"
	persistlog "arcatch.ai/internal/persistence/log"
	"arcatch.ai/internal/projection"
	"arcatch.ai/internal/protocol"
	"arcatch.ai/internal/sim/session"
	"arcatch.ai/internal/transport/observer"
)

const maxInputBytes = 64 * 1024

// app bundles what the HTTP surface needs. ledger, eventLog and proj may be nil.
type app struct {
	sess      *session.Session
	proj      *projection.Channel
	ledger    *indexdb.SQLiteLedger
	eventLog  *persistlog.EventLogger
	observer  *observer.Server
	sessionID string
	logger    *log.Logger

	enablePprof bool
}

func (a *app) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", a.handleMetrics)
	mux.HandleFunc("/v1/input", a.handleInput)
	mux.HandleFunc("/v1/status", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(rw, http.StatusOK, a.sess.Status())
	})
	mux.HandleFunc("/admin/v1/ledger", a.handleLedger)
	if a.observer != nil {
		mux.HandleFunc("/v1/observe", a.observer.Handler())
	}
	if a.enablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

func (a *app) handleInput(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxInputBytes+1))
	if err != nil || len(body) > maxInputBytes {
		writeInputError(rw, http.StatusBadRequest, "", protocol.ErrProtoBadRequest, "unreadable or oversized body")
		return
	}
	var msg protocol.InputMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		writeInputError(rw, http.StatusBadRequest, "", protocol.ErrProtoBadRequest, "bad json: "+err.Error())
		return
	}
	if msg.ProtocolVersion != "" && msg.ProtocolVersion != protocol.Version {
		writeInputError(rw, http.StatusBadRequest, msg.ReqID, protocol.ErrProtoBadRequest, "unsupported protocol_version "+msg.ProtocolVersion)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	res, err := a.sess.Submit(ctx, msg)
	switch {
	case errors.Is(err, session.ErrClosed):
		writeInputError(rw, http.StatusServiceUnavailable, msg.ReqID, protocol.ErrSessionClosed, err.Error())
		return
	case err != nil:
		writeInputError(rw, http.StatusServiceUnavailable, msg.ReqID, protocol.ErrSessionBusy, err.Error())
		return
	}
	if !res.Accepted {
		a.printf("input rejected type=%s code=%s msg=%s", msg.Type, res.Code, res.Message)
	}
	writeJSON(rw, statusForResult(res), res)
}

// statusForResult maps a rejected command to an HTTP status. Accepted
// results, including fallback spawns, are 200.
func statusForResult(res protocol.InputResultMsg) int {
	if res.Accepted {
		return http.StatusOK
	}
	switch res.Code {
	case protocol.ErrBadRequest, protocol.ErrUnknownCommand:
		return http.StatusBadRequest
	case protocol.ErrCapacity, protocol.ErrInvalidTarget:
		return http.StatusConflict
	case protocol.ErrSessionBusy, protocol.ErrSessionClosed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *app) handleLedger(rw http.ResponseWriter, r *http.Request) {
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	if a.ledger == nil {
		http.Error(rw, "ledger disabled", http.StatusNotFound)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := a.ledger.Sync(ctx); err != nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	rows, err := a.ledger.Summary(ctx)
	if err != nil {
		writeJSON(rw, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "session_id": a.sessionID, "creatures": rows})
}

func (a *app) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	sid := a.sessionID

	m := a.sess.Metrics()
	fmt.Fprintf(rw, "# HELP arcatch_session_tick Current session tick.\n")
	fmt.Fprintf(rw, "# TYPE arcatch_session_tick gauge\n")
	fmt.Fprintf(rw, "arcatch_session_tick{session=%q} %d\n", sid, m.Tick)

	fmt.Fprintf(rw, "# HELP arcatch_session_active_creatures Creatures in the active set.\n")
	fmt.Fprintf(rw, "# TYPE arcatch_session_active_creatures gauge\n")
	fmt.Fprintf(rw, "arcatch_session_active_creatures{session=%q} %d\n", sid, m.Active)

	fmt.Fprintf(rw, "# HELP arcatch_session_in_flight Projections awaiting completion.\n")
	fmt.Fprintf(rw, "# TYPE arcatch_session_in_flight gauge\n")
	fmt.Fprintf(rw, "arcatch_session_in_flight{session=%q} %d\n", sid, m.InFlight)

	fmt.Fprintf(rw, "# HELP arcatch_session_events_total Session events by kind.\n")
	fmt.Fprintf(rw, "# TYPE arcatch_session_events_total counter\n")
	kinds := make([]string, 0, len(m.Events))
	for k := range m.Events {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(rw, "arcatch_session_events_total{session=%q,kind=%q} %d\n", sid, k, m.Events[k])
	}

	if a.proj != nil {
		ps := a.proj.Stats()
		fmt.Fprintf(rw, "# HELP arcatch_projection_total Projection sends by result.\n")
		fmt.Fprintf(rw, "# TYPE arcatch_projection_total counter\n")
		fmt.Fprintf(rw, "arcatch_projection_total{session=%q,result=%q} %d\n", sid, "sent", ps.Sent)
		fmt.Fprintf(rw, "arcatch_projection_total{session=%q,result=%q} %d\n", sid, "delivered", ps.Delivered)
		fmt.Fprintf(rw, "arcatch_projection_total{session=%q,result=%q} %d\n", sid, "failed", ps.Failed)
	}

	if a.ledger != nil {
		ls := a.ledger.Stats()
		fmt.Fprintf(rw, "# HELP arcatch_ledger_queue_depth Ledger writer backlog.\n")
		fmt.Fprintf(rw, "# TYPE arcatch_ledger_queue_depth gauge\n")
		fmt.Fprintf(rw, "arcatch_ledger_queue_depth{session=%q} %d\n", sid, ls.QueueDepth)

		fmt.Fprintf(rw, "# HELP arcatch_ledger_dropped_total Rows dropped because the ledger queue was full.\n")
		fmt.Fprintf(rw, "# TYPE arcatch_ledger_dropped_total counter\n")
		fmt.Fprintf(rw, "arcatch_ledger_dropped_total{session=%q,table=%q} %d\n", sid, "spawns", ls.DropSpawnTotal)
		fmt.Fprintf(rw, "arcatch_ledger_dropped_total{session=%q,table=%q} %d\n", sid, "captures", ls.DropCaptureTotal)
		fmt.Fprintf(rw, "arcatch_ledger_dropped_total{session=%q,table=%q} %d\n", sid, "projections", ls.DropProjectionTotal)
		fmt.Fprintf(rw, "arcatch_ledger_dropped_total{session=%q,table=%q} %d\n", sid, "load_errors", ls.DropLoadErrorTotal)

		fmt.Fprintf(rw, "# HELP arcatch_ledger_write_errors_total Failed ledger writes.\n")
		fmt.Fprintf(rw, "# TYPE arcatch_ledger_write_errors_total counter\n")
		fmt.Fprintf(rw, "arcatch_ledger_write_errors_total{session=%q} %d\n", sid, ls.WriteErrorTotal)
	}

	if a.eventLog != nil {
		written, errs, _ := a.eventLog.Stats()
		fmt.Fprintf(rw, "# HELP arcatch_event_log_total Event log writes by result.\n")
		fmt.Fprintf(rw, "# TYPE arcatch_event_log_total counter\n")
		fmt.Fprintf(rw, "arcatch_event_log_total{session=%q,result=%q} %d\n", sid, "ok", written)
		fmt.Fprintf(rw, "arcatch_event_log_total{session=%q,result=%q} %d\n", sid, "error", errs)
	}

	if a.observer != nil {
		hub := a.observer.Hub()
		fmt.Fprintf(rw, "# HELP arcatch_observer_clients Connected observers.\n")
		fmt.Fprintf(rw, "# TYPE arcatch_observer_clients gauge\n")
		fmt.Fprintf(rw, "arcatch_observer_clients{session=%q} %d\n", sid, hub.Clients())

		fmt.Fprintf(rw, "# HELP arcatch_observer_dropped_total Events dropped for slow observers.\n")
		fmt.Fprintf(rw, "# TYPE arcatch_observer_dropped_total counter\n")
		fmt.Fprintf(rw, "arcatch_observer_dropped_total{session=%q} %d\n", sid, hub.Dropped())
	}
}

func (a *app) printf(format string, args ...any) {
	if a != nil && a.logger != nil {
		a.logger.Printf(format, args...)
	}
}

func writeInputError(rw http.ResponseWriter, status int, reqID, code, message string) {
	writeJSON(rw, status, protocol.InputResultMsg{
		Type:            "INPUT_RESULT",
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		Code:            code,
		Message:         message,
	})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
