package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	persistlog "arcatch.ai/internal/persistence/log"
	"arcatch.ai/internal/protocol"
	"arcatch.ai/internal/sim/events"
)

func main() {
	var (
		url    = flag.String("url", "ws://localhost:8081/v1/observe", "observer ws url")
		name   = flag.String("name", "observe", "client name")
		kinds  = flag.String("kinds", "", "comma-separated event kinds (empty: all)")
		since  = flag.Uint64("since", 0, "replay events after this cursor (0: whole backlog)")
		status = flag.Bool("status", false, "print STATUS pushes")
		replay = flag.String("replay", "", "print a recorded session directory instead of connecting")
	)
	flag.Parse()

	filter := splitKinds(*kinds)

	if *replay != "" {
		if err := replayDir(os.Stdout, *replay, filter); err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
		return
	}

	logger := log.New(os.Stderr, "[observe] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		Kinds:           filter,
		SinceCursor:     *since,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		_ = conn.Close()
	}()
	go keepalive(conn, 20*time.Second)

	p := &printer{out: os.Stdout, status: *status}
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Printf("stream ended: %v", err)
			}
			return
		}
		p.handle(msg)
	}
}

// keepalive sends a text frame so the server's read deadline keeps moving.
func keepalive(conn *websocket.Conn, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for range t.C {
		if err := conn.WriteJSON(protocol.BaseMessage{Type: "PING", ProtocolVersion: protocol.Version}); err != nil {
			return
		}
	}
}

type printer struct {
	out    io.Writer
	status bool
	cursor uint64
}

func (p *printer) handle(msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return
	}
	switch base.Type {
	case protocol.TypeWelcome:
		var w protocol.WelcomeMsg
		if err := json.Unmarshal(msg, &w); err != nil {
			return
		}
		p.cursor = w.Cursor
		fmt.Fprintf(p.out, "WELCOME session=%s tick_rate=%d capture_distance=%.2f success_rate=%.2f max=%d cursor=%d creatures=%s\n",
			w.SessionID, w.Params.TickRateHz, w.Params.CaptureDistance, w.Params.SuccessRate, w.Params.MaxCreatures, w.Cursor, strings.Join(w.Creatures, ","))

	case protocol.TypeEventBatch:
		var b protocol.EventBatchMsg
		if err := json.Unmarshal(msg, &b); err != nil {
			return
		}
		for _, it := range b.Events {
			fmt.Fprintf(p.out, "#%d %s\n", it.Cursor, formatEvent(it.Event))
		}

	case protocol.TypeEvent:
		var e protocol.EventMsg
		if err := json.Unmarshal(msg, &e); err != nil {
			return
		}
		p.cursor = e.Cursor
		fmt.Fprintf(p.out, "#%d %s\n", e.Cursor, formatEvent(e.Event))

	case protocol.TypeStatus:
		if !p.status {
			return
		}
		var st protocol.StatusMsg
		if err := json.Unmarshal(msg, &st); err != nil {
			return
		}
		fmt.Fprintf(p.out, "STATUS tick=%d creatures=%d capture=%s grab=%s in_flight=%d\n",
			st.Tick, len(st.Creatures), st.Capture.Phase, st.Grab.Phase, st.InFlight)
	}
}

// formatEvent renders one event as a single line with sorted data keys.
func formatEvent(ev events.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "tick=%d t=%.3fs %s", ev.Tick, float64(ev.AtMS)/1000, ev.Kind)
	if ev.InstanceID != "" {
		fmt.Fprintf(&b, " instance=%s", ev.InstanceID)
	}
	if ev.CreatureID != "" {
		fmt.Fprintf(&b, " creature=%s", ev.CreatureID)
	}
	keys := make([]string, 0, len(ev.Data))
	for k := range ev.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := json.Marshal(ev.Data[k])
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, " %s=%s", k, v)
	}
	return b.String()
}

func splitKinds(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		k = strings.ToUpper(strings.TrimSpace(k))
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

// replayDir prints every recorded event of a session directory in order,
// followed by per-kind totals.
func replayDir(out io.Writer, sessionDir string, kinds []string) error {
	files, err := persistlog.EventFiles(sessionDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no event files under %s", sessionDir)
	}
	want := map[string]bool{}
	for _, k := range kinds {
		want[k] = true
	}
	counts := map[events.Kind]int{}
	for _, path := range files {
		evs, err := persistlog.ReadEvents(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		for _, ev := range evs {
			if len(want) > 0 && !want[string(ev.Kind)] {
				continue
			}
			counts[ev.Kind]++
			fmt.Fprintln(out, formatEvent(ev))
		}
	}

	names := make([]string, 0, len(counts))
	for k := range counts {
		names = append(names, string(k))
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Fprintf(out, "total %s=%d\n", k, counts[events.Kind(k)])
	}
	return nil
}
