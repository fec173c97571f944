package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"

	"arcatch.ai/internal/fieldview"
	persistlog "arcatch.ai/internal/persistence/log"
	"arcatch.ai/internal/projection"
	"arcatch.ai/internal/protocol"
	"arcatch.ai/internal/sim/catalogs"
	"arcatch.ai/internal/sim/events"
	"arcatch.ai/internal/sim/session"
	"arcatch.ai/internal/sim/tuning"
)

func main() {
	var (
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		seed       = flag.Int64("seed", time.Now().UnixNano(), "session seed")
		rangeM     = flag.Float64("range", 5, "map half-width in meters")
		sound      = flag.Bool("sound", true, "play feedback cues")
		logPath    = flag.String("log", "", "write session logs to this file")
		dataDir    = flag.String("data", "", "record session events under this directory")
		device     = flag.String("device", "", "display host override (ARCATCH_DEVICE_IP also works)")
	)
	flag.Parse()

	var logOut io.Writer = io.Discard
	if *logPath != "" {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintln(os.Stderr, "open log:", err)
			os.Exit(1)
		}
		defer f.Close()
		logOut = f
	}
	newLogger := func(name string) *log.Logger {
		return log.New(logOut, "["+name+"] ", log.LstdFlags|log.Lmicroseconds)
	}
	logger := newLogger("fieldview")

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalogs:", err)
		os.Exit(1)
	}
	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "load tuning:", err)
		os.Exit(1)
	}
	if err := tune.ApplyEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "tuning env:", err)
		os.Exit(1)
	}
	if *device != "" {
		tune.Projection.DeviceIP = *device
	}

	proj := projection.New(projection.Config{Tuning: tune.Projection, Logger: newLogger("projection")})
	defer proj.Close()
	sess, err := session.New(session.Config{
		Tuning:    tune,
		Catalog:   cats,
		Seed:      *seed,
		Projector: proj,
		Logger:    newLogger("session"),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "session:", err)
		os.Exit(1)
	}

	if *dataDir != "" {
		dir := filepath.Join(*dataDir, "sessions", "F"+time.Now().UTC().Format("20060102T150405"))
		eventLog := persistlog.NewEventLogger(dir)
		defer eventLog.Close()
		eventLog.Attach(sess.Bus())
		logger.Printf("recording events under %s", dir)
	}

	if *sound {
		bp := fieldview.NewBeepPlayer()
		if err := bp.Init(); err != nil {
			logger.Printf("audio disabled: %v", err)
		} else {
			defer bp.Close()
			fieldview.AttachCues(sess.Bus(), bp)
		}
	}

	notes := make(chan string, 16)
	sess.Bus().SubscribeAll(func(ev events.Event) {
		if s := note(ev); s != "" {
			select {
			case notes <- s:
			default:
			}
		}
	})

	screen, err := tcell.NewScreen()
	if err != nil {
		fmt.Fprintln(os.Stderr, "screen:", err)
		os.Exit(1)
	}
	if err := screen.Init(); err != nil {
		fmt.Fprintln(os.Stderr, "screen init:", err)
		os.Exit(1)
	}
	defer screen.Fini()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := sess.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("session stopped: %v", err)
		}
	}()

	keys := make(chan tcell.Event, 32)
	go func() {
		for {
			ev := screen.PollEvent()
			if ev == nil {
				return
			}
			keys <- ev
		}
	}()

	view := fieldview.NewView(screen, *rangeM, tune.Capture.Distance)
	ctrl := fieldview.NewController(cats.List())
	frame := time.NewTicker(33 * time.Millisecond)
	defer frame.Stop()

	for {
		select {
		case s := <-notes:
			view.Message = s
		case <-frame.C:
			view.Render(sess.Status())
		case ev := <-keys:
			switch ev := ev.(type) {
			case *tcell.EventResize:
				screen.Sync()
			case *tcell.EventKey:
				cmds, quit := ctrl.Key(ev)
				if quit {
					sess.Close()
					return
				}
				for _, cmd := range cmds {
					if msg := submit(ctx, sess, cmd); msg != "" {
						view.Message = msg
					}
				}
			}
		}
	}
}

// submit sends one command and returns a footer message for rejections.
func submit(ctx context.Context, sess *session.Session, cmd protocol.InputMsg) string {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	res, err := sess.Submit(ctx, cmd)
	if err != nil {
		return cmd.Type + ": " + err.Error()
	}
	if !res.Accepted || res.Code != "" {
		return fmt.Sprintf("%s: %s %s", cmd.Type, res.Code, res.Message)
	}
	return ""
}

func note(ev events.Event) string {
	switch ev.Kind {
	case events.CaptureSuccess:
		return "captured " + ev.InstanceID + "!"
	case events.CaptureFail:
		return ev.InstanceID + " broke free"
	case events.ThrowTarget:
		return "threw " + ev.InstanceID + " to the display"
	case events.ProjectionFailed:
		return "display unreachable; " + ev.InstanceID + " was lost"
	case events.LoadingError:
		return "could not load " + ev.CreatureID
	case events.SpawnRejected:
		return "too many creatures"
	}
	return ""
}
