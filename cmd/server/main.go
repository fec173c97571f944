package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	persistlog "arcatch.ai/internal/persistence/log"
	"arcatch.ai/internal/projection"
	"arcatch.ai/internal/protocol"
	"arcatch.ai/internal/sim/catalogs"
	"arcatch.ai/internal/sim/loader"
	"arcatch.ai/internal/sim/session"
	"arcatch.ai/internal/sim/tuning"
	"arcatch.ai/internal/transport/observer"
)

func main() {
	var (
		addr       = flag.String("addr", ":8081", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		assetsDir  = flag.String("assets", "", "model directory; when set, spawns check the model file exists")
		seed       = flag.Int64("seed", 1337, "session seed")
		disableDB  = flag.Bool("disable_db", false, "disable the capture ledger")
		backlog    = flag.Int("observer_backlog", 4096, "events kept for observer replay")
		statusMS   = flag.Int("observer_status_ms", 1000, "status push interval for observers (0 disables)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)
	newLogger := func(name string) *log.Logger {
		return log.New(os.Stdout, "["+name+"] ", log.LstdFlags|log.Lmicroseconds)
	}

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	if err := tune.ApplyEnv(); err != nil {
		logger.Fatalf("tuning env: %v", err)
	}
	if err := tune.Validate(); err != nil {
		logger.Fatalf("tuning: %v", err)
	}

	sessionID := "S" + time.Now().UTC().Format("20060102T150405")
	sessionDir := filepath.Join(*dataDir, "sessions", sessionID)
	_ = os.MkdirAll(sessionDir, 0o755)

	ledger, err := openLedger(sessionDir, *disableDB)
	if err != nil {
		logger.Fatalf("open ledger: %v", err)
	}
	if ledger != nil {
		defer ledger.Close()
		if err := ledger.UpsertCatalogs(cats, tune); err != nil {
			logger.Printf("ledger: upsert catalogs: %v", err)
		}
	}

	proj := projection.New(projection.Config{Tuning: tune.Projection, Logger: newLogger("projection")})
	defer proj.Close()

	cfg := session.Config{
		Tuning:    tune,
		Catalog:   cats,
		Seed:      *seed,
		Projector: proj,
		Logger:    newLogger("session"),
	}
	if strings.TrimSpace(*assetsDir) != "" {
		cfg.Assets = loader.DirAssets(*assetsDir)
	}
	sess, err := session.New(cfg)
	if err != nil {
		logger.Fatalf("session: %v", err)
	}

	eventLog := persistlog.NewEventLogger(sessionDir)
	defer eventLog.Close()
	eventLog.Attach(sess.Bus())
	if ledger != nil {
		ledger.Attach(sess.Bus())
	}

	hub := observer.NewHub(*backlog)
	hub.Attach(sess.Bus())
	obsCfg := observer.Config{
		Hub: hub,
		Info: observer.Info{
			SessionID: sessionID,
			Params: protocol.SessionParams{
				TickRateHz:      tune.TickRateHz,
				CaptureDistance: tune.Capture.Distance,
				SuccessRate:     tune.Capture.SuccessRate,
				MaxCreatures:    tune.Spawn.MaxCreatures,
				Seed:            *seed,
			},
			CatalogDigest: cats.Digest,
			Creatures:     cats.List(),
		},
		AllowRemote: envBool("ARCATCH_OBSERVER_ALLOW_REMOTE", false),
		Logger:      newLogger("observer"),
	}
	if *statusMS > 0 {
		obsCfg.Status = sess.Status
		obsCfg.StatusEvery = time.Duration(*statusMS) * time.Millisecond
	}

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		if err := sess.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("session stopped: %v", err)
		}
	}()

	a := &app{
		sess:      sess,
		proj:      proj,
		ledger:    ledger,
		eventLog:  eventLog,
		observer:  observer.NewServer(obsCfg),
		sessionID: sessionID,
		logger:    logger,

		enablePprof: envBool("ARCATCH_ENABLE_PPROF_HTTP", false),
	}
	srv := &http.Server{
		Addr:              *addr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("session=%s device=%s creatures=%d listening on %s", sessionID, proj.Endpoint(), len(cats.ByID), *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	sess.Close()
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
