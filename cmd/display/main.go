package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arcatch.ai/internal/display"
	"arcatch.ai/internal/fieldview"
)

func main() {
	var (
		addr     = flag.String("addr", ":8080", "http listen address")
		sound    = flag.Bool("sound", false, "play a chime when a creature arrives")
		spinLogS = flag.Int("spin_log_s", 0, "log the turntable angle every N seconds (0 disables)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[display] ", log.LstdFlags|log.Lmicroseconds)

	var player fieldview.Player
	if *sound {
		bp := fieldview.NewBeepPlayer()
		if err := bp.Init(); err != nil {
			logger.Printf("audio disabled: %v", err)
		} else {
			defer bp.Close()
			player = bp
		}
	}

	recv, err := display.NewReceiver(display.Config{
		OnShow: func(sh display.Showing) {
			if player != nil {
				player.Play(fieldview.CueSuccess)
			}
		},
		Logger: logger,
	})
	if err != nil {
		logger.Fatalf("receiver: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *spinLogS > 0 {
		go func() {
			t := time.NewTicker(time.Duration(*spinLogS) * time.Second)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case now := <-t.C:
					cur := recv.Current()
					logger.Printf("showing=%q drawable=%s angle=%.1f zoomed=%v", cur.CreatureName, cur.Drawable, recv.Rotation(now), cur.Zoomed)
				}
			}
		}()
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           recv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("waiting for creatures on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}
