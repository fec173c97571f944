// Package projection hands captured or thrown creatures to the companion
// display over HTTP. Sends are fire-and-forget: the local instance is gone as
// soon as the request is dispatched.
package projection

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"arcatch.ai/internal/protocol"
	"arcatch.ai/internal/sim/creature"
	"arcatch.ai/internal/sim/geom"
	"arcatch.ai/internal/sim/tuning"
)

// Completion reports the end of one send. It is consumed on the session tick.
type Completion struct {
	InstanceID string
	CreatureID string
	Payload    protocol.CreaturePayload
	StatusCode int
	Err        error
	Elapsed    time.Duration
}

func (c Completion) OK() bool { return c.Err == nil }

type HealthResult struct {
	OK         bool
	StatusCode int
	Err        error
	At         time.Time
}

type Config struct {
	Tuning tuning.ProjectionTuning
	// Client overrides the HTTP client; its timeout bounds every send.
	Client *http.Client
	Logger *log.Logger
}

type Channel struct {
	cfg    Config
	client *http.Client

	done   chan Completion
	health chan HealthResult
	quit   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	inFlight  atomic.Int64
	sent      atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
}

func New(cfg Config) *Channel {
	client := cfg.Client
	if client == nil {
		timeout := cfg.Tuning.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Channel{
		cfg:    cfg,
		client: client,
		done:   make(chan Completion, 64),
		health: make(chan HealthResult, 4),
		quit:   make(chan struct{}),
	}
}

func (c *Channel) Endpoint() string { return c.url(c.cfg.Tuning.APIPath) }

func (c *Channel) HealthURL() string { return c.url(c.cfg.Tuning.HealthPath) }

func (c *Channel) url(path string) string {
	host := net.JoinHostPort(c.cfg.Tuning.DeviceIP, strconv.Itoa(c.cfg.Tuning.Port))
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "http://" + host + path
}

func (c *Channel) Completions() <-chan Completion { return c.done }

func (c *Channel) HealthResults() <-chan HealthResult { return c.health }

func (c *Channel) InFlight() int { return int(c.inFlight.Load()) }

type Stats struct {
	Sent      uint64 `json:"sent"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	InFlight  int    `json:"in_flight"`
}

func (c *Channel) Stats() Stats {
	return Stats{
		Sent:      c.sent.Load(),
		Delivered: c.delivered.Load(),
		Failed:    c.failed.Load(),
		InFlight:  c.InFlight(),
	}
}

// Project takes inst from its current owner, dispatches the payload and
// destroys the local instance. The send itself cannot be cancelled; only the
// client timeout bounds it. It reports false when from does not own inst.
func (c *Channel) Project(inst *creature.Instance, from creature.Owner, dir geom.Vec3) (protocol.CreaturePayload, bool) {
	if inst == nil || !inst.Handoff(from, creature.StateProjected) {
		return protocol.CreaturePayload{}, false
	}
	payload := BuildPayload(inst, dir, c.cfg.Tuning.ThrowDistance)
	body, err := Encode(payload, c.cfg.Tuning.BodyEncoding)
	if err != nil {
		// tuning.Validate rejects unknown encodings.
		body = EncodeFlat(payload)
	}

	c.sent.Add(1)
	c.inFlight.Add(1)
	c.wg.Add(1)
	go c.send(inst.ID, payload, body)

	inst.Destroy()
	c.printf("dispatched id=%s creature=%s url=%s", inst.ID, payload.CreatureID, c.Endpoint())
	return payload, true
}

func (c *Channel) send(instanceID string, payload protocol.CreaturePayload, body []byte) {
	defer c.wg.Done()
	start := time.Now()
	status, err := c.post(body)
	c.inFlight.Add(-1)

	res := Completion{
		InstanceID: instanceID,
		CreatureID: payload.CreatureID,
		Payload:    payload,
		StatusCode: status,
		Err:        err,
		Elapsed:    time.Since(start),
	}
	if err != nil {
		c.failed.Add(1)
		c.printf("projection failed id=%s creature=%s err=%v", instanceID, payload.CreatureID, err)
	} else {
		c.delivered.Add(1)
		c.printf("projection delivered id=%s creature=%s status=%d elapsed=%s", instanceID, payload.CreatureID, status, res.Elapsed)
	}
	select {
	case c.done <- res:
	case <-c.quit:
	}
}

func (c *Channel) post(body []byte) (int, error) {
	req, err := http.NewRequest(http.MethodPost, c.Endpoint(), bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("content-type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return resp.StatusCode, nil
}

// CheckHealth probes the display once. Failure is only a warning; later
// projections are attempted regardless.
func (c *Channel) CheckHealth(ctx context.Context) HealthResult {
	res := HealthResult{At: time.Now()}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.HealthURL(), nil)
	if err != nil {
		res.Err = err
		return res
	}
	resp, err := c.client.Do(req)
	if err != nil {
		res.Err = err
		c.printf("display health check failed url=%s err=%v", c.HealthURL(), err)
		return res
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 16*1024))
	_ = resp.Body.Close()
	res.StatusCode = resp.StatusCode
	res.OK = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !res.OK {
		res.Err = fmt.Errorf("status=%d", resp.StatusCode)
		c.printf("display health check failed url=%s status=%d", c.HealthURL(), resp.StatusCode)
	} else {
		c.printf("display reachable url=%s", c.HealthURL())
	}
	return res
}

// RunHealth probes once immediately and then every HealthEvery (if set),
// publishing results on HealthResults. It returns when ctx is done.
func (c *Channel) RunHealth(ctx context.Context) {
	c.publishHealth(c.CheckHealth(ctx))
	if c.cfg.Tuning.HealthEvery <= 0 {
		return
	}
	t := time.NewTicker(c.cfg.Tuning.HealthEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.publishHealth(c.CheckHealth(ctx))
		}
	}
}

func (c *Channel) publishHealth(r HealthResult) {
	select {
	case c.health <- r:
	default:
	}
}

// Wait blocks until every dispatched send has finished.
func (c *Channel) Wait() { c.wg.Wait() }

// Close stops delivering completions and waits for in-flight sends.
func (c *Channel) Close() error {
	c.once.Do(func() {
		close(c.quit)
		c.wg.Wait()
	})
	return nil
}

func (c *Channel) printf(format string, args ...any) {
	if c != nil && c.cfg.Logger != nil {
		c.cfg.Logger.Printf(format, args...)
	}
}
