package display

import (
	"encoding/json"
	"io"
	"log"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"arcatch.ai/internal/projection"
	"arcatch.ai/internal/protocol"
	"arcatch.ai/schemas"
)

const (
	DefaultDrawable     = "default_creature_360"
	PlaceholderDrawable = "placeholder_creature"

	// SpinDegreesPerSecond matches one degree every 50ms.
	SpinDegreesPerSecond = 20.0

	maxBody = 64 * 1024
)

var drawables = map[string]string{
	"dragon":  "dragon_360",
	"pikachu": "pikachu_360",
	"cat":     "cat_360",
	"wolf":    "wolf_360",
}

// DrawableFor maps a creature id to its turntable image.
func DrawableFor(creatureID string) string {
	if d, ok := drawables[strings.ToLower(strings.TrimSpace(creatureID))]; ok {
		return d
	}
	return DefaultDrawable
}

// Showing is what the display currently presents.
type Showing struct {
	CreatureID   string                   `json:"creature_id,omitempty"`
	CreatureName string                   `json:"creature_name"`
	Info         string                   `json:"info"`
	Drawable     string                   `json:"drawable"`
	Payload      protocol.CreaturePayload `json:"payload"`
	Since        time.Time                `json:"since"`
	Placeholder  bool                     `json:"placeholder"`
	Zoomed       bool                     `json:"zoomed,omitempty"`
}

func placeholder(now time.Time) Showing {
	return Showing{
		CreatureName: "Waiting for a creature...",
		Info:         "Capture one with the glasses",
		Drawable:     PlaceholderDrawable,
		Since:        now,
		Placeholder:  true,
	}
}

type Config struct {
	// OnShow runs after a creature replaces the current display.
	OnShow func(Showing)
	Now    func() time.Time
	Logger *log.Logger
}

// Receiver is the companion display's HTTP endpoint.
type Receiver struct {
	cfg    Config
	schema *jsonschema.Schema

	mu      sync.Mutex
	showing Showing
	shown   int
	offset  float64
}

func NewReceiver(cfg Config) (*Receiver, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s, err := schemas.Compile(schemas.Creature)
	if err != nil {
		return nil, err
	}
	return &Receiver{cfg: cfg, schema: s, showing: placeholder(cfg.Now())}, nil
}

func (r *Receiver) Routes(mux *http.ServeMux) {
	mux.HandleFunc(protocol.DefaultCreaturePath, r.handleCreature)
	mux.HandleFunc(protocol.DefaultHealthPath, r.handleHealth)
	mux.HandleFunc("/api/current", r.handleCurrent)
}

func (r *Receiver) Handler() http.Handler {
	mux := http.NewServeMux()
	r.Routes(mux)
	return mux
}

func (r *Receiver) Current() Showing {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.showing
}

func (r *Receiver) Shown() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shown
}

// Rotation is the turntable angle in [0,360) at t. Manual drags add to it.
func (r *Receiver) Rotation(t time.Time) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.showing.Placeholder {
		return 0
	}
	deg := t.Sub(r.showing.Since).Seconds()*SpinDegreesPerSecond + r.offset
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// Drag turns the image by half the horizontal drag distance.
func (r *Receiver) Drag(dx float64) {
	r.mu.Lock()
	r.offset -= dx * 0.5
	r.mu.Unlock()
}

// ToggleZoom switches between 1x and 1.5x.
func (r *Receiver) ToggleZoom() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.showing.Zoomed = !r.showing.Zoomed
	return r.showing.Zoomed
}

// Show decodes one hand-off body. JSON bodies are schema-checked; bodies
// that are not JSON are read in the flat `field: value` form.
func (r *Receiver) Show(body []byte) (Showing, error) {
	p, err := r.decode(body)
	if err != nil {
		r.mu.Lock()
		r.showing = placeholder(r.cfg.Now())
		r.offset = 0
		r.mu.Unlock()
		return Showing{}, err
	}
	sh := Showing{
		CreatureID:   p.CreatureID,
		CreatureName: p.CreatureName,
		Info:         "ID: " + p.CreatureID,
		Drawable:     DrawableFor(p.CreatureID),
		Payload:      p,
		Since:        r.cfg.Now(),
	}
	r.mu.Lock()
	r.showing = sh
	r.shown++
	r.offset = 0
	r.mu.Unlock()

	r.printf("showing creature=%s name=%q drawable=%s", p.CreatureID, p.CreatureName, sh.Drawable)
	if r.cfg.OnShow != nil {
		r.cfg.OnShow(sh)
	}
	return sh, nil
}

func (r *Receiver) decode(body []byte) (protocol.CreaturePayload, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return projection.ParseFlat(body)
	}
	if err := r.schema.Validate(doc); err != nil {
		return protocol.CreaturePayload{}, err
	}
	var p protocol.CreaturePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return p, err
	}
	return p, nil
}

func (r *Receiver) handleCreature(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(req.Body, maxBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.DisplayAck{Status: "error", Code: protocol.ErrBadRequest, Message: err.Error()})
		return
	}
	sh, err := r.Show(body)
	if err != nil {
		r.printf("rejected body: %v", err)
		writeJSON(w, http.StatusBadRequest, protocol.DisplayAck{Status: "error", Code: protocol.ErrBadRequest, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, protocol.DisplayAck{Status: "ok", Drawable: sh.Drawable})
}

func (r *Receiver) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cur := r.Current()
	writeJSON(w, http.StatusOK, protocol.HealthMsg{Status: "ok", Showing: cur.CreatureID, Shown: r.Shown()})
}

func (r *Receiver) handleCurrent(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, r.Current())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (r *Receiver) printf(format string, args ...any) {
	if r.cfg.Logger != nil {
		r.cfg.Logger.Printf(format, args...)
	}
}
