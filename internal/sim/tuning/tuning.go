package tuning

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickRateHz int `yaml:"tick_rate_hz" json:"tick_rate_hz"`

	Capture    CaptureTuning    `yaml:"capture" json:"capture"`
	Gesture    GestureTuning    `yaml:"gesture" json:"gesture"`
	Movement   MovementTuning   `yaml:"movement" json:"movement"`
	Spawn      SpawnTuning      `yaml:"spawn" json:"spawn"`
	Projection ProjectionTuning `yaml:"projection" json:"projection"`
}

type CaptureTuning struct {
	Distance    float64 `yaml:"capture_distance" json:"capture_distance"`
	MinDistance float64 `yaml:"min_capture_distance" json:"min_capture_distance"`
	SuccessRate float64 `yaml:"capture_success_rate" json:"capture_success_rate"`
	RarePenalty float64 `yaml:"rare_penalty" json:"rare_penalty"`

	// Presentation time held by the success/fail sequences before scanning resumes.
	SuccessDisplay time.Duration `yaml:"success_display" json:"success_display"`
	FailDisplay    time.Duration `yaml:"fail_display" json:"fail_display"`
}

type GestureTuning struct {
	GrabThreshold     time.Duration `yaml:"grab_threshold" json:"grab_threshold"`
	Timeout           time.Duration `yaml:"gesture_timeout" json:"gesture_timeout"`
	GrabRange         float64       `yaml:"grab_range" json:"grab_range"`
	VelocitySmoothing float64       `yaml:"velocity_smoothing" json:"velocity_smoothing"`
}

type MovementTuning struct {
	WaitMin               time.Duration `yaml:"wait_min" json:"wait_min"`
	WaitMax               time.Duration `yaml:"wait_max" json:"wait_max"`
	WanderRadius          float64       `yaml:"wander_radius" json:"wander_radius"`
	HeightMin             float64       `yaml:"height_min" json:"height_min"`
	HeightMax             float64       `yaml:"height_max" json:"height_max"`
	Speed                 float64       `yaml:"speed" json:"speed"`
	EscapeDistance        float64       `yaml:"escape_distance" json:"escape_distance"`
	EscapeSpeedMultiplier float64       `yaml:"escape_speed_multiplier" json:"escape_speed_multiplier"`
	DetectionRadius       float64       `yaml:"detection_radius" json:"detection_radius"`
}

type SpawnTuning struct {
	AutoSpawn       bool          `yaml:"auto_spawn" json:"auto_spawn"`
	Radius          float64       `yaml:"spawn_radius" json:"spawn_radius"`
	Interval        time.Duration `yaml:"spawn_interval" json:"spawn_interval"`
	MaxCreatures    int           `yaml:"max_creatures" json:"max_creatures"`
	DefaultDistance float64       `yaml:"default_distance" json:"default_distance"`
}

type ProjectionTuning struct {
	DeviceIP     string        `yaml:"device_ip" json:"device_ip" env:"ARCATCH_DEVICE_IP"`
	Port         int           `yaml:"port" json:"port" env:"ARCATCH_DEVICE_PORT"`
	APIPath      string        `yaml:"api_path" json:"api_path" env:"ARCATCH_API_PATH"`
	HealthPath   string        `yaml:"health_path" json:"health_path"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	HealthEvery  time.Duration `yaml:"health_every" json:"health_every"`
	BodyEncoding string        `yaml:"body_encoding" json:"body_encoding"`
	// Distance ahead of the creature, along the throw direction, sent as the display target.
	ThrowDistance float64 `yaml:"throw_distance" json:"throw_distance"`
}

const (
	EncodingJSON = "json"
	EncodingFlat = "flat"
)

func Defaults() Tuning {
	return Tuning{
		TickRateHz: 30,
		Capture: CaptureTuning{
			Distance:       2,
			MinDistance:    0.2,
			SuccessRate:    0.8,
			RarePenalty:    0.7,
			SuccessDisplay: 1500 * time.Millisecond,
			FailDisplay:    time.Second,
		},
		Gesture: GestureTuning{
			GrabThreshold:     100 * time.Millisecond,
			Timeout:           2 * time.Second,
			GrabRange:         5,
			VelocitySmoothing: 0.3,
		},
		Movement: MovementTuning{
			WaitMin:               2 * time.Second,
			WaitMax:               5 * time.Second,
			WanderRadius:          1.5,
			HeightMin:             0,
			HeightMax:             0.5,
			Speed:                 0.5,
			EscapeDistance:        3,
			EscapeSpeedMultiplier: 3,
			DetectionRadius:       1,
		},
		Spawn: SpawnTuning{
			AutoSpawn:       true,
			Radius:          3,
			Interval:        5 * time.Second,
			MaxCreatures:    5,
			DefaultDistance: 2,
		},
		Projection: ProjectionTuning{
			DeviceIP:      "192.168.1.100",
			Port:          8080,
			APIPath:       "/api/creature",
			HealthPath:    "/api/health",
			Timeout:       5 * time.Second,
			BodyEncoding:  EncodingJSON,
			ThrowDistance: 2,
		},
	}
}

// Load reads tuning.yaml over Defaults. Missing keys keep their default.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// ApplyEnv overlays the device endpoint from ARCATCH_* environment variables.
func (t *Tuning) ApplyEnv() error {
	var p ProjectionTuning
	if err := env.Parse(&p); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if p.DeviceIP != "" {
		t.Projection.DeviceIP = p.DeviceIP
	}
	if p.Port > 0 {
		t.Projection.Port = p.Port
	}
	if p.APIPath != "" {
		t.Projection.APIPath = p.APIPath
	}
	t.Normalize()
	return nil
}

func (t *Tuning) Normalize() {
	d := Defaults()
	if t.TickRateHz <= 0 {
		t.TickRateHz = d.TickRateHz
	}
	if t.Capture.Distance <= 0 {
		t.Capture.Distance = d.Capture.Distance
	}
	if t.Capture.MinDistance < 0 {
		t.Capture.MinDistance = 0
	}
	if t.Capture.RarePenalty <= 0 {
		t.Capture.RarePenalty = d.Capture.RarePenalty
	}
	if t.Gesture.Timeout <= 0 {
		t.Gesture.Timeout = d.Gesture.Timeout
	}
	if t.Gesture.GrabRange <= 0 {
		t.Gesture.GrabRange = d.Gesture.GrabRange
	}
	if t.Gesture.VelocitySmoothing <= 0 || t.Gesture.VelocitySmoothing > 1 {
		t.Gesture.VelocitySmoothing = d.Gesture.VelocitySmoothing
	}
	if t.Movement.WaitMax < t.Movement.WaitMin {
		t.Movement.WaitMax = t.Movement.WaitMin
	}
	if t.Movement.HeightMax < t.Movement.HeightMin {
		t.Movement.HeightMax = t.Movement.HeightMin
	}
	if t.Movement.Speed <= 0 {
		t.Movement.Speed = d.Movement.Speed
	}
	if t.Movement.EscapeSpeedMultiplier <= 0 {
		t.Movement.EscapeSpeedMultiplier = d.Movement.EscapeSpeedMultiplier
	}
	if t.Spawn.MaxCreatures <= 0 {
		t.Spawn.MaxCreatures = d.Spawn.MaxCreatures
	}
	if t.Spawn.Interval <= 0 {
		t.Spawn.Interval = d.Spawn.Interval
	}
	if t.Spawn.DefaultDistance <= 0 {
		t.Spawn.DefaultDistance = d.Spawn.DefaultDistance
	}
	t.Projection.DeviceIP = strings.TrimSpace(t.Projection.DeviceIP)
	if t.Projection.Port <= 0 {
		t.Projection.Port = d.Projection.Port
	}
	if t.Projection.APIPath == "" {
		t.Projection.APIPath = d.Projection.APIPath
	}
	if !strings.HasPrefix(t.Projection.APIPath, "/") {
		t.Projection.APIPath = "/" + t.Projection.APIPath
	}
	if t.Projection.HealthPath == "" {
		t.Projection.HealthPath = d.Projection.HealthPath
	}
	if t.Projection.Timeout <= 0 {
		t.Projection.Timeout = d.Projection.Timeout
	}
	t.Projection.BodyEncoding = strings.ToLower(strings.TrimSpace(t.Projection.BodyEncoding))
	if t.Projection.BodyEncoding == "" {
		t.Projection.BodyEncoding = EncodingJSON
	}
}

func (t Tuning) Validate() error {
	if t.Capture.SuccessRate < 0 || t.Capture.SuccessRate > 1 {
		return fmt.Errorf("capture_success_rate must be in [0,1], got %v", t.Capture.SuccessRate)
	}
	if t.Capture.RarePenalty > 1 {
		return fmt.Errorf("rare_penalty must be <= 1, got %v", t.Capture.RarePenalty)
	}
	if t.Capture.MinDistance >= t.Capture.Distance {
		return fmt.Errorf("min_capture_distance %v must be below capture_distance %v", t.Capture.MinDistance, t.Capture.Distance)
	}
	switch t.Projection.BodyEncoding {
	case EncodingJSON, EncodingFlat:
	default:
		return fmt.Errorf("unknown body_encoding %q", t.Projection.BodyEncoding)
	}
	return nil
}

// TickDuration is the simulated time advanced per tick.
func (t Tuning) TickDuration() time.Duration {
	hz := t.TickRateHz
	if hz <= 0 {
		hz = 1
	}
	return time.Second / time.Duration(hz)
}
