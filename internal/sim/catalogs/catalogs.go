package catalogs

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"arcatch.ai/internal/sim/geom"
)

// CreatureConfig is authored before runtime and read-only afterwards.
type CreatureConfig struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	ModelPath   string `json:"model_path"`

	DefaultScale     float64   `json:"default_scale"`
	DefaultPosition  geom.Vec3 `json:"default_position"`
	DefaultRotation  geom.Quat `json:"default_rotation"`
	DefaultAnimation string    `json:"default_animation"`
	Animations       []string  `json:"animations,omitempty"`

	UsePhysics    bool      `json:"use_physics"`
	Mass          float64   `json:"mass"`
	ColliderSize  geom.Vec3 `json:"collider_size"`
	ShadowEnabled bool      `json:"shadow_enabled"`

	IsRare bool `json:"is_rare"`
	Shy    bool `json:"shy"`

	MinPlacementDistance float64 `json:"min_placement_distance"`
	MaxPlacementDistance float64 `json:"max_placement_distance"`
	RequireGroundPlane   bool    `json:"require_ground_plane"`

	FallbackModel string `json:"fallback_model,omitempty"`
}

// SupportsAnimation reports whether name is playable. Configs that declare no
// animation list accept any name.
func (c CreatureConfig) SupportsAnimation(name string) bool {
	if name == "" {
		return false
	}
	if len(c.Animations) == 0 {
		return true
	}
	for _, a := range c.Animations {
		if a == name {
			return true
		}
	}
	return false
}

// Name returns the display name, falling back to the id.
func (c CreatureConfig) Name() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.ID
}

type Catalog struct {
	ByID   map[string]CreatureConfig
	Digest string
}

const (
	FallbackID    = "fallback"
	FallbackModel = "fallback_cube.glb"
)

// Fallback is the placeholder spawned when a creature cannot be loaded.
func Fallback() CreatureConfig {
	return CreatureConfig{
		ID:                   FallbackID,
		DisplayName:          "Unknown",
		ModelPath:            FallbackModel,
		DefaultScale:         0.3,
		DefaultRotation:      geom.Identity(),
		DefaultAnimation:     "",
		ColliderSize:         geom.Uniform(1),
		MinPlacementDistance: 0.5,
		MaxPlacementDistance: 5,
	}
}

// Builtin is the catalog used when no configs directory is present.
func Builtin() *Catalog {
	base := func(id, name string, scale float64, anims []string, rare bool, collider float64) CreatureConfig {
		return CreatureConfig{
			ID:                   id,
			DisplayName:          name,
			ModelPath:            id + ".glb",
			DefaultScale:         scale,
			DefaultRotation:      geom.Identity(),
			DefaultAnimation:     anims[0],
			Animations:           anims,
			Mass:                 1,
			ColliderSize:         geom.Uniform(collider),
			ShadowEnabled:        true,
			IsRare:               rare,
			MinPlacementDistance: 0.5,
			MaxPlacementDistance: 5,
			RequireGroundPlane:   true,
			FallbackModel:        FallbackModel,
		}
	}
	defs := []CreatureConfig{
		base("dragon", "Dragon", 0.8, []string{"idle", "fly", "roar"}, true, 1.2),
		base("pikachu", "Pikachu", 0.4, []string{"idle", "walk", "run"}, false, 0.8),
		base("cat", "Cat", 0.3, []string{"sit", "walk", "run"}, false, 0.6),
		base("wolf", "Wolf", 0.6, []string{"howl", "walk", "run"}, true, 1.0),
	}
	defs[2].Shy = true
	c := &Catalog{ByID: map[string]CreatureConfig{}}
	for _, d := range defs {
		c.ByID[d.ID] = d
	}
	b, _ := json.Marshal(defs)
	c.Digest = sha256Hex(b)
	return c
}

// Load reads <dir>/creatures.json followed by every <dir>/creatures/*.json in
// name order. A later definition with the same id replaces the earlier one.
// When neither exists the builtin catalog is returned.
func Load(dir string) (*Catalog, error) {
	var files []string
	single := filepath.Join(dir, "creatures.json")
	if _, err := os.Stat(single); err == nil {
		files = append(files, single)
	}
	sub := filepath.Join(dir, "creatures")
	entries, err := os.ReadDir(sub)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	var extra []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		extra = append(extra, filepath.Join(sub, e.Name()))
	}
	sort.Strings(extra)
	files = append(files, extra...)

	if len(files) == 0 {
		return Builtin(), nil
	}

	c := &Catalog{ByID: map[string]CreatureConfig{}}
	var concat bytes.Buffer
	for _, p := range files {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		concat.Write(b)
		concat.WriteByte('\n')

		defs, err := decodeDefs(b)
		if err != nil {
			return nil, fmt.Errorf("creatures %s: %w", filepath.Base(p), err)
		}
		for _, d := range defs {
			if strings.TrimSpace(d.ID) == "" {
				return nil, fmt.Errorf("creatures %s: empty id", filepath.Base(p))
			}
			c.ByID[d.ID] = normalize(d)
		}
	}
	c.Digest = sha256Hex(concat.Bytes())
	return c, nil
}

// decodeDefs accepts either a JSON array of configs or a single object.
func decodeDefs(b []byte) ([]CreatureConfig, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var defs []CreatureConfig
		if err := json.Unmarshal(trimmed, &defs); err != nil {
			return nil, err
		}
		return defs, nil
	}
	var d CreatureConfig
	if err := json.Unmarshal(trimmed, &d); err != nil {
		return nil, err
	}
	return []CreatureConfig{d}, nil
}

func normalize(d CreatureConfig) CreatureConfig {
	if d.DefaultScale <= 0 {
		d.DefaultScale = 1
	}
	if d.DefaultRotation == (geom.Quat{}) {
		d.DefaultRotation = geom.Identity()
	}
	if d.ColliderSize == (geom.Vec3{}) {
		d.ColliderSize = geom.Uniform(1)
	}
	if d.MaxPlacementDistance > 0 && d.MaxPlacementDistance < d.MinPlacementDistance {
		d.MaxPlacementDistance = d.MinPlacementDistance
	}
	if d.FallbackModel == "" {
		d.FallbackModel = FallbackModel
	}
	return d
}

func (c *Catalog) Get(id string) (CreatureConfig, bool) {
	if c == nil {
		return CreatureConfig{}, false
	}
	d, ok := c.ByID[id]
	return d, ok
}

// List returns the available creature ids in sorted order.
func (c *Catalog) List() []string {
	if c == nil {
		return nil
	}
	ids := make([]string, 0, len(c.ByID))
	for id := range c.ByID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
