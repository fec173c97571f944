package projection

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"arcatch.ai/internal/protocol"
	"arcatch.ai/internal/sim/creature"
	"arcatch.ai/internal/sim/geom"
	"arcatch.ai/internal/sim/tuning"
)

// BuildPayload summarizes inst for the display. The target lies throwDistance
// along dir from the creature, facing dir.
func BuildPayload(inst *creature.Instance, dir geom.Vec3, throwDistance float64) protocol.CreaturePayload {
	dir = dir.Normalize()
	return protocol.CreaturePayload{
		CreatureID:     inst.Config.ID,
		CreatureName:   inst.Config.Name(),
		ModelPath:      inst.Config.ModelPath,
		TargetPosition: inst.Position.Add(dir.Scale(throwDistance)),
		TargetRotation: geom.LookRotation(dir),
		OriginalScale:  inst.Scale,
		AnimationData:  inst.Animation,
	}
}

func Encode(p protocol.CreaturePayload, encoding string) ([]byte, error) {
	switch encoding {
	case "", tuning.EncodingJSON:
		return json.Marshal(p)
	case tuning.EncodingFlat:
		return EncodeFlat(p), nil
	default:
		return nil, fmt.Errorf("unknown body encoding %q", encoding)
	}
}

var (
	flatEscaper   = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`)
	flatUnescaper = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\r`, "\r")
)

// EncodeFlat writes one `field: value` line per payload field. Backslashes
// and line breaks in string values are escaped.
func EncodeFlat(p protocol.CreaturePayload) []byte {
	var b bytes.Buffer
	line := func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteByte('\n')
	}
	text := func(k, v string) { line(k, flatEscaper.Replace(v)) }
	text("creatureId", p.CreatureID)
	text("creatureName", p.CreatureName)
	text("modelPath", p.ModelPath)
	line("targetPosition", floats(p.TargetPosition.X, p.TargetPosition.Y, p.TargetPosition.Z))
	line("targetRotation", floats(p.TargetRotation.X, p.TargetRotation.Y, p.TargetRotation.Z, p.TargetRotation.W))
	line("originalScale", floats(p.OriginalScale.X, p.OriginalScale.Y, p.OriginalScale.Z))
	text("animationData", p.AnimationData)
	return b.Bytes()
}

// ParseFlat reads the flat encoding. Unknown fields are ignored.
func ParseFlat(b []byte) (protocol.CreaturePayload, error) {
	var p protocol.CreaturePayload
	sc := bufio.NewScanner(bytes.NewReader(b))
	n := 0
	for sc.Scan() {
		n++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		k, v, ok := strings.Cut(text, ":")
		if !ok {
			return p, fmt.Errorf("line %d: missing ':'", n)
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		var err error
		switch k {
		case "creatureId":
			p.CreatureID = flatUnescaper.Replace(v)
		case "creatureName":
			p.CreatureName = flatUnescaper.Replace(v)
		case "modelPath":
			p.ModelPath = flatUnescaper.Replace(v)
		case "animationData":
			p.AnimationData = flatUnescaper.Replace(v)
		case "targetPosition":
			p.TargetPosition, err = parseVec(v)
		case "originalScale":
			p.OriginalScale, err = parseVec(v)
		case "targetRotation":
			var f []float64
			if f, err = parseFloats(v, 4); err == nil {
				p.TargetRotation = geom.Quat{X: f[0], Y: f[1], Z: f[2], W: f[3]}
			}
		}
		if err != nil {
			return p, fmt.Errorf("line %d %s: %w", n, k, err)
		}
	}
	if err := sc.Err(); err != nil {
		return p, err
	}
	if p.CreatureID == "" {
		return p, fmt.Errorf("missing creatureId")
	}
	return p, nil
}

func parseVec(s string) (geom.Vec3, error) {
	f, err := parseFloats(s, 3)
	if err != nil {
		return geom.Vec3{}, err
	}
	return geom.V(f[0], f[1], f[2]), nil
}

func parseFloats(s string, want int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != want {
		return nil, fmt.Errorf("want %d components, got %d", want, len(parts))
	}
	out := make([]float64, want)
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

func floats(vs ...float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}
