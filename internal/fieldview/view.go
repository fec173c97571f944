// Package fieldview draws a top-down terminal view of a capture session and
// turns key presses into session input commands.
package fieldview

import (
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gdamore/tcell/v2"

	"arcatch.ai/internal/protocol"
	"arcatch.ai/internal/sim/geom"
)

const panelWidth = 36

var (
	styleText      = tcell.StyleDefault
	styleDim       = tcell.StyleDefault.Foreground(tcell.ColorGray)
	styleViewer    = tcell.StyleDefault.Foreground(tcell.ColorWhite).Bold(true)
	styleWander    = tcell.StyleDefault.Foreground(tcell.ColorGreen)
	styleEscape    = tcell.StyleDefault.Foreground(tcell.ColorYellow)
	styleCapture   = tcell.StyleDefault.Foreground(tcell.ColorRed).Bold(true)
	styleProjected = tcell.StyleDefault.Foreground(tcell.ColorBlue)
	styleFallback  = tcell.StyleDefault.Foreground(tcell.ColorPurple)
	styleGrab      = tcell.StyleDefault.Foreground(tcell.ColorAqua).Reverse(true)
	styleWarn      = tcell.StyleDefault.Foreground(tcell.ColorOrange)
)

// View renders session status snapshots onto a tcell screen.
type View struct {
	screen tcell.Screen
	// Range is the half-width of the map in meters.
	Range float64
	// Radius is the capture distance, drawn as a ring around the viewer.
	Radius float64
	// Message is shown on the footer line.
	Message string
}

func NewView(screen tcell.Screen, rangeM, captureDistance float64) *View {
	if rangeM <= 0 {
		rangeM = 5
	}
	return &View{screen: screen, Range: rangeM, Radius: captureDistance}
}

func (v *View) Render(st protocol.StatusMsg) {
	v.screen.Clear()
	w, h := v.screen.Size()
	mapW := w - panelWidth
	if mapW < 10 {
		mapW = w
	}
	mapH := h - 2

	v.text(0, 0, fmt.Sprintf("arcatch  tick %d  creatures %d  in-flight %d", st.Tick, len(st.Creatures), st.InFlight), styleText)
	if mapH > 2 {
		v.drawMap(st, mapW, mapH)
	}
	if mapW < w {
		v.drawPanel(st, mapW+1)
	}
	v.text(0, h-1, v.footer(), styleDim)
	v.screen.Show()
}

func (v *View) footer() string {
	if v.Message != "" {
		return v.Message
	}
	return "wasd move  ←→ turn  g grab/release  space capture  x exit  1-9 spawn  u unload  q quit"
}

func (v *View) drawMap(st protocol.StatusMsg, mapW, mapH int) {
	for x := 0; x < mapW; x++ {
		v.screen.SetContent(x, 1, '─', nil, styleDim)
		v.screen.SetContent(x, mapH, '─', nil, styleDim)
	}

	if v.Radius > 0 {
		for i := 0; i < 48; i++ {
			a := float64(i) / 48 * 2 * math.Pi
			p := st.Viewer.Position.Add(geom.V(math.Cos(a)*v.Radius, 0, math.Sin(a)*v.Radius))
			if x, y, ok := v.cell(st.Viewer, p, mapW, mapH); ok {
				v.screen.SetContent(x, y, '·', nil, styleDim)
			}
		}
	}

	if x, y, ok := v.cell(st.Viewer, st.Viewer.Position, mapW, mapH); ok {
		v.screen.SetContent(x, y, facingGlyph(st.Viewer.Facing()), nil, styleViewer)
	}

	for _, c := range st.Creatures {
		x, y, ok := v.cell(st.Viewer, c.Position, mapW, mapH)
		if !ok {
			continue
		}
		style := creatureStyle(c)
		if c.InstanceID == st.Grab.TargetID && st.Grab.TargetID != "" {
			style = styleGrab
		}
		v.screen.SetContent(x, y, glyph(c), nil, style)
	}
}

// cell maps a world position to a map cell. Negative Z (forward) is up.
func (v *View) cell(viewer geom.Pose, p geom.Vec3, mapW, mapH int) (int, int, bool) {
	top, bottom := 2, mapH-1
	rows := bottom - top + 1
	dx := (p.X - viewer.Position.X) / v.Range
	dz := (p.Z - viewer.Position.Z) / v.Range
	x := int(math.Round(float64(mapW-1)/2 + dx*float64(mapW-1)/2))
	y := top + int(math.Round(float64(rows-1)/2+dz*float64(rows-1)/2))
	if x < 0 || x >= mapW || y < top || y > bottom {
		return 0, 0, false
	}
	return x, y, true
}

func (v *View) drawPanel(st protocol.StatusMsg, x int) {
	y := 2
	line := func(s string, style tcell.Style) {
		v.text(x, y, s, style)
		y++
	}

	cs := st.Capture
	line("CAPTURE "+cs.Phase, styleText)
	if cs.TargetID != "" {
		line(fmt.Sprintf(" target %s  %.2fm", cs.TargetID, cs.Distance), styleCapture)
		line(" "+progressBar(cs.Progress, panelWidth-4), styleCapture)
	}
	if cs.Warning != "" {
		line(" warning: "+strings.ReplaceAll(cs.Warning, "_", " "), styleWarn)
	}
	if cs.LastOK != nil {
		res := "escaped"
		if *cs.LastOK {
			res = "captured"
		}
		line(fmt.Sprintf(" last: %s (%.0f%%)", res, cs.LastOdds*100), styleDim)
	}
	y++
	line("GRAB "+st.Grab.Phase, styleText)
	if st.Grab.TargetID != "" {
		line(" holding "+st.Grab.TargetID, styleGrab)
	}
	y++
	line("CREATURES", styleText)
	for _, c := range st.Creatures {
		line(fmt.Sprintf(" %c %-8s %-10s %4.1fm", glyph(c), trim(c.Name, 8), trim(shortState(c.State), 10), c.Distance), creatureStyle(c))
	}
}

func (v *View) text(x, y int, s string, style tcell.Style) {
	for _, r := range s {
		v.screen.SetContent(x, y, r, nil, style)
		x++
	}
}

func glyph(c protocol.CreatureStatus) rune {
	name := c.Name
	if name == "" {
		name = c.CreatureID
	}
	r, _ := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError {
		return '?'
	}
	return unicode.ToUpper(r)
}

func creatureStyle(c protocol.CreatureStatus) tcell.Style {
	if c.Fallback {
		return styleFallback
	}
	switch c.State {
	case "ESCAPING":
		return styleEscape
	case "IN_CAPTURE_MODE":
		return styleCapture
	case "PROJECTED":
		return styleProjected
	default:
		return styleWander
	}
}

func shortState(s string) string {
	switch s {
	case "MOVING_TO_TARGET":
		return "moving"
	case "IN_CAPTURE_MODE":
		return "capture"
	}
	return strings.ToLower(s)
}

func facingGlyph(f geom.Vec3) rune {
	if math.Abs(f.X) > math.Abs(f.Z) {
		if f.X > 0 {
			return '>'
		}
		return '<'
	}
	if f.Z > 0 {
		return 'v'
	}
	return '^'
}

func progressBar(p float64, width int) string {
	p = geom.Clamp(p, 0, 1)
	n := int(math.Round(p * float64(width)))
	return strings.Repeat("█", n) + strings.Repeat("░", width-n)
}

func trim(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s
}
