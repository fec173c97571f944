package fieldview

import (
	"math"

	"github.com/gdamore/tcell/v2"

	"arcatch.ai/internal/protocol"
	"arcatch.ai/internal/sim/geom"
)

// Controller keeps the simulated viewer pose and maps keys to commands.
// The hand rides 0.3m ahead of the viewer along its facing.
type Controller struct {
	Pose    geom.Pose
	Step    float64
	Turn    float64
	Catalog []string

	grabbing bool
}

func NewController(catalog []string) *Controller {
	return &Controller{
		Pose:    geom.Pose{Forward: geom.Forward},
		Step:    0.25,
		Turn:    math.Pi / 12,
		Catalog: catalog,
	}
}

// Grabbing reports whether a press is held.
func (c *Controller) Grabbing() bool { return c.grabbing }

// Key returns the commands for one key press and whether to quit.
func (c *Controller) Key(ev *tcell.EventKey) (cmds []protocol.InputMsg, quit bool) {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return nil, true
	case tcell.KeyLeft:
		c.turn(-c.Turn)
		return c.poseCmds(), false
	case tcell.KeyRight:
		c.turn(c.Turn)
		return c.poseCmds(), false
	case tcell.KeyUp:
		return c.move(1, 0), false
	case tcell.KeyDown:
		return c.move(-1, 0), false
	case tcell.KeyRune:
	default:
		return nil, false
	}

	switch r := ev.Rune(); r {
	case 'q':
		return nil, true
	case 'w':
		return c.move(1, 0), false
	case 's':
		return c.move(-1, 0), false
	case 'a':
		return c.move(0, -1), false
	case 'd':
		return c.move(0, 1), false
	case 'g':
		if c.grabbing {
			c.grabbing = false
			return []protocol.InputMsg{{Type: protocol.CmdGrabRelease}}, false
		}
		c.grabbing = true
		return append(c.poseCmds(), protocol.InputMsg{Type: protocol.CmdGrabPress}), false
	case ' ':
		return []protocol.InputMsg{{Type: protocol.CmdCapture}}, false
	case 'x':
		return []protocol.InputMsg{{Type: protocol.CmdExitCapture}}, false
	case 'u':
		return []protocol.InputMsg{{Type: protocol.CmdUnloadAll}}, false
	default:
		if r >= '1' && r <= '9' {
			i := int(r - '1')
			if i < len(c.Catalog) {
				return []protocol.InputMsg{{Type: protocol.CmdSpawn, CreatureID: c.Catalog[i]}}, false
			}
		}
	}
	return nil, false
}

// move steps forward (fwd) and right (right) relative to the facing.
func (c *Controller) move(fwd, right float64) []protocol.InputMsg {
	f := c.Pose.Facing().Horizontal().Normalize()
	rightDir := geom.V(-f.Z, 0, f.X)
	delta := f.Scale(fwd * c.Step).Add(rightDir.Scale(right * c.Step))
	c.Pose.Position = c.Pose.Position.Add(delta)
	return c.poseCmds()
}

func (c *Controller) turn(rad float64) {
	f := c.Pose.Facing()
	sin, cos := math.Sincos(rad)
	c.Pose.Forward = geom.V(f.X*cos-f.Z*sin, 0, f.X*sin+f.Z*cos).Normalize()
}

func (c *Controller) poseCmds() []protocol.InputMsg {
	pos := c.Pose.Position
	dir := c.Pose.Facing()
	hand := pos.Add(dir.Scale(0.3))
	return []protocol.InputMsg{
		{Type: protocol.CmdViewer, Position: &pos, Direction: &dir},
		{Type: protocol.CmdHand, Position: &hand, Direction: &dir},
	}
}
