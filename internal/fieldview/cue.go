package fieldview

import (
	"sync"

	"arcatch.ai/internal/sim/events"
)

type Cue int

const (
	CueGrab Cue = iota + 1
	CueThrow
	CueCaptureMode
	CueWarning
	CueSuccess
	CueFail
	CueLoadError
)

func (c Cue) String() string {
	switch c {
	case CueGrab:
		return "grab"
	case CueThrow:
		return "throw"
	case CueCaptureMode:
		return "capture_mode"
	case CueWarning:
		return "warning"
	case CueSuccess:
		return "success"
	case CueFail:
		return "fail"
	case CueLoadError:
		return "load_error"
	default:
		return "none"
	}
}

// Player plays short feedback sounds. Play must not block the caller.
type Player interface {
	Play(Cue)
}

// CueFor picks the feedback sound for a session event.
func CueFor(ev events.Event) (Cue, bool) {
	switch ev.Kind {
	case events.GrabTarget:
		return CueGrab, true
	case events.ThrowTarget:
		return CueThrow, true
	case events.CaptureModeEntered:
		return CueCaptureMode, true
	case events.CaptureWarning:
		return CueWarning, true
	case events.CaptureSuccess:
		return CueSuccess, true
	case events.CaptureFail:
		return CueFail, true
	case events.LoadingError:
		return CueLoadError, true
	}
	return 0, false
}

// AttachCues plays the matching cue for every event on bus.
func AttachCues(bus *events.Bus, p Player) (detach func()) {
	return bus.SubscribeAll(func(ev events.Event) {
		if c, ok := CueFor(ev); ok {
			p.Play(c)
		}
	})
}

// Recorder is a Player that keeps the cues it was asked to play.
type Recorder struct {
	mu   sync.Mutex
	cues []Cue
}

func (r *Recorder) Play(c Cue) {
	r.mu.Lock()
	r.cues = append(r.cues, c)
	r.mu.Unlock()
}

func (r *Recorder) Cues() []Cue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Cue(nil), r.cues...)
}
