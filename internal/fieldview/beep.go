package fieldview

import (
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/speaker"
)

const sampleRate = beep.SampleRate(44100)

// BeepPlayer synthesizes cues and mixes them into the speaker.
type BeepPlayer struct {
	mu          sync.Mutex
	mixer       *beep.Mixer
	initialized bool
}

func NewBeepPlayer() *BeepPlayer {
	return &BeepPlayer{mixer: &beep.Mixer{}}
}

// Init opens the audio device. Without a device Play stays silent.
func (p *BeepPlayer) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return nil
	}
	if err := speaker.Init(sampleRate, sampleRate.N(100*time.Millisecond)); err != nil {
		return err
	}
	speaker.Play(p.mixer)
	p.initialized = true
	return nil
}

func (p *BeepPlayer) Play(c Cue) {
	s := CueStreamer(c)
	if s == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return
	}
	speaker.Lock()
	p.mixer.Add(s)
	speaker.Unlock()
}

func (p *BeepPlayer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return
	}
	speaker.Lock()
	p.mixer.Clear()
	speaker.Unlock()
	speaker.Close()
	p.initialized = false
}

type tone struct {
	freq float64
	dur  time.Duration
}

var cueTones = map[Cue][]tone{
	CueGrab:        {{660, 60 * time.Millisecond}},
	CueThrow:       {{440, 50 * time.Millisecond}, {880, 80 * time.Millisecond}},
	CueCaptureMode: {{520, 90 * time.Millisecond}},
	CueWarning:     {{220, 120 * time.Millisecond}},
	CueSuccess:     {{523, 90 * time.Millisecond}, {659, 90 * time.Millisecond}, {784, 160 * time.Millisecond}},
	CueFail:        {{392, 120 * time.Millisecond}, {262, 220 * time.Millisecond}},
	CueLoadError:   {{150, 150 * time.Millisecond}},
}

// CueStreamer builds the sound for c, or nil for an unknown cue.
func CueStreamer(c Cue) beep.Streamer {
	tones, ok := cueTones[c]
	if !ok {
		return nil
	}
	parts := make([]beep.Streamer, 0, len(tones))
	for _, t := range tones {
		parts = append(parts, newSine(t.freq, t.dur))
	}
	return &effects.Volume{Streamer: beep.Seq(parts...), Base: 2, Volume: -2}
}

// sine is a fixed-length sine oscillator with a short linear fade at both ends.
type sine struct {
	freq  float64
	phase float64
	pos   int
	n     int
	fade  int
}

func newSine(freq float64, d time.Duration) *sine {
	n := sampleRate.N(d)
	return &sine{freq: freq, n: n, fade: sampleRate.N(5 * time.Millisecond)}
}

func (s *sine) Stream(samples [][2]float64) (int, bool) {
	for i := range samples {
		if s.pos >= s.n {
			return i, i > 0
		}
		amp := 1.0
		if s.pos < s.fade {
			amp = float64(s.pos) / float64(s.fade)
		} else if rem := s.n - s.pos; rem < s.fade {
			amp = float64(rem) / float64(s.fade)
		}
		v := amp * math.Sin(2*math.Pi*s.phase)
		samples[i][0] = v
		samples[i][1] = v
		s.phase += s.freq / float64(sampleRate)
		s.phase -= math.Floor(s.phase)
		s.pos++
	}
	return len(samples), true
}

func (s *sine) Err() error { return nil }
