// Package barge detects the caller interrupting the bot. It watches the
// caller's PCM in 10ms frames while the bot is speaking and fires once when
// voiced audio sustains past the speech threshold. Short bursts (coughs,
// horn honks, line noise) never reach the threshold and are discarded.
package barge

import (
	"encoding/binary"
	"math"
	"sync"
	"time"
)

// voiceRMS is the per-frame energy above which a frame counts as voiced.
const voiceRMS = 300.0

// hangoverMs is how much unvoiced audio an episode absorbs before it ends.
// Natural speech dips below the energy floor between syllables.
const hangoverMs = 30

// Config holds the detector thresholds.
type Config struct {
	SampleRate   int // mic rate, 16000 typical
	MinSpeechMs  int // sustained voice required to trigger
	NoiseBurstMs int // episodes shorter than this are discarded outright
}

// DefaultConfig matches telephone audio at 16 kHz.
func DefaultConfig() Config {
	return Config{SampleRate: 16000, MinSpeechMs: 300, NoiseBurstMs: 200}
}

// Detector fuses frame energy into interrupt decisions. It only evaluates
// while speaking is set; caller audio during silence is just the caller
// talking, not an interruption.
type Detector struct {
	cfg       Config
	onTrigger func(ts time.Time, speechMs int)

	mu        sync.Mutex
	speaking  bool
	triggered bool
	voicedMs  int
	gapMs     int
	leftover  []byte
}

// NewDetector builds a detector. onTrigger fires at most once per speaking
// segment, from the audio feed goroutine.
func NewDetector(cfg Config, onTrigger func(ts time.Time, speechMs int)) *Detector {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.MinSpeechMs == 0 {
		cfg.MinSpeechMs = 300
	}
	if cfg.NoiseBurstMs == 0 {
		cfg.NoiseBurstMs = 200
	}
	return &Detector{cfg: cfg, onTrigger: onTrigger}
}

// SetSpeaking toggles whether the bot is currently producing audio. Turning
// it on arms the detector for a fresh trigger; turning it off clears any
// partial episode.
func (d *Detector) SetSpeaking(on bool) {
	d.mu.Lock()
	if d.speaking == on {
		d.mu.Unlock()
		return
	}
	d.speaking = on
	d.triggered = false
	d.voicedMs = 0
	d.gapMs = 0
	d.mu.Unlock()
}

// Reset clears all episode state, used between turns.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.triggered = false
	d.voicedMs = 0
	d.gapMs = 0
	d.leftover = nil
	d.mu.Unlock()
}

// FeedPCM16 accepts arbitrary-length little-endian 16-bit mono PCM and
// segments it into 10ms frames, carrying partial frames across calls.
func (d *Detector) FeedPCM16(pcm []byte) {
	d.mu.Lock()
	buf := append(d.leftover, pcm...)
	frameBytes := d.cfg.SampleRate / 100 * 2
	var frames [][]byte
	off := 0
	for ; off+frameBytes <= len(buf); off += frameBytes {
		frames = append(frames, buf[off:off+frameBytes])
	}
	d.leftover = append([]byte(nil), buf[off:]...)
	d.mu.Unlock()

	for _, f := range frames {
		d.onFrame(f)
	}
}

func (d *Detector) onFrame(frame []byte) {
	voiced := frameRMS(frame) >= voiceRMS

	d.mu.Lock()
	if !d.speaking || d.triggered {
		d.mu.Unlock()
		return
	}
	if voiced {
		d.voicedMs += 10
		d.gapMs = 0
	} else {
		d.gapMs += 10
		if d.gapMs > hangoverMs {
			// Episode over. Anything under the burst floor was a cough or
			// line noise and is discarded; a longer stretch of real speech
			// keeps its accumulation across the pause.
			if d.voicedMs < d.cfg.NoiseBurstMs {
				d.voicedMs = 0
			}
			d.gapMs = 0
		}
	}
	fire := d.voicedMs >= d.cfg.MinSpeechMs
	if fire {
		d.triggered = true
	}
	speechMs := d.voicedMs
	d.mu.Unlock()

	if fire && d.onTrigger != nil {
		d.onTrigger(time.Now(), speechMs)
	}
}

func frameRMS(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(frame); i += 2 {
		v := float64(int16(binary.LittleEndian.Uint16(frame[i : i+2])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
