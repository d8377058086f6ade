// Package stt streams caller audio to Deepgram's live transcription API and
// turns the interim/final result stream into whole utterances. An utterance
// is the concatenation of final segments up to a speech_final marker, which
// is Deepgram's own endpointing decision.
package stt

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PranavSlathia/Vartalaap/internal/logger"
)

// voiceRMS is the PCM energy above which a frame counts as voice. Tuned for
// 16-bit mono telephone audio.
const voiceRMS = 250.0

// Utterance is one finalized caller utterance. Latency is how long after the
// caller stopped speaking the finalization arrived.
type Utterance struct {
	Text       string
	Confidence float64
	Latency    time.Duration
}

// Deepgram is a live-transcription session over one websocket.
type Deepgram struct {
	apiKey     string
	sampleRate int
	language   string
	log        *logger.Logger

	conn       *websocket.Conn
	interims   chan string
	finalized  chan Utterance
	audioData  chan []byte
	stopCh     chan struct{}
	readerDone chan struct{}
	mu         sync.RWMutex
	connected  bool

	// utterance accumulation
	accMu         sync.Mutex
	segments      []string
	minConfidence float64
	lastVoiceTime time.Time
}

// NewDeepgram builds a session for 16-bit mono PCM at sampleRate. language is
// a BCP-47 hint ("hi" handles Hindi and Hinglish well).
func NewDeepgram(apiKey string, sampleRate int, language string, log *logger.Logger) *Deepgram {
	return &Deepgram{
		apiKey:     apiKey,
		sampleRate: sampleRate,
		language:   language,
		log:        log,
		interims:   make(chan string, 100),
		finalized:  make(chan Utterance, 10),
		audioData:  make(chan []byte, 1000),
		stopCh:     make(chan struct{}),
		readerDone: make(chan struct{}),
	}
}

// Interims streams partial transcripts as they arrive, for barge-in checks
// and live UI. Sends are lossy.
func (d *Deepgram) Interims() <-chan string { return d.interims }

// Finalized streams whole utterances. Sends are never dropped.
func (d *Deepgram) Finalized() <-chan Utterance { return d.finalized }

// Connect opens the websocket and starts the reader and writer loops.
func (d *Deepgram) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return nil
	}
	if d.apiKey == "" {
		return fmt.Errorf("stt: deepgram api key missing")
	}

	params := url.Values{}
	params.Set("encoding", "linear16")
	params.Set("sample_rate", strconv.Itoa(d.sampleRate))
	params.Set("channels", "1")
	params.Set("model", "nova-2")
	params.Set("language", d.language)
	params.Set("interim_results", "true")
	params.Set("punctuate", "true")
	params.Set("endpointing", "300")

	wsURL := "wss://api.deepgram.com/v1/listen?" + params.Encode()
	headers := map[string][]string{
		"Authorization": {"Token " + d.apiKey},
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.Dial(wsURL, headers)
	if err != nil {
		if resp != nil {
			d.log.Error("deepgram connect failed", "status", resp.StatusCode)
		}
		return fmt.Errorf("stt: connect deepgram: %w", err)
	}

	d.conn = conn
	d.connected = true
	d.lastVoiceTime = time.Now()

	go d.handleMessages()
	go d.sendAudioData()

	d.log.Info("deepgram live session connected", "sample_rate", d.sampleRate, "language", d.language)
	return nil
}

// SendPCM16 queues one chunk of little-endian 16-bit mono PCM. A full buffer
// drops the chunk rather than stalling the audio path.
func (d *Deepgram) SendPCM16(pcm []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.connected {
		return fmt.Errorf("stt: not connected")
	}
	d.trackVoiceActivity(pcm)
	select {
	case d.audioData <- pcm:
	default:
		d.log.Warn("audio buffer full, dropping chunk")
	}
	return nil
}

// RecentlyDetectedVoice reports whether voice energy was observed within the
// given window. The session uses this to tell silence from unrecognized
// speech when an utterance times out.
func (d *Deepgram) RecentlyDetectedVoice(window time.Duration) bool {
	d.accMu.Lock()
	last := d.lastVoiceTime
	d.accMu.Unlock()
	return time.Since(last) <= window
}

// Close signals shutdown and closes the socket, then waits for the reader to
// drain. The reader goroutine owns the interim and finalized channels and
// closes them on its way out, so no message in flight can land on a closed
// channel.
func (d *Deepgram) Close() error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return nil
	}
	close(d.stopCh)
	conn := d.conn
	d.connected = false
	d.conn = nil
	close(d.audioData)
	d.mu.Unlock()

	if conn != nil {
		_ = conn.WriteJSON(map[string]string{"type": "CloseStream"})
		_ = conn.Close()
	}
	<-d.readerDone
	d.log.Info("deepgram session closed")
	return nil
}

// trackVoiceActivity updates lastVoiceTime when the chunk's RMS crosses the
// voice threshold. Samples sparsely on big chunks to keep this cheap.
func (d *Deepgram) trackVoiceActivity(pcm []byte) {
	minSamples := d.sampleRate / 100 // 10ms
	if len(pcm) < minSamples*2 {
		return
	}
	step := 2
	if len(pcm) > 3200 {
		step = 4
	}
	var sumSquares float64
	count := 0
	for i := 0; i+1 < len(pcm); i += 2 * step {
		v := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		sumSquares += float64(v) * float64(v)
		count++
	}
	if count == 0 {
		return
	}
	if math.Sqrt(sumSquares/float64(count)) >= voiceRMS {
		d.accMu.Lock()
		d.lastVoiceTime = time.Now()
		d.accMu.Unlock()
	}
}

type resultMessage struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// handleMessages is the reader loop. It is the only goroutine that sends on
// interims and finalized, so it flushes pending finals and closes both
// channels when it exits.
func (d *Deepgram) handleMessages() {
	defer func() {
		d.flushPending()
		close(d.interims)
		close(d.finalized)
		close(d.readerDone)
	}()
	for {
		select {
		case <-d.stopCh:
			return
		default:
			d.mu.RLock()
			conn := d.conn
			d.mu.RUnlock()
			if conn == nil {
				return
			}
			_, message, err := conn.ReadMessage()
			if err != nil {
				select {
				case <-d.stopCh:
				default:
					d.log.Warn("deepgram read failed", "error", err)
				}
				return
			}
			d.processMessage(message)
		}
	}
}

// processMessage folds one server message into the utterance accumulator.
func (d *Deepgram) processMessage(message []byte) {
	var msg resultMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		d.log.Warn("deepgram message unreadable", "error", err)
		return
	}

	switch msg.Type {
	case "Results":
		if len(msg.Channel.Alternatives) == 0 {
			return
		}
		alt := msg.Channel.Alternatives[0]
		text := strings.TrimSpace(alt.Transcript)

		if !msg.IsFinal {
			if text != "" {
				select {
				case d.interims <- text:
				default:
				}
			}
			return
		}

		d.accMu.Lock()
		if text != "" {
			d.segments = append(d.segments, text)
			if d.minConfidence == 0 || alt.Confidence < d.minConfidence {
				d.minConfidence = alt.Confidence
			}
		}
		speechFinal := msg.SpeechFinal && len(d.segments) > 0
		d.accMu.Unlock()

		if speechFinal {
			d.emitUtterance()
		}
	case "UtteranceEnd":
		// Arrives when endpointing fires with no trailing Results; acts as
		// a flush for whatever finals we hold.
		d.emitUtterance()
	case "Metadata":
		// Session bookkeeping, nothing to do.
	default:
	}
}

// emitUtterance drains the accumulated segments into one Utterance.
func (d *Deepgram) emitUtterance() {
	d.accMu.Lock()
	if len(d.segments) == 0 {
		d.accMu.Unlock()
		return
	}
	text := strings.Join(d.segments, " ")
	conf := d.minConfidence
	latency := time.Since(d.lastVoiceTime)
	d.segments = nil
	d.minConfidence = 0
	d.accMu.Unlock()

	select {
	case <-d.stopCh:
	case d.finalized <- Utterance{Text: text, Confidence: conf, Latency: latency}:
	}
}

// flushPending emits whatever finals are held, used on shutdown so the
// caller's last words are not lost. Best effort with a short deadline.
func (d *Deepgram) flushPending() {
	d.accMu.Lock()
	if len(d.segments) == 0 {
		d.accMu.Unlock()
		return
	}
	text := strings.Join(d.segments, " ")
	conf := d.minConfidence
	d.segments = nil
	d.minConfidence = 0
	d.accMu.Unlock()

	select {
	case d.finalized <- Utterance{Text: text, Confidence: conf}:
	case <-time.After(200 * time.Millisecond):
		d.log.Warn("flush timed out delivering final utterance")
	}
}

func (d *Deepgram) sendAudioData() {
	for {
		select {
		case <-d.stopCh:
			return
		case pcm, ok := <-d.audioData:
			if !ok {
				return
			}
			d.mu.RLock()
			conn := d.conn
			d.mu.RUnlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
				select {
				case <-d.stopCh:
				default:
					d.log.Warn("deepgram audio write failed", "error", err)
				}
				return
			}
		}
	}
}
