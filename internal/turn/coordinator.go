// Package turn runs one reply turn: stream tokens from the model, cut them
// into sentences, synthesize each sentence and deliver the audio in sentence
// order. Synthesis of sentence N+1 overlaps playback of sentence N, but audio
// never leaves the sink out of order. A turn is cancellable at any point;
// cancellation is idempotent and drops queued audio immediately.
package turn

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PranavSlathia/Vartalaap/internal/llm"
	"github.com/PranavSlathia/Vartalaap/internal/logger"
)

// State is the lifecycle of the current turn.
type State int32

const (
	StateIdle State = iota
	StateGenerating
	StateSpeaking
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGenerating:
		return "generating"
	case StateSpeaking:
		return "speaking"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Generator streams reply tokens for a message list.
type Generator interface {
	StreamChat(ctx context.Context, messages []llm.Message) (<-chan string, <-chan error)
}

// Synthesizer streams PCM for one sentence.
type Synthesizer interface {
	StreamPCM(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

// AudioSink receives ordered PCM. Reset drops queued audio, used on barge-in.
type AudioSink interface {
	WritePCM(pcm []byte)
	FlushTail()
	Reset()
}

// Config carries the per-turn time budgets.
type Config struct {
	GenerateBudget time.Duration // whole model stream
	SpeakBudget    time.Duration // per sentence
}

// DefaultConfig matches a live phone call: a caller gives up after roughly
// fifteen seconds of dead air.
func DefaultConfig() Config {
	return Config{GenerateBudget: 15 * time.Second, SpeakBudget: 10 * time.Second}
}

// Request is one generation turn.
type Request struct {
	Messages []llm.Message
	// FallbackText is spoken verbatim when generation fails; the call
	// degrades gracefully instead of going silent.
	FallbackText string
}

// Result reports what actually happened during a turn.
type Result struct {
	State             State
	FullReply         string // everything the model produced
	SpokenText        string // sentences whose audio fully reached the sink
	FallbackUsed      bool
	GenerateLatency   time.Duration // to first token
	FirstAudioLatency time.Duration // to first sink write
}

// Coordinator runs turns one at a time for a session.
type Coordinator struct {
	cfg   Config
	gen   Generator
	synth Synthesizer
	sink  AudioSink
	log   *logger.Logger

	state int32

	mu         sync.Mutex
	cancelTurn context.CancelFunc
	cancelOnce *sync.Once
	cancelled  bool
}

// New builds a coordinator over the given pipeline stages.
func New(cfg Config, gen Generator, synth Synthesizer, sink AudioSink, log *logger.Logger) *Coordinator {
	if cfg.GenerateBudget == 0 {
		cfg.GenerateBudget = 15 * time.Second
	}
	if cfg.SpeakBudget == 0 {
		cfg.SpeakBudget = 10 * time.Second
	}
	return &Coordinator{cfg: cfg, gen: gen, synth: synth, sink: sink, log: log}
}

// State returns the current turn state.
func (c *Coordinator) State() State { return State(atomic.LoadInt32(&c.state)) }

// IsSpeaking reports whether turn audio is currently flowing.
func (c *Coordinator) IsSpeaking() bool { return c.State() == StateSpeaking }

func (c *Coordinator) setState(s State) { atomic.StoreInt32(&c.state, int32(s)) }

// Cancel interrupts the current turn. Safe to call repeatedly and from any
// goroutine; the first call drops queued audio and aborts generation and
// synthesis, later calls do nothing.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	once, cancel := c.cancelOnce, c.cancelTurn
	c.mu.Unlock()
	if once == nil {
		return
	}
	once.Do(func() {
		c.mu.Lock()
		c.cancelled = true
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		c.sink.Reset()
	})
}

func (c *Coordinator) beginTurn(ctx context.Context) context.Context {
	turnCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelTurn = cancel
	c.cancelOnce = &sync.Once{}
	c.cancelled = false
	c.mu.Unlock()
	return turnCtx
}

func (c *Coordinator) endTurn() (cancelled bool) {
	c.mu.Lock()
	cancelled = c.cancelled
	if c.cancelTurn != nil {
		c.cancelTurn()
	}
	c.cancelTurn = nil
	c.cancelOnce = nil
	c.mu.Unlock()
	return cancelled
}

// synthJob is one sentence moving through the overlap pipeline. Jobs are
// queued in sentence order; each carries its own audio channel so synthesis
// can run ahead while the consumer drains strictly in order.
type synthJob struct {
	text  string
	audio chan []byte
	err   chan error
}

// Run executes one generation turn and blocks until the turn completes or is
// cancelled. The returned error covers infrastructure failures only; model
// and voice failures degrade into the fallback utterance.
func (c *Coordinator) Run(ctx context.Context, req Request) (Result, error) {
	turnCtx := c.beginTurn(ctx)
	c.setState(StateGenerating)
	started := time.Now()

	genCtx, genCancel := context.WithTimeout(turnCtx, c.cfg.GenerateBudget)
	defer genCancel()
	tokens, genErrc := c.gen.StreamChat(genCtx, req.Messages)

	jobs := make(chan *synthJob, 8)
	var fullReply strings.Builder
	var genLatency time.Duration
	var genFailed atomic.Bool

	go func() {
		defer close(jobs)
		var sp splitter
		firstToken := false
		for tok := range tokens {
			if !firstToken {
				firstToken = true
				genLatency = time.Since(started)
			}
			fullReply.WriteString(tok)
			for _, sentence := range sp.feed(tok) {
				c.enqueue(turnCtx, jobs, sentence)
			}
		}
		if err := <-genErrc; err != nil {
			genFailed.Store(true)
			if turnCtx.Err() == nil {
				c.log.Warn("generation failed", "error", err)
			}
			return
		}
		if tail := sp.flush(); tail != "" {
			c.enqueue(turnCtx, jobs, tail)
		}
	}()

	res, synthFailed := c.drain(turnCtx, jobs, started)
	res.FullReply = strings.TrimSpace(fullReply.String())
	res.GenerateLatency = genLatency

	cancelled := c.endTurn()
	if cancelled {
		res.State = StateCancelled
		c.setState(StateCancelled)
		return res, nil
	}

	if res.SpokenText == "" && (genFailed.Load() || synthFailed) {
		// Dead air is the worst outcome on a phone call; apologize and keep
		// the call alive.
		fallback := req.FallbackText
		if fallback == "" {
			fallback = "Maaf kijiye, thodi dikkat ho gayi. Kya aap dobara bol sakte hain?"
		}
		fres := c.speakSentences(c.beginTurn(ctx), []string{fallback})
		c.endTurn()
		res.FallbackUsed = true
		res.SpokenText = fres.SpokenText
	}

	c.sink.FlushTail()
	res.State = StateCompleted
	c.setState(StateCompleted)
	return res, nil
}

// Speak voices a fixed utterance (greeting, slot questions, confirmations)
// through the same cancellable machinery as generated turns.
func (c *Coordinator) Speak(ctx context.Context, text string) (Result, error) {
	turnCtx := c.beginTurn(ctx)

	var sp splitter
	sentences := sp.feed(text)
	if tail := sp.flush(); tail != "" {
		sentences = append(sentences, tail)
	}
	res := c.speakSentences(turnCtx, sentences)
	res.FullReply = strings.TrimSpace(text)

	cancelled := c.endTurn()
	if cancelled {
		res.State = StateCancelled
		c.setState(StateCancelled)
		return res, nil
	}
	c.sink.FlushTail()
	res.State = StateCompleted
	c.setState(StateCompleted)
	return res, nil
}

// speakSentences pushes pre-cut sentences through the overlap pipeline.
func (c *Coordinator) speakSentences(ctx context.Context, sentences []string) Result {
	jobs := make(chan *synthJob, 8)
	go func() {
		defer close(jobs)
		for _, s := range sentences {
			c.enqueue(ctx, jobs, s)
		}
	}()
	res, _ := c.drain(ctx, jobs, time.Now())
	return res
}

// enqueue starts synthesis for one sentence and queues its job in order.
func (c *Coordinator) enqueue(ctx context.Context, jobs chan<- *synthJob, sentence string) {
	job := &synthJob{
		text:  sentence,
		audio: make(chan []byte, 256),
		err:   make(chan error, 1),
	}
	go func() {
		defer close(job.audio)
		defer close(job.err)
		synthCtx, cancel := context.WithTimeout(ctx, c.cfg.SpeakBudget)
		defer cancel()
		pcm, errc := c.synth.StreamPCM(synthCtx, sentence)
		for pcm != nil || errc != nil {
			select {
			case b, ok := <-pcm:
				if !ok {
					pcm = nil
					continue
				}
				select {
				case job.audio <- b:
				case <-ctx.Done():
					return
				}
			case e, ok := <-errc:
				if !ok {
					errc = nil
					continue
				}
				if e != nil {
					job.err <- e
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	select {
	case jobs <- job:
	case <-ctx.Done():
	}
}

// drain consumes jobs strictly in order, writing audio to the sink. A
// sentence only counts as spoken once all of its audio reached the sink.
// The second return reports whether any sentence's synthesis errored.
func (c *Coordinator) drain(ctx context.Context, jobs <-chan *synthJob, started time.Time) (Result, bool) {
	var res Result
	var spoken []string
	firstAudio := false
	synthFailed := false

	for job := range jobs {
		if ctx.Err() != nil {
			continue // keep draining so producer goroutines can exit
		}
		complete := true
		for b := range job.audio {
			if ctx.Err() != nil {
				complete = false
				continue
			}
			if len(b) == 0 {
				continue
			}
			if !firstAudio {
				firstAudio = true
				res.FirstAudioLatency = time.Since(started)
				c.setState(StateSpeaking)
			}
			c.sink.WritePCM(b)
		}
		if err, ok := <-job.err; ok && err != nil {
			if ctx.Err() == nil {
				c.log.Warn("sentence synthesis failed", "error", err)
			}
			complete = false
			synthFailed = true
		}
		if complete && ctx.Err() == nil {
			spoken = append(spoken, job.text)
		}
	}
	res.SpokenText = strings.Join(spoken, " ")
	return res, synthFailed
}

// splitter cuts a token stream into sentences, retaining the terminator.
// Handles Devanagari danda alongside Latin punctuation.
type splitter struct {
	b strings.Builder
}

func (s *splitter) feed(tok string) []string {
	var out []string
	for _, r := range tok {
		switch r {
		case '.', '!', '?', '।':
			s.b.WriteRune(r)
			if sentence := strings.TrimSpace(s.b.String()); sentence != "" && !onlyPunct(sentence) {
				out = append(out, sentence)
			}
			s.b.Reset()
		case '\n', '\r':
			if sentence := strings.TrimSpace(s.b.String()); sentence != "" && !onlyPunct(sentence) {
				out = append(out, sentence)
			}
			s.b.Reset()
		default:
			s.b.WriteRune(r)
		}
	}
	return out
}

func (s *splitter) flush() string {
	sentence := strings.TrimSpace(s.b.String())
	s.b.Reset()
	if onlyPunct(sentence) {
		return ""
	}
	return sentence
}

func onlyPunct(s string) bool {
	for _, r := range s {
		switch r {
		case '.', '!', '?', '।', ',', ' ':
		default:
			return false
		}
	}
	return true
}
