package httpserver

import (
	"sync"
	"time"
)

// FrameWriter delivers one binary audio frame to the caller.
type FrameWriter interface {
	WriteBinary(frame []byte) error
}

// PacedSink buffers synthesized PCM and writes it to the transport in 20ms
// frames at real-time pace, so a burst of synthesis does not flood the
// connection and barge-in can drop queued audio instantly. Implements
// turn.AudioSink.
type PacedSink struct {
	out        FrameWriter
	frameBytes int
	frames     chan []byte
	stopCh     chan struct{}
	stopped    bool
	mu         sync.Mutex
	pcmBuf     []byte
}

// NewPacedSink builds a sink for mono 16-bit PCM at the given sample rate.
func NewPacedSink(out FrameWriter, sampleRate int) *PacedSink {
	s := &PacedSink{
		out:        out,
		frameBytes: sampleRate / 50 * 2, // 20ms of int16 samples
		frames:     make(chan []byte, 512),
		stopCh:     make(chan struct{}),
	}
	go s.pacer()
	return s
}

// WritePCM buffers PCM bytes and enqueues full 20ms frames.
func (s *PacedSink) WritePCM(pcm []byte) {
	if len(pcm) < 2 {
		return
	}
	s.mu.Lock()
	s.pcmBuf = append(s.pcmBuf, pcm...)
	var ready [][]byte
	for len(s.pcmBuf) >= s.frameBytes {
		frame := make([]byte, s.frameBytes)
		copy(frame, s.pcmBuf[:s.frameBytes])
		s.pcmBuf = s.pcmBuf[s.frameBytes:]
		ready = append(ready, frame)
	}
	s.mu.Unlock()
	for _, f := range ready {
		s.pushFrame(f)
	}
}

// FlushTail pads the partial frame and appends ~200ms of silence so playback
// does not clip the last syllable.
func (s *PacedSink) FlushTail() {
	s.mu.Lock()
	var tail []byte
	if len(s.pcmBuf) > 0 {
		tail = make([]byte, s.frameBytes)
		copy(tail, s.pcmBuf)
		s.pcmBuf = s.pcmBuf[:0]
	}
	s.mu.Unlock()
	if tail != nil {
		s.pushFrame(tail)
	}
	for i := 0; i < 10; i++ {
		s.pushFrame(make([]byte, s.frameBytes))
	}
}

// Reset drops all queued audio, for immediate barge-in.
func (s *PacedSink) Reset() {
	s.mu.Lock()
	for {
		select {
		case <-s.frames:
		default:
			s.pcmBuf = s.pcmBuf[:0]
			s.mu.Unlock()
			return
		}
	}
}

// Close stops the pacer goroutine.
func (s *PacedSink) Close() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stopCh)
	}
	s.mu.Unlock()
}

func (s *PacedSink) pacer() {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			select {
			case frame := <-s.frames:
				_ = s.out.WriteBinary(frame)
			default:
			}
		}
	}
}

// pushFrame blocks until the queue has room; synthesis backpressure beats
// dropping audible speech.
func (s *PacedSink) pushFrame(frame []byte) {
	select {
	case <-s.stopCh:
	case s.frames <- frame:
	}
}
