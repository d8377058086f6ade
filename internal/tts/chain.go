package tts

import (
	"context"

	"github.com/PranavSlathia/Vartalaap/internal/logger"
)

// Chain tries the primary voice and falls back to the secondary when the
// primary fails before producing any audio. A failure after audio started is
// surfaced as-is; replaying half an utterance in a different voice would be
// worse than the glitch.
type Chain struct {
	Primary  Streamer
	Fallback Streamer
	log      *logger.Logger
}

func NewChain(primary, fallback Streamer, log *logger.Logger) *Chain {
	return &Chain{Primary: primary, Fallback: fallback, log: log}
}

func (c *Chain) StreamPCM(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 4096)
	errCh := make(chan error, 1)

	go func() {
		defer close(pcmCh)
		defer close(errCh)

		seenAudio, err := c.relay(ctx, c.Primary, text, pcmCh)
		if err == nil {
			return
		}
		if seenAudio || ctx.Err() != nil || c.Fallback == nil {
			errCh <- err
			return
		}
		c.log.Warn("primary voice failed, switching to fallback", "error", err)
		if _, err := c.relay(ctx, c.Fallback, text, pcmCh); err != nil {
			errCh <- err
		}
	}()

	return pcmCh, errCh
}

// relay drains one streamer into out, reporting whether any audio flowed.
func (c *Chain) relay(ctx context.Context, s Streamer, text string, out chan<- []byte) (bool, error) {
	pcm, errc := s.StreamPCM(ctx, text)
	seenAudio := false
	var streamErr error
	for pcm != nil || errc != nil {
		select {
		case b, ok := <-pcm:
			if !ok {
				pcm = nil
				continue
			}
			seenAudio = true
			select {
			case out <- b:
			case <-ctx.Done():
				return seenAudio, ctx.Err()
			}
		case err, ok := <-errc:
			if !ok {
				errc = nil
				continue
			}
			if err != nil && streamErr == nil {
				streamErr = err
			}
		case <-ctx.Done():
			return seenAudio, ctx.Err()
		}
	}
	return seenAudio, streamErr
}
