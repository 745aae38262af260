package app

import (
	"github.com/dkeye/callstream/internal/core"
	"github.com/dkeye/callstream/internal/metrics"
	"github.com/rs/zerolog/log"
)

// DefaultChunkSize is 200ms of 16-bit 8kHz mono linear PCM.
const DefaultChunkSize = 3200

// Chunker splits outbound audio into carrier-sized media frames.
type Chunker struct {
	ChunkSize int
	Metrics   *metrics.Metrics
}

func NewChunker(size int, m *metrics.Metrics) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &Chunker{ChunkSize: size, Metrics: m}
}

// ChunkCount is ceil(n / size).
func ChunkCount(n, size int) int {
	if n <= 0 {
		return 0
	}
	return (n + size - 1) / size
}

// Send transmits audio in order as media frames. It stops at the first
// failure and returns a *core.SendError holding the number of frames that
// made it out; those are not rolled back.
func (c *Chunker) Send(sess *core.Session, audio []byte) (int, error) {
	size := c.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	total := ChunkCount(len(audio), size)

	snd := sess.BeginSend()
	defer snd.Done()

	sent := 0
	for off := 0; off < len(audio); off += size {
		end := min(off+size, len(audio))
		if err := snd.Emit(audio[off:end]); err != nil {
			c.Metrics.Sent(sent)
			c.Metrics.SendFailure()
			log.Warn().Err(err).Str("module", "app.chunker").
				Str("call_id", string(sess.CallID())).
				Int("sent", sent).Int("total", total).
				Msg("outbound send stopped")
			return sent, &core.SendError{Sent: sent, Total: total, Err: err}
		}
		sent++
	}
	c.Metrics.Sent(sent)
	log.Debug().Str("module", "app.chunker").Str("call_id", string(sess.CallID())).Int("frames", sent).Msg("outbound buffer sent")
	return sent, nil
}
