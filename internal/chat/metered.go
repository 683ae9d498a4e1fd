package chat

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/wolfman30/llm-router/internal/observability/metrics"
	"github.com/wolfman30/llm-router/internal/stream"
)

// meteredChunks records first-chunk latency, chunk count and the final
// outcome of a stream exactly once.
type meteredChunks struct {
	inner    stream.Chunks
	provider string
	start    time.Time
	metrics  *metrics.ProviderMetrics

	mu       sync.Mutex
	chunks   int
	recorded bool
}

func newMeteredChunks(inner stream.Chunks, provider string, start time.Time, m *metrics.ProviderMetrics) stream.Chunks {
	return &meteredChunks{inner: inner, provider: provider, start: start, metrics: m}
}

func (c *meteredChunks) Next(ctx context.Context) (string, error) {
	s, err := c.inner.Next(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case err == nil:
		if c.chunks == 0 {
			c.metrics.ObserveFirstChunk(c.provider, time.Since(c.start).Seconds())
		}
		c.chunks++
	case errors.Is(err, io.EOF):
		c.finishLocked("ok")
	default:
		c.finishLocked(errorStatus(err))
	}
	return s, err
}

func (c *meteredChunks) Close() error {
	err := c.inner.Close()
	c.mu.Lock()
	c.finishLocked("closed")
	c.mu.Unlock()
	return err
}

func (c *meteredChunks) finishLocked(status string) {
	if c.recorded {
		return
	}
	c.recorded = true
	c.metrics.AddChunks(c.provider, c.chunks)
	c.metrics.ObserveRequest(c.provider, stream.ModeStreaming.String(), status, time.Since(c.start).Seconds())
}
