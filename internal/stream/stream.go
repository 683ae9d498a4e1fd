// Package stream normalizes provider output into either a pull-based sequence
// of text deltas or a single completion string.
package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("stream: closed")

// ErrEmpty is returned by Peek when the upstream finished without a delta.
var ErrEmpty = errors.New("stream: no content")

// Chunks is a lazy, finite, non-restartable sequence of UTF-8 text deltas.
// Next returns io.EOF once the upstream finished. Close stops the upstream
// request; it is safe to call more than once.
type Chunks interface {
	Next(ctx context.Context) (string, error)
	Close() error
}

// Mode tags a Response.
type Mode int

const (
	ModeBatch Mode = iota
	ModeStreaming
)

func (m Mode) String() string {
	if m == ModeStreaming {
		return "stream"
	}
	return "batch"
}

// Response is the only shape callers of the router observe.
type Response struct {
	Mode    Mode
	Chunks  Chunks
	Content string
}

// Streaming wraps chunks as a streaming response.
func Streaming(c Chunks) Response {
	return Response{Mode: ModeStreaming, Chunks: c}
}

// Batch wraps a completed string.
func Batch(content string) Response {
	return Response{Mode: ModeBatch, Content: content}
}

// Collect drains a streaming response into one string and closes it. Batch
// responses return their content unchanged.
func (r Response) Collect(ctx context.Context) (string, error) {
	if r.Mode == ModeBatch {
		return r.Content, nil
	}
	defer r.Chunks.Close()
	var b strings.Builder
	for {
		chunk, err := r.Chunks.Next(ctx)
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(chunk)
	}
}

// Close releases a streaming response without draining it.
func (r Response) Close() error {
	if r.Mode == ModeStreaming && r.Chunks != nil {
		return r.Chunks.Close()
	}
	return nil
}

// funcChunks reads directly from the upstream body on each pull.
type funcChunks struct {
	next   func() (string, error)
	closer func() error

	mu     sync.Mutex
	closed bool
	done   bool
}

// FromFunc builds Chunks from a blocking reader. next is only called from
// Next; closer must unblock a pending next (closing the body does).
func FromFunc(next func() (string, error), closer func() error) Chunks {
	return &funcChunks{next: next, closer: closer}
}

func (c *funcChunks) Next(ctx context.Context) (string, error) {
	c.mu.Lock()
	closed, done := c.closed, c.done
	c.mu.Unlock()
	if done {
		return "", io.EOF
	}
	if closed {
		return "", ErrClosed
	}

	if err := ctx.Err(); err != nil {
		_ = c.Close()
		return "", err
	}
	for {
		s, err := c.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.mu.Lock()
				c.done = true
				c.mu.Unlock()
				_ = c.Close()
			}
			return "", err
		}
		// empty deltas (role headers, keep-alives) are not forwarded
		if s != "" {
			return s, nil
		}
	}
}

func (c *funcChunks) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	if c.closer != nil {
		return c.closer()
	}
	return nil
}

// Delta is one item produced by a channel-backed upstream.
type Delta struct {
	Text string
	Err  error
}

type chanChunks struct {
	ch     <-chan Delta
	cancel context.CancelFunc

	once   sync.Once
	mu     sync.Mutex
	closed bool
	done   bool
}

// FromChannel builds Chunks from a producer goroutine. The producer must
// close ch when finished and stop when the context behind cancel is done.
func FromChannel(ch <-chan Delta, cancel context.CancelFunc) Chunks {
	return &chanChunks{ch: ch, cancel: cancel}
}

func (c *chanChunks) Next(ctx context.Context) (string, error) {
	c.mu.Lock()
	closed, done := c.closed, c.done
	c.mu.Unlock()
	if done {
		return "", io.EOF
	}
	if closed {
		return "", ErrClosed
	}
	for {
		select {
		case <-ctx.Done():
			_ = c.Close()
			return "", ctx.Err()
		case d, ok := <-c.ch:
			if !ok {
				c.mu.Lock()
				c.done = true
				c.mu.Unlock()
				_ = c.Close()
				return "", io.EOF
			}
			if d.Err != nil {
				_ = c.Close()
				return "", d.Err
			}
			if d.Text != "" {
				return d.Text, nil
			}
		}
	}
}

func (c *chanChunks) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		if c.cancel != nil {
			c.cancel()
		}
	})
	return nil
}

// Peek pulls the first delta before anything is written to the caller, so an
// upstream that fails immediately can still be reported with a real status.
// On error the chunks are closed and the error returned; an upstream that ends
// before its first delta yields ErrEmpty.
func Peek(ctx context.Context, c Chunks) (Chunks, error) {
	first, err := c.Next(ctx)
	if errors.Is(err, io.EOF) {
		_ = c.Close()
		return nil, ErrEmpty
	}
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return &peekedChunks{inner: c, first: first, pending: true}, nil
}

type peekedChunks struct {
	inner   Chunks
	first   string
	pending bool
}

func (p *peekedChunks) Next(ctx context.Context) (string, error) {
	if p.pending {
		p.pending = false
		return p.first, nil
	}
	return p.inner.Next(ctx)
}

func (p *peekedChunks) Close() error { return p.inner.Close() }
