package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Format selects the wire encoding for streamed chunks.
type Format int

const (
	FormatText Format = iota
	FormatSSE
)

// NegotiateFormat picks SSE when the caller asked for text/event-stream.
func NegotiateFormat(accept string) Format {
	if strings.Contains(accept, "text/event-stream") {
		return FormatSSE
	}
	return FormatText
}

// Stats describes a finished stream write.
type Stats struct {
	Chunks     int
	Bytes      int
	FirstChunk time.Duration
}

// SSEDelta is the payload of each `data:` event written by WriteStream.
type SSEDelta struct {
	Content string `json:"content"`
}

// ErrorBody is the JSON error shape returned to callers.
type ErrorBody struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// Completion is the non-streaming response body.
type Completion struct {
	Choices []Choice `json:"choices"`
}

type Choice struct {
	Message CompletionMessage `json:"message"`
}

type CompletionMessage struct {
	Content string `json:"content"`
}

// NewCompletion wraps content in the batch response shape.
func NewCompletion(content string) Completion {
	return Completion{Choices: []Choice{{Message: CompletionMessage{Content: content}}}}
}

// WriteCompletion writes {choices:[{message:{content}}]}.
func WriteCompletion(w http.ResponseWriter, content string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	return json.NewEncoder(w).Encode(NewCompletion(content))
}

// WriteStream forwards each chunk to w as soon as it is pulled and flushes
// after every write. The chunks are always closed on return. Once the first
// byte is written an upstream failure can no longer change the status code;
// SSE callers receive an `error` event, text callers a truncated body.
func WriteStream(ctx context.Context, w http.ResponseWriter, chunks Chunks, format Format, onError func(error) ErrorBody) (Stats, error) {
	defer chunks.Close()

	flusher, _ := w.(http.Flusher)
	start := time.Now()
	var stats Stats

	switch format {
	case FormatSSE:
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Accel-Buffering", "no")
	}
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	for {
		chunk, err := chunks.Next(ctx)
		if errors.Is(err, io.EOF) {
			if format == FormatSSE {
				_, _ = io.WriteString(w, "data: [DONE]\n\n")
				if flusher != nil {
					flusher.Flush()
				}
			}
			return stats, nil
		}
		if err != nil {
			if format == FormatSSE && onError != nil && ctx.Err() == nil {
				body, _ := json.Marshal(onError(err))
				_, _ = fmt.Fprintf(w, "event: error\ndata: %s\n\n", body)
				if flusher != nil {
					flusher.Flush()
				}
			}
			return stats, err
		}

		var n int
		if format == FormatSSE {
			payload, _ := json.Marshal(SSEDelta{Content: chunk})
			n, err = fmt.Fprintf(w, "data: %s\n\n", payload)
		} else {
			n, err = io.WriteString(w, chunk)
		}
		if err != nil {
			// client went away; Close above stops the upstream
			return stats, err
		}
		if stats.Chunks == 0 {
			stats.FirstChunk = time.Since(start)
		}
		stats.Chunks++
		stats.Bytes += n
		if flusher != nil {
			flusher.Flush()
		}
	}
}
