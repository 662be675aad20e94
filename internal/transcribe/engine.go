package transcribe

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

// ErrEngineClosed is returned for calls made after the engine was closed.
var ErrEngineClosed = errors.New("transcription engine closed")

// Engine turns one audio file into text.
type Engine interface {
	Transcribe(ctx context.Context, audioPath, language string) (string, error)
}

// Exclusive guards an engine that cannot serve concurrent calls: at most one
// Transcribe is in flight, later callers wait their turn.
type Exclusive struct {
	mu     sync.Mutex
	engine Engine
	closed bool
}

// NewExclusive wraps engine.
func NewExclusive(engine Engine) *Exclusive {
	return &Exclusive{engine: engine}
}

// Transcribe forwards to the wrapped engine while holding the lock.
func (e *Exclusive) Transcribe(ctx context.Context, audioPath, language string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return "", ErrEngineClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return e.engine.Transcribe(ctx, audioPath, language)
}

// Close waits for the in-flight call and releases the engine.
func (e *Exclusive) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	if closer, ok := e.engine.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// normalizeLanguage maps "auto" and empty language to no override.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}
