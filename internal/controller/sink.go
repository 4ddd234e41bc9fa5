package controller

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ResponseSink is a one-shot slot a relay worker resolves with a device
// reply or the timeout sentinel. Resolving never blocks, even if the
// caller stopped waiting.
type ResponseSink struct {
	ch   chan string
	once sync.Once
}

func NewResponseSink() *ResponseSink {
	return &ResponseSink{ch: make(chan string, 1)}
}

// Resolve stores value and reports whether this call was the one that
// resolved the sink. Later calls are dropped.
func (s *ResponseSink) Resolve(value string) bool {
	resolved := false
	s.once.Do(func() {
		s.ch <- value
		resolved = true
	})
	return resolved
}

// C delivers the resolved value exactly once
func (s *ResponseSink) C() <-chan string {
	return s.ch
}

// Wait blocks until the sink is resolved or ctx is done
func (s *ResponseSink) Wait(ctx context.Context) (string, error) {
	select {
	case v := <-s.ch:
		return v, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// CommandEnvelope carries one command to a device's relay worker
type CommandEnvelope struct {
	ID         uuid.UUID
	Command    string
	Sink       *ResponseSink
	EnqueuedAt time.Time
}

func NewCommandEnvelope(command string) *CommandEnvelope {
	return &CommandEnvelope{
		ID:         uuid.New(),
		Command:    command,
		Sink:       NewResponseSink(),
		EnqueuedAt: time.Now(),
	}
}
