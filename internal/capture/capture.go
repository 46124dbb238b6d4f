// Package capture models the live capture resource a recognition flow
// holds. Clients push frames into a stream; the recorder samples the
// latest one at its own cadence, so push rate never drives CPU cost.
package capture

import (
	"context"
	"errors"
	"sync"
)

// ErrReleased is returned by operations on a released stream. A second
// Release also fails with it: release must happen exactly once.
var ErrReleased = errors.New("capture stream released")

// Stream is one live capture handle.
type Stream struct {
	mu       sync.Mutex
	frame    []byte
	hasFrame bool
	released bool
}

// Push replaces the latest frame.
func (s *Stream) Push(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return ErrReleased
	}
	s.frame = append(s.frame[:0], frame...)
	s.hasFrame = true
	return nil
}

// Latest returns the most recently pushed frame, if any.
func (s *Stream) Latest() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released || !s.hasFrame {
		return nil, false
	}
	out := make([]byte, len(s.frame))
	copy(out, s.frame)
	return out, true
}

// Release stops the stream. Exactly one release per acquisition.
func (s *Stream) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return ErrReleased
	}
	s.released = true
	s.frame = nil
	s.hasFrame = false
	return nil
}

// Released reports whether the stream has been released.
func (s *Stream) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// Source acquires capture streams. Acquisition failure maps to the
// capture-failure variants (device unavailable, permission denied).
type Source interface {
	Acquire(ctx context.Context) (*Stream, error)
}

// PushSource hands out streams fed over the API. It never fails to
// acquire; failures belong to sources backed by real devices.
type PushSource struct{}

func (PushSource) Acquire(context.Context) (*Stream, error) {
	return &Stream{}, nil
}
