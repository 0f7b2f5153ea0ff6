// Package media captures the local audio sent to the remote party.
package media

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v3"
)

var ErrCaptureFailed = errors.New("local media capture failed")

// Source acquires the local microphone for one call.
type Source interface {
	Capture(ctx context.Context) (*LocalStream, error)
}

type SourceFunc func(ctx context.Context) (*LocalStream, error)

func (f SourceFunc) Capture(ctx context.Context) (*LocalStream, error) { return f(ctx) }

// LocalStream is a set of local tracks plus the pump feeding them.
type LocalStream struct {
	id     string
	tracks []webrtc.TrackLocal
	muted  atomic.Bool
	closed atomic.Bool
	stop   func()
	once   sync.Once
}

// NewLocalStream wraps tracks. stop, if non-nil, runs once on Close.
func NewLocalStream(id string, tracks []webrtc.TrackLocal, stop func()) *LocalStream {
	return &LocalStream{id: id, tracks: tracks, stop: stop}
}

func (s *LocalStream) ID() string { return s.id }

func (s *LocalStream) Tracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *LocalStream) SetMuted(muted bool) { s.muted.Store(muted) }

func (s *LocalStream) Muted() bool { return s.muted.Load() }

func (s *LocalStream) Closed() bool { return s.closed.Load() }

// Close stops every track. Repeated calls are no-ops.
func (s *LocalStream) Close() {
	s.once.Do(func() {
		s.closed.Store(true)
		if s.stop != nil {
			s.stop()
		}
	})
}
