package rtc

import (
	"sync"

	"github.com/pion/webrtc/v3"
)

type RemoteTrack struct {
	ID       string `json:"id"`
	StreamID string `json:"stream_id"`
	Kind     string `json:"kind"`
	Codec    string `json:"codec,omitempty"`
}

func remoteTrackInfo(track *webrtc.TrackRemote) RemoteTrack {
	return RemoteTrack{
		ID:       track.ID(),
		StreamID: track.StreamID(),
		Kind:     track.Kind().String(),
		Codec:    track.Codec().MimeType,
	}
}

// RemoteStream collects the tracks received from the other party.
type RemoteStream struct {
	mu       sync.Mutex
	tracks   []RemoteTrack
	released bool
}

func (s *RemoteStream) add(t RemoteTrack) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false
	}
	s.tracks = append(s.tracks, t)
	return true
}

func (s *RemoteStream) Tracks() []RemoteTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RemoteTrack, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *RemoteStream) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

func (s *RemoteStream) release() {
	s.mu.Lock()
	s.released = true
	s.tracks = nil
	s.mu.Unlock()
}
