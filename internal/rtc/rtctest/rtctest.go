// Package rtctest provides an in-process rtc.Factory for tests of packages
// that sit above the call core.
package rtctest

import (
	"errors"
	"sync"

	"github.com/immxrtalbeast/crisp_call/internal/rtc"
	"github.com/pion/webrtc/v3"
)

// PeerConnection produces deterministic SDP and records what was applied.
type PeerConnection struct {
	name string

	mu         sync.Mutex
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	candidates []string
	closed     bool
}

func (p *PeerConnection) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) { return nil, nil }

func (p *PeerConnection) AddTransceiverFromKind(webrtc.RTPCodecType, ...webrtc.RTPTransceiverInit) (*webrtc.RTPTransceiver, error) {
	return nil, nil
}

func (p *PeerConnection) OnICECandidate(func(*webrtc.ICECandidate)) {}

func (p *PeerConnection) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (p *PeerConnection) OnConnectionStateChange(func(webrtc.PeerConnectionState)) {}

func (p *PeerConnection) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-" + p.name}, nil
}

func (p *PeerConnection) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return webrtc.SessionDescription{}, errors.New("no remote description")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-" + p.name}, nil
}

func (p *PeerConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = &desc
	return nil
}

func (p *PeerConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = &desc
	return nil
}

func (p *PeerConnection) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return errors.New("remote description not set")
	}
	p.candidates = append(p.candidates, c.Candidate)
	return nil
}

func (p *PeerConnection) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *PeerConnection) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// RemoteSDP returns the SDP of the applied remote description, if any.
func (p *PeerConnection) RemoteSDP() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return ""
	}
	return p.remote.SDP
}

type Factory struct {
	Name string
	Err  error

	mu  sync.Mutex
	pcs []*PeerConnection
}

var _ rtc.Factory = (*Factory)(nil)

func NewFactory(name string) *Factory {
	return &Factory{Name: name}
}

func (f *Factory) NewPeerConnection() (rtc.PeerConnection, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	pc := &PeerConnection{name: f.Name}
	f.pcs = append(f.pcs, pc)
	return pc, nil
}

func (f *Factory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pcs)
}

func (f *Factory) Last() *PeerConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pcs) == 0 {
		return nil
	}
	return f.pcs[len(f.pcs)-1]
}
