package rtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/immxrtalbeast/crisp_call/internal/domain"
	"github.com/immxrtalbeast/crisp_call/internal/media"
	"github.com/immxrtalbeast/crisp_call/internal/signaling"
	"github.com/immxrtalbeast/crisp_call/lib/logger/sl"
	"github.com/pion/webrtc/v3"
)

var (
	ErrHandleClosed         = errors.New("peer connection closed")
	ErrAlreadyNegotiated    = errors.New("local description already set")
	ErrNoRemoteDescription  = errors.New("remote description missing from call document")
	ErrConnectionNotStarted = errors.New("peer connection not started")
)

type State int32

const (
	StateCreated State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Hooks surface connection events to the call layer. Any hook may be nil.
type Hooks struct {
	OnRemoteTrack     func(RemoteTrack)
	OnConnectionState func(webrtc.PeerConnectionState)
}

// Handle owns one native peer connection from creation to close.
//
// Remote candidates are accepted as soon as the handle exists. They are held
// until a remote description is applied and each distinct candidate reaches
// the connection exactly once.
type Handle struct {
	callID string
	proto  Protocol
	pc     PeerConnection
	store  signaling.Store
	local  *media.LocalStream
	remote *RemoteStream
	hooks  Hooks
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	state  atomic.Int32
	done   chan struct{}
	once   sync.Once

	mu        sync.Mutex
	localSet  bool
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	seen      map[string]struct{}
	applied   int
}

func newHandle(callID string, proto Protocol, pc PeerConnection, store signaling.Store, local *media.LocalStream, hooks Hooks, log *slog.Logger) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handle{
		callID: callID,
		proto:  proto,
		pc:     pc,
		store:  store,
		local:  local,
		remote: &RemoteStream{},
		hooks:  hooks,
		log:    log.With(slog.String("call_id", callID), slog.String("role", string(proto.Role))),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		seen:   make(map[string]struct{}),
	}
}

func (h *Handle) CallID() string        { return h.callID }
func (h *Handle) Protocol() Protocol    { return h.proto }
func (h *Handle) State() State          { return State(h.state.Load()) }
func (h *Handle) Done() <-chan struct{} { return h.done }
func (h *Handle) Remote() *RemoteStream { return h.remote }

func (h *Handle) closed() bool { return h.State() == StateClosed }

// start attaches local media and registers callbacks.
func (h *Handle) start() error {
	const op = "rtc.handle.start"

	tracks := 0
	if h.local != nil {
		for _, track := range h.local.Tracks() {
			if _, err := h.pc.AddTrack(track); err != nil {
				return fmt.Errorf("%s: add track: %w", op, err)
			}
			tracks++
		}
	}
	if tracks == 0 {
		// Keep a valid audio m-line so the remote side can still send.
		if _, err := h.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("%s: add transceiver: %w", op, err)
		}
	}

	h.pc.OnICECandidate(h.onICECandidate)
	h.pc.OnTrack(h.onTrack)
	h.pc.OnConnectionStateChange(h.onConnectionState)

	if !h.state.CompareAndSwap(int32(StateCreated), int32(StateActive)) {
		return ErrHandleClosed
	}
	return nil
}

// Negotiate runs this role's half of offer/answer and publishes the local
// description. extra is merged into the same document update.
func (h *Handle) Negotiate(ctx context.Context, extra signaling.Fields) (*webrtc.SessionDescription, error) {
	const op = "rtc.handle.negotiate"

	var remote *webrtc.SessionDescription
	if !h.proto.Offerer() {
		d, err := h.store.Get(ctx, h.callID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		remote = h.proto.Remote(d)
		if remote == nil {
			return nil, ErrNoRemoteDescription
		}
	}

	local, err := h.describe(remote)
	if err != nil {
		return nil, err
	}

	fields := signaling.Fields{
		h.proto.LocalField():   local,
		domain.FieldConnected: !h.proto.Offerer(),
	}
	for k, v := range extra {
		fields[k] = v
	}

	if h.closed() {
		return nil, ErrHandleClosed
	}
	if err := h.store.Update(ctx, h.callID, fields); err != nil {
		return nil, fmt.Errorf("%s: publish: %w", op, err)
	}
	h.log.Info("local description published", slog.String("op", op), slog.String("type", local.Type.String()))
	return local, nil
}

func (h *Handle) describe(remote *webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case h.State() == StateCreated:
		return nil, ErrConnectionNotStarted
	case h.closed():
		return nil, ErrHandleClosed
	case h.localSet:
		return nil, ErrAlreadyNegotiated
	}

	if remote != nil && !h.remoteSet {
		if err := h.setRemoteLocked(*remote); err != nil {
			return nil, err
		}
	}

	var (
		desc webrtc.SessionDescription
		err  error
	)
	if h.proto.Offerer() {
		desc, err = h.pc.CreateOffer(nil)
	} else {
		desc, err = h.pc.CreateAnswer(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", h.proto.LocalField(), err)
	}
	if err := h.pc.SetLocalDescription(desc); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	h.localSet = true
	return &desc, nil
}

// ApplyRemote applies the other side's description from d the first time it
// is present. Later calls, and calls after close, report false.
func (h *Handle) ApplyRemote(d *domain.SessionDescriptor) (bool, error) {
	remote := h.proto.Remote(d)
	if remote == nil {
		return false, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed() || h.remoteSet {
		return false, nil
	}
	// The answer is only meaningful against our own offer.
	if h.proto.Offerer() && !h.localSet {
		return false, nil
	}
	if err := h.setRemoteLocked(*remote); err != nil {
		return false, err
	}
	return true, nil
}

func (h *Handle) setRemoteLocked(desc webrtc.SessionDescription) error {
	if err := h.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	h.remoteSet = true
	h.log.Info("remote description applied",
		slog.String("type", desc.Type.String()),
		slog.Int("queued_candidates", len(h.pending)),
	)

	pending := h.pending
	h.pending = nil
	for _, c := range pending {
		h.addCandidateLocked(c)
	}
	return nil
}

// AddRemoteCandidate accepts a record from the remote collection. It reports
// false for a candidate it has already seen.
func (h *Handle) AddRemoteCandidate(rec domain.CandidateRecord) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed() {
		return false
	}
	key := rec.Key()
	if _, dup := h.seen[key]; dup {
		return false
	}
	h.seen[key] = struct{}{}

	if !h.remoteSet {
		h.pending = append(h.pending, rec.Candidate)
		return true
	}
	h.addCandidateLocked(rec.Candidate)
	return true
}

func (h *Handle) addCandidateLocked(c webrtc.ICECandidateInit) {
	if err := h.pc.AddICECandidate(c); err != nil {
		h.log.Warn("failed to add remote candidate", slog.String("candidate", c.Candidate), sl.Err(err))
		return
	}
	h.applied++
}

// Applied is the number of remote candidates handed to the connection.
func (h *Handle) Applied() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.applied
}

func (h *Handle) RemoteApplied() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.remoteSet
}

func (h *Handle) onICECandidate(c *webrtc.ICECandidate) {
	if c == nil {
		h.log.Debug("ice gathering complete")
		return
	}
	if h.closed() {
		return
	}
	if _, err := h.store.Append(h.ctx, h.callID, h.proto.LocalCollection, c.ToJSON()); err != nil {
		if h.ctx.Err() == nil {
			h.log.Warn("failed to publish local candidate", sl.Err(err))
		}
	}
}

func (h *Handle) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	info := remoteTrackInfo(track)
	if !h.addRemoteTrack(info) {
		return
	}
	// Drain RTP so the receive buffers never stall; reads fail once closed.
	go func() {
		for {
			if _, _, err := track.ReadRTP(); err != nil {
				return
			}
		}
	}()
}

func (h *Handle) addRemoteTrack(info RemoteTrack) bool {
	if h.closed() || !h.remote.add(info) {
		return false
	}
	h.log.Info("remote track received", slog.String("track_id", info.ID), slog.String("kind", info.Kind))
	if h.hooks.OnRemoteTrack != nil {
		h.hooks.OnRemoteTrack(info)
	}
	return true
}

func (h *Handle) onConnectionState(state webrtc.PeerConnectionState) {
	log := h.log.With(slog.String("state", state.String()))
	if state == webrtc.PeerConnectionStateFailed {
		log.Warn("peer connection failed")
	} else {
		log.Info("peer connection state changed")
	}
	if h.closed() {
		return
	}
	if h.hooks.OnConnectionState != nil {
		h.hooks.OnConnectionState(state)
	}
}

// Close tears down the connection and releases local and remote media.
// It is safe to call more than once.
func (h *Handle) Close() error {
	var err error
	h.once.Do(func() {
		h.state.Store(int32(StateClosed))
		h.cancel()

		err = h.pc.Close()
		if h.local != nil {
			h.local.Close()
		}
		h.remote.release()

		h.mu.Lock()
		h.pending = nil
		h.mu.Unlock()

		close(h.done)
		h.log.Info("peer connection closed")
	})
	return err
}
