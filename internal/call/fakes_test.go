package call

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/immxrtalbeast/crisp_call/internal/domain"
	"github.com/immxrtalbeast/crisp_call/internal/rtc"
	"github.com/immxrtalbeast/crisp_call/internal/signaling"
	"github.com/pion/webrtc/v3"
)

type fakePC struct {
	mu         sync.Mutex
	sdp        string
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	setRemote  int
	candidates []string
	closes     int
}

func (f *fakePC) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) { return nil, nil }

func (f *fakePC) AddTransceiverFromKind(webrtc.RTPCodecType, ...webrtc.RTPTransceiverInit) (*webrtc.RTPTransceiver, error) {
	return nil, nil
}

func (f *fakePC) OnICECandidate(func(*webrtc.ICECandidate)) {}

func (f *fakePC) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (f *fakePC) OnConnectionStateChange(func(webrtc.PeerConnectionState)) {}

func (f *fakePC) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-" + f.sdp}, nil
}

func (f *fakePC) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remote == nil {
		return webrtc.SessionDescription{}, errors.New("no remote description")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-" + f.sdp}, nil
}

func (f *fakePC) SetLocalDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.local != nil {
		return errors.New("local description set twice")
	}
	f.local = &desc
	return nil
}

func (f *fakePC) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setRemote++
	f.remote = &desc
	return nil
}

func (f *fakePC) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remote == nil {
		return errors.New("remote description not set")
	}
	f.candidates = append(f.candidates, c.Candidate)
	return nil
}

func (f *fakePC) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	return nil
}

func (f *fakePC) remoteSets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setRemote
}

func (f *fakePC) appliedCandidates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.candidates...)
}

func (f *fakePC) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type fakeFactory struct {
	name string
	mu   sync.Mutex
	pcs  []*fakePC
}

func (f *fakeFactory) NewPeerConnection() (rtc.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pc := &fakePC{sdp: f.name}
	f.pcs = append(f.pcs, pc)
	return pc, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pcs)
}

func (f *fakeFactory) last() *fakePC {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pcs) == 0 {
		return nil
	}
	return f.pcs[len(f.pcs)-1]
}

type fakeDirectory struct {
	mu      sync.Mutex
	records map[string]*domain.Availability
	err     error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{records: make(map[string]*domain.Availability)}
}

func (d *fakeDirectory) get(userID string) *domain.Availability {
	a, ok := d.records[userID]
	if !ok {
		a = domain.NewAvailability(userID)
		d.records[userID] = a
	}
	return a
}

func (d *fakeDirectory) Availability(_ context.Context, userID string) (*domain.Availability, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	a := *d.get(userID)
	return &a, nil
}

func (d *fakeDirectory) MarkRinging(_ context.Context, calleeID, callID, callerID, callerName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.get(calleeID).Ringing(callID, callerID, callerName)
	return nil
}

func (d *fakeDirectory) SetStatus(_ context.Context, userID string, status domain.AvailabilityStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.get(userID).Set(status)
	return nil
}

func (d *fakeDirectory) status(userID string) domain.AvailabilityStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.get(userID).Status
}

type fakeHistory struct {
	mu      sync.Mutex
	records []domain.CallRecord
}

func (h *fakeHistory) SaveCall(_ context.Context, rec *domain.CallRecord) error {
	h.mu.Lock()
	h.records = append(h.records, *rec)
	h.mu.Unlock()
	return nil
}

func (h *fakeHistory) all() []domain.CallRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.CallRecord(nil), h.records...)
}

type fakeNavigator struct {
	mu     sync.Mutex
	routes []domain.Route
}

func (n *fakeNavigator) Navigate(_ string, route domain.Route) {
	n.mu.Lock()
	n.routes = append(n.routes, route)
	n.mu.Unlock()
}

func (n *fakeNavigator) all() []domain.Route {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Route(nil), n.routes...)
}

type fakeRingback struct {
	starts  atomic.Int32
	stops   atomic.Int32
	playing atomic.Bool
}

func (r *fakeRingback) Start() error {
	if r.playing.CompareAndSwap(false, true) {
		r.starts.Add(1)
	}
	return nil
}

func (r *fakeRingback) Stop() {
	if r.playing.CompareAndSwap(true, false) {
		r.stops.Add(1)
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []domain.Event
}

func (l *eventLog) Publish(e domain.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) ofType(t domain.EventType) []domain.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type countingStore struct {
	signaling.Store
	creates atomic.Int32
	updates atomic.Int32
}

func (c *countingStore) Create(ctx context.Context, callID string, fields signaling.Fields) error {
	c.creates.Add(1)
	return c.Store.Create(ctx, callID, fields)
}

func (c *countingStore) Update(ctx context.Context, callID string, fields signaling.Fields) error {
	c.updates.Add(1)
	return c.Store.Update(ctx, callID, fields)
}

// brokenFeedStore fails every document subscription and keeps the context
// it was handed.
type brokenFeedStore struct {
	signaling.Store
	mu  sync.Mutex
	ctx context.Context
}

var errFeedDown = errors.New("document feed unavailable")

func (b *brokenFeedStore) SubscribeDocument(ctx context.Context, _ string, _ func(*domain.SessionDescriptor)) (signaling.Subscription, error) {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()
	return nil, errFeedDown
}

func (b *brokenFeedStore) subscribeCtx() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ctx
}
