package rtc

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/immxrtalbeast/crisp_call/internal/domain"
	"github.com/immxrtalbeast/crisp_call/internal/media"
	"github.com/immxrtalbeast/crisp_call/internal/signaling"
	"github.com/immxrtalbeast/crisp_call/lib/logger/handlers/slogdiscard"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   *signaling.MemoryStore
	factory *fakeFactory
	manager *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slogdiscard.NewDiscardLogger()
	store := signaling.NewMemoryStore(signaling.WithLogger(log))
	factory := &fakeFactory{}
	require.NoError(t, store.Create(context.Background(), "c1",
		signaling.DescriptorFields(domain.NewSessionDescriptor("c1", "responder", "citizen"))))
	return &fixture{store: store, factory: factory, manager: NewManager(factory, store, log)}
}

func (f *fixture) open(t *testing.T, role domain.Role) (*Handle, *fakePC) {
	t.Helper()
	h, err := f.manager.Open(context.Background(), OpenParams{CallID: "c1", Role: role})
	require.NoError(t, err)
	return h, f.factory.last()
}

func candidate(s string) domain.CandidateRecord {
	return domain.CandidateRecord{ID: s, Candidate: webrtc.ICECandidateInit{Candidate: s}}
}

func answerDoc() *domain.SessionDescriptor {
	d := domain.NewSessionDescriptor("c1", "responder", "citizen")
	d.Offer = &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"}
	d.Answer = &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}
	d.Connected = true
	return d
}

func TestProtocolFor(t *testing.T) {
	caller := ProtocolFor(domain.RoleCaller)
	assert.True(t, caller.Offerer())
	assert.Equal(t, domain.CollectionCallerCandidates, caller.LocalCollection)
	assert.Equal(t, domain.CollectionCalleeCandidates, caller.RemoteCollection)
	assert.Equal(t, domain.FieldOffer, caller.LocalField())

	callee := ProtocolFor(domain.RoleCallee)
	assert.False(t, callee.Offerer())
	assert.Equal(t, domain.CollectionCalleeCandidates, callee.LocalCollection)
	assert.Equal(t, domain.CollectionCallerCandidates, callee.RemoteCollection)
	assert.Equal(t, domain.FieldAnswer, callee.LocalField())

	d := answerDoc()
	assert.Equal(t, "answer-sdp", caller.Remote(d).SDP)
	assert.Equal(t, "offer-sdp", callee.Remote(d).SDP)
	assert.Nil(t, caller.Remote(nil))
}

func TestHandle_CallerPublishesOfferAndAppliesAnswerOnce(t *testing.T) {
	f := newFixture(t)
	h, pc := f.open(t, domain.RoleCaller)
	assert.Equal(t, StateActive, h.State())

	offer, err := h.Negotiate(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)

	doc, err := f.store.Get(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, doc.Offer)
	assert.Equal(t, "offer-sdp", doc.Offer.SDP)
	assert.False(t, doc.Connected)

	_, err = h.Negotiate(context.Background(), nil)
	require.ErrorIs(t, err, ErrAlreadyNegotiated)

	for i := 0; i < 3; i++ {
		applied, err := h.ApplyRemote(answerDoc())
		require.NoError(t, err)
		assert.Equal(t, i == 0, applied)
	}
	assert.Equal(t, 1, pc.remoteSets())
	assert.True(t, h.RemoteApplied())
}

func TestHandle_CallerIgnoresDocumentWithoutAnswer(t *testing.T) {
	f := newFixture(t)
	h, pc := f.open(t, domain.RoleCaller)
	_, err := h.Negotiate(context.Background(), nil)
	require.NoError(t, err)

	d := answerDoc()
	d.Answer = nil
	applied, err := h.ApplyRemote(d)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 0, pc.remoteSets())
}

func TestHandle_CalleeAnswersExistingOffer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Update(ctx, "c1", signaling.Fields{
		domain.FieldOffer:     &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"},
		domain.FieldConnected: false,
	}))

	h, pc := f.open(t, domain.RoleCallee)
	answer, err := h.Negotiate(ctx, signaling.Fields{domain.FieldStatus: domain.CallStatusAnswered})
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)

	doc, err := f.store.Get(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, doc.Answer)
	assert.Equal(t, "answer-sdp", doc.Answer.SDP)
	assert.True(t, doc.Connected)
	assert.Equal(t, domain.CallStatusAnswered, doc.Status)

	applied, err := h.ApplyRemote(doc)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 1, pc.remoteSets())
}

func TestHandle_CalleeWithoutOffer(t *testing.T) {
	f := newFixture(t)
	h, _ := f.open(t, domain.RoleCallee)

	_, err := h.Negotiate(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoRemoteDescription)

	doc, err := f.store.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Nil(t, doc.Answer)
}

func TestHandle_EarlyCandidatesAppliedAfterAnswer(t *testing.T) {
	f := newFixture(t)
	h, pc := f.open(t, domain.RoleCaller)
	_, err := h.Negotiate(context.Background(), nil)
	require.NoError(t, err)

	for _, c := range []string{"cand-1", "cand-2", "cand-3"} {
		assert.True(t, h.AddRemoteCandidate(candidate(c)))
		assert.False(t, h.AddRemoteCandidate(candidate(c)))
	}
	assert.Empty(t, pc.appliedCandidates())

	_, err = h.ApplyRemote(answerDoc())
	require.NoError(t, err)
	assert.Equal(t, []string{"cand-1", "cand-2", "cand-3"}, pc.appliedCandidates())

	assert.True(t, h.AddRemoteCandidate(candidate("cand-4")))
	assert.False(t, h.AddRemoteCandidate(candidate("cand-2")))
	assert.Equal(t, []string{"cand-1", "cand-2", "cand-3", "cand-4"}, pc.appliedCandidates())
	assert.Equal(t, 4, h.Applied())
}

func TestHandle_LocalCandidatesPersistedWithoutNull(t *testing.T) {
	f := newFixture(t)
	h, pc := f.open(t, domain.RoleCaller)
	defer h.Close()

	pc.emitCandidate(&webrtc.ICECandidate{
		Foundation: "1",
		Priority:   2130706431,
		Address:    "10.0.0.1",
		Protocol:   webrtc.ICEProtocolUDP,
		Port:       5000,
		Typ:        webrtc.ICECandidateTypeHost,
		Component:  1,
	})
	pc.emitCandidate(nil)

	records := f.store.Records("c1", domain.CollectionCallerCandidates)
	require.Len(t, records, 1)
	assert.True(t, strings.HasPrefix(records[0].Candidate.Candidate, "candidate:"))
	assert.Empty(t, f.store.Records("c1", domain.CollectionCalleeCandidates))
}

func TestHandle_CloseIsIdempotentAndReleasesMedia(t *testing.T) {
	f := newFixture(t)
	stops := 0
	local := media.NewLocalStream("local", nil, func() { stops++ })
	h, err := f.manager.Open(context.Background(), OpenParams{CallID: "c1", Role: domain.RoleCaller, Local: local})
	require.NoError(t, err)
	pc := f.factory.last()
	assert.Equal(t, []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio}, pc.transceivers)

	require.True(t, h.addRemoteTrack(RemoteTrack{ID: "t1", Kind: "audio"}))
	require.Len(t, h.Remote().Tracks(), 1)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())

	assert.Equal(t, StateClosed, h.State())
	assert.Equal(t, 1, pc.closeCount())
	assert.Equal(t, 1, stops)
	assert.True(t, h.Remote().Released())
	assert.Empty(t, h.Remote().Tracks())
	assert.False(t, h.addRemoteTrack(RemoteTrack{ID: "t2"}))

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed")
	}
}

func TestHandle_ResultsAfterCloseAreNoops(t *testing.T) {
	f := newFixture(t)
	h, pc := f.open(t, domain.RoleCaller)
	require.NoError(t, h.Close())

	_, err := h.Negotiate(context.Background(), nil)
	require.ErrorIs(t, err, ErrHandleClosed)

	applied, err := h.ApplyRemote(answerDoc())
	require.NoError(t, err)
	assert.False(t, applied)
	assert.False(t, h.AddRemoteCandidate(candidate("late")))
	assert.Equal(t, 0, pc.remoteSets())

	doc, err := f.store.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Nil(t, doc.Offer)
}

func TestHandle_ConnectionStateHook(t *testing.T) {
	f := newFixture(t)
	var states []webrtc.PeerConnectionState
	h, err := f.manager.Open(context.Background(), OpenParams{
		CallID: "c1",
		Role:   domain.RoleCallee,
		Hooks: Hooks{OnConnectionState: func(s webrtc.PeerConnectionState) {
			states = append(states, s)
		}},
	})
	require.NoError(t, err)
	pc := f.factory.last()

	pc.emitState(webrtc.PeerConnectionStateConnected)
	pc.emitState(webrtc.PeerConnectionStateFailed)
	require.NoError(t, h.Close())
	pc.emitState(webrtc.PeerConnectionStateClosed)

	assert.Equal(t, []webrtc.PeerConnectionState{
		webrtc.PeerConnectionStateConnected,
		webrtc.PeerConnectionStateFailed,
	}, states)
}

func TestManager_SingleActiveHandle(t *testing.T) {
	f := newFixture(t)
	h, _ := f.open(t, domain.RoleCaller)
	assert.Same(t, h, f.manager.Active())

	_, err := f.manager.Open(context.Background(), OpenParams{CallID: "c2", Role: domain.RoleCallee})
	require.ErrorIs(t, err, ErrConnectionActive)

	require.NoError(t, h.Close())
	assert.Nil(t, f.manager.Active())

	h2, err := f.manager.Open(context.Background(), OpenParams{CallID: "c2", Role: domain.RoleCallee})
	require.NoError(t, err)
	assert.NotSame(t, h, h2)

	f.manager.CloseActive()
	assert.Equal(t, StateClosed, h2.State())
	assert.Nil(t, f.manager.Active())
}

func TestManager_FactoryFailure(t *testing.T) {
	f := newFixture(t)
	f.factory.err = errors.New("no ice agent")

	_, err := f.manager.Open(context.Background(), OpenParams{CallID: "c1", Role: domain.RoleCaller})
	require.Error(t, err)
	assert.Nil(t, f.manager.Active())
}

func TestIceServers(t *testing.T) {
	out := iceServers([]ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: nil},
		{URLs: []string{"turn:turn.example.org:3478"}, Username: "u", Credential: "p"},
	})
	require.Len(t, out, 2)
	assert.Empty(t, out[0].Username)
	assert.Equal(t, "u", out[1].Username)
	assert.Equal(t, "p", out[1].Credential)
}
