package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/immxrtalbeast/crisp_call/internal/domain"
	"github.com/immxrtalbeast/crisp_call/lib/logger/handlers/slogdiscard"
	"github.com/pion/webrtc/v3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisKeys(t *testing.T) {
	assert.Equal(t, "crisp:call:c1", docKey("c1"))
	assert.Equal(t, "crisp:call:c1:changes", changesChannel("c1"))
	assert.Equal(t, "crisp:call:c1:calleeCandidates", collectionKey("c1", domain.CollectionCalleeCandidates))
}

func TestRedisConfigDefaults(t *testing.T) {
	cfg := RedisConfig{Addr: "localhost:6379"}.withDefaults()

	assert.Equal(t, 3*time.Second, cfg.DialTimeout)
	assert.Greater(t, cfg.ReadTimeout, redisReadBlock)
	assert.Equal(t, 20, cfg.PoolSize)
}

func TestRedisValuesRoundTripThroughDescriptor(t *testing.T) {
	offer := &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
	values, err := redisValues(Fields{
		domain.FieldCallID:    "c1",
		domain.FieldOffer:     offer,
		domain.FieldConnected: true,
	})
	require.NoError(t, err)

	fields := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		s, ok := v.(string)
		require.True(t, ok)
		fields[k] = json.RawMessage(s)
	}
	d, err := decodeDescriptor(fields)
	require.NoError(t, err)
	assert.Equal(t, "c1", d.CallID)
	assert.True(t, d.Connected)
	require.NotNil(t, d.Offer)
	assert.Equal(t, "v=0", d.Offer.SDP)
}

func TestDecodeStreamRecord(t *testing.T) {
	rec, err := decodeStreamRecord(redis.XMessage{
		ID:     "1700000000000-0",
		Values: map[string]any{redisCandidateKey: `{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host"}`},
	})
	require.NoError(t, err)
	assert.Equal(t, "1700000000000-0", rec.ID)
	assert.Equal(t, "candidate:1 1 udp 1 10.0.0.1 5000 typ host", rec.Candidate.Candidate)

	_, err = decodeStreamRecord(redis.XMessage{ID: "1-0", Values: map[string]any{}})
	require.Error(t, err)
}

func newMiniredisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, time.Hour, slogdiscard.NewDiscardLogger()), mr
}

func TestRedisStore_CreateIsGuarded(t *testing.T) {
	ctx := context.Background()
	s, mr := newMiniredisStore(t)

	d := domain.NewSessionDescriptor("c1", "responder", "citizen")
	require.NoError(t, s.Create(ctx, "c1", DescriptorFields(d)))
	require.ErrorIs(t, s.Create(ctx, "c1", DescriptorFields(d)), ErrCallExists)
	assert.Greater(t, mr.TTL(docKey("c1")), time.Duration(0))

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "responder", got.CallerID)
	assert.Equal(t, "citizen", got.CalleeID)
}

func TestRedisStore_UpdateMergesFields(t *testing.T) {
	ctx := context.Background()
	s, _ := newMiniredisStore(t)
	require.NoError(t, s.Create(ctx, "c1", DescriptorFields(domain.NewSessionDescriptor("c1", "a", "b"))))

	offer := &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"}
	require.NoError(t, s.Update(ctx, "c1", Fields{domain.FieldOffer: offer, domain.FieldConnected: false}))
	require.NoError(t, s.Update(ctx, "c1", Fields{domain.FieldStatus: domain.CallStatusEnded, domain.FieldCallLogs: 75}))

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got.Offer)
	assert.Equal(t, "offer-sdp", got.Offer.SDP)
	assert.Equal(t, domain.CallStatusEnded, got.Status)
	require.NotNil(t, got.CallLogs)
	assert.Equal(t, 75, *got.CallLogs)

	require.ErrorIs(t, s.Update(ctx, "missing", Fields{domain.FieldStatus: domain.CallStatusEnded}), ErrCallNotFound)
	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrCallNotFound)
}

func TestRedisStore_FinishedCallTakesNoWrites(t *testing.T) {
	ctx := context.Background()
	s, _ := newMiniredisStore(t)
	require.NoError(t, s.Create(ctx, "c1", DescriptorFields(domain.NewSessionDescriptor("c1", "a", "b"))))
	require.NoError(t, s.Update(ctx, "c1", Fields{domain.FieldStatus: domain.CallStatusEnded, domain.FieldCallLogs: 12}))

	answer := &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "late-answer"}
	require.NoError(t, s.Update(ctx, "c1", Fields{
		domain.FieldAnswer:    answer,
		domain.FieldConnected: true,
		domain.FieldStatus:    domain.CallStatusAnswered,
	}))

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, got.Status)
	assert.Nil(t, got.Answer)
	assert.False(t, got.Connected)
	require.NotNil(t, got.CallLogs)
	assert.Equal(t, 12, *got.CallLogs)
}

func TestRedisStore_SubscribeDocumentConverges(t *testing.T) {
	ctx := context.Background()
	s, _ := newMiniredisStore(t)
	require.NoError(t, s.Create(ctx, "c1", DescriptorFields(domain.NewSessionDescriptor("c1", "a", "b"))))

	rec := &docRecorder{}
	sub, err := s.SubscribeDocument(ctx, "c1", rec.add)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.Eventually(t, func() bool { return rec.len() >= 1 }, waitFor, 5*time.Millisecond)
	first := rec.last()
	assert.Equal(t, "c1", first.CallID)
	assert.Equal(t, domain.CallStatus(""), first.Status)

	require.NoError(t, s.Update(ctx, "c1", Fields{domain.FieldStatus: domain.CallStatusEnded}))
	require.Eventually(t, func() bool {
		last := rec.last()
		return last != nil && last.Status == domain.CallStatusEnded
	}, waitFor, 5*time.Millisecond)

	sub.Unsubscribe()
	sub.Unsubscribe()
	n := rec.len()
	require.NoError(t, s.Update(ctx, "c1", Fields{domain.FieldCallLogs: 3}))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, rec.len())
}

func TestRedisStore_SubscribeCollectionReplaysThenFollows(t *testing.T) {
	ctx := context.Background()
	s, _ := newMiniredisStore(t)
	require.NoError(t, s.Create(ctx, "c1", DescriptorFields(domain.NewSessionDescriptor("c1", "a", "b"))))

	var ids []string
	for _, c := range []string{"cand-1", "cand-2"} {
		id, err := s.Append(ctx, "c1", domain.CollectionCalleeCandidates, webrtc.ICECandidateInit{Candidate: c})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	var mu sync.Mutex
	var got []domain.CandidateRecord
	sub, err := s.SubscribeCollection(ctx, "c1", domain.CollectionCalleeCandidates, func(r domain.CandidateRecord) {
		mu.Lock()
		got = append(got, r)
		mu.Unlock()
	})
	require.NoError(t, err)

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(got)
	}
	require.Eventually(t, func() bool { return count() == 2 }, waitFor, 5*time.Millisecond)

	_, err = s.Append(ctx, "c1", domain.CollectionCalleeCandidates, webrtc.ICECandidateInit{Candidate: "cand-3"})
	require.NoError(t, err)
	_, err = s.Append(ctx, "c1", domain.CollectionCallerCandidates, webrtc.ICECandidateInit{Candidate: "other"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return count() == 3 }, waitFor, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, ids, []string{got[0].ID, got[1].ID})
	assert.Equal(t, "cand-3", got[2].Candidate.Candidate)
	mu.Unlock()

	sub.Unsubscribe()
	_, err = s.Append(ctx, "c1", domain.CollectionCalleeCandidates, webrtc.ICECandidateInit{Candidate: "cand-4"})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, count())
}
