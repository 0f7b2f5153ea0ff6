package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/crisp_call/internal/calltimer"
	"github.com/immxrtalbeast/crisp_call/internal/domain"
	"github.com/immxrtalbeast/crisp_call/internal/media"
	"github.com/immxrtalbeast/crisp_call/internal/rtc"
	"github.com/immxrtalbeast/crisp_call/internal/signaling"
	"github.com/immxrtalbeast/crisp_call/lib/logger/sl"
	"github.com/pion/webrtc/v3"
)

const inboxSize = 64

type Session struct {
	deps        Deps
	log         *slog.Logger
	callID      string
	role        domain.Role
	self        Party
	counterpart Party
	timer       *calltimer.Timer

	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan event
	done   chan struct{}
	bg     sync.WaitGroup

	writeMu   sync.Mutex
	lastWrite chan struct{}

	// guarded by mu; written only from the loop
	mu    sync.Mutex
	phase domain.Phase
	muted bool

	// owned by the loop
	handle        *rtc.Handle
	local         *media.LocalStream
	docSub        signaling.Subscription
	candSub       signaling.Subscription
	lastDoc       *domain.SessionDescriptor
	awaitingOffer bool
	finished      bool
}

func newSession(deps Deps, callID string, role domain.Role, self, counterpart Party) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		deps:        deps,
		callID:      callID,
		role:        role,
		self:        self,
		counterpart: counterpart,
		ctx:         ctx,
		cancel:      cancel,
		inbox:       make(chan event, inboxSize),
		done:        make(chan struct{}),
		phase:       domain.PhaseIdle,
		log: deps.Log.With(
			slog.String("call_id", callID),
			slog.String("role", string(role)),
		),
	}

	opts := []calltimer.Option{calltimer.WithOnTick(s.onTick)}
	if deps.Ticker != nil {
		opts = append(opts, calltimer.WithTicker(deps.Ticker))
	}
	s.timer = calltimer.New(opts...)
	return s
}

// Dial places a call to callee. Local media is captured before anything is
// written to the store, so a capture failure leaves no trace.
func Dial(ctx context.Context, deps Deps, self, callee Party) (*Session, error) {
	const op = "call.dial"

	deps = deps.withDefaults()
	if callee.ID == "" || callee.ID == self.ID {
		return nil, ErrInvalidParty
	}
	if deps.Connections.Active() != nil {
		return nil, ErrCallInProgress
	}

	if deps.Directory != nil {
		a, err := deps.Directory.Availability(ctx, callee.ID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if a.Busy() {
			return nil, ErrCalleeBusy
		}
	}

	local, err := deps.Media.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrMediaUnavailable, err)
	}

	callID := uuid.NewString()
	s := newSession(deps, callID, domain.RoleCaller, self, callee)
	log := s.log.With(slog.String("op", op))

	desc := domain.NewSessionDescriptor(callID, self.ID, callee.ID)
	if err := deps.Store.Create(ctx, callID, signaling.DescriptorFields(desc)); err != nil {
		s.cancel()
		local.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.open(ctx, local); err != nil {
		s.abort(err)
		return nil, err
	}
	if err := s.subscribeDocument(ctx); err != nil {
		s.abort(err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.setPhase(domain.PhaseDialing)
	s.spawn("mark callee ringing", func(ctx context.Context) error {
		if deps.Directory == nil {
			return nil
		}
		if err := deps.Directory.MarkRinging(ctx, callee.ID, callID, self.ID, self.Name); err != nil {
			return err
		}
		return deps.Directory.SetStatus(ctx, self.ID, domain.AvailabilityInCall)
	})
	if err := deps.Ringback.Start(); err != nil {
		log.Warn("failed to start ringback", sl.Err(err))
	}
	s.negotiate(nil)

	go s.run()
	log.Info("call placed", slog.String("callee_id", callee.ID))
	return s, nil
}

// Incoming registers a call announced to this device. The document must
// already exist; the callee never creates it.
func Incoming(ctx context.Context, deps Deps, self, caller Party, callID string) (*Session, error) {
	const op = "call.incoming"

	deps = deps.withDefaults()
	if callID == "" || caller.ID == "" {
		return nil, ErrInvalidParty
	}
	if deps.Connections.Active() != nil {
		return nil, ErrCallInProgress
	}

	d, err := deps.Store.Get(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if d.Status.Terminal() {
		return nil, ErrCallEnded
	}
	if d.CalleeID != "" && self.ID != "" && d.CalleeID != self.ID {
		return nil, ErrInvalidParty
	}

	s := newSession(deps, callID, domain.RoleCallee, self, caller)
	if err := s.subscribeDocument(ctx); err != nil {
		s.cancel()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.setPhase(domain.PhaseRinging)
	go s.run()

	deps.Events.Publish(domain.NewEvent(domain.EventIncoming, callID, map[string]any{
		"caller_id":   caller.ID,
		"caller_name": caller.Name,
	}))
	s.log.Info("incoming call", slog.String("op", op), slog.String("caller_id", caller.ID))
	return s, nil
}

// Accept answers a ringing call.
func (s *Session) Accept(ctx context.Context) error {
	if err := s.do(ctx, func() error { return s.expect(domain.RoleCallee, domain.PhaseRinging) }); err != nil {
		return err
	}

	local, err := s.deps.Media.Capture(ctx)
	if err != nil {
		return fmt.Errorf("call.accept: %w: %w", ErrMediaUnavailable, err)
	}

	err = s.do(ctx, func() error { return s.accept(ctx, local) })
	if err != nil {
		local.Close()
	}
	return err
}

// Decline rejects a ringing call.
func (s *Session) Decline(ctx context.Context) error {
	return s.do(ctx, func() error {
		if err := s.expect(domain.RoleCallee, domain.PhaseRinging); err != nil {
			return err
		}
		s.spawn("write decline", func(ctx context.Context) error {
			return s.deps.Store.Update(ctx, s.callID, signaling.Fields{
				domain.FieldStatus: domain.CallStatusDeclined,
				domain.FieldOffer:  nil,
			})
		})
		s.releaseCounterpart()
		s.spawn("save call record", func(ctx context.Context) error {
			if s.deps.History == nil {
				return nil
			}
			return s.deps.History.SaveCall(ctx, s.record(domain.CallStatusDeclined, 0))
		})
		s.finish(domain.CallStatusDeclined)
		return nil
	})
}

// End hangs up from either side. Store writes run in the background; local
// teardown does not wait for them.
func (s *Session) End(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.finished {
			return ErrCallEnded
		}
		seconds := s.timer.Seconds()
		s.log.Info("ending call", slog.String("elapsed", calltimer.Format(seconds)))

		s.spawn("write end", func(ctx context.Context) error {
			return s.deps.Store.Update(ctx, s.callID, signaling.Fields{
				domain.FieldStatus:   domain.CallStatusEnded,
				domain.FieldCallLogs: seconds,
			})
		})
		s.releaseCounterpart()
		s.spawn("save call record", func(ctx context.Context) error {
			if s.deps.History == nil {
				return nil
			}
			return s.deps.History.SaveCall(ctx, s.record(domain.CallStatusEnded, seconds))
		})
		s.finish(domain.CallStatusEnded)
		return nil
	})
}

// ToggleMute flips the local microphone and returns the new state.
func (s *Session) ToggleMute(ctx context.Context) (bool, error) {
	var muted bool
	err := s.do(ctx, func() error {
		if s.local == nil {
			return ErrInvalidPhase
		}
		muted = !s.local.Muted()
		s.local.SetMuted(muted)

		s.mu.Lock()
		s.muted = muted
		s.mu.Unlock()

		s.deps.Events.Publish(domain.NewEvent(domain.EventMute, s.callID, map[string]any{"muted": muted}))
		return nil
	})
	return muted, err
}

func (s *Session) CallID() string { return s.callID }

func (s *Session) Role() domain.Role { return s.role }

func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Phase() domain.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) Info() Info {
	s.mu.Lock()
	phase, muted := s.phase, s.muted
	s.mu.Unlock()

	seconds := s.timer.Seconds()
	return Info{
		CallID:      s.callID,
		Role:        s.role,
		Phase:       phase,
		Counterpart: s.counterpart,
		Seconds:     seconds,
		Elapsed:     calltimer.Format(seconds),
		Muted:       muted,
	}
}

// Wait blocks until the session is over and its background writes settled.
func (s *Session) Wait() {
	<-s.done
	s.bg.Wait()
}

func (s *Session) expect(role domain.Role, phase domain.Phase) error {
	if s.finished {
		return ErrCallEnded
	}
	if s.role != role || s.Phase() != phase {
		return ErrInvalidPhase
	}
	return nil
}

func (s *Session) accept(ctx context.Context, local *media.LocalStream) error {
	if err := s.expect(domain.RoleCallee, domain.PhaseRinging); err != nil {
		return err
	}
	if err := s.open(ctx, local); err != nil {
		return err
	}

	s.setPhase(domain.PhaseNegotiating)
	s.spawn("mark in call", func(ctx context.Context) error {
		if s.deps.Directory == nil {
			return nil
		}
		return s.deps.Directory.SetStatus(ctx, s.self.ID, domain.AvailabilityInCall)
	})

	s.awaitingOffer = true
	s.maybeAnswer()
	return nil
}

// open creates the peer connection and starts consuming remote candidates.
func (s *Session) open(ctx context.Context, local *media.LocalStream) error {
	h, err := s.deps.Connections.Open(ctx, rtc.OpenParams{
		CallID: s.callID,
		Role:   s.role,
		Local:  local,
		Hooks:  s.hooks(),
	})
	if err != nil {
		local.Close()
		if errors.Is(err, rtc.ErrConnectionActive) {
			return ErrCallInProgress
		}
		return err
	}

	sub, err := s.deps.Store.SubscribeCollection(s.ctx, s.callID, h.Protocol().RemoteCollection, func(rec domain.CandidateRecord) {
		s.post(candidateAdded{rec: rec})
	})
	if err != nil {
		_ = h.Close()
		return err
	}

	s.handle = h
	s.local = local
	s.candSub = sub
	return nil
}

func (s *Session) subscribeDocument(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sub, err := s.deps.Store.SubscribeDocument(s.ctx, s.callID, func(d *domain.SessionDescriptor) {
		s.post(docChanged{doc: d})
	})
	if err != nil {
		return err
	}
	s.docSub = sub
	return nil
}

// abort unwinds a dial that failed after the document was created.
func (s *Session) abort(cause error) {
	s.log.Warn("dial aborted", sl.Err(cause))
	s.spawn("write abort", func(ctx context.Context) error {
		return s.deps.Store.Update(ctx, s.callID, signaling.Fields{domain.FieldStatus: domain.CallStatusEnded})
	})
	s.teardown()
	close(s.done)
}

func (s *Session) negotiate(extra signaling.Fields) {
	h := s.handle
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		_, err := h.Negotiate(s.ctx, extra)
		s.post(negotiated{handle: h, err: err})
	}()
}

func (s *Session) maybeAnswer() {
	if !s.awaitingOffer || s.lastDoc == nil || s.lastDoc.Offer == nil {
		return
	}
	s.awaitingOffer = false
	s.negotiate(signaling.Fields{domain.FieldStatus: domain.CallStatusAnswered})
}

func (s *Session) hooks() rtc.Hooks {
	return rtc.Hooks{
		OnRemoteTrack: func(t rtc.RemoteTrack) {
			s.deps.Events.Publish(domain.NewEvent(domain.EventRemoteTrack, s.callID, map[string]any{
				"track_id":  t.ID,
				"stream_id": t.StreamID,
				"kind":      t.Kind,
				"codec":     t.Codec,
			}))
		},
		OnConnectionState: func(state webrtc.PeerConnectionState) {
			s.deps.Events.Publish(domain.NewEvent(domain.EventConnection, s.callID, map[string]any{
				"state": state.String(),
			}))
		},
	}
}

func (s *Session) onTick(seconds int) {
	s.deps.Events.Publish(domain.NewEvent(domain.EventTimer, s.callID, map[string]any{
		"seconds": seconds,
		"elapsed": calltimer.Format(seconds),
	}))
}

func (s *Session) setPhase(p domain.Phase) {
	s.mu.Lock()
	changed := s.phase != p
	s.phase = p
	s.mu.Unlock()

	if changed {
		s.deps.Events.Publish(domain.NewEvent(domain.EventPhase, s.callID, map[string]any{
			"phase": string(p),
			"role":  string(s.role),
		}))
	}
}

// releaseCounterpart frees the other participant's availability record.
func (s *Session) releaseCounterpart() {
	s.spawn("release counterpart", func(ctx context.Context) error {
		if s.deps.Directory == nil {
			return nil
		}
		return s.deps.Directory.SetStatus(ctx, s.counterpart.ID, domain.AvailabilityAvailable)
	})
}

func (s *Session) record(status domain.CallStatus, seconds int) *domain.CallRecord {
	rec := &domain.CallRecord{
		Status:          status,
		DurationSeconds: seconds,
		EndedBy:         s.self.ID,
		CallID:          s.callID,
		EndedAt:         time.Now().UTC(),
	}
	if s.role == domain.RoleCaller {
		rec.CallerID, rec.CalleeID = s.self.ID, s.counterpart.ID
	} else {
		rec.CallerID, rec.CalleeID = s.counterpart.ID, s.self.ID
	}
	return rec
}

// spawn queues a store write detached from the call. Writes run one at a
// time in the order they were queued; failures are logged only.
func (s *Session) spawn(name string, fn func(ctx context.Context) error) {
	s.writeMu.Lock()
	prev := s.lastWrite
	next := make(chan struct{})
	s.lastWrite = next
	s.writeMu.Unlock()

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		defer close(next)
		if prev != nil {
			<-prev
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.deps.EndWriteTimeout)
		defer cancel()

		log := s.log.With(slog.String("task", name))
		if err := fn(ctx); err != nil {
			log.Warn("background write failed", sl.Err(err))
			return
		}
		log.Debug("background write done")
	}()
}
