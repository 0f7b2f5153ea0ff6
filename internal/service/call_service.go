package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/immxrtalbeast/crisp_call/internal/call"
	"github.com/immxrtalbeast/crisp_call/lib/logger/sl"
)

// CallService owns the device's single call session.
type CallService struct {
	deps call.Deps
	self call.Party
	log  *slog.Logger

	mu     sync.Mutex
	active *call.Session
}

func NewCallService(deps call.Deps, self call.Party, log *slog.Logger) *CallService {
	if log == nil {
		log = slog.Default()
	}
	if deps.Log == nil {
		deps.Log = log
	}
	return &CallService{deps: deps, self: self, log: log}
}

func (s *CallService) Self() call.Party { return s.self }

func (s *CallService) Dial(ctx context.Context, callee call.Party) (call.Info, error) {
	const op = "service.call.dial"
	log := s.log.With(slog.String("op", op), slog.String("callee_id", callee.ID))

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.liveLocked() != nil {
		return call.Info{}, call.ErrCallInProgress
	}

	sess, err := call.Dial(ctx, s.deps, s.self, callee)
	if err != nil {
		log.Info("dial failed", sl.Err(err))
		return call.Info{}, err
	}
	s.active = sess
	return sess.Info(), nil
}

// Incoming registers a call announced for this device. Announcing the call
// that is already ringing again returns it unchanged.
func (s *CallService) Incoming(ctx context.Context, callID string, caller call.Party) (call.Info, error) {
	const op = "service.call.incoming"
	log := s.log.With(slog.String("op", op), slog.String("call_id", callID))

	s.mu.Lock()
	defer s.mu.Unlock()

	if live := s.liveLocked(); live != nil {
		if live.CallID() == callID {
			return live.Info(), nil
		}
		log.Info("rejecting incoming call, another call is active", slog.String("active_call_id", live.CallID()))
		return call.Info{}, call.ErrCallInProgress
	}

	sess, err := call.Incoming(ctx, s.deps, s.self, caller, callID)
	if err != nil {
		log.Info("incoming call not registered", sl.Err(err))
		return call.Info{}, err
	}
	s.active = sess
	return sess.Info(), nil
}

func (s *CallService) Accept(ctx context.Context, callID string) (call.Info, error) {
	sess, err := s.session(callID)
	if err != nil {
		return call.Info{}, err
	}
	if err := sess.Accept(ctx); err != nil {
		return call.Info{}, err
	}
	return sess.Info(), nil
}

func (s *CallService) Decline(ctx context.Context, callID string) error {
	sess, err := s.session(callID)
	if err != nil {
		return err
	}
	return sess.Decline(ctx)
}

func (s *CallService) End(ctx context.Context, callID string) error {
	sess, err := s.session(callID)
	if err != nil {
		return err
	}
	return sess.End(ctx)
}

func (s *CallService) ToggleMute(ctx context.Context, callID string) (bool, error) {
	sess, err := s.session(callID)
	if err != nil {
		return false, err
	}
	return sess.ToggleMute(ctx)
}

// Active reports the current call. Finished calls stay visible until the
// next one starts, so the UI can read their final phase.
func (s *CallService) Active() (call.Info, bool) {
	s.mu.Lock()
	sess := s.active
	s.mu.Unlock()

	if sess == nil {
		return call.Info{}, false
	}
	return sess.Info(), true
}

// Shutdown ends any live call and waits for its final writes.
func (s *CallService) Shutdown(ctx context.Context) {
	s.mu.Lock()
	sess := s.liveLocked()
	s.mu.Unlock()
	if sess == nil {
		return
	}

	// a ringing callee declines; everything else hangs up
	if err := sess.Decline(ctx); err != nil {
		if err := sess.End(ctx); err != nil && !errors.Is(err, call.ErrCallEnded) {
			s.log.Warn("failed to end call on shutdown", sl.Err(err))
		}
	}

	waited := make(chan struct{})
	go func() {
		sess.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		s.log.Warn("call did not finish before shutdown deadline", slog.String("call_id", sess.CallID()))
	}
	if s.deps.Connections != nil {
		s.deps.Connections.CloseActive()
	}
}

func (s *CallService) session(callID string) (*call.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil || s.active.CallID() != callID {
		return nil, ErrNoActiveCall
	}
	return s.active, nil
}

// liveLocked returns the active session unless it already reached a terminal
// phase. Teardown runs before the phase changes, so a terminal session holds
// no connection.
func (s *CallService) liveLocked() *call.Session {
	if s.active == nil || s.active.Phase().Terminal() {
		return nil
	}
	select {
	case <-s.active.Done():
		return nil
	default:
		return s.active
	}
}
