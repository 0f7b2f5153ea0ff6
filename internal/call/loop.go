package call

import (
	"context"
	"errors"
	"log/slog"

	"github.com/immxrtalbeast/crisp_call/internal/domain"
	"github.com/immxrtalbeast/crisp_call/internal/rtc"
	"github.com/immxrtalbeast/crisp_call/lib/logger/sl"
)

type event interface{ isEvent() }

type docChanged struct{ doc *domain.SessionDescriptor }

type candidateAdded struct{ rec domain.CandidateRecord }

// negotiated carries the outcome of an offer/answer round started for handle.
type negotiated struct {
	handle *rtc.Handle
	err    error
}

type request struct {
	fn    func() error
	reply chan error
}

func (docChanged) isEvent()     {}
func (candidateAdded) isEvent() {}
func (negotiated) isEvent()     {}
func (request) isEvent()        {}

func (s *Session) run() {
	defer close(s.done)
	for ev := range s.inbox {
		s.dispatch(ev)
		if s.finished {
			return
		}
	}
}

func (s *Session) dispatch(ev event) {
	switch ev := ev.(type) {
	case docChanged:
		s.onDocument(ev.doc)
	case candidateAdded:
		if s.handle != nil {
			s.handle.AddRemoteCandidate(ev.rec)
		}
	case negotiated:
		s.onNegotiated(ev)
	case request:
		ev.reply <- ev.fn()
	}
}

// post hands ev to the loop. It reports false once the session is over.
func (s *Session) post(ev event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.inbox <- ev:
		return true
	case <-s.done:
		return false
	}
}

// do runs fn on the loop and returns its result.
func (s *Session) do(ctx context.Context, fn func() error) error {
	req := request{fn: fn, reply: make(chan error, 1)}
	if !s.post(req) {
		return ErrCallEnded
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		// The loop replies before it exits.
		select {
		case err := <-req.reply:
			return err
		default:
			return ErrCallEnded
		}
	}
}

func (s *Session) onDocument(d *domain.SessionDescriptor) {
	if d == nil {
		return
	}
	s.lastDoc = d

	if s.handle != nil {
		applied, err := s.handle.ApplyRemote(d)
		if err != nil {
			s.log.Warn("failed to apply remote description", sl.Err(err))
		} else if applied {
			s.log.Info("remote description applied")
		}
	}
	s.maybeAnswer()

	switch status := d.Status.Effective(); status {
	case domain.CallStatusAnswered:
		if s.handle == nil {
			return
		}
		s.deps.Ringback.Stop()
		s.setPhase(domain.PhaseAnswered)
		if s.timer.Start() {
			s.log.Info("call answered")
		}
	case domain.CallStatusDeclined, domain.CallStatusEnded:
		s.log.Info("remote side finished the call", slog.String("status", string(status)))
		s.finish(status)
	}
}

func (s *Session) onNegotiated(ev negotiated) {
	if ev.handle != s.handle {
		return
	}
	if ev.err != nil {
		if errors.Is(ev.err, rtc.ErrHandleClosed) || errors.Is(ev.err, context.Canceled) {
			return
		}
		s.log.Error("negotiation failed", sl.Err(ev.err))
		s.deps.Events.Publish(domain.NewEvent(domain.EventConnection, s.callID, map[string]any{
			"state": "failed",
			"error": ev.err.Error(),
		}))
		return
	}
	if s.role == domain.RoleCaller && s.Phase() == domain.PhaseDialing {
		s.setPhase(domain.PhaseNegotiating)
	}
}

// finish is the single terminal transition. Everything the call holds is
// released here, whichever side ended it.
func (s *Session) finish(status domain.CallStatus) {
	if s.finished {
		return
	}
	s.finished = true

	s.teardown()
	s.setPhase(domain.PhaseFor(status))
	s.spawn("release self", func(ctx context.Context) error {
		if s.deps.Directory == nil {
			return nil
		}
		return s.deps.Directory.SetStatus(ctx, s.self.ID, domain.AvailabilityAvailable)
	})

	route := domain.RouteFor(s.role, status)
	s.log.Info("call finished", slog.String("status", string(status)), slog.String("route", string(route)))
	s.deps.Navigator.Navigate(s.callID, route)
}

func (s *Session) teardown() {
	s.deps.Ringback.Stop()
	s.timer.Stop()

	if s.handle != nil {
		_ = s.handle.Close()
	}
	if s.local != nil {
		s.local.Close()
		s.local = nil
	}
	if s.docSub != nil {
		s.docSub.Unsubscribe()
	}
	if s.candSub != nil {
		s.candSub.Unsubscribe()
	}
	s.cancel()
}
