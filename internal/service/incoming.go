package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/immxrtalbeast/crisp_call/internal/call"
	"github.com/immxrtalbeast/crisp_call/internal/domain"
	"github.com/immxrtalbeast/crisp_call/lib/logger/sl"
)

const defaultIncomingPollInterval = time.Second

type availabilitySource interface {
	Availability(ctx context.Context, userID string) (*domain.Availability, error)
}

type incomingRegistrar interface {
	Incoming(ctx context.Context, callID string, caller call.Party) (call.Info, error)
}

// IncomingWatcher watches this device's own availability record and
// registers a ringing session whenever a caller marks it as called.
type IncomingWatcher struct {
	users    availabilitySource
	calls    incomingRegistrar
	userID   string
	interval time.Duration
	log      *slog.Logger

	seen string
}

func NewIncomingWatcher(users availabilitySource, calls incomingRegistrar, userID string, interval time.Duration, log *slog.Logger) *IncomingWatcher {
	if interval <= 0 {
		interval = defaultIncomingPollInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &IncomingWatcher{
		users:    users,
		calls:    calls,
		userID:   userID,
		interval: interval,
		log:      log,
	}
}

// Run polls until ctx is cancelled.
func (w *IncomingWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.Poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll checks the record once. Each call id is registered at most once.
func (w *IncomingWatcher) Poll(ctx context.Context) {
	const op = "service.incoming.poll"
	log := w.log.With(slog.String("op", op), slog.String("user_id", w.userID))

	a, err := w.users.Availability(ctx, w.userID)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("failed to read availability", sl.Err(err))
		}
		return
	}
	if a.Status != domain.AvailabilityCalling || a.CallID == "" || a.CallID == w.seen {
		return
	}
	w.seen = a.CallID

	_, err = w.calls.Incoming(ctx, a.CallID, call.Party{ID: a.CallerID, Name: a.CallerName})
	switch {
	case err == nil:
	case errors.Is(err, call.ErrCallInProgress):
		log.Info("ignoring incoming call while busy", slog.String("call_id", a.CallID))
	default:
		log.Warn("failed to register incoming call", slog.String("call_id", a.CallID), sl.Err(err))
	}
}
