package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/immxrtalbeast/crisp_call/internal/domain"
	"github.com/immxrtalbeast/crisp_call/internal/repository"
)

// UserService keeps the per-user availability records and call history. It is
// the call core's Directory and History.
type UserService struct {
	availability repository.AvailabilityRepository
	calls        repository.CallLogRepository
	log          *slog.Logger

	// serializes read-modify-write of availability records
	mu sync.Mutex
}

func NewUserService(availability repository.AvailabilityRepository, calls repository.CallLogRepository, log *slog.Logger) *UserService {
	if log == nil {
		log = slog.Default()
	}
	return &UserService{availability: availability, calls: calls, log: log}
}

// Availability returns the user's record. Users without one are available.
func (s *UserService) Availability(ctx context.Context, userID string) (*domain.Availability, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	a, err := s.availability.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return domain.NewAvailability(userID), nil
		}
		return nil, err
	}
	return a, nil
}

func (s *UserService) MarkRinging(ctx context.Context, calleeID, callID, callerID, callerName string) error {
	const op = "service.user.mark_ringing"
	log := s.log.With(
		slog.String("op", op),
		slog.String("user_id", calleeID),
		slog.String("call_id", callID),
	)

	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.Availability(ctx, calleeID)
	if err != nil {
		return err
	}
	a.Ringing(callID, callerID, callerName)
	if err := s.availability.Save(ctx, a); err != nil {
		return err
	}
	log.Info("user marked as called")
	return nil
}

func (s *UserService) SetStatus(ctx context.Context, userID string, status domain.AvailabilityStatus) error {
	const op = "service.user.set_status"

	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.Availability(ctx, userID)
	if err != nil {
		return err
	}
	a.Set(status)
	if err := s.availability.Save(ctx, a); err != nil {
		return err
	}
	s.log.Debug("availability updated",
		slog.String("op", op),
		slog.String("user_id", userID),
		slog.String("status", string(status)),
	)
	return nil
}

// SaveCall stores a finished call. Saving the same call twice is not an error.
func (s *UserService) SaveCall(ctx context.Context, rec *domain.CallRecord) error {
	const op = "service.user.save_call"
	if rec == nil || rec.CallID == "" {
		return errors.New("call record is required")
	}

	if err := s.calls.Save(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrCallRecordExists) {
			s.log.Debug("call already recorded", slog.String("op", op), slog.String("call_id", rec.CallID))
			return nil
		}
		return err
	}
	s.log.Info("call recorded",
		slog.String("op", op),
		slog.String("call_id", rec.CallID),
		slog.String("status", string(rec.Status)),
		slog.Int("duration", rec.DurationSeconds),
	)
	return nil
}

func (s *UserService) ListCalls(ctx context.Context, userID string, limit int) ([]*domain.CallRecord, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	return s.calls.ListByUser(ctx, userID, limit)
}
