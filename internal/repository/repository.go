package repository

import (
	"context"
	"errors"

	"github.com/immxrtalbeast/crisp_call/internal/domain"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrCallRecordExists   = errors.New("call record already exists")
	ErrInvalidAvailability = errors.New("availability record is invalid")
)

type AvailabilityRepository interface {
	Get(ctx context.Context, userID string) (*domain.Availability, error)
	Save(ctx context.Context, a *domain.Availability) error
}

type CallLogRepository interface {
	Save(ctx context.Context, rec *domain.CallRecord) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*domain.CallRecord, error)
}
