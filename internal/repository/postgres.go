package repository

import (
	"context"
	"errors"

	"github.com/immxrtalbeast/crisp_call/internal/domain"
	"github.com/immxrtalbeast/crisp_call/internal/repository/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresAvailabilityRepository struct {
	db *gorm.DB
}

func NewPostgresAvailabilityRepository(db *gorm.DB) *PostgresAvailabilityRepository {
	return &PostgresAvailabilityRepository{db: db}
}

func (r *PostgresAvailabilityRepository) Get(ctx context.Context, userID string) (*domain.Availability, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var a model.Availability
	err := r.db.WithContext(ctx).First(&a, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return toDomainAvailability(&a), nil
}

func (r *PostgresAvailabilityRepository) Save(ctx context.Context, a *domain.Availability) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a == nil || a.UserID == "" {
		return ErrInvalidAvailability
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"call_status", "call_id", "caller_id", "caller_name", "updated_at"}),
	}).Create(toModelAvailability(a)).Error
}

type PostgresCallLogRepository struct {
	db *gorm.DB
}

func NewPostgresCallLogRepository(db *gorm.DB) *PostgresCallLogRepository {
	return &PostgresCallLogRepository{db: db}
}

func (r *PostgresCallLogRepository) Save(ctx context.Context, rec *domain.CallRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec == nil {
		return errors.New("call record is nil")
	}

	if err := r.db.WithContext(ctx).Create(toModelCallRecord(rec)).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrCallRecordExists
		}
		return err
	}
	return nil
}

func (r *PostgresCallLogRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.CallRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := r.db.WithContext(ctx).
		Where("caller_id = ? OR callee_id = ?", userID, userID).
		Order("ended_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var records []model.CallRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}

	result := make([]*domain.CallRecord, 0, len(records))
	for i := range records {
		result = append(result, toDomainCallRecord(&records[i]))
	}
	return result, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toModelAvailability(a *domain.Availability) *model.Availability {
	return &model.Availability{
		UserID:     a.UserID,
		CallStatus: string(a.Status),
		CallID:     optional(a.CallID),
		CallerID:   optional(a.CallerID),
		CallerName: optional(a.CallerName),
		UpdatedAt:  a.UpdatedAt.UTC(),
	}
}

func toDomainAvailability(a *model.Availability) *domain.Availability {
	status := domain.AvailabilityStatus(a.CallStatus)
	if status == "" {
		status = domain.AvailabilityAvailable
	}
	return &domain.Availability{
		UserID:     a.UserID,
		Status:     status,
		CallID:     deref(a.CallID),
		CallerID:   deref(a.CallerID),
		CallerName: deref(a.CallerName),
		UpdatedAt:  a.UpdatedAt.UTC(),
	}
}

func toModelCallRecord(rec *domain.CallRecord) *model.CallRecord {
	return &model.CallRecord{
		CallID:          rec.CallID,
		CallerID:        rec.CallerID,
		CalleeID:        rec.CalleeID,
		Status:          string(rec.Status),
		DurationSeconds: rec.DurationSeconds,
		EndedBy:         rec.EndedBy,
		EndedAt:         rec.EndedAt.UTC(),
	}
}

func toDomainCallRecord(rec *model.CallRecord) *domain.CallRecord {
	return &domain.CallRecord{
		CallID:          rec.CallID,
		CallerID:        rec.CallerID,
		CalleeID:        rec.CalleeID,
		Status:          domain.CallStatus(rec.Status),
		DurationSeconds: rec.DurationSeconds,
		EndedBy:         rec.EndedBy,
		EndedAt:         rec.EndedAt.UTC(),
	}
}
