package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/immxrtalbeast/crisp_call/internal/domain"
)

type InMemoryAvailabilityRepository struct {
	mu      sync.RWMutex
	records map[string]domain.Availability
}

func NewInMemoryAvailabilityRepository() *InMemoryAvailabilityRepository {
	return &InMemoryAvailabilityRepository{
		records: make(map[string]domain.Availability),
	}
}

func (r *InMemoryAvailabilityRepository) Get(ctx context.Context, userID string) (*domain.Availability, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.records[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &a, nil
}

func (r *InMemoryAvailabilityRepository) Save(ctx context.Context, a *domain.Availability) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a == nil || a.UserID == "" {
		return ErrInvalidAvailability
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[a.UserID] = *a
	return nil
}

type InMemoryCallLogRepository struct {
	mu      sync.RWMutex
	records map[string]domain.CallRecord
}

func NewInMemoryCallLogRepository() *InMemoryCallLogRepository {
	return &InMemoryCallLogRepository{
		records: make(map[string]domain.CallRecord),
	}
}

func (r *InMemoryCallLogRepository) Save(ctx context.Context, rec *domain.CallRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[rec.CallID]; ok {
		return ErrCallRecordExists
	}
	r.records[rec.CallID] = *rec
	return nil
}

// ListByUser returns the user's calls, newest first. limit <= 0 means all.
func (r *InMemoryCallLogRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.CallRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	result := make([]*domain.CallRecord, 0)
	for _, rec := range r.records {
		if rec.CallerID != userID && rec.CalleeID != userID {
			continue
		}
		rec := rec
		result = append(result, &rec)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].EndedAt.After(result[j].EndedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
