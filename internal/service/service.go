package service

import (
	"context"
	"errors"

	"github.com/immxrtalbeast/crisp_call/internal/call"
	"github.com/immxrtalbeast/crisp_call/internal/domain"
)

var (
	ErrNoActiveCall = errors.New("no active call with this id")
	ErrInvalidUser  = errors.New("user id is required")
)

type CallInteractor interface {
	Dial(ctx context.Context, callee call.Party) (call.Info, error)
	Incoming(ctx context.Context, callID string, caller call.Party) (call.Info, error)
	Accept(ctx context.Context, callID string) (call.Info, error)
	Decline(ctx context.Context, callID string) error
	End(ctx context.Context, callID string) error
	ToggleMute(ctx context.Context, callID string) (bool, error)
	Active() (call.Info, bool)
}

type UserInteractor interface {
	Availability(ctx context.Context, userID string) (*domain.Availability, error)
	ListCalls(ctx context.Context, userID string, limit int) ([]*domain.CallRecord, error)
}

type EventSubscriber interface {
	Subscribe() (uint64, <-chan domain.Event)
	Unsubscribe(id uint64)
}
