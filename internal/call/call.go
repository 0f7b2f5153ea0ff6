// Package call runs the lifecycle of one voice call on this device.
//
// A Session turns local actions and changes observed on the shared call
// document into phase transitions. Everything that touches session state runs
// on the session's event loop, so guards such as "already answered" are plain
// field checks.
package call

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/immxrtalbeast/crisp_call/internal/calltimer"
	"github.com/immxrtalbeast/crisp_call/internal/domain"
	"github.com/immxrtalbeast/crisp_call/internal/media"
	"github.com/immxrtalbeast/crisp_call/internal/rtc"
	"github.com/immxrtalbeast/crisp_call/internal/signaling"
)

var (
	ErrCallInProgress   = errors.New("another call is in progress")
	ErrCalleeBusy       = errors.New("callee is in another call")
	ErrInvalidPhase     = errors.New("action not allowed in the current call phase")
	ErrCallEnded        = errors.New("call already ended")
	ErrMediaUnavailable = errors.New("local media unavailable")
	ErrInvalidParty     = errors.New("invalid call party")
)

const defaultEndWriteTimeout = 10 * time.Second

type Party struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Directory is the per-user availability record.
type Directory interface {
	Availability(ctx context.Context, userID string) (*domain.Availability, error)
	MarkRinging(ctx context.Context, calleeID, callID, callerID, callerName string) error
	SetStatus(ctx context.Context, userID string, status domain.AvailabilityStatus) error
}

type History interface {
	SaveCall(ctx context.Context, rec *domain.CallRecord) error
}

type Navigator interface {
	Navigate(callID string, route domain.Route)
}

type Publisher interface {
	Publish(event domain.Event)
}

type Ringback interface {
	Start() error
	Stop()
}

// Deps are the collaborators shared by every session on the device.
type Deps struct {
	Store           signaling.Store
	Connections     *rtc.Manager
	Media           media.Source
	Ringback        Ringback
	Directory       Directory
	History         History
	Navigator       Navigator
	Events          Publisher
	Ticker          calltimer.TickerFunc
	EndWriteTimeout time.Duration
	Log             *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Ringback == nil {
		d.Ringback = silentRingback{}
	}
	if d.Navigator == nil {
		d.Navigator = navigatorFunc(func(string, domain.Route) {})
	}
	if d.Events == nil {
		d.Events = publisherFunc(func(domain.Event) {})
	}
	if d.EndWriteTimeout <= 0 {
		d.EndWriteTimeout = defaultEndWriteTimeout
	}
	return d
}

type silentRingback struct{}

func (silentRingback) Start() error { return nil }
func (silentRingback) Stop()        {}

type navigatorFunc func(callID string, route domain.Route)

func (f navigatorFunc) Navigate(callID string, route domain.Route) { f(callID, route) }

type publisherFunc func(domain.Event)

func (f publisherFunc) Publish(e domain.Event) { f(e) }

// Info is a point-in-time view of a session.
type Info struct {
	CallID      string       `json:"call_id"`
	Role        domain.Role  `json:"role"`
	Phase       domain.Phase `json:"phase"`
	Counterpart Party        `json:"counterpart"`
	Seconds     int          `json:"seconds"`
	Elapsed     string       `json:"elapsed"`
	Muted       bool         `json:"muted"`
}
