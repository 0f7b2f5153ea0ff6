// Package signaling is the rendezvous layer between two call clients: a shared
// document per call plus two append-only ICE candidate collections.
package signaling

import (
	"context"
	"errors"

	"github.com/immxrtalbeast/crisp_call/internal/domain"
	"github.com/pion/webrtc/v3"
)

var (
	ErrCallNotFound = errors.New("call document not found")
	ErrCallExists   = errors.New("call document already exists")
)

// Fields is a partial call document keyed by the domain.Field* names.
type Fields map[string]any

// Subscription stops a change feed. Unsubscribe is safe to call more than once.
type Subscription interface {
	Unsubscribe()
}

// Store is the shared, eventually consistent signaling store. Notifications
// are delivered at least once, current state first; handlers must tolerate
// duplicates. Callbacks of one subscription never run concurrently.
type Store interface {
	Create(ctx context.Context, callID string, fields Fields) error
	Get(ctx context.Context, callID string) (*domain.SessionDescriptor, error)
	// Update merges fields into an existing document. Once the document is
	// declined or ended, updates are dropped without error.
	Update(ctx context.Context, callID string, fields Fields) error
	SubscribeDocument(ctx context.Context, callID string, onChange func(*domain.SessionDescriptor)) (Subscription, error)
	// Append adds a candidate to a collection and returns its record ID.
	Append(ctx context.Context, callID, collection string, candidate webrtc.ICECandidateInit) (string, error)
	SubscribeCollection(ctx context.Context, callID, collection string, onAdd func(domain.CandidateRecord)) (Subscription, error)
}

// DescriptorFields converts a fresh descriptor into creation fields.
func DescriptorFields(d *domain.SessionDescriptor) Fields {
	fields := Fields{
		domain.FieldCallID:    d.CallID,
		domain.FieldCallerID:  d.CallerID,
		domain.FieldCalleeID:  d.CalleeID,
		domain.FieldConnected: d.Connected,
		domain.FieldCreatedAt: d.CreatedAt,
	}
	if d.Status != "" {
		fields[domain.FieldStatus] = d.Status
	}
	if d.Offer != nil {
		fields[domain.FieldOffer] = d.Offer
	}
	if d.Answer != nil {
		fields[domain.FieldAnswer] = d.Answer
	}
	if d.CallLogs != nil {
		fields[domain.FieldCallLogs] = *d.CallLogs
	}
	return fields
}

type subscriptionFunc func()

func (f subscriptionFunc) Unsubscribe() { f() }
