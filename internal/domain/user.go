package domain

import "time"

type AvailabilityStatus string

const (
	AvailabilityAvailable AvailabilityStatus = "available"
	AvailabilityCalling   AvailabilityStatus = "calling"
	AvailabilityInCall    AvailabilityStatus = "in-call"
)

// Availability is the per-user call status record. The push layer watches it
// to deliver incoming-call notifications.
type Availability struct {
	UserID     string             `json:"user_id"`
	Status     AvailabilityStatus `json:"call_status"`
	CallID     string             `json:"call_id,omitempty"`
	CallerID   string             `json:"caller_id,omitempty"`
	CallerName string             `json:"caller_name,omitempty"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

func NewAvailability(userID string) *Availability {
	return &Availability{
		UserID:    userID,
		Status:    AvailabilityAvailable,
		UpdatedAt: time.Now().UTC(),
	}
}

func (a *Availability) Busy() bool {
	return a != nil && a.Status == AvailabilityInCall
}

// Ringing marks the user as being called on callID.
func (a *Availability) Ringing(callID, callerID, callerName string) {
	a.Status = AvailabilityCalling
	a.CallID = callID
	a.CallerID = callerID
	a.CallerName = callerName
	a.UpdatedAt = time.Now().UTC()
}

func (a *Availability) Set(status AvailabilityStatus) {
	a.Status = status
	if status == AvailabilityAvailable {
		a.CallID = ""
		a.CallerID = ""
		a.CallerName = ""
	}
	a.UpdatedAt = time.Now().UTC()
}
