package domain

import (
	"time"

	"github.com/pion/webrtc/v3"
)

type CallStatus string

// An absent status means the call is still ringing.
const (
	CallStatusRinging  CallStatus = "ringing"
	CallStatusAnswered CallStatus = "answered"
	CallStatusDeclined CallStatus = "declined"
	CallStatusEnded    CallStatus = "ended"
)

func (s CallStatus) Effective() CallStatus {
	if s == "" {
		return CallStatusRinging
	}
	return s
}

func (s CallStatus) Terminal() bool {
	return s == CallStatusDeclined || s == CallStatusEnded
}

type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// Field names of the shared call document.
const (
	FieldCallID    = "callId"
	FieldCallerID  = "callerId"
	FieldCalleeID  = "calleeId"
	FieldOffer     = "offer"
	FieldAnswer    = "answer"
	FieldStatus    = "callStatus"
	FieldConnected = "connected"
	FieldCallLogs  = "callLogs"
	FieldCreatedAt = "createdAt"
)

const (
	CollectionCallerCandidates = "callerCandidates"
	CollectionCalleeCandidates = "calleeCandidates"
)

// SessionDescriptor is the shared document coordinating one call.
type SessionDescriptor struct {
	CallID    string                     `json:"callId"`
	CallerID  string                     `json:"callerId"`
	CalleeID  string                     `json:"calleeId"`
	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Status    CallStatus                 `json:"callStatus,omitempty"`
	Connected bool                       `json:"connected"`
	CallLogs  *int                       `json:"callLogs,omitempty"`
	CreatedAt time.Time                  `json:"createdAt"`
}

func NewSessionDescriptor(callID, callerID, calleeID string) *SessionDescriptor {
	return &SessionDescriptor{
		CallID:    callID,
		CallerID:  callerID,
		CalleeID:  calleeID,
		CreatedAt: time.Now().UTC(),
	}
}


type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseDialing     Phase = "dialing"
	PhaseRinging     Phase = "ringing"
	PhaseNegotiating Phase = "negotiating"
	PhaseAnswered    Phase = "answered"
	PhaseDeclined    Phase = "declined"
	PhaseEnded       Phase = "ended"
)

func (p Phase) Terminal() bool {
	return p == PhaseDeclined || p == PhaseEnded
}

// PhaseFor maps a terminal document status onto the local phase.
func PhaseFor(status CallStatus) Phase {
	switch status {
	case CallStatusDeclined:
		return PhaseDeclined
	case CallStatusEnded:
		return PhaseEnded
	case CallStatusAnswered:
		return PhaseAnswered
	}
	return PhaseIdle
}
