package domain

import "time"

// CallRecord is the history entry stored once a call is over.
type CallRecord struct {
	CallID          string     `json:"call_id"`
	CallerID        string     `json:"caller_id"`
	CalleeID        string     `json:"callee_id"`
	Status          CallStatus `json:"status"`
	DurationSeconds int        `json:"duration"`
	EndedBy         string     `json:"ended_by"`
	EndedAt         time.Time  `json:"ended_at"`
}
