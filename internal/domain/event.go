package domain

import "time"

type EventType string

const (
	EventIncoming    EventType = "call.incoming"
	EventPhase       EventType = "call.phase"
	EventTimer       EventType = "call.timer"
	EventRemoteTrack EventType = "call.remote_track"
	EventConnection  EventType = "call.connection"
	EventMute        EventType = "call.mute"
	EventRingback    EventType = "ringback"
	EventNavigate    EventType = "navigate"
)

// Event is pushed to the UI layer over the event stream.
type Event struct {
	Type    EventType      `json:"type"`
	CallID  string         `json:"call_id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}

func NewEvent(t EventType, callID string, payload map[string]any) Event {
	return Event{
		Type:    t,
		CallID:  callID,
		Payload: payload,
		At:      time.Now().UTC(),
	}
}
