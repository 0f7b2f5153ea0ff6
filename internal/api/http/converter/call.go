package converter

import (
	"time"

	"github.com/immxrtalbeast/crisp_call/internal/call"
	"github.com/immxrtalbeast/crisp_call/internal/domain"
)

type CallResponse struct {
	CallID          string       `json:"call_id"`
	Role            domain.Role  `json:"role"`
	Phase           domain.Phase `json:"phase"`
	CounterpartID   string       `json:"counterpart_id"`
	CounterpartName string       `json:"counterpart_name,omitempty"`
	Seconds         int          `json:"seconds"`
	Elapsed         string       `json:"elapsed"`
	Muted           bool         `json:"muted"`
}

type AvailabilityResponse struct {
	UserID     string                    `json:"user_id"`
	CallStatus domain.AvailabilityStatus `json:"call_status"`
	CallID     string                    `json:"call_id,omitempty"`
	CallerID   string                    `json:"caller_id,omitempty"`
	CallerName string                    `json:"caller_name,omitempty"`
	UpdatedAt  time.Time                 `json:"updated_at"`
}

type CallRecordResponse struct {
	CallID   string            `json:"call_id"`
	CallerID string            `json:"caller_id"`
	CalleeID string            `json:"callee_id"`
	Status   domain.CallStatus `json:"status"`
	Duration string            `json:"duration"`
	Seconds  int               `json:"seconds"`
	EndedBy  string            `json:"ended_by"`
	EndedAt  time.Time         `json:"ended_at"`
}

func CallToApi(info call.Info) *CallResponse {
	return &CallResponse{
		CallID:          info.CallID,
		Role:            info.Role,
		Phase:           info.Phase,
		CounterpartID:   info.Counterpart.ID,
		CounterpartName: info.Counterpart.Name,
		Seconds:         info.Seconds,
		Elapsed:         info.Elapsed,
		Muted:           info.Muted,
	}
}

func AvailabilityToApi(a *domain.Availability) *AvailabilityResponse {
	return &AvailabilityResponse{
		UserID:     a.UserID,
		CallStatus: a.Status,
		CallID:     a.CallID,
		CallerID:   a.CallerID,
		CallerName: a.CallerName,
		UpdatedAt:  a.UpdatedAt,
	}
}

func CallRecordsToApi(records []*domain.CallRecord, format func(int) string) []CallRecordResponse {
	out := make([]CallRecordResponse, 0, len(records))
	for _, r := range records {
		out = append(out, CallRecordResponse{
			CallID:   r.CallID,
			CallerID: r.CallerID,
			CalleeID: r.CalleeID,
			Status:   r.Status,
			Duration: format(r.DurationSeconds),
			Seconds:  r.DurationSeconds,
			EndedBy:  r.EndedBy,
			EndedAt:  r.EndedAt,
		})
	}
	return out
}
