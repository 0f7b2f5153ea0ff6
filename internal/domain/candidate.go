package domain

import (
	"strconv"

	"github.com/pion/webrtc/v3"
)

// CandidateRecord is one entry of a call's append-only candidate collection.
type CandidateRecord struct {
	ID        string                  `json:"id"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// Key identifies the candidate for deduplication. Store-assigned record IDs
// win; content is the fallback for stores that do not assign them.
func (r CandidateRecord) Key() string {
	if r.ID != "" {
		return r.ID
	}
	key := r.Candidate.Candidate
	if r.Candidate.SDPMid != nil {
		key += "|" + *r.Candidate.SDPMid
	}
	if r.Candidate.SDPMLineIndex != nil {
		key += "|" + strconv.Itoa(int(*r.Candidate.SDPMLineIndex))
	}
	return key
}
