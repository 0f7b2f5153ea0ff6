package rtc

import (
	"github.com/immxrtalbeast/crisp_call/internal/domain"
	"github.com/pion/webrtc/v3"
)

// Protocol is the negotiation seen from one role. Both roles run the same
// steps; only the collections and the offering side differ.
type Protocol struct {
	Role             domain.Role
	LocalCollection  string
	RemoteCollection string
}

func ProtocolFor(role domain.Role) Protocol {
	if role == domain.RoleCaller {
		return Protocol{
			Role:             role,
			LocalCollection:  domain.CollectionCallerCandidates,
			RemoteCollection: domain.CollectionCalleeCandidates,
		}
	}
	return Protocol{
		Role:             domain.RoleCallee,
		LocalCollection:  domain.CollectionCalleeCandidates,
		RemoteCollection: domain.CollectionCallerCandidates,
	}
}

func (p Protocol) Offerer() bool { return p.Role == domain.RoleCaller }

// LocalField is the descriptor field this role authors.
func (p Protocol) LocalField() string {
	if p.Offerer() {
		return domain.FieldOffer
	}
	return domain.FieldAnswer
}

// Remote picks the description authored by the other side.
func (p Protocol) Remote(d *domain.SessionDescriptor) *webrtc.SessionDescription {
	if d == nil {
		return nil
	}
	if p.Offerer() {
		return d.Answer
	}
	return d.Offer
}
