package domain

type Route string

const (
	RouteCallerBack       Route = "caller-back"
	RouteResponderReports Route = "responder-reports"
	RouteCitizenHome      Route = "citizen-home"
)

// RouteFor picks the screen a client returns to once its call is over.
// The caller is the responder dialing from the report listing; the callee is
// the citizen.
func RouteFor(role Role, status CallStatus) Route {
	if role == RoleCaller {
		if status == CallStatusDeclined {
			return RouteResponderReports
		}
		return RouteCallerBack
	}
	return RouteCitizenHome
}
