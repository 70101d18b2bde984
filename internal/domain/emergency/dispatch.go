package emergency

const (
	PriorityHigh   = "HIGH"
	PriorityMedium = "MEDIUM"
	PriorityLow    = "LOW"
)

// DecideDispatch maps a severity level to an ambulance decision. Levels other
// than Critical and Moderate, including unknown ones, get no ambulance.
func DecideDispatch(level SeverityLevel) Dispatch {
	switch level {
	case SeverityCritical:
		return Dispatch{
			AmbulanceRequired: true,
			PriorityLevel:     PriorityHigh,
			DispatchStatus:    "Ambulance Dispatched",
			ETA:               eta("5 minutes"),
		}
	case SeverityModerate:
		return Dispatch{
			AmbulanceRequired: true,
			PriorityLevel:     PriorityMedium,
			DispatchStatus:    "Ambulance Queued",
			ETA:               eta("10 minutes"),
		}
	default:
		return Dispatch{
			AmbulanceRequired: false,
			PriorityLevel:     PriorityLow,
			DispatchStatus:    "No Ambulance Required",
		}
	}
}

func eta(s string) *string { return &s }
