package emergency

import (
	"time"
)

// DefaultTotalBeds is the capacity assigned to a hospital the first time it is
// seen during intake. Real per-hospital capacity is not known to the system.
const DefaultTotalBeds = 10

// SeverityLevel is the triage classification of an emergency.
type SeverityLevel string

const (
	SeverityLow      SeverityLevel = "Low"
	SeverityModerate SeverityLevel = "Moderate"
	SeverityCritical SeverityLevel = "Critical"
)

// Valid reports whether l is one of the levels the triage oracle may return.
func (l SeverityLevel) Valid() bool {
	switch l {
	case SeverityLow, SeverityModerate, SeverityCritical:
		return true
	}
	return false
}

// CaseStatus is the lifecycle state of a Case.
type CaseStatus string

const (
	StatusBedReserved CaseStatus = "Bed Reserved"
	// StatusDoctorAssigned is only ever observed inside an Accept transition;
	// it appears in case history but never as a resting status.
	StatusDoctorAssigned CaseStatus = "Doctor Assigned"
	StatusEnRoute        CaseStatus = "En Route"
	StatusCompleted      CaseStatus = "Completed"
)

// HospitalRecord tracks bed capacity for one hospital.
type HospitalRecord struct {
	Name       string `json:"hospital_name"`
	TotalBeds  int    `json:"total_beds"`
	BookedBeds int    `json:"booked_beds"`
}

// NewHospitalRecord returns an empty record with the given capacity.
func NewHospitalRecord(name string, totalBeds int) (*HospitalRecord, error) {
	if name == "" {
		return nil, &ValidationError{Field: "hospital_name"}
	}
	if totalBeds <= 0 {
		return nil, &ValidationError{Field: "total_beds", Reason: "must be positive"}
	}
	return &HospitalRecord{Name: name, TotalBeds: totalBeds}, nil
}

// AvailableBeds returns the number of beds that can still be reserved.
func (h *HospitalRecord) AvailableBeds() int {
	return h.TotalBeds - h.BookedBeds
}

// HospitalStatus is a point-in-time view of a hospital's capacity.
type HospitalStatus struct {
	Name          string `json:"hospital_name"`
	TotalBeds     int    `json:"total_beds"`
	BookedBeds    int    `json:"booked_beds"`
	AvailableBeds int    `json:"available_beds"`
}

// Dispatch is the ambulance decision attached to a case when it is accepted.
type Dispatch struct {
	AmbulanceRequired bool    `json:"ambulance_required"`
	PriorityLevel     string  `json:"priority_level"`
	DispatchStatus    string  `json:"dispatch_status"`
	ETA               *string `json:"eta"`
}

// TransitionRecord is one entry of a case's status history.
type TransitionRecord struct {
	From CaseStatus `json:"from"`
	To   CaseStatus `json:"to"`
	At   time.Time  `json:"at"`
}

// Case is one emergency from bed reservation through completion.
type Case struct {
	ID                 int64         `json:"case_id"`
	HospitalName       string        `json:"hospital_name"`
	SeverityScore      int           `json:"severity_score"`
	SeverityLevel      SeverityLevel `json:"severity_level"`
	RequiredSpecialist string        `json:"required_specialist"`
	EmergencyType      string        `json:"emergency_type"`
	Location           string        `json:"location"`
	Status             CaseStatus    `json:"status"`
	Dispatch           *Dispatch     `json:"dispatch,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`

	history []TransitionRecord
}

// History returns a copy of the case's transitions, oldest first.
func (c *Case) History() []TransitionRecord {
	out := make([]TransitionRecord, len(c.history))
	copy(out, c.history)
	return out
}

// span returns the status before the last n transitions and the status
// after them. An unknown start is reported as the empty status.
func (c *Case) span(n int) (from, to CaseStatus) {
	if n <= 0 || len(c.history) == 0 {
		return c.Status, c.Status
	}
	if n > len(c.history) {
		n = len(c.history)
	}
	return c.history[len(c.history)-n].From, c.history[len(c.history)-1].To
}

// clone returns a deep copy safe to hand out of the registry.
func (c *Case) clone() *Case {
	cp := *c
	if c.Dispatch != nil {
		d := *c.Dispatch
		if c.Dispatch.ETA != nil {
			eta := *c.Dispatch.ETA
			d.ETA = &eta
		}
		cp.Dispatch = &d
	}
	cp.history = c.History()
	return &cp
}

// CreateCaseInput carries the triage and geo fields copied onto a new case.
type CreateCaseInput struct {
	HospitalName       string        `json:"hospital_name"`
	SeverityScore      int           `json:"severity_score"`
	SeverityLevel      SeverityLevel `json:"severity_level"`
	RequiredSpecialist string        `json:"required_specialist"`
	EmergencyType      string        `json:"emergency_type"`
	Location           string        `json:"location"`
}

// Validate performs the presence and range checks done at the boundary.
func (in CreateCaseInput) Validate() error {
	if in.HospitalName == "" {
		return &ValidationError{Field: "hospital_name"}
	}
	if in.SeverityScore < 1 || in.SeverityScore > 10 {
		return &ValidationError{Field: "severity_score", Reason: "must be between 1 and 10"}
	}
	if in.SeverityLevel == "" {
		return &ValidationError{Field: "severity_level"}
	}
	if !in.SeverityLevel.Valid() {
		return &ValidationError{Field: "severity_level", Reason: "must be Low, Moderate or Critical"}
	}
	return nil
}
