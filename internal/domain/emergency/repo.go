package emergency

// BedLedger tracks reserved versus total beds per hospital.
type BedLedger interface {
	Register(name string) error
	Reserve(name string) (available int, err error)
	Release(name string) bool
	Get(name string) (HospitalStatus, bool)
	Status() []HospitalStatus
	// OnChange registers a callback invoked with a hospital's counters after
	// each change, in the order the changes were applied.
	OnChange(fn func(HospitalStatus))
}

// CaseRepository is the ordered store of cases.
type CaseRepository interface {
	NextID() int64
	Append(c *Case) error
	Find(id int64) (*Case, bool)
	Filter(pred func(*Case) bool) []*Case
	// Update runs fn against the stored case while holding that case's lock
	// and returns a snapshot of the result.
	Update(id int64, fn func(*Case) error) (*Case, error)
}
