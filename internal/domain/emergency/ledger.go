package emergency

import (
	"sync"
)

type hospitalEntry struct {
	mu  sync.Mutex
	rec *HospitalRecord
}

func (e *hospitalEntry) status() HospitalStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Ledger is the in-memory BedLedger. The ledger lock only guards the set of
// known hospitals; each hospital's counters have their own lock so that
// reservations against different hospitals do not contend.
type Ledger struct {
	mu        sync.RWMutex
	totalBeds int
	hospitals map[string]*hospitalEntry
	order     []string
	observe   func(HospitalStatus)
}

// NewLedger creates a ledger that gives each new hospital totalBeds beds.
// A non-positive value falls back to DefaultTotalBeds.
func NewLedger(totalBeds int) *Ledger {
	if totalBeds <= 0 {
		totalBeds = DefaultTotalBeds
	}
	return &Ledger{
		totalBeds: totalBeds,
		hospitals: make(map[string]*hospitalEntry),
	}
}

// Register adds name with an empty booking count. Registering a known
// hospital is a no-op.
func (l *Ledger) Register(name string) error {
	l.mu.RLock()
	_, ok := l.hospitals[name]
	l.mu.RUnlock()
	if ok {
		return nil
	}

	rec, err := NewHospitalRecord(name, l.totalBeds)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.hospitals[name]; ok {
		return nil
	}
	e := &hospitalEntry{rec: rec}
	l.hospitals[name] = e
	l.order = append(l.order, name)
	if l.observe != nil {
		l.observe(e.snapshotLocked())
	}
	return nil
}

// OnChange installs fn to receive a hospital's counters after every
// registration, reservation and release. fn runs under that hospital's lock,
// so calls for one hospital arrive in mutation order; it must not call back
// into the ledger.
func (l *Ledger) OnChange(fn func(HospitalStatus)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observe = fn
}

func (l *Ledger) entry(name string) (*hospitalEntry, func(HospitalStatus), bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.hospitals[name]
	return e, l.observe, ok
}

func (e *hospitalEntry) snapshotLocked() HospitalStatus {
	return HospitalStatus{
		Name:          e.rec.Name,
		TotalBeds:     e.rec.TotalBeds,
		BookedBeds:    e.rec.BookedBeds,
		AvailableBeds: e.rec.AvailableBeds(),
	}
}

// Reserve books one bed and returns the beds still available afterwards.
func (l *Ledger) Reserve(name string) (int, error) {
	e, observe, ok := l.entry(name)
	if !ok {
		return 0, ErrHospitalNotRegistered
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.BookedBeds >= e.rec.TotalBeds {
		return 0, ErrNoBedsAvailable
	}
	e.rec.BookedBeds++
	if observe != nil {
		observe(e.snapshotLocked())
	}
	return e.rec.AvailableBeds(), nil
}

// Release frees one bed. It reports false, and changes nothing, when the
// hospital is unknown or has no bookings.
func (l *Ledger) Release(name string) bool {
	e, observe, ok := l.entry(name)
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.BookedBeds == 0 {
		return false
	}
	e.rec.BookedBeds--
	if observe != nil {
		observe(e.snapshotLocked())
	}
	return true
}

// Get returns the current counters for one hospital.
func (l *Ledger) Get(name string) (HospitalStatus, bool) {
	e, _, ok := l.entry(name)
	if !ok {
		return HospitalStatus{}, false
	}
	return e.status(), true
}

// Status returns a snapshot of every hospital in registration order.
func (l *Ledger) Status() []HospitalStatus {
	l.mu.RLock()
	entries := make([]*hospitalEntry, 0, len(l.order))
	for _, name := range l.order {
		entries = append(entries, l.hospitals[name])
	}
	l.mu.RUnlock()

	out := make([]HospitalStatus, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.status())
	}
	return out
}
