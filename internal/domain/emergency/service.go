package emergency

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/dispatchdesk/internal/platform/metrics"
	"github.com/ehr/dispatchdesk/internal/platform/websocket"
)

// EventPublisher receives case and hospital change notifications.
type EventPublisher interface {
	Publish(ctx context.Context, event websocket.Event) error
}

// Publishers fans each event out to every member. All members are tried;
// their errors are joined.
type Publishers []EventPublisher

func (ps Publishers) Publish(ctx context.Context, event websocket.Event) error {
	var errs []error
	for _, p := range ps {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Service is the case lifecycle engine. It owns no state of its own; the bed
// ledger and case repository are injected.
type Service struct {
	ledger  BedLedger
	cases   CaseRepository
	logger  zerolog.Logger
	now     func() time.Time
	metrics *metrics.Emergency
	events  EventPublisher
}

func NewService(ledger BedLedger, cases CaseRepository, logger zerolog.Logger) *Service {
	return &Service{
		ledger: ledger,
		cases:  cases,
		logger: logger.With().Str("component", "emergency").Logger(),
		now:    time.Now,
	}
}

// SetMetrics attaches optional Prometheus collectors. The booked-beds gauge
// is fed by the ledger itself so it always reflects the latest mutation.
func (s *Service) SetMetrics(m *metrics.Emergency) {
	s.metrics = m
	s.ledger.OnChange(func(st HospitalStatus) {
		m.SetBookedBeds(st.Name, st.BookedBeds)
	})
}

// SetPublisher attaches an optional live-feed publisher.
func (s *Service) SetPublisher(p EventPublisher) {
	s.events = p
}

// RegisterHospitals makes each named hospital available for reservation.
// Blank names are skipped.
func (s *Service) RegisterHospitals(ctx context.Context, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		if err := s.ledger.Register(name); err != nil {
			return err
		}
	}
	return nil
}

// CreateCase reserves a bed at the chosen hospital and opens a case for it.
// It returns the new case and the beds left at the hospital. No case is
// created when the reservation fails.
func (s *Service) CreateCase(ctx context.Context, in CreateCaseInput) (*Case, int, error) {
	if err := in.Validate(); err != nil {
		return nil, 0, err
	}

	available, err := s.ledger.Reserve(in.HospitalName)
	if err != nil {
		switch {
		case errors.Is(err, ErrHospitalNotRegistered):
			s.metrics.ObserveReservation(metrics.ReservationUnregistered)
		case errors.Is(err, ErrNoBedsAvailable):
			s.metrics.ObserveReservation(metrics.ReservationNoBeds)
		}
		s.logger.Warn().Err(err).Str("hospital", in.HospitalName).Msg("bed reservation rejected")
		return nil, 0, err
	}
	s.metrics.ObserveReservation(metrics.ReservationReserved)

	now := s.now()
	c := &Case{
		ID:                 s.cases.NextID(),
		HospitalName:       in.HospitalName,
		SeverityScore:      in.SeverityScore,
		SeverityLevel:      in.SeverityLevel,
		RequiredSpecialist: in.RequiredSpecialist,
		EmergencyType:      in.EmergencyType,
		Location:           in.Location,
		CreatedAt:          now,
	}
	if err := applyTransition(c, EventCreate, now); err != nil {
		s.ledger.Release(in.HospitalName)
		return nil, 0, err
	}
	if err := s.cases.Append(c); err != nil {
		s.ledger.Release(in.HospitalName)
		return nil, 0, err
	}

	s.metrics.ObserveTransition(string(StatusBedReserved))
	from, to := c.span(1)
	s.logger.Info().
		Int64("case_id", c.ID).
		Str("hospital", c.HospitalName).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("severity_level", string(c.SeverityLevel)).
		Int("available_beds", available).
		Msg("bed reserved, case created")

	snap := c.clone()
	s.publishCase(ctx, "case.created", snap)
	s.publishHospital(ctx, snap.HospitalName)
	return snap, available, nil
}

// AcceptCase records operator acceptance, attaches the dispatch decision and
// moves the case to En Route.
func (s *Service) AcceptCase(ctx context.Context, id int64) (*Dispatch, error) {
	c, err := s.cases.Update(id, func(c *Case) error {
		if err := applyTransition(c, EventAccept, s.now()); err != nil {
			return err
		}
		d := DecideDispatch(c.SeverityLevel)
		c.Dispatch = &d
		return nil
	})
	if err != nil {
		s.logRejected(id, EventAccept, err)
		return nil, err
	}

	s.metrics.ObserveTransition(string(StatusDoctorAssigned))
	s.metrics.ObserveTransition(string(StatusEnRoute))
	from, to := c.span(len(transitions[EventAccept].path))
	s.logger.Info().
		Int64("case_id", c.ID).
		Str("hospital", c.HospitalName).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("priority", c.Dispatch.PriorityLevel).
		Str("dispatch_status", c.Dispatch.DispatchStatus).
		Msg("case accepted")

	s.publishCase(ctx, "case.accepted", c)
	return c.Dispatch, nil
}

// CompleteCase closes an En Route case and frees its bed.
func (s *Service) CompleteCase(ctx context.Context, id int64) (*Case, error) {
	released := false
	c, err := s.cases.Update(id, func(c *Case) error {
		if err := applyTransition(c, EventComplete, s.now()); err != nil {
			return err
		}
		released = s.ledger.Release(c.HospitalName)
		return nil
	})
	if err != nil {
		s.logRejected(id, EventComplete, err)
		return nil, err
	}

	if released {
		s.metrics.ObserveReservation(metrics.ReservationReleased)
	} else {
		s.metrics.ObserveReservation(metrics.ReservationReleaseNoop)
		s.logger.Warn().Int64("case_id", c.ID).Str("hospital", c.HospitalName).Msg("release found no booked bed")
	}
	s.metrics.ObserveTransition(string(StatusCompleted))
	from, to := c.span(1)
	s.logger.Info().
		Int64("case_id", c.ID).
		Str("hospital", c.HospitalName).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("case completed")

	s.publishCase(ctx, "case.completed", c)
	s.publishHospital(ctx, c.HospitalName)
	return c, nil
}

func (s *Service) GetCase(ctx context.Context, id int64) (*Case, error) {
	c, ok := s.cases.Find(id)
	if !ok {
		return nil, ErrCaseNotFound
	}
	return c, nil
}

func (s *Service) CaseHistory(ctx context.Context, id int64) ([]TransitionRecord, error) {
	c, ok := s.cases.Find(id)
	if !ok {
		return nil, ErrCaseNotFound
	}
	return c.History(), nil
}

// ListActiveCases returns the cases shown on the operator dashboard, oldest
// first.
func (s *Service) ListActiveCases(ctx context.Context) []*Case {
	return s.cases.Filter(func(c *Case) bool {
		return IsVisibleToOperator(c.Status)
	})
}

func (s *Service) HospitalStatus(ctx context.Context) []HospitalStatus {
	return s.ledger.Status()
}

func (s *Service) logRejected(id int64, ev Event, err error) {
	s.logger.Warn().Err(err).Int64("case_id", id).Str("event", string(ev)).Msg("transition rejected")
}

func (s *Service) publishCase(ctx context.Context, typ string, c *Case) {
	if s.events == nil {
		return
	}
	s.publish(ctx, websocket.TopicCases, typ, strconv.FormatInt(c.ID, 10), c)
}

func (s *Service) publishHospital(ctx context.Context, name string) {
	if s.events == nil {
		return
	}
	st, ok := s.ledger.Get(name)
	if !ok {
		return
	}
	s.publish(ctx, websocket.TopicHospitals, "hospital.updated", name, st)
}

func (s *Service) publish(ctx context.Context, topic, typ, subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("type", typ).Msg("marshal event payload")
		return
	}
	err = s.events.Publish(ctx, websocket.Event{
		Type:      typ,
		Topic:     topic,
		Subject:   subject,
		Timestamp: s.now(),
		Data:      data,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("type", typ).Msg("publish event")
	}
}
