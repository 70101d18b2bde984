package emergency

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/dispatchdesk/internal/platform/geo"
	"github.com/ehr/dispatchdesk/internal/platform/metrics"
	"github.com/ehr/dispatchdesk/internal/platform/triage"
)

// UnknownLocation is reported when the caller's coordinates cannot be named.
const UnknownLocation = "Unknown Location"

// ErrTriageFailed wraps every failure of the triage oracle.
var ErrTriageFailed = errors.New("triage failed")

// TriageOracle classifies a free-text description.
type TriageOracle interface {
	Classify(ctx context.Context, message string) (*triage.Result, error)
}

// GeoLookup names coordinates and finds hospitals around them.
type GeoLookup interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (string, error)
	SearchHospitals(ctx context.Context, lat, lng, radiusKm float64) ([]geo.Hospital, error)
}

// FieldUnits reports doctor and ambulance availability shown at intake.
type FieldUnits interface {
	DoctorStatus(ctx context.Context, specialist string) string
	AmbulanceStatus(ctx context.Context, level SeverityLevel) string
}

// PlaceholderFieldUnits stands in for rostering and fleet integrations that
// do not exist yet. It always reports the same values.
type PlaceholderFieldUnits struct{}

func (PlaceholderFieldUnits) DoctorStatus(context.Context, string) string {
	return "Waiting For Availability"
}

func (PlaceholderFieldUnits) AmbulanceStatus(context.Context, SeverityLevel) string {
	return "Awaiting Dispatch Decision"
}

// IntakeRequest is a caller's report.
type IntakeRequest struct {
	Message string   `json:"message"`
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
}

func (r IntakeRequest) Validate() error {
	if r.Message == "" {
		return &ValidationError{Field: "message"}
	}
	if r.Lat == nil {
		return &ValidationError{Field: "lat"}
	}
	if r.Lng == nil {
		return &ValidationError{Field: "lng"}
	}
	if *r.Lat < -90 || *r.Lat > 90 {
		return &ValidationError{Field: "lat", Reason: "must be between -90 and 90"}
	}
	if *r.Lng < -180 || *r.Lng > 180 {
		return &ValidationError{Field: "lng", Reason: "must be between -180 and 180"}
	}
	return nil
}

// IntakeResult is everything the caller needs to pick a hospital.
type IntakeResult struct {
	Triage          triage.Result  `json:"triage"`
	PriorityLevel   string         `json:"priority_level"`
	Location        string         `json:"location"`
	Hospitals       []geo.Hospital `json:"hospitals"`
	DoctorStatus    string         `json:"doctor_status"`
	AmbulanceStatus string         `json:"ambulance_status"`
	ExpectedBill    string         `json:"expected_bill"`
	FallbackUsed    bool           `json:"fallback_used"`
}

// IntakeOptions tunes hospital search.
type IntakeOptions struct {
	MaxHospitals int
}

// Intake runs triage and geo lookups for a report and registers the
// candidate hospitals with the bed ledger.
type Intake struct {
	svc     *Service
	oracle  TriageOracle
	geo     GeoLookup
	units   FieldUnits
	opts    IntakeOptions
	logger  zerolog.Logger
	metrics *metrics.Emergency
}

func NewIntake(svc *Service, oracle TriageOracle, lookup GeoLookup, units FieldUnits, opts IntakeOptions, logger zerolog.Logger) *Intake {
	if units == nil {
		units = PlaceholderFieldUnits{}
	}
	if opts.MaxHospitals <= 0 {
		opts.MaxHospitals = 5
	}
	return &Intake{
		svc:    svc,
		oracle: oracle,
		geo:    lookup,
		units:  units,
		opts:   opts,
		logger: logger.With().Str("component", "intake").Logger(),
	}
}

func (in *Intake) SetMetrics(m *metrics.Emergency) {
	in.metrics = m
}

// Run classifies the report, names the location and lists nearby hospitals.
// Geo failures never fail the intake: the location falls back to
// UnknownLocation and the hospital list to geo.DemoHospitals.
func (in *Intake) Run(ctx context.Context, req IntakeRequest) (*IntakeResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	lat, lng := *req.Lat, *req.Lng

	var (
		res      *triage.Result
		location = UnknownLocation
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := in.oracle.Classify(gctx, req.Message)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTriageFailed, err)
		}
		res = r
		return nil
	})
	g.Go(func() error {
		name, err := in.geo.ReverseGeocode(gctx, lat, lng)
		if err != nil {
			in.logger.Warn().Err(err).Msg("reverse geocode failed, using fallback location")
			return nil
		}
		location = name
		return nil
	})
	if err := g.Wait(); err != nil {
		in.metrics.ObserveIntake("triage_failed")
		return nil, err
	}
	if res == nil {
		in.metrics.ObserveIntake("triage_failed")
		return nil, fmt.Errorf("%w: empty classification", ErrTriageFailed)
	}

	hospitals, fallback := in.nearbyHospitals(ctx, lat, lng, res.SeverityScore)
	names := make([]string, 0, len(hospitals))
	for _, h := range hospitals {
		names = append(names, h.Name)
	}
	if err := in.svc.RegisterHospitals(ctx, names); err != nil {
		return nil, err
	}

	if fallback {
		in.metrics.ObserveIntake("fallback")
	} else {
		in.metrics.ObserveIntake("ok")
	}
	level := SeverityLevel(res.SeverityLevel)
	return &IntakeResult{
		Triage:          *res,
		PriorityLevel:   PriorityLabel(res.SeverityScore),
		Location:        location,
		Hospitals:       hospitals,
		DoctorStatus:    in.units.DoctorStatus(ctx, res.RequiredSpecialist),
		AmbulanceStatus: in.units.AmbulanceStatus(ctx, level),
		ExpectedBill:    EstimateBill(res.SeverityScore),
		FallbackUsed:    fallback,
	}, nil
}

// nearbyHospitals searches at the severity radius, then once more at double
// the radius if nothing came back. A provider error stops the search and the
// demo list is used.
func (in *Intake) nearbyHospitals(ctx context.Context, lat, lng float64, score int) ([]geo.Hospital, bool) {
	radius := SearchRadiusKm(score)

	var hospitals []geo.Hospital
	for _, r := range []float64{radius, radius * 2} {
		found, err := in.geo.SearchHospitals(ctx, lat, lng, r)
		if err != nil {
			in.logger.Warn().Err(err).Float64("radius_km", r).Msg("hospital search failed")
			break
		}
		if len(found) > 0 {
			hospitals = found
			break
		}
	}

	fallback := false
	if len(hospitals) == 0 {
		in.logger.Warn().Msg("no hospitals found, using demo list")
		hospitals = geo.DemoHospitals()
		fallback = true
	}

	sort.SliceStable(hospitals, func(i, j int) bool {
		return hospitals[i].DistanceMeters < hospitals[j].DistanceMeters
	})
	if len(hospitals) > in.opts.MaxHospitals {
		hospitals = hospitals[:in.opts.MaxHospitals]
	}
	return hospitals, fallback
}

// SearchRadiusKm widens the hospital search for more severe cases.
func SearchRadiusKm(score int) float64 {
	switch {
	case score >= 7:
		return 10
	case score >= 4:
		return 5
	default:
		return 3
	}
}

// PriorityLabel is the caller-facing priority for a severity score.
func PriorityLabel(score int) string {
	switch {
	case score >= 7:
		return "High"
	case score >= 4:
		return "Medium"
	default:
		return "Low"
	}
}

// EstimateBill returns the expected treatment cost band for a severity score.
func EstimateBill(score int) string {
	switch {
	case score >= 7:
		return "₹50,000 - ₹1,20,000"
	case score >= 4:
		return "₹20,000 - ₹50,000"
	default:
		return "₹5,000 - ₹20,000"
	}
}
