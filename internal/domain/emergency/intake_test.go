package emergency

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ehr/dispatchdesk/internal/platform/geo"
	"github.com/ehr/dispatchdesk/internal/platform/metrics"
	"github.com/ehr/dispatchdesk/internal/platform/triage"
)

// -- Fakes --

type fakeOracle struct {
	result *triage.Result
	err    error
}

func (o *fakeOracle) Classify(_ context.Context, _ string) (*triage.Result, error) {
	if o.err != nil {
		return nil, o.err
	}
	r := *o.result
	return &r, nil
}

type fakeGeo struct {
	mu         sync.Mutex
	place      string
	reverseErr error
	// results keyed by radius; a missing radius returns nothing.
	results   map[float64][]geo.Hospital
	searchErr error
	radii     []float64
}

func (g *fakeGeo) ReverseGeocode(_ context.Context, _, _ float64) (string, error) {
	if g.reverseErr != nil {
		return "", g.reverseErr
	}
	return g.place, nil
}

func (g *fakeGeo) SearchHospitals(_ context.Context, _, _, radiusKm float64) ([]geo.Hospital, error) {
	g.mu.Lock()
	g.radii = append(g.radii, radiusKm)
	g.mu.Unlock()
	if g.searchErr != nil {
		return nil, g.searchErr
	}
	return append([]geo.Hospital(nil), g.results[radiusKm]...), nil
}

func critical() *triage.Result {
	return &triage.Result{
		EmergencyType:      "Heart Attack",
		SeverityScore:      9,
		SeverityLevel:      "Critical",
		RequiredSpecialist: "Cardiologist",
	}
}

func coords(lat, lng float64) IntakeRequest {
	return IntakeRequest{Message: "chest pain", Lat: &lat, Lng: &lng}
}

func newTestIntake(oracle TriageOracle, lookup GeoLookup) (*Intake, *Service) {
	svc := newTestService()
	return NewIntake(svc, oracle, lookup, nil, IntakeOptions{}, zerolog.Nop()), svc
}

// -- Tests --

func TestIntake_Run(t *testing.T) {
	lookup := &fakeGeo{
		place: "Indiranagar",
		results: map[float64][]geo.Hospital{
			10: {
				{Name: "Far Hospital", DistanceMeters: 8000},
				{Name: "Near Hospital", DistanceMeters: 1200},
			},
		},
	}
	in, svc := newTestIntake(&fakeOracle{result: critical()}, lookup)

	res, err := in.Run(context.Background(), coords(12.97, 77.64))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Location != "Indiranagar" {
		t.Errorf("expected Indiranagar, got %s", res.Location)
	}
	if res.FallbackUsed {
		t.Error("expected geocoder results, not fallback")
	}
	if len(res.Hospitals) != 2 || res.Hospitals[0].Name != "Near Hospital" {
		t.Errorf("expected hospitals sorted by distance, got %+v", res.Hospitals)
	}
	if res.PriorityLevel != "High" || res.ExpectedBill != "₹50,000 - ₹1,20,000" {
		t.Errorf("unexpected priority/bill: %s %s", res.PriorityLevel, res.ExpectedBill)
	}
	if res.DoctorStatus != "Waiting For Availability" || res.AmbulanceStatus != "Awaiting Dispatch Decision" {
		t.Errorf("unexpected unit statuses: %s / %s", res.DoctorStatus, res.AmbulanceStatus)
	}
	if res.Triage.RequiredSpecialist != "Cardiologist" {
		t.Errorf("triage not passed through: %+v", res.Triage)
	}

	status := svc.HospitalStatus(context.Background())
	if len(status) != 2 {
		t.Fatalf("expected 2 registered hospitals, got %d", len(status))
	}
	for _, st := range status {
		if st.TotalBeds != DefaultTotalBeds || st.BookedBeds != 0 {
			t.Errorf("unexpected fresh hospital: %+v", st)
		}
	}
}

func TestIntake_RadiusDoubling(t *testing.T) {
	lookup := &fakeGeo{
		place: "Koramangala",
		results: map[float64][]geo.Hospital{
			10: {{Name: "Moderate Care", DistanceMeters: 7000}},
		},
	}
	oracle := &fakeOracle{result: &triage.Result{
		EmergencyType: "Fracture", SeverityScore: 5, SeverityLevel: "Moderate", RequiredSpecialist: "Orthopedic",
	}}
	in, _ := newTestIntake(oracle, lookup)

	res, err := in.Run(context.Background(), coords(12.93, 77.62))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(lookup.radii) != 2 || lookup.radii[0] != 5 || lookup.radii[1] != 10 {
		t.Errorf("expected searches at 5 then 10 km, got %v", lookup.radii)
	}
	if res.FallbackUsed || len(res.Hospitals) != 1 {
		t.Errorf("expected widened search result, got %+v", res)
	}
}

func TestIntake_FallbackToDemoHospitals(t *testing.T) {
	tests := []struct {
		name   string
		lookup *fakeGeo
	}{
		{"empty results", &fakeGeo{place: "Somewhere"}},
		{"search error", &fakeGeo{place: "Somewhere", searchErr: errors.New("timeout")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, svc := newTestIntake(&fakeOracle{result: critical()}, tt.lookup)
			res, err := in.Run(context.Background(), coords(0, 0))
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if !res.FallbackUsed {
				t.Error("expected fallback")
			}
			demo := geo.DemoHospitals()
			if len(res.Hospitals) != len(demo) || res.Hospitals[0].Name != demo[0].Name {
				t.Errorf("expected demo hospitals, got %+v", res.Hospitals)
			}
			if _, ok := svc.ledger.Get(demo[0].Name); !ok {
				t.Error("demo hospitals must be registered for reservation")
			}
		})
	}
}

func TestIntake_SearchErrorStopsLadder(t *testing.T) {
	lookup := &fakeGeo{searchErr: errors.New("boom")}
	in, _ := newTestIntake(&fakeOracle{result: critical()}, lookup)
	in.Run(context.Background(), coords(1, 1))
	if len(lookup.radii) != 1 {
		t.Errorf("expected a single search attempt, got %v", lookup.radii)
	}
}

func TestIntake_ReverseGeocodeFailure(t *testing.T) {
	lookup := &fakeGeo{reverseErr: geo.ErrNoPlaceName}
	in, _ := newTestIntake(&fakeOracle{result: critical()}, lookup)

	res, err := in.Run(context.Background(), coords(1, 1))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Location != UnknownLocation {
		t.Errorf("expected %q, got %q", UnknownLocation, res.Location)
	}
}

func TestIntake_TriageFailure(t *testing.T) {
	lookup := &fakeGeo{place: "X"}
	in, svc := newTestIntake(&fakeOracle{err: triage.ErrInvalidJSON}, lookup)
	reg := prometheus.NewRegistry()
	in.SetMetrics(metrics.NewEmergency(reg))

	_, err := in.Run(context.Background(), coords(1, 1))
	if !errors.Is(err, ErrTriageFailed) {
		t.Fatalf("expected ErrTriageFailed, got %v", err)
	}
	if !errors.Is(err, triage.ErrInvalidJSON) {
		t.Errorf("expected cause to be preserved, got %v", err)
	}
	if len(svc.HospitalStatus(context.Background())) != 0 {
		t.Error("failed intake must not register hospitals")
	}
	if got := counterValue(t, reg, "dispatchdesk_intakes_total", "triage_failed"); got != 1 {
		t.Errorf("expected triage_failed=1, got %v", got)
	}
}

type emptyOracle struct{}

func (emptyOracle) Classify(context.Context, string) (*triage.Result, error) { return nil, nil }

func TestIntake_EmptyClassification(t *testing.T) {
	lookup := &fakeGeo{place: "X"}
	in, svc := newTestIntake(emptyOracle{}, lookup)

	res, err := in.Run(context.Background(), coords(1, 1))
	if !errors.Is(err, ErrTriageFailed) {
		t.Fatalf("expected ErrTriageFailed, got %v", err)
	}
	if res != nil {
		t.Errorf("expected no result, got %+v", res)
	}
	if len(svc.HospitalStatus(context.Background())) != 0 {
		t.Error("failed intake must not register hospitals")
	}
}

func TestIntake_Truncation(t *testing.T) {
	var many []geo.Hospital
	for i := 0; i < 8; i++ {
		many = append(many, geo.Hospital{Name: string(rune('A' + i)), DistanceMeters: float64(8000 - i*100)})
	}
	lookup := &fakeGeo{place: "X", results: map[float64][]geo.Hospital{10: many}}
	svc := newTestService()
	in := NewIntake(svc, &fakeOracle{result: critical()}, lookup, nil, IntakeOptions{MaxHospitals: 3}, zerolog.Nop())

	res, err := in.Run(context.Background(), coords(1, 1))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Hospitals) != 3 {
		t.Fatalf("expected 3 hospitals, got %d", len(res.Hospitals))
	}
	if res.Hospitals[0].Name != "H" {
		t.Errorf("expected nearest first, got %s", res.Hospitals[0].Name)
	}
	if len(svc.HospitalStatus(context.Background())) != 3 {
		t.Error("only listed hospitals should be registered")
	}
}

func TestIntakeRequest_Validate(t *testing.T) {
	lat, lng, bad := 12.0, 77.0, 200.0
	tests := []struct {
		name  string
		req   IntakeRequest
		field string
	}{
		{"missing message", IntakeRequest{Lat: &lat, Lng: &lng}, "message"},
		{"missing lat", IntakeRequest{Message: "x", Lng: &lng}, "lat"},
		{"missing lng", IntakeRequest{Message: "x", Lat: &lat}, "lng"},
		{"lat out of range", IntakeRequest{Message: "x", Lat: &bad, Lng: &lng}, "lat"},
		{"lng out of range", IntakeRequest{Message: "x", Lat: &lat, Lng: &bad}, "lng"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var verr *ValidationError
			if err := tt.req.Validate(); !errors.As(err, &verr) || verr.Field != tt.field {
				t.Errorf("expected ValidationError on %s, got %v", tt.field, err)
			}
		})
	}
	if err := (IntakeRequest{Message: "x", Lat: &lat, Lng: &lng}).Validate(); err != nil {
		t.Errorf("expected valid request, got %v", err)
	}
}

func TestIntakeBands(t *testing.T) {
	tests := []struct {
		score    int
		radius   float64
		priority string
		bill     string
	}{
		{10, 10, "High", "₹50,000 - ₹1,20,000"},
		{7, 10, "High", "₹50,000 - ₹1,20,000"},
		{6, 5, "Medium", "₹20,000 - ₹50,000"},
		{4, 5, "Medium", "₹20,000 - ₹50,000"},
		{3, 3, "Low", "₹5,000 - ₹20,000"},
		{1, 3, "Low", "₹5,000 - ₹20,000"},
	}
	for _, tt := range tests {
		if got := SearchRadiusKm(tt.score); got != tt.radius {
			t.Errorf("SearchRadiusKm(%d) = %v, want %v", tt.score, got, tt.radius)
		}
		if got := PriorityLabel(tt.score); got != tt.priority {
			t.Errorf("PriorityLabel(%d) = %s, want %s", tt.score, got, tt.priority)
		}
		if got := EstimateBill(tt.score); got != tt.bill {
			t.Errorf("EstimateBill(%d) = %s, want %s", tt.score, got, tt.bill)
		}
	}
}
