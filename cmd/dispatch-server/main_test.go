package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ehr/dispatchdesk/internal/config"
	"github.com/ehr/dispatchdesk/internal/platform/middleware"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:              "development",
		CORSOrigins:      []string{"http://localhost:3000"},
		RateLimitRPS:     100,
		RateLimitBurst:   200,
		RequestTimeout:   5 * time.Second,
		BodyLimit:        "64K",
		DefaultTotalBeds: 2,
		GeoBaseURL:       "http://127.0.0.1:1",
		GeoTimeout:       time.Second,
		GeoMaxResults:    5,
		TriageTimeout:    time.Second,
		WebhookTimeout:   time.Second,
		WebhookWorkers:   1,
	}
}

func serve(a *app, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)
	return rec
}

func TestApp_Health(t *testing.T) {
	a := newApp(testConfig(), zerolog.Nop(), prometheus.NewRegistry())

	rec := serve(a, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("expected request id header")
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "ok" || body["version"] != version {
		t.Errorf("unexpected health body: %v", body)
	}
}

func TestApp_CaseFlowWithConfiguredCapacity(t *testing.T) {
	a := newApp(testConfig(), zerolog.Nop(), prometheus.NewRegistry())
	a.service.RegisterHospitals(context.Background(), []string{"City General Hospital"})

	sel := `{"hospital_name":"City General Hospital","location":"Downtown","triage":{"emergency_type":"Stroke","severity_score":8,"severity_level":"Critical","required_specialist":"Neurologist"}}`
	for i := 0; i < 2; i++ {
		if rec := serve(a, http.MethodPost, "/api/v1/select-hospital", sel); rec.Code != http.StatusCreated {
			t.Fatalf("reservation %d: expected 201, got %d", i, rec.Code)
		}
	}
	if rec := serve(a, http.MethodPost, "/api/v1/select-hospital", sel); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 once the two configured beds are taken, got %d", rec.Code)
	}

	if rec := serve(a, http.MethodPost, "/api/v1/accept-case/1", ""); rec.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d", rec.Code)
	}
	if rec := serve(a, http.MethodPost, "/api/v1/complete-case/1", ""); rec.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d", rec.Code)
	}

	rec := serve(a, http.MethodGet, "/api/v1/doctor-requests", "")
	var page struct {
		Total int `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 2 {
		t.Errorf("expected completed and reserved cases listed, got %d", page.Total)
	}
}

func TestApp_MetricsExposed(t *testing.T) {
	a := newApp(testConfig(), zerolog.Nop(), prometheus.NewRegistry())
	a.service.RegisterHospitals(context.Background(), []string{"A"})
	serve(a, http.MethodPost, "/api/v1/select-hospital", `{"hospital_name":"A","triage":{"severity_score":3,"severity_level":"Low"}}`)

	rec := serve(a, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `dispatchdesk_bed_reservations_total{outcome="reserved"} 1`) {
		t.Errorf("expected reservation counter in output:\n%s", rec.Body.String())
	}
}

func TestApp_TriageNotConfigured(t *testing.T) {
	a := newApp(testConfig(), zerolog.Nop(), prometheus.NewRegistry())

	rec := serve(a, http.MethodPost, "/api/v1/emergency", `{"message":"fell down stairs","lat":12.9,"lng":77.6}`)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502 without a triage oracle, got %d", rec.Code)
	}
}

func TestConfigCmd_RedactsAPIKey(t *testing.T) {
	t.Setenv("TRIAGE_API_KEY", "secret-token")

	cmd := configCmd()
	var out strings.Builder
	cmd.SetOut(&out)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out.String(), "secret-token") {
		t.Error("API key must not be printed")
	}
	if !strings.Contains(out.String(), `"DefaultTotalBeds": 10`) {
		t.Errorf("expected default beds in output:\n%s", out.String())
	}
}

func TestApp_WebhookReceivesCaseEvents(t *testing.T) {
	received := make(chan string, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev struct {
			Type string `json:"type"`
		}
		json.NewDecoder(r.Body).Decode(&ev)
		received <- ev.Type
	}))
	defer srv.Close()

	a := newApp(testConfig(), zerolog.Nop(), prometheus.NewRegistry())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.webhooks.Run(ctx, 1)

	rec := serve(a, http.MethodPost, "/api/v1/webhooks", `{"url":"`+srv.URL+`","events":["case.created"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register webhook: expected 201, got %d", rec.Code)
	}

	a.service.RegisterHospitals(context.Background(), []string{"A"})
	serve(a, http.MethodPost, "/api/v1/select-hospital", `{"hospital_name":"A","triage":{"severity_score":3,"severity_level":"Low"}}`)

	select {
	case typ := <-received:
		if typ != "case.created" {
			t.Errorf("expected case.created, got %s", typ)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("webhook not delivered")
	}
}
