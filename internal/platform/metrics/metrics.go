// Package metrics exposes Prometheus collectors for bed reservations and case
// transitions.
package metrics

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ReservationReserved     = "reserved"
	ReservationNoBeds       = "no_beds"
	ReservationUnregistered = "not_registered"
	ReservationReleased     = "released"
	ReservationReleaseNoop  = "release_noop"
)

// Emergency holds the collectors updated by the emergency service. A nil
// *Emergency is valid and records nothing.
type Emergency struct {
	reservations *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	bookedBeds   *prometheus.GaugeVec
	intakes      *prometheus.CounterVec
}

// NewEmergency creates the collectors and registers them with registerer,
// or with the default registerer when nil.
func NewEmergency(registerer prometheus.Registerer) *Emergency {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Emergency{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchdesk_bed_reservations_total",
			Help: "Bed ledger operations by outcome.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchdesk_case_transitions_total",
			Help: "Case lifecycle transitions by target status.",
		}, []string{"to"}),
		bookedBeds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dispatchdesk_hospital_booked_beds",
			Help: "Currently booked beds per hospital.",
		}, []string{"hospital"}),
		intakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchdesk_intakes_total",
			Help: "Emergency intakes by result; fallback counts geo lookups served from the demo list.",
		}, []string{"result"}),
	}
	registerer.MustRegister(m.reservations, m.transitions, m.bookedBeds, m.intakes)
	return m
}

func (m *Emergency) ObserveReservation(outcome string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(outcome).Inc()
}

func (m *Emergency) ObserveTransition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}

func (m *Emergency) SetBookedBeds(hospital string, booked int) {
	if m == nil {
		return
	}
	m.bookedBeds.WithLabelValues(hospital).Set(float64(booked))
}

func (m *Emergency) ObserveIntake(result string) {
	if m == nil {
		return
	}
	m.intakes.WithLabelValues(result).Inc()
}

// Handler serves the given gatherer in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) echo.HandlerFunc {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
