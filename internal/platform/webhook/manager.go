// Package webhook delivers case and hospital events to registered HTTP
// endpoints. Payloads are signed with HMAC-SHA256 and delivered by a small
// worker pool so publishers never wait on a remote endpoint.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/dispatchdesk/internal/platform/websocket"
)

var ErrEndpointNotFound = errors.New("webhook endpoint not found")

const (
	StatusActive = "active"
	StatusPaused = "paused"
)

// Endpoint is a registered webhook destination.
type Endpoint struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret,omitempty"`
	Events    []string  `json:"events"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Delivery records the outcome of sending one event to one endpoint.
type Delivery struct {
	ID         string        `json:"id"`
	EndpointID string        `json:"endpoint_id"`
	EventType  string        `json:"event_type"`
	Subject    string        `json:"subject"`
	StatusCode int           `json:"status_code"`
	Attempts   int           `json:"attempts"`
	Status     string        `json:"status"` // "success" or "failed"
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Store persists endpoints and delivery logs.
type Store interface {
	CreateEndpoint(ctx context.Context, ep *Endpoint) error
	GetEndpoint(ctx context.Context, id string) (*Endpoint, error)
	ListEndpoints(ctx context.Context) ([]*Endpoint, error)
	UpdateEndpoint(ctx context.Context, ep *Endpoint) error
	DeleteEndpoint(ctx context.Context, id string) error
	RecordDelivery(ctx context.Context, d *Delivery) error
	ListDeliveries(ctx context.Context, endpointID string) ([]*Delivery, error)
}

// MemoryStore is a thread-safe in-memory Store. Endpoints and deliveries are
// listed in insertion order.
type MemoryStore struct {
	mu            sync.RWMutex
	endpoints     map[string]*Endpoint
	endpointOrder []string
	deliveries    []*Delivery
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{endpoints: make(map[string]*Endpoint)}
}

func (s *MemoryStore) CreateEndpoint(_ context.Context, ep *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ep
	s.endpoints[ep.ID] = &cp
	s.endpointOrder = append(s.endpointOrder, ep.ID)
	return nil
}

func (s *MemoryStore) GetEndpoint(_ context.Context, id string) (*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.endpoints[id]
	if !ok {
		return nil, ErrEndpointNotFound
	}
	cp := *ep
	return &cp, nil
}

func (s *MemoryStore) ListEndpoints(_ context.Context) ([]*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Endpoint, 0, len(s.endpointOrder))
	for _, id := range s.endpointOrder {
		cp := *s.endpoints[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) UpdateEndpoint(_ context.Context, ep *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[ep.ID]; !ok {
		return ErrEndpointNotFound
	}
	cp := *ep
	s.endpoints[ep.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteEndpoint(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[id]; !ok {
		return ErrEndpointNotFound
	}
	delete(s.endpoints, id)
	for i, eid := range s.endpointOrder {
		if eid == id {
			s.endpointOrder = append(s.endpointOrder[:i], s.endpointOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) RecordDelivery(_ context.Context, d *Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.deliveries = append(s.deliveries, &cp)
	return nil
}

func (s *MemoryStore) ListDeliveries(_ context.Context, endpointID string) ([]*Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Delivery
	for _, d := range s.deliveries {
		if d.EndpointID == endpointID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is the HMAC of payload.
func VerifySignature(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(signature))
}

// Config tunes delivery.
type Config struct {
	Timeout    time.Duration
	MaxRetries int
	QueueSize  int
}

// Manager registers endpoints and delivers events to them.
type Manager struct {
	store  Store
	http   *resty.Client
	queue  chan websocket.Event
	logger zerolog.Logger
	now    func() time.Time
}

func NewManager(store Store, cfg Config, logger zerolog.Logger) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	hc := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Manager{
		store:  store,
		http:   hc,
		queue:  make(chan websocket.Event, cfg.QueueSize),
		logger: logger.With().Str("component", "webhook").Logger(),
		now:    time.Now,
	}
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url host is required")
	}
	return nil
}

// RegisterEndpoint validates and stores a new endpoint. An empty secret is
// replaced by a random one; an empty event list subscribes to everything.
func (m *Manager) RegisterEndpoint(ctx context.Context, rawURL, secret string, events []string) (*Endpoint, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}
	if secret == "" {
		s, err := generateSecret()
		if err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
		secret = s
	}
	if len(events) == 0 {
		events = []string{"*"}
	}

	ep := &Endpoint{
		ID:        uuid.New().String(),
		URL:       rawURL,
		Secret:    secret,
		Events:    events,
		Status:    StatusActive,
		CreatedAt: m.now(),
	}
	if err := m.store.CreateEndpoint(ctx, ep); err != nil {
		return nil, err
	}
	m.logger.Info().Str("endpoint_id", ep.ID).Str("url", ep.URL).Strs("events", ep.Events).Msg("webhook registered")
	return ep, nil
}

func (m *Manager) setStatus(ctx context.Context, id, status string) error {
	ep, err := m.store.GetEndpoint(ctx, id)
	if err != nil {
		return err
	}
	ep.Status = status
	return m.store.UpdateEndpoint(ctx, ep)
}

func (m *Manager) PauseEndpoint(ctx context.Context, id string) error {
	return m.setStatus(ctx, id, StatusPaused)
}

func (m *Manager) ResumeEndpoint(ctx context.Context, id string) error {
	return m.setStatus(ctx, id, StatusActive)
}

// eventMatches matches an event type against a subscription pattern:
// "*", an exact type, or a prefix pattern such as "case.*".
func eventMatches(pattern, eventType string) bool {
	if pattern == "*" || pattern == eventType {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		return strings.HasPrefix(eventType, pattern[:len(pattern)-1])
	}
	return false
}

func subscribed(ep *Endpoint, eventType string) bool {
	for _, p := range ep.Events {
		if eventMatches(p, eventType) {
			return true
		}
	}
	return false
}

// Publish queues event for delivery. It never blocks: when the queue is full
// the event is dropped and logged.
func (m *Manager) Publish(_ context.Context, event websocket.Event) error {
	select {
	case m.queue <- event:
	default:
		m.logger.Warn().Str("type", event.Type).Str("subject", event.Subject).Msg("webhook queue full, dropping event")
	}
	return nil
}

// Run drains the queue with the given number of workers until ctx is done.
func (m *Manager) Run(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-m.queue:
					m.Deliver(ctx, ev)
				}
			}
		}()
	}
	wg.Wait()
}

// Deliver sends event to every active, subscribed endpoint and returns the
// recorded deliveries.
func (m *Manager) Deliver(ctx context.Context, event websocket.Event) []*Delivery {
	endpoints, err := m.store.ListEndpoints(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("list webhook endpoints")
		return nil
	}

	var out []*Delivery
	for _, ep := range endpoints {
		if ep.Status != StatusActive || !subscribed(ep, event.Type) {
			continue
		}
		out = append(out, m.deliverTo(ctx, ep, event))
	}
	return out
}

func (m *Manager) deliverTo(ctx context.Context, ep *Endpoint, event websocket.Event) *Delivery {
	d := &Delivery{
		ID:         uuid.New().String(),
		EndpointID: ep.ID,
		EventType:  event.Type,
		Subject:    event.Subject,
		CreatedAt:  m.now(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		d.Status = "failed"
		d.Error = err.Error()
		m.record(ctx, d)
		return d
	}

	start := time.Now()
	resp, err := m.http.R().
		SetContext(ctx).
		SetHeader("X-Webhook-Signature", "sha256="+SignPayload(payload, ep.Secret)).
		SetHeader("X-Webhook-ID", ep.ID).
		SetHeader("X-Webhook-Timestamp", d.CreatedAt.UTC().Format(time.RFC3339)).
		SetBody(payload).
		Post(ep.URL)
	d.Duration = time.Since(start)

	switch {
	case err != nil:
		d.Status = "failed"
		d.Error = err.Error()
	case resp.IsSuccess():
		d.Status = "success"
	default:
		d.Status = "failed"
		d.Error = fmt.Sprintf("non-2xx response: %d", resp.StatusCode())
	}
	if resp != nil {
		d.StatusCode = resp.StatusCode()
		d.Attempts = resp.Request.Attempt
	}

	m.record(ctx, d)
	return d
}

func (m *Manager) record(ctx context.Context, d *Delivery) {
	if d.Status != "success" {
		m.logger.Warn().Str("endpoint_id", d.EndpointID).Str("type", d.EventType).Str("error", d.Error).Msg("webhook delivery failed")
	}
	if err := m.store.RecordDelivery(ctx, d); err != nil {
		m.logger.Error().Err(err).Msg("record webhook delivery")
	}
}
