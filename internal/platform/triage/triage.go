// Package triage calls the external triage oracle that turns a free-text
// description into a severity classification.
package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

var (
	ErrNotConfigured = errors.New("triage: oracle URL not configured")
	ErrEmptyResponse = errors.New("triage: empty response from oracle")
	ErrInvalidJSON   = errors.New("triage: invalid JSON from oracle")
)

// FieldError reports a required field that is missing or out of range in the
// oracle's answer.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("triage: %s %s", e.Field, e.Reason)
}

// Result is a validated classification.
type Result struct {
	EmergencyType      string `json:"emergency_type"`
	SeverityScore      int    `json:"severity_score"`
	SeverityLevel      string `json:"severity_level"`
	RequiredSpecialist string `json:"required_specialist"`
	Confidence         string `json:"confidence,omitempty"`
}

var requiredFields = []string{"emergency_type", "severity_score", "severity_level", "required_specialist"}

var fences = regexp.MustCompile("```json|```")

// Parse validates a raw oracle answer. Markdown code fences around the JSON
// are tolerated.
func Parse(raw string) (*Result, error) {
	raw = strings.TrimSpace(fences.ReplaceAllString(strings.TrimSpace(raw), ""))
	if raw == "" {
		return nil, ErrEmptyResponse
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	for _, f := range requiredFields {
		if _, ok := fields[f]; !ok {
			return nil, &FieldError{Field: f, Reason: "missing"}
		}
	}

	var res Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if res.SeverityScore < 1 || res.SeverityScore > 10 {
		return nil, &FieldError{Field: "severity_score", Reason: "must be between 1 and 10"}
	}
	switch res.SeverityLevel {
	case "Low", "Moderate", "Critical":
	default:
		return nil, &FieldError{Field: "severity_level", Reason: fmt.Sprintf("unknown level %q", res.SeverityLevel)}
	}
	return &res, nil
}

// Config configures the oracle client.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Client posts caller descriptions to the oracle.
type Client struct {
	http   *resty.Client
	url    string
	logger zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	hc := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		hc.SetAuthToken(cfg.APIKey)
	}
	return &Client{
		http:   hc,
		url:    cfg.URL,
		logger: logger.With().Str("component", "triage").Logger(),
	}
}

type classifyRequest struct {
	Message string `json:"message"`
}

// Classify sends message to the oracle and validates the answer.
func (c *Client) Classify(ctx context.Context, message string) (*Result, error) {
	if c.url == "" {
		return nil, ErrNotConfigured
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(classifyRequest{Message: message}).
		Post(c.url)
	if err != nil {
		return nil, fmt.Errorf("triage: call oracle: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("triage: oracle returned status %d", resp.StatusCode())
	}

	res, err := Parse(resp.String())
	if err != nil {
		c.logger.Warn().Err(err).Str("raw", truncate(resp.String(), 512)).Msg("rejected oracle answer")
		return nil, err
	}
	return res, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
