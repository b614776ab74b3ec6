// Package auditlog is a best-effort client for the session audit collaborator.
// The collaborator records session lifecycles and resolved analyses for later
// review; it is never on the capture or verification hot path, and every
// failure here is absorbed after logging.
package auditlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/veridict/fact-gateway/internal/analysis"
	"github.com/veridict/fact-gateway/internal/config"
	"github.com/veridict/fact-gateway/internal/observability"
	"github.com/veridict/fact-gateway/internal/resilience"
)

// Client talks to the audit log collaborator over HTTP. A client with an
// empty base URL is disabled: every method is a no-op.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     zerolog.Logger
}

// NewClient creates an audit log client from service configuration
func NewClient(cfg *config.Config, logger zerolog.Logger) *Client {
	timeout := time.Duration(cfg.AuditLogTimeout) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		baseURL:    cfg.AuditLogURL,
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
		logger:     logger.With().Str("component", "auditlog").Logger(),
	}
}

// Enabled reports whether a collaborator URL is configured
func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

type startSessionRequest struct {
	Mode      string `json:"mode"`
	StartedAt string `json:"startedAt"`
}

type startSessionResponse struct {
	SessionID string `json:"sessionId"`
}

type analysisRecord struct {
	SegmentID      string    `json:"segmentId"`
	Text           string    `json:"text"`
	Verdict        string    `json:"verdict"`
	Confidence     float64   `json:"confidence"`
	Explanation    string    `json:"explanation"`
	SentimentScore float64   `json:"sentimentScore"`
	ResolvedAt     time.Time `json:"resolvedAt"`
}

type endSessionRequest struct {
	TotalCost       float64 `json:"totalCost"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// StartSession registers a new capture session and returns the collaborator's
// session identity. A disabled or failing collaborator yields an empty
// identity and no error; the session proceeds without audit logging.
func (c *Client) StartSession(ctx context.Context, mode string) string {
	if !c.Enabled() {
		return ""
	}

	req := startSessionRequest{Mode: mode, StartedAt: time.Now().UTC().Format(time.RFC3339)}
	var resp startSessionResponse
	err := c.post(ctx, "/sessions", req, &resp)
	observability.RecordAuditLogCall("start_session", err)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to start audit session, continuing without")
		return ""
	}

	c.logger.Info().Str("audit_session_id", resp.SessionID).Msg("Audit session started")
	return resp.SessionID
}

// LogAnalysis records one resolved analysis under the given audit session.
// Pending entries are not logged; callers submit each segment once, after it
// resolves.
func (c *Client) LogAnalysis(ctx context.Context, sessionID string, result analysis.Result) {
	if !c.Enabled() || sessionID == "" {
		return
	}

	record := analysisRecord{
		SegmentID:      result.SegmentID,
		Text:           result.Text,
		Verdict:        string(result.Verdict),
		Confidence:     result.Confidence,
		Explanation:    result.Explanation,
		SentimentScore: result.SentimentScore,
		ResolvedAt:     result.ResolvedAt,
	}

	err := c.post(ctx, "/sessions/"+sessionID+"/analyses", record, nil)
	observability.RecordAuditLogCall("log_analysis", err)
	if err != nil {
		c.logger.Warn().Err(err).Str("segment_id", result.SegmentID).Msg("Failed to log analysis")
	}
}

// EndSession closes the audit session with usage totals
func (c *Client) EndSession(ctx context.Context, sessionID string, totalCost, durationSeconds float64) {
	if !c.Enabled() || sessionID == "" {
		return
	}

	req := endSessionRequest{TotalCost: totalCost, DurationSeconds: durationSeconds}
	err := c.post(ctx, "/sessions/"+sessionID+"/end", req, nil)
	observability.RecordAuditLogCall("end_session", err)
	if err != nil {
		c.logger.Warn().Err(err).Str("audit_session_id", sessionID).Msg("Failed to end audit session")
		return
	}
	c.logger.Info().Str("audit_session_id", sessionID).Msg("Audit session ended")
}

// Ping probes the collaborator for readiness reporting. A disabled client is
// always healthy.
func (c *Client) Ping(ctx context.Context) (bool, error) {
	if !c.Enabled() {
		return true, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	return resp.StatusCode < 500, nil
}

// post sends one JSON request with a small retry budget. The overall context
// deadline caps all attempts combined.
func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode audit request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return resilience.Retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create audit request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("audit request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("audit collaborator returned %d: %s", resp.StatusCode, string(data))
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("failed to decode audit response: %w", err)
			}
		}
		return nil
	}, &resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     200 * time.Millisecond,
		Multiplier:     2.0,
	})
}
