// Package n8n calls the automation webhooks that provision Slack channels and
// Nextcloud folders for a case.
package n8n

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	perrors "github.com/p-blackswan/project-builder/internal/errors"
	"github.com/p-blackswan/project-builder/internal/requestid"
	"github.com/p-blackswan/project-builder/internal/retry"
)

// Webhook paths relative to the base URL.
const (
	EndpointBriefIntake = "/webhook/tf-brief-intake-v5"
	EndpointSync        = "/webhook/project-builder-sync"
)

// HTTPClient abstracts HTTP calls for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Observer receives per-call webhook timings. *metrics.Metrics satisfies it.
type Observer interface {
	ObserveWebhook(endpoint string, ok bool, seconds float64)
}

// Response is the outcome of a webhook call. On failure Success is false and
// Error says why; provisioned names are empty.
type Response struct {
	Success         bool   `json:"success"`
	CaseNumber      string `json:"case_number,omitempty"`
	CatchyCaseID    string `json:"catchy_case_id,omitempty"`
	SlackChannel    string `json:"slack_channel,omitempty"`
	NextcloudFolder string `json:"nextcloud_folder,omitempty"`
	Error           string `json:"error,omitempty"`
	Attempts        int    `json:"-"`
}

// Client posts payloads to the n8n webhooks.
type Client struct {
	baseURL    string
	httpClient HTTPClient
	retry      retry.Config
	observer   Observer
	logger     zerolog.Logger
}

// NewClient creates a webhook client. timeout bounds each attempt.
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		retry:      retry.DefaultConfig(),
		logger:     logger.With().Str("component", "n8n").Logger(),
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(hc HTTPClient) {
	c.httpClient = hc
}

// SetRetry replaces the retry policy.
func (c *Client) SetRetry(cfg retry.Config) {
	c.retry = cfg
}

// SetObserver reports call timings to o.
func (c *Client) SetObserver(o Observer) {
	c.observer = o
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// URL returns the absolute URL of a webhook path.
func (c *Client) URL(endpoint string) string {
	return c.baseURL + endpoint
}

// TriggerBriefIntake runs the intake automation, which provisions the case's
// Slack channel and Nextcloud folder.
func (c *Client) TriggerBriefIntake(ctx context.Context, payload any) (*Response, error) {
	return c.Call(ctx, EndpointBriefIntake, payload)
}

// TriggerSync pushes the current brief to the project-builder sync flow.
func (c *Client) TriggerSync(ctx context.Context, payload any) (*Response, error) {
	return c.Call(ctx, EndpointSync, payload)
}

// Call posts payload to endpoint, retrying transient failures. The returned
// Response is never nil; err is set whenever Success is false.
func (c *Client) Call(ctx context.Context, endpoint string, payload any) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return &Response{Error: err.Error()}, perrors.Invalid("encoding webhook payload: %v", err)
	}

	start := time.Now()
	var resp *Response
	attempts := 0
	err = retry.DoCounted(ctx, c.retry, func(ctx context.Context) error {
		r, err := c.post(ctx, endpoint, body)
		resp = r
		return err
	}, func(n int) { attempts = n })

	if c.observer != nil {
		c.observer.ObserveWebhook(endpoint, err == nil, time.Since(start).Seconds())
	}
	if err != nil {
		c.logger.Error().Err(err).
			Str("endpoint", endpoint).
			Int("attempts", attempts).
			Str("request_id", requestid.FromContext(ctx)).
			Msg("webhook call failed")
		if resp == nil {
			resp = &Response{}
		}
		resp.Success = false
		if resp.Error == "" {
			resp.Error = err.Error()
		}
		resp.Attempts = attempts
		return resp, err
	}

	resp.Attempts = attempts
	c.logger.Info().
		Str("endpoint", endpoint).
		Int("attempts", attempts).
		Str("slack_channel", resp.SlackChannel).
		Str("nextcloud_folder", resp.NextcloudFolder).
		Msg("webhook call succeeded")
	return resp, nil
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(endpoint), bytes.NewReader(body))
	if err != nil {
		return nil, perrors.Invalid("creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	requestid.Propagate(ctx, req)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", perrors.ErrTimeout, err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", perrors.ErrUnavailable, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", perrors.ErrUnavailable, err)
	}

	if httpResp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(raw))
		r := &Response{Error: fmt.Sprintf("Webhook failed with status %d: %s", httpResp.StatusCode, msg)}
		return r, perrors.NewAPIError("n8n", httpResp.StatusCode, truncate(msg, 200))
	}
	return parseResponse(raw)
}

// parseResponse reads the loosely shaped automation reply. n8n answers with
// an object or a one-element array; a missing success flag means success.
func parseResponse(raw []byte) (*Response, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return &Response{Success: true}, nil
	}
	if !gjson.ValidBytes(raw) {
		r := &Response{Error: "invalid webhook response"}
		return r, perrors.NewAPIError("n8n", http.StatusBadGateway, "response is not JSON")
	}
	doc := gjson.ParseBytes(raw)
	if doc.IsArray() {
		doc = doc.Get("0")
	}

	r := &Response{
		Success:         true,
		CaseNumber:      first(doc, "case_number", "caseNumber"),
		CatchyCaseID:    first(doc, "catchy_case_id", "catchyCaseId"),
		SlackChannel:    first(doc, "slack_channel", "slack.channel_name", "slackChannel"),
		NextcloudFolder: first(doc, "nextcloud_folder", "nextcloud.folder_path", "nextcloudFolder"),
		Error:           first(doc, "error", "message"),
	}
	if s := doc.Get("success"); s.Exists() {
		r.Success = s.Bool()
	}
	if !r.Success {
		msg := r.Error
		if msg == "" {
			msg = "automation reported failure"
		}
		return r, perrors.NewAPIError("n8n", http.StatusOK, msg)
	}
	r.Error = ""
	return r, nil
}

func first(doc gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := doc.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
