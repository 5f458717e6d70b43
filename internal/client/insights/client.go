package insights

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	submitPath = "/api/v1/reports"
	jobsPath   = "/api/v1/reports/jobs/"

	maxBodyBytes = 1 << 20

	maxErrorBytes = 200
)

// ResponseKind discriminates the body carried by a Response.
type ResponseKind string

const (
	KindInsights ResponseKind = "insights"
	KindAsyncJob ResponseKind = "async_job"
	KindError    ResponseKind = "error"
)

// Insights is the analysis document returned by the service. Its shape belongs to the
// service and is passed through untouched.
type Insights map[string]interface{}

// AsyncJob is a handle for a report the service analyses in the background.
type AsyncJob struct {
	ID     string `json:"job_id"`
	Status string `json:"status,omitempty"`
}

// ErrorDetail is the service's explanation for a rejected or failed request.
type ErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Response is the outcome of one call. Exactly one of Insights, Job or Error is set,
// as indicated by Kind.
type Response struct {
	StatusCode int
	Success    bool
	Kind       ResponseKind
	Insights   Insights
	Job        *AsyncJob
	Error      *ErrorDetail
	Raw        []byte
}

// Accepted reports whether the service took the report: HTTP 200 or 202 together with
// an explicit success flag.
func (r *Response) Accepted() bool {
	if r == nil || !r.Success {
		return false
	}
	return r.StatusCode == http.StatusOK || r.StatusCode == http.StatusAccepted
}

// ErrorMessage returns the service-provided error text, falling back to the status line.
func (r *Response) ErrorMessage() string {
	if r == nil {
		return ""
	}
	if r.Error != nil && strings.TrimSpace(r.Error.Message) != "" {
		return r.Error.Message
	}
	return fmt.Sprintf("HTTP %d %s", r.StatusCode, http.StatusText(r.StatusCode))
}

type envelope struct {
	Success  bool            `json:"success"`
	Insights Insights        `json:"insights"`
	JobID    string          `json:"job_id"`
	Status   string          `json:"status"`
	Error    json.RawMessage `json:"error"`
	Message  string          `json:"message"`
}

// Options configures a Client. BaseURL is required. Timeout bounds each request and
// defaults to 30s. HTTPClient defaults to a plain http.Client.
type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the external AI analytics service.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
}

// New validates opts and returns a Client for the service at BaseURL.
func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("insights baseURL required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid insights baseURL: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(opts.APIKey),
		timeout:    timeout,
		httpClient: hc,
	}, nil
}

// SubmitReport posts a report payload. HTTP error statuses are reported through the
// Response; the returned error is reserved for transport and decoding failures.
func (c *Client) SubmitReport(ctx context.Context, payload interface{}) (*Response, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, fmt.Errorf("encode report payload: %w", err)
	}
	return c.do(ctx, http.MethodPost, submitPath, &buf)
}

// PollStatus fetches the state of an asynchronous analysis job.
func (c *Client) PollStatus(ctx context.Context, jobID string) (*Response, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, errors.New("job id required")
	}
	return c.do(ctx, http.MethodGet, jobsPath+url.PathEscape(jobID), nil)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*Response, error) {
	ctx2, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx2, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return parseResponse(resp.StatusCode, raw)
}

func parseResponse(status int, raw []byte) (*Response, error) {
	out := &Response{StatusCode: status, Raw: raw}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if decodeErr != nil && status < 300 {
		return nil, fmt.Errorf("decode response (HTTP %d): %w", status, decodeErr)
	}

	if status >= 300 || !env.Success || decodeErr != nil {
		out.Kind = KindError
		out.Error = errorDetail(env, raw, decodeErr)
		return out, nil
	}

	out.Success = true
	switch {
	case env.Insights != nil:
		out.Kind = KindInsights
		out.Insights = env.Insights
	case env.JobID != "":
		out.Kind = KindAsyncJob
		out.Job = &AsyncJob{ID: env.JobID, Status: env.Status}
	default:
		out.Kind = KindInsights
		out.Insights = Insights{}
	}
	return out, nil
}

// truncateUTF8 cuts s to at most n bytes without splitting a multi-byte rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// errorDetail accepts either {"error": "text"} or {"error": {"code": "...", "message": "..."}}.
func errorDetail(env envelope, raw []byte, decodeErr error) *ErrorDetail {
	if decodeErr != nil {
		msg := strings.TrimSpace(string(raw))
		return &ErrorDetail{Message: truncateUTF8(msg, maxErrorBytes)}
	}
	if len(env.Error) > 0 {
		var text string
		if err := json.Unmarshal(env.Error, &text); err == nil && text != "" {
			return &ErrorDetail{Message: text}
		}
		var detail ErrorDetail
		if err := json.Unmarshal(env.Error, &detail); err == nil && detail.Message != "" {
			return &detail
		}
	}
	if env.Message != "" {
		return &ErrorDetail{Message: env.Message}
	}
	return &ErrorDetail{}
}
