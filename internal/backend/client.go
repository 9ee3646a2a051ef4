package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rpattn/datafusion/internal/domain"
)

// DefaultTimeout bounds a single backend call when no HTTP client is supplied.
const DefaultTimeout = 30 * time.Second

const maxResponseBytes = 32 << 20

// ErrMissingBaseURL is returned when the HTTP backend is configured without a URL.
var ErrMissingBaseURL = errors.New("backend base url is required")

// Client talks to the backend over HTTP. Requests authenticate with the X-API-Key header.
type Client struct {
	baseURL *url.URL
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per request timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.http.Timeout = timeout
		}
	}
}

// WithRateLimit caps outgoing requests per second. Zero or negative disables limiting.
func WithRateLimit(rps float64) ClientOption {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			c.limiter = nil
		}
	}
}

// NewClient builds a client rooted at baseURL, for example http://localhost:8000/api/v1.
func NewClient(baseURL, apiKey string, opts ...ClientOption) (*Client, error) {
	parsed, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL: parsed,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMissingBaseURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse backend base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend base url must be http or https, got %q", raw)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u, nil
}

type validator interface {
	Validate() error
}

func (c *Client) Health(ctx context.Context) (domain.Health, error) {
	var out domain.Health
	if err := c.do(ctx, "health", http.MethodGet, "healthz", nil, nil, "", &out); err != nil {
		return domain.Health{}, err
	}
	return out, nil
}

func (c *Client) Profile(ctx context.Context, files []File) (domain.ProfileResponse, error) {
	body, contentType, err := multipartBody(files, nil)
	if err != nil {
		return domain.ProfileResponse{}, fmt.Errorf("profile: %w", err)
	}
	var out domain.ProfileResponse
	if err := c.doValidated(ctx, "profile", http.MethodPost, "profile", nil, body, contentType, &out); err != nil {
		return domain.ProfileResponse{}, err
	}
	return out, nil
}

func (c *Client) Match(ctx context.Context, left, right File, threshold *float64) (domain.MatchResponse, error) {
	body, contentType, err := multipartBody([]File{left, right}, nil)
	if err != nil {
		return domain.MatchResponse{}, fmt.Errorf("match: %w", err)
	}
	var query url.Values
	if threshold != nil {
		query = url.Values{"threshold": {strconv.FormatFloat(*threshold, 'f', -1, 64)}}
	}
	var out domain.MatchResponse
	if err := c.doValidated(ctx, "match", http.MethodPost, "match", query, body, contentType, &out); err != nil {
		return domain.MatchResponse{}, err
	}
	return out, nil
}

func (c *Client) Merge(ctx context.Context, req MergeRequest) (domain.MergeResponse, error) {
	decisions, err := json.Marshal(struct {
		Decisions []domain.MergeDecision `json:"decisions"`
	}{Decisions: req.Decisions})
	if err != nil {
		return domain.MergeResponse{}, fmt.Errorf("merge: encode decisions: %w", err)
	}
	body, contentType, err := multipartBody(req.Files, map[string]string{"decisions": string(decisions)})
	if err != nil {
		return domain.MergeResponse{}, fmt.Errorf("merge: %w", err)
	}
	var out domain.MergeResponse
	if err := c.doValidated(ctx, "merge", http.MethodPost, "merge", nil, body, contentType, &out); err != nil {
		return domain.MergeResponse{}, err
	}
	return out, nil
}

func (c *Client) Validate(ctx context.Context, req domain.ValidateRequest) (domain.ValidateResponse, error) {
	var out domain.ValidateResponse
	if err := c.postJSON(ctx, "validate", "validate", req, &out); err != nil {
		return domain.ValidateResponse{}, err
	}
	return out, nil
}

func (c *Client) Docs(ctx context.Context, req domain.DocsRequest) (domain.DocsResponse, error) {
	var out domain.DocsResponse
	if err := c.postJSON(ctx, "docs", "docs", req, &out); err != nil {
		return domain.DocsResponse{}, err
	}
	return out, nil
}

func (c *Client) Drift(ctx context.Context, req domain.DriftRequest) (domain.DriftResponse, error) {
	var out domain.DriftResponse
	if err := c.postJSON(ctx, "drift", "drift/check", req, &out); err != nil {
		return domain.DriftResponse{}, err
	}
	return out, nil
}

func (c *Client) postJSON(ctx context.Context, op, path string, in any, out validator) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", op, err)
	}
	return c.doValidated(ctx, op, http.MethodPost, path, nil, bytes.NewReader(payload), "application/json", out)
}

func (c *Client) doValidated(ctx context.Context, op, method, path string, query url.Values, body io.Reader, contentType string, out validator) error {
	if err := c.do(ctx, op, method, path, query, body, contentType, out); err != nil {
		return err
	}
	if err := out.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: rate limit: %w", op, err)
		}
	}

	target := c.baseURL.ResolveReference(&url.URL{Path: path})
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}
	if resp.StatusCode/100 != 2 {
		return newHTTPError(op, resp, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func multipartBody(files []File, fields map[string]string) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, file := range files {
		part, err := writer.CreateFormFile("files", file.Name)
		if err != nil {
			return nil, "", fmt.Errorf("create part %s: %w", file.Name, err)
		}
		if _, err := part.Write(file.Data); err != nil {
			return nil, "", fmt.Errorf("write part %s: %w", file.Name, err)
		}
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}
