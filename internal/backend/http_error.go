package backend

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

const maxErrorSnippet = 256

var (
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]+`)
	apiKeyPattern = regexp.MustCompile(`(?i)("?(?:api[_-]?key|x-api-key|token)"?\s*[:=]\s*"?)[^",\s}]+`)
)

// HTTPError is returned for non-2xx backend responses.
type HTTPError struct {
	Op         string
	StatusCode int
	Status     string
	Snippet    string
}

func (e *HTTPError) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("%s: backend returned %s", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: backend returned %s: %s", e.Op, e.Status, e.Snippet)
}

func newHTTPError(op string, resp *http.Response, body []byte) *HTTPError {
	return &HTTPError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Snippet:    redactAndTruncate(string(body)),
	}
}

func redactAndTruncate(s string) string {
	s = strings.TrimSpace(s)
	s = bearerPattern.ReplaceAllString(s, "Bearer [REDACTED]")
	s = apiKeyPattern.ReplaceAllString(s, "${1}[REDACTED]")
	if len(s) > maxErrorSnippet {
		s = s[:maxErrorSnippet] + "..."
	}
	return s
}
