package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"github.com/roach88/fieldlogic/internal/ir"
	"github.com/roach88/fieldlogic/internal/registry"
)

// TransportError is a failed HTTP exchange. Under the fail-open policy it
// never produces a validation error by itself.
type TransportError struct {
	URL    string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("http validator %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("http validator %s: unexpected status %d", e.URL, e.Status)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// httpVerdict is the response body an http validator endpoint returns.
type httpVerdict struct {
	Valid bool   `json:"valid"`
	Kind  string `json:"kind,omitempty"`
}

// HTTPClient performs http validator requests with client-side rate
// limiting shared by every validator of an engine.
type HTTPClient struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPClient wraps client. A non-positive rps disables rate limiting.
func NewHTTPClient(client *http.Client, rps float64, burst int) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &HTTPClient{client: client, limiter: rate.NewLimiter(limit, burst)}
}

// Check sends the field value to the configured endpoint. A 2xx response
// with {"valid": false} reports the response kind, or defaultKind when the
// endpoint omits it.
func (c *HTTPClient) Check(ctx context.Context, spec *ir.HTTPRequest, vc registry.ValidatorContext, defaultKind string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", &TransportError{URL: spec.URL, Err: err}
	}

	req, err := buildRequest(ctx, spec, vc)
	if err != nil {
		return "", &TransportError{URL: spec.URL, Err: err}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", &TransportError{URL: spec.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", &TransportError{URL: spec.URL, Status: resp.StatusCode}
	}

	var verdict httpVerdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return "", &TransportError{URL: spec.URL, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if verdict.Valid {
		return "", nil
	}
	if verdict.Kind != "" {
		return verdict.Kind, nil
	}
	return defaultKind, nil
}

func buildRequest(ctx context.Context, spec *ir.HTTPRequest, vc registry.ValidatorContext) (*http.Request, error) {
	param := spec.Param
	if param == "" {
		param = "value"
	}

	if strings.EqualFold(spec.Method, http.MethodPost) {
		body, err := json.Marshal(map[string]any{"field": vc.Path(), param: vc.Value()})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, spec.URL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	u, err := url.Parse(spec.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set(param, ir.ToString(vc.Value()))
	u.RawQuery = q.Encode()
	return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
}
