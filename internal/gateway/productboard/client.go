// Package productboard talks to the per-feature detail endpoint of a Productboard workspace.
package productboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pbroadmap/internal/config"
	"pbroadmap/internal/pkg/circuit"
	"pbroadmap/internal/pkg/text"

	"github.com/tidwall/gjson"
)

const maxDetailBodyBytes = 8 << 20

// ErrMalformedDetail marks a detail response that is not {"feature": {...}}.
var ErrMalformedDetail = errors.New("malformed feature detail")

// StatusError is returned for non-2xx detail responses.
type StatusError struct {
	FeatureID string
	Code      int
	Body      string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("feature %s detail: unexpected status %d: %s", e.FeatureID, e.Code, e.Body)
}

// Client fetches feature details with the cookie header captured from the browser session. It is
// safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	cookie     string
	breaker    *circuit.Breaker
}

// NewClient builds a detail client for the configured API base URL.
func NewClient(roadmap config.RoadmapConfig, detail config.DetailConfig, cookieHeader string) (*Client, error) {
	raw := strings.TrimSpace(roadmap.APIBaseURL)
	if raw == "" {
		return nil, fmt.Errorf("roadmap.api_base_url cannot be empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse roadmap.api_base_url: %w", err)
	}
	timeout := detail.Timeout()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 32
	var breaker *circuit.Breaker
	if detail.Breaker.Threshold > 0 {
		breaker = circuit.New("productboard-detail", detail.Breaker.Threshold, detail.Breaker.Cooldown())
	}
	return &Client{
		baseURL: parsed,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		cookie:  cookieHeader,
		breaker: breaker,
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// FetchDescription returns feature.description of the detail payload. A null or missing
// description is returned as nil.
func (c *Client) FetchDescription(ctx context.Context, featureID string) (*string, error) {
	var desc *string
	err := c.breaker.Execute(func() error {
		body, err := c.get(ctx, featureID)
		if err != nil {
			return err
		}
		desc, err = parseDescription(featureID, body)
		return err
	}, tripsBreaker)
	if errors.Is(err, circuit.ErrOpen) {
		return nil, fmt.Errorf("feature %s detail: %w", featureID, err)
	}
	return desc, err
}

func (c *Client) get(ctx context.Context, featureID string) ([]byte, error) {
	endpoint := c.baseURL.JoinPath("api", "features", featureID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feature %s detail: %w", featureID, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDetailBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("feature %s detail: read body: %w", featureID, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{FeatureID: featureID, Code: resp.StatusCode, Body: text.Truncate(string(body), 200)}
	}
	return body, nil
}

func parseDescription(featureID string, body []byte) (*string, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: feature %s: body is not valid JSON", ErrMalformedDetail, featureID)
	}
	feature := gjson.GetBytes(body, "feature")
	if !feature.IsObject() {
		return nil, fmt.Errorf("%w: feature %s: missing feature object", ErrMalformedDetail, featureID)
	}
	desc := feature.Get("description")
	switch desc.Type {
	case gjson.Null:
		return nil, nil
	case gjson.String:
		s := desc.Str
		return &s, nil
	default:
		return nil, fmt.Errorf("%w: feature %s: description is %s", ErrMalformedDetail, featureID, desc.Type)
	}
}

// Retryable reports whether a failed detail fetch may succeed when repeated. Malformed payloads,
// an open breaker and 4xx responses other than 408/429 fail the same way every time.
func Retryable(err error) bool {
	if errors.Is(err, ErrMalformedDetail) || errors.Is(err, circuit.ErrOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests || se.Code == http.StatusRequestTimeout
	}
	return true
}

// tripsBreaker counts transport failures and 5xx/429 responses; client errors and malformed
// payloads say nothing about upstream health.
func tripsBreaker(err error) bool {
	if errors.Is(err, ErrMalformedDetail) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return true
}
