package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/eric-w/dp3t-sdk-go/internal/errs"
)

// ExposureReport is the payload submitted when a user self-reports.
// It is built fresh per attempt and never persisted.
type ExposureReport struct {
	Key           []byte `json:"key"`
	DayIdentifier string `json:"onset"`
	AuthData      string `json:"authData"`
}

// ExposeeClient talks to one application backend, addressed by its
// resolved descriptor. Instances are immutable; the cache replaces them
// wholesale on forced refresh.
type ExposeeClient struct {
	desc Descriptor
	http *http.Client
}

// NewExposeeClient constructs a client for desc over transport. A nil
// transport uses http.DefaultTransport.
func NewExposeeClient(desc Descriptor, transport http.RoundTripper) (*ExposeeClient, error) {
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid descriptor: %w", err)
	}
	return &ExposeeClient{
		desc: desc,
		http: &http.Client{Transport: transport},
	}, nil
}

// Descriptor returns the descriptor this client was built from.
func (c *ExposeeClient) Descriptor() Descriptor { return c.desc }

// SubmitExposure publishes the report to the backend. Transport and
// non-2xx failures come back as network errors.
func (c *ExposeeClient) SubmitExposure(ctx context.Context, report ExposureReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode exposure report: %w", err)
	}

	url := strings.TrimSuffix(c.desc.BackendBaseURL, "/") + "/v1/exposed"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build exposure request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Network(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errs.Network(fmt.Errorf("exposure submission returned status %d", resp.StatusCode))
	}
	return nil
}

// FetchExposedKeys retrieves the keys published for one calendar day from
// the bucket endpoint. Day uses the 2006-01-02 form.
func (c *ExposeeClient) FetchExposedKeys(ctx context.Context, day string) ([]ExposedKey, error) {
	base := c.desc.BucketBaseURL
	if base == "" {
		base = c.desc.BackendBaseURL
	}
	url := strings.TrimSuffix(base, "/") + "/v1/exposed/" + day

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build exposed-keys request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Network(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errs.Network(fmt.Errorf("exposed-keys fetch returned status %d", resp.StatusCode))
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, errs.Network(err)
	}

	var payload struct {
		Exposed []ExposedKey `json:"exposed"`
	}
	if err := json.Unmarshal(content, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode exposed-keys response: %w", err)
	}
	return payload.Exposed, nil
}

// ExposedKey is one published key with its effective day.
type ExposedKey struct {
	Key   []byte `json:"key"`
	Onset string `json:"onset"`
}

const maxResponseSize = 8 << 20 // 8MB

// defaultHTTPTimeout bounds discovery fetches that carry no deadline of
// their own.
const defaultHTTPTimeout = 30 * time.Second
