package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/eric-w/dp3t-sdk-go/internal/errs"
)

// ApplicationSynchronizer refreshes the discoverable application list
// used by discovery configs.
type ApplicationSynchronizer interface {
	Sync(ctx context.Context) error
}

// DescriptorSource resolves a descriptor for an application id from the
// synchronized application storage.
type DescriptorSource interface {
	ResolveDescriptor(ctx context.Context, appID string) (Descriptor, error)
}

// DescriptorSink receives descriptors fetched from the discovery service.
type DescriptorSink interface {
	UpsertDescriptor(ctx context.Context, desc Descriptor) error
}

// HTTPApplicationSynchronizer fetches the application list from a
// discovery endpoint and stores each descriptor through the sink.
type HTTPApplicationSynchronizer struct {
	discoveryURL string
	http         *http.Client
	sink         DescriptorSink
	logger       *zap.Logger
}

// NewHTTPApplicationSynchronizer creates a synchronizer against
// discoveryURL. A nil transport uses http.DefaultTransport.
func NewHTTPApplicationSynchronizer(discoveryURL string, transport http.RoundTripper, sink DescriptorSink, logger *zap.Logger) (*HTTPApplicationSynchronizer, error) {
	if discoveryURL == "" {
		return nil, fmt.Errorf("discovery url is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("descriptor sink is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPApplicationSynchronizer{
		discoveryURL: discoveryURL,
		http:         &http.Client{Transport: transport, Timeout: defaultHTTPTimeout},
		sink:         sink,
		logger:       logger.Named("appsync"),
	}, nil
}

// Sync fetches the application list and upserts every descriptor.
func (s *HTTPApplicationSynchronizer) Sync(ctx context.Context) error {
	url := strings.TrimSuffix(s.discoveryURL, "/") + "/discovery/apps.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build discovery request: %w", err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return errs.Network(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errs.Network(fmt.Errorf("discovery fetch returned status %d", resp.StatusCode))
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return errs.Network(err)
	}

	var payload struct {
		Applications []Descriptor `json:"applications"`
	}
	if err := json.Unmarshal(content, &payload); err != nil {
		return fmt.Errorf("failed to decode application list: %w", err)
	}

	for _, desc := range payload.Applications {
		if err := desc.Validate(); err != nil {
			s.logger.Warn("skipping invalid application descriptor",
				zap.String("app_id", desc.AppID), zap.Error(err))
			continue
		}
		if err := s.sink.UpsertDescriptor(ctx, desc); err != nil {
			return fmt.Errorf("failed to store descriptor for %s: %w", desc.AppID, err)
		}
	}

	s.logger.Debug("application list synchronized",
		zap.Int("applications", len(payload.Applications)))
	return nil
}
