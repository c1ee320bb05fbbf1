package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/eric-w/dp3t-sdk-go/internal/errs"
)

// Cache memoizes at most one live ExposeeClient per orchestrator.
//
// Resolution is serialized: concurrent sync and report flows cannot race
// on the cache slot, and a forced refresh observed by one caller is the
// client every later caller gets until the next refresh.
type Cache struct {
	mu     sync.Mutex
	cached *ExposeeClient

	config    AppConfig
	transport http.RoundTripper
	appSync   ApplicationSynchronizer
	source    DescriptorSource
	logger    *zap.Logger
}

// NewCache creates an empty cache for the given config. appSync and
// source are only required for discovery configs.
func NewCache(config AppConfig, transport http.RoundTripper, appSync ApplicationSynchronizer, source DescriptorSource, logger *zap.Logger) (*Cache, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid app config: %w", err)
	}
	if config.Mode == ModeDiscovery {
		if appSync == nil {
			return nil, fmt.Errorf("application synchronizer is required for discovery configs")
		}
		if source == nil {
			return nil, fmt.Errorf("descriptor source is required for discovery configs")
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		config:    config,
		transport: transport,
		appSync:   appSync,
		source:    source,
		logger:    logger.Named("client"),
	}, nil
}

// Resolve returns the cached client, or resolves a fresh one when forced
// or when the cache is empty. On any resolution failure the cache keeps
// its previous contents.
func (c *Cache) Resolve(ctx context.Context, forceRefresh bool) (*ExposeeClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !forceRefresh && c.cached != nil {
		return c.cached, nil
	}

	switch c.config.Mode {
	case ModeDiscovery:
		if err := c.appSync.Sync(ctx); err != nil {
			return nil, errs.Storage(fmt.Errorf("application sync failed: %w", err))
		}
		desc, err := c.source.ResolveDescriptor(ctx, c.config.AppID)
		if err != nil {
			return nil, errs.Storage(fmt.Errorf("descriptor lookup for %s failed: %w", c.config.AppID, err))
		}
		cl, err := NewExposeeClient(desc, c.transport)
		if err != nil {
			return nil, errs.Storage(err)
		}
		c.cached = cl
		c.logger.Debug("client resolved via discovery", zap.String("app_id", desc.AppID))
		return cl, nil

	case ModeManual:
		cl, err := NewExposeeClient(c.config.Descriptor, c.transport)
		if err != nil {
			return nil, err
		}
		c.cached = cl
		return cl, nil

	default:
		return nil, fmt.Errorf("unknown config mode %q", c.config.Mode)
	}
}

// Invalidate drops the cached client. Used on orchestrator reset.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached = nil
}
