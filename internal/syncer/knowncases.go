package syncer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eric-w/dp3t-sdk-go/internal/client"
)

// ExposedKeyHandler is the matching-engine entry point fed with the keys
// published for one calendar day.
type ExposedKeyHandler interface {
	HandleExposedKeys(ctx context.Context, day string, keys []client.ExposedKey) error
}

// HTTPKnownCases fetches the published keys for the recent day window
// and hands each batch to the matching engine.
type HTTPKnownCases struct {
	handler ExposedKeyHandler
	days    int
	now     func() time.Time
	logger  *zap.Logger
}

// NewHTTPKnownCases creates a synchronizer covering the last days
// calendar days including today.
func NewHTTPKnownCases(handler ExposedKeyHandler, days int, now func() time.Time, logger *zap.Logger) (*HTTPKnownCases, error) {
	if handler == nil {
		return nil, fmt.Errorf("exposed-key handler is required")
	}
	if days <= 0 {
		return nil, fmt.Errorf("day window must be positive, got %d", days)
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPKnownCases{
		handler: handler,
		days:    days,
		now:     now,
		logger:  logger.Named("knowncases"),
	}, nil
}

// Sync fetches each day's batch through cl. The first failed day aborts
// the cycle so the caller retries the whole window.
func (k *HTTPKnownCases) Sync(ctx context.Context, cl *client.ExposeeClient) error {
	today := k.now().UTC()
	for i := k.days - 1; i >= 0; i-- {
		day := today.AddDate(0, 0, -i).Format("2006-01-02")

		keys, err := cl.FetchExposedKeys(ctx, day)
		if err != nil {
			return fmt.Errorf("failed to fetch exposed keys for %s: %w", day, err)
		}
		if len(keys) == 0 {
			continue
		}
		if err := k.handler.HandleExposedKeys(ctx, day, keys); err != nil {
			return fmt.Errorf("matching failed for %s: %w", day, err)
		}
		k.logger.Debug("processed exposed keys", zap.String("day", day), zap.Int("keys", len(keys)))
	}
	return nil
}
