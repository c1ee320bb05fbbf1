package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/eric-w/dp3t-sdk-go/internal/client"
	"github.com/eric-w/dp3t-sdk-go/internal/state"
	"github.com/eric-w/dp3t-sdk-go/internal/storage"
)

const instrumentationName = "github.com/eric-w/dp3t-sdk-go/internal/syncer"

// KnownCasesSynchronizer fetches the published exposure keys through the
// resolved client, updates storage, and re-invokes the matching engine.
// Those side effects belong to the collaborator, not the coordinator.
type KnownCasesSynchronizer interface {
	Sync(ctx context.Context, cl *client.ExposeeClient) error
}

// Coordinator runs synchronization cycles against shared session state.
type Coordinator struct {
	clients *client.Cache
	store   storage.Store
	known   KnownCasesSynchronizer
	session *state.Store
	now     func() time.Time
	logger  *zap.Logger

	tracer      trace.Tracer
	meter       metric.Meter
	syncCounter metric.Int64Counter
}

// NewCoordinator wires a coordinator. now may be nil and defaults to
// time.Now.
func NewCoordinator(clients *client.Cache, store storage.Store, known KnownCasesSynchronizer, session *state.Store, now func() time.Time, logger *zap.Logger) (*Coordinator, error) {
	if clients == nil {
		return nil, fmt.Errorf("client cache is required")
	}
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if known == nil {
		return nil, fmt.Errorf("known-cases synchronizer is required")
	}
	if session == nil {
		return nil, fmt.Errorf("session state is required")
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Coordinator{
		clients: clients,
		store:   store,
		known:   known,
		session: session,
		now:     now,
		logger:  logger.Named("syncer"),
		tracer:  otel.Tracer(instrumentationName),
		meter:   otel.Meter(instrumentationName),
	}
	c.initMetrics()
	return c, nil
}

func (c *Coordinator) initMetrics() {
	var err error
	c.syncCounter, err = c.meter.Int64Counter(
		"dp3t.sync.cycles_total",
		metric.WithDescription("Total number of sync cycles by outcome"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		c.logger.Warn("failed to create sync counter", zap.Error(err))
	}
}

// Sync runs one cycle. Contact regeneration and counter refresh are
// best-effort; client resolution and the known-cases sync are not.
func (c *Coordinator) Sync(ctx context.Context) (err error) {
	cycleID := uuid.NewString()
	log := c.logger.With(zap.String("cycle_id", cycleID))

	ctx, span := c.tracer.Start(ctx, "syncer.Sync",
		trace.WithAttributes(attribute.String("cycle_id", cycleID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		c.recordOutcome(ctx, err)
	}()

	if regenErr := c.store.RegenerateContactsFromHandshakes(ctx); regenErr != nil {
		// Best-effort: the cycle continues on stale contacts.
		log.Warn("contact regeneration failed", zap.Error(regenErr))
	}

	c.RefreshCounters(ctx)

	cl, err := c.clients.Resolve(ctx, true)
	if err != nil {
		log.Error("client resolution failed", zap.Error(err))
		return err
	}

	if err = c.known.Sync(ctx, cl); err != nil {
		log.Error("known-cases sync failed", zap.Error(err))
		return err
	}

	syncedAt := c.now()
	c.session.Apply(func(snap *state.Snapshot) {
		snap.LastSync = &syncedAt
	})
	log.Info("sync cycle completed", zap.Time("synced_at", syncedAt))
	return nil
}

// RefreshCounters pulls handshake and contact counts from storage into
// the session state. Refresh-or-keep-stale: a failed read leaves the
// previous counter untouched, it is never zeroed.
func (c *Coordinator) RefreshCounters(ctx context.Context) {
	handshakes, hErr := c.store.HandshakeCount(ctx)
	contacts, cErr := c.store.ContactCount(ctx)
	if hErr != nil {
		c.logger.Warn("handshake count refresh failed, keeping stale value", zap.Error(hErr))
	}
	if cErr != nil {
		c.logger.Warn("contact count refresh failed, keeping stale value", zap.Error(cErr))
	}
	if hErr != nil && cErr != nil {
		return
	}

	c.session.Apply(func(snap *state.Snapshot) {
		if hErr == nil {
			snap.HandshakeCount = handshakes
		}
		if cErr == nil {
			snap.ContactCount = contacts
		}
	})
}

func (c *Coordinator) recordOutcome(ctx context.Context, err error) {
	if c.syncCounter == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.syncCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
