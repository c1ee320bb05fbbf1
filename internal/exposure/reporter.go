package exposure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/eric-w/dp3t-sdk-go/internal/client"
	"github.com/eric-w/dp3t-sdk-go/internal/crypto"
	"github.com/eric-w/dp3t-sdk-go/internal/errs"
	"github.com/eric-w/dp3t-sdk-go/internal/state"
)

const instrumentationName = "github.com/eric-w/dp3t-sdk-go/internal/exposure"

// ErrNoKeyForOnset signals that the crypto collaborator holds no key
// material for the requested onset date. The orchestrator treats it as a
// silent no-op: no submission happens and the caller's completion never
// fires. Kept as-observed; revisiting it is a product decision.
var ErrNoKeyForOnset = errors.New("no publishable key for onset date")

// Reporter drives one exposure self-report.
type Reporter struct {
	clients *client.Cache
	crypto  crypto.Module
	session *state.Store
	logger  *zap.Logger

	reportCounter metric.Int64Counter
}

// NewReporter wires a reporter.
func NewReporter(clients *client.Cache, cryptoModule crypto.Module, session *state.Store, logger *zap.Logger) (*Reporter, error) {
	if clients == nil {
		return nil, fmt.Errorf("client cache is required")
	}
	if cryptoModule == nil {
		return nil, fmt.Errorf("crypto module is required")
	}
	if session == nil {
		return nil, fmt.Errorf("session state is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Reporter{
		clients: clients,
		crypto:  cryptoModule,
		session: session,
		logger:  logger.Named("exposure"),
	}

	meter := otel.Meter(instrumentationName)
	var err error
	r.reportCounter, err = meter.Int64Counter(
		"dp3t.exposure.reports_total",
		metric.WithDescription("Total number of exposure report attempts by outcome"),
		metric.WithUnit("{report}"),
	)
	if err != nil {
		r.logger.Warn("failed to create report counter", zap.Error(err))
	}

	return r, nil
}

// Report derives the publishable key for onset, submits it with auth,
// and on success marks the session infected regardless of prior status.
//
// A missing key for the onset date returns ErrNoKeyForOnset. Unknown key
// derivation failures are wrapped into a cryptography error with a fixed
// message; the original cause is discarded on purpose.
func (r *Reporter) Report(ctx context.Context, onset time.Time, auth string) error {
	attemptID := uuid.NewString()
	log := r.logger.With(zap.String("attempt_id", attemptID))

	cl, err := r.clients.Resolve(ctx, false)
	if err != nil {
		log.Error("client resolution failed", zap.Error(err))
		r.recordOutcome(ctx, "client_error")
		return err
	}

	dayKey, err := r.crypto.DerivePublishableKey(onset)
	if err != nil {
		if errs.IsKnownKind(err) {
			r.recordOutcome(ctx, "crypto_error")
			return err
		}
		r.recordOutcome(ctx, "crypto_error")
		return errs.Cryptography("key derivation failed")
	}
	if dayKey == nil {
		log.Warn("no publishable key for onset date",
			zap.String("onset", onset.UTC().Format("2006-01-02")))
		r.recordOutcome(ctx, "no_key")
		return ErrNoKeyForOnset
	}

	report := client.ExposureReport{
		Key:           dayKey.Key,
		DayIdentifier: dayKey.Day,
		AuthData:      auth,
	}
	if err := cl.SubmitExposure(ctx, report); err != nil {
		log.Error("exposure submission failed", zap.Error(err))
		r.recordOutcome(ctx, "submit_error")
		return err
	}

	// Unconditional: prior exposed or even infected status is overwritten.
	r.session.Apply(func(snap *state.Snapshot) {
		snap.InfectionStatus = state.Infected
	})
	log.Info("exposure reported", zap.String("day", dayKey.Day))
	r.recordOutcome(ctx, "success")
	return nil
}

func (r *Reporter) recordOutcome(ctx context.Context, outcome string) {
	if r.reportCounter == nil {
		return
	}
	r.reportCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
