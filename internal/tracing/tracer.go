package tracing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/eric-w/dp3t-sdk-go/internal/bridge"
	"github.com/eric-w/dp3t-sdk-go/internal/client"
	"github.com/eric-w/dp3t-sdk-go/internal/crypto"
	"github.com/eric-w/dp3t-sdk-go/internal/defaults"
	"github.com/eric-w/dp3t-sdk-go/internal/exposure"
	"github.com/eric-w/dp3t-sdk-go/internal/state"
	"github.com/eric-w/dp3t-sdk-go/internal/storage"
	"github.com/eric-w/dp3t-sdk-go/internal/syncer"
)

// BroadcastService advertises this device's rotating tokens.
type BroadcastService interface {
	Start() error
	Stop() error
}

// DiscoveryService scans for nearby devices and reports handshakes
// through the match bridge.
type DiscoveryService interface {
	StartScanning() error
	StopScanning() error
}

// ErrCalibrationDisabled is returned by calibration-only operations when
// the tracer was built without calibration mode.
var ErrCalibrationDisabled = errors.New("calibration mode is not enabled")

// Options wires a Tracer. Config, Storage, Crypto, Defaults, Broadcast,
// Discovery, and KnownCases are required; the rest have defaults.
type Options struct {
	Config    client.AppConfig
	Transport http.RoundTripper

	Storage    storage.Store
	Crypto     crypto.Module
	Defaults   defaults.Store
	Broadcast  BroadcastService
	Discovery  DiscoveryService
	KnownCases syncer.KnownCasesSynchronizer

	// AppSync is required for discovery configs only.
	AppSync client.ApplicationSynchronizer

	// Diagnostic receives raw handshakes when Calibration is on.
	Diagnostic  bridge.HandshakeObserver
	Calibration bool

	// Now overrides the clock in tests.
	Now    func() time.Time
	Logger *zap.Logger
}

// Tracer is the session orchestrator.
type Tracer struct {
	opts     Options
	session  *state.Store
	delivery *state.Delivery
	clients  *client.Cache
	coord    *syncer.Coordinator
	reporter *exposure.Reporter
	perm     *bridge.PermissionBridge
	match    *bridge.MatchBridge
	logger   *zap.Logger
}

// New constructs a tracer and seeds its session state from the persisted
// defaults and the live storage counters.
func New(opts Options) (*Tracer, error) {
	if opts.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if opts.Crypto == nil {
		return nil, fmt.Errorf("crypto module is required")
	}
	if opts.Defaults == nil {
		return nil, fmt.Errorf("persisted defaults store is required")
	}
	if opts.Broadcast == nil {
		return nil, fmt.Errorf("broadcast service is required")
	}
	if opts.Discovery == nil {
		return nil, fmt.Errorf("discovery service is required")
	}
	if opts.KnownCases == nil {
		return nil, fmt.Errorf("known-cases synchronizer is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	logger := opts.Logger.Named("tracing")
	delivery := state.NewDelivery(logger)

	session, err := state.NewStore(opts.Defaults, delivery, opts.Logger)
	if err != nil {
		delivery.Close()
		return nil, err
	}

	clients, err := client.NewCache(opts.Config, opts.Transport, opts.AppSync, opts.Storage, opts.Logger)
	if err != nil {
		delivery.Close()
		return nil, err
	}

	coord, err := syncer.NewCoordinator(clients, opts.Storage, opts.KnownCases, session, opts.Now, opts.Logger)
	if err != nil {
		delivery.Close()
		return nil, err
	}

	reporter, err := exposure.NewReporter(clients, opts.Crypto, session, opts.Logger)
	if err != nil {
		delivery.Close()
		return nil, err
	}

	t := &Tracer{
		opts:     opts,
		session:  session,
		delivery: delivery,
		clients:  clients,
		coord:    coord,
		reporter: reporter,
		perm:     bridge.NewPermissionBridge(session, opts.Logger),
		match:    bridge.NewMatchBridge(session, opts.Storage, opts.Diagnostic, opts.Calibration, opts.Logger),
		logger:   logger,
	}

	// Live counters are best-effort at construction too.
	t.coord.RefreshCounters(context.Background())

	return t, nil
}

// SetObserver registers the state-change observer. The tracer keeps a
// non-owning handle only.
func (t *Tracer) SetObserver(o state.Observer) {
	t.session.SetObserver(o)
}

// PermissionBridge returns the sink for radio permission events.
func (t *Tracer) PermissionBridge() *bridge.PermissionBridge { return t.perm }

// MatchBridge returns the sink for matching-engine events.
func (t *Tracer) MatchBridge() *bridge.MatchBridge { return t.match }

// Start marks tracking active and starts discovery and broadcast.
func (t *Tracer) Start() error {
	t.session.Apply(func(snap *state.Snapshot) {
		snap.TrackingState = state.TrackingActive
		snap.InactiveReason = state.ReasonNone
	})
	if err := t.opts.Discovery.StartScanning(); err != nil {
		return fmt.Errorf("failed to start discovery: %w", err)
	}
	if err := t.opts.Broadcast.Start(); err != nil {
		return fmt.Errorf("failed to start broadcast: %w", err)
	}
	t.logger.Info("tracing started")
	return nil
}

// Stop stops discovery and broadcast and marks tracking stopped. It
// always succeeds and is idempotent; radio stop failures are logged.
func (t *Tracer) Stop() {
	if err := t.opts.Discovery.StopScanning(); err != nil {
		t.logger.Warn("failed to stop discovery", zap.Error(err))
	}
	if err := t.opts.Broadcast.Stop(); err != nil {
		t.logger.Warn("failed to stop broadcast", zap.Error(err))
	}
	t.session.Apply(func(snap *state.Snapshot) {
		snap.TrackingState = state.TrackingStopped
		snap.InactiveReason = state.ReasonNone
	})
	t.logger.Info("tracing stopped")
}

// SetTrackingMode switches to a calibration partial state. Only the
// advertising-only and receiving-only variants are accepted, and only
// when calibration mode is enabled.
func (t *Tracer) SetTrackingMode(mode state.TrackingState) error {
	if !t.opts.Calibration {
		return ErrCalibrationDisabled
	}
	if mode != state.TrackingActiveAdvertisingOnly && mode != state.TrackingActiveReceivingOnly {
		return fmt.Errorf("unsupported tracking mode %q", mode)
	}
	t.session.Apply(func(snap *state.Snapshot) {
		snap.TrackingState = mode
		snap.InactiveReason = state.ReasonNone
	})
	return nil
}

// SyncNow runs one synchronization cycle and blocks until it finishes.
func (t *Tracer) SyncNow(ctx context.Context) error {
	return t.coord.Sync(ctx)
}

// Sync runs one synchronization cycle in the background. The completion
// is invoked exactly once, on the delivery context.
func (t *Tracer) Sync(ctx context.Context, completion func(error)) {
	go func() {
		err := t.coord.Sync(ctx)
		t.complete(completion, err)
	}()
}

// Report runs the self-report flow in the background. On success the
// session becomes infected. The completion fires exactly once on the
// delivery context — except when no key exists for the onset date, in
// which case nothing happens and the completion never fires (kept
// behavior; see exposure.ErrNoKeyForOnset).
func (t *Tracer) Report(ctx context.Context, onset time.Time, auth string, completion func(error)) {
	go func() {
		err := t.reporter.Report(ctx, onset, auth)
		if errors.Is(err, exposure.ErrNoKeyForOnset) {
			return
		}
		t.complete(completion, err)
	}()
}

// ReportNow is the blocking variant of Report. Unlike Report it does
// surface exposure.ErrNoKeyForOnset to the caller.
func (t *Tracer) ReportNow(ctx context.Context, onset time.Time, auth string) error {
	return t.reporter.Report(ctx, onset, auth)
}

// Status refreshes the counters best-effort and returns a snapshot.
func (t *Tracer) Status(ctx context.Context) (state.Snapshot, error) {
	t.coord.RefreshCounters(ctx)
	return t.session.Snapshot(), nil
}

// Reset tears the session down in order: stop tracing, clear persisted
// defaults and state, empty and destroy storage, reset key material,
// drop cached network state. Fail-fast: the first error is returned and
// nothing is rolled back. Tracking stops before storage is destroyed so
// no radio write races the wipe.
func (t *Tracer) Reset(ctx context.Context) error {
	t.Stop()

	if err := t.session.Reset(); err != nil {
		return err
	}
	if err := t.opts.Storage.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear storage: %w", err)
	}
	if err := t.opts.Storage.Destroy(); err != nil {
		return fmt.Errorf("failed to destroy storage: %w", err)
	}
	if err := t.opts.Crypto.Reset(); err != nil {
		return fmt.Errorf("failed to reset crypto module: %w", err)
	}
	t.clients.Invalidate()

	t.logger.Info("session reset")
	return nil
}

// Close releases the delivery goroutine. The tracer is unusable after.
func (t *Tracer) Close() {
	t.delivery.Close()
}

func (t *Tracer) complete(completion func(error), err error) {
	if completion == nil {
		return
	}
	t.delivery.Dispatch(func() {
		completion(err)
	})
}
