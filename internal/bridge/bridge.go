package bridge

import (
	"context"

	"go.uber.org/zap"

	"github.com/eric-w/dp3t-sdk-go/internal/state"
	"github.com/eric-w/dp3t-sdk-go/internal/storage"
)

// PermissionBridge turns low-level radio permission events into tracking
// state transitions. Every transition is an unconditional overwrite: a
// calibration partial state (advertising-only, receiving-only) collapses
// to the plain active/inactive variants.
type PermissionBridge struct {
	session *state.Store
	logger  *zap.Logger
}

// NewPermissionBridge creates a bridge over the session store.
func NewPermissionBridge(session *state.Store, logger *zap.Logger) *PermissionBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PermissionBridge{session: session, logger: logger.Named("permission")}
}

// OnNoIssues marks tracking active.
func (b *PermissionBridge) OnNoIssues() {
	b.session.Apply(func(snap *state.Snapshot) {
		snap.TrackingState = state.TrackingActive
		snap.InactiveReason = state.ReasonNone
	})
}

// OnDeviceOff marks tracking inactive because the radio is off.
func (b *PermissionBridge) OnDeviceOff() {
	b.logger.Debug("bluetooth turned off")
	b.session.Apply(func(snap *state.Snapshot) {
		snap.TrackingState = state.TrackingInactive
		snap.InactiveReason = state.ReasonBluetoothOff
	})
}

// OnUnauthorized marks tracking inactive because permission was denied.
func (b *PermissionBridge) OnUnauthorized() {
	b.logger.Debug("bluetooth permission denied")
	b.session.Apply(func(snap *state.Snapshot) {
		snap.TrackingState = state.TrackingInactive
		snap.InactiveReason = state.ReasonPermissionDenied
	})
}

// HandshakeObserver receives raw handshakes on the diagnostic path when
// calibration mode is enabled.
type HandshakeObserver interface {
	HandshakeDiscovered(h storage.Handshake)
}

// MatchBridge turns matching-engine events into session-state
// transitions.
type MatchBridge struct {
	session     *state.Store
	store       storage.Store
	diagnostic  HandshakeObserver
	calibration bool
	logger      *zap.Logger
}

// NewMatchBridge creates a bridge. diagnostic may be nil; it is only
// consulted when calibration is true.
func NewMatchBridge(session *state.Store, store storage.Store, diagnostic HandshakeObserver, calibration bool, logger *zap.Logger) *MatchBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MatchBridge{
		session:     session,
		store:       store,
		diagnostic:  diagnostic,
		calibration: calibration,
		logger:      logger.Named("match"),
	}
}

// OnMatchFound marks the session exposed. The overwrite is unconditional
// and applies even to an infected session.
func (b *MatchBridge) OnMatchFound() {
	b.logger.Info("contact match found")
	b.session.Apply(func(snap *state.Snapshot) {
		snap.InfectionStatus = state.Exposed
	})
}

// OnHandshakeAdded refreshes the handshake counter from storage
// (refresh-or-keep-stale) and, in calibration mode, forwards the raw
// handshake to the diagnostic observer.
func (b *MatchBridge) OnHandshakeAdded(ctx context.Context, h storage.Handshake) {
	count, err := b.store.HandshakeCount(ctx)
	if err != nil {
		b.logger.Warn("handshake count refresh failed, keeping stale value", zap.Error(err))
	} else {
		b.session.Apply(func(snap *state.Snapshot) {
			snap.HandshakeCount = count
		})
	}

	if b.calibration && b.diagnostic != nil {
		b.diagnostic.HandshakeDiscovered(h)
	}
}
