package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eric-w/dp3t-sdk-go/internal/defaults"
	"github.com/eric-w/dp3t-sdk-go/internal/state"
	"github.com/eric-w/dp3t-sdk-go/internal/storage"
)

type countingStore struct {
	storage.Store

	count int
	err   error
}

func (f *countingStore) HandshakeCount(ctx context.Context) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.count, nil
}

func newSessionStore(t *testing.T) *state.Store {
	t.Helper()
	delivery := state.NewDelivery(zap.NewNop())
	t.Cleanup(delivery.Close)
	s, err := state.NewStore(defaults.NewMemoryStore(), delivery, zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestPermissionTransitions(t *testing.T) {
	tests := []struct {
		name       string
		fire       func(*PermissionBridge)
		wantState  state.TrackingState
		wantReason state.InactiveReason
	}{
		{"no issues", (*PermissionBridge).OnNoIssues, state.TrackingActive, state.ReasonNone},
		{"device off", (*PermissionBridge).OnDeviceOff, state.TrackingInactive, state.ReasonBluetoothOff},
		{"unauthorized", (*PermissionBridge).OnUnauthorized, state.TrackingInactive, state.ReasonPermissionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := newSessionStore(t)
			b := NewPermissionBridge(session, zap.NewNop())

			tt.fire(b)

			snap := session.Snapshot()
			assert.Equal(t, tt.wantState, snap.TrackingState)
			assert.Equal(t, tt.wantReason, snap.InactiveReason)
		})
	}
}

func TestPermissionEventsOverrideCalibrationStates(t *testing.T) {
	session := newSessionStore(t)
	session.Apply(func(snap *state.Snapshot) {
		snap.TrackingState = state.TrackingActiveAdvertisingOnly
	})

	b := NewPermissionBridge(session, zap.NewNop())
	b.OnNoIssues()

	// The partial state collapses to plain active.
	assert.Equal(t, state.TrackingActive, session.Snapshot().TrackingState)
}

func TestMatchFoundSetsExposed(t *testing.T) {
	session := newSessionStore(t)
	b := NewMatchBridge(session, &countingStore{}, nil, false, zap.NewNop())

	b.OnMatchFound()
	assert.Equal(t, state.Exposed, session.Snapshot().InfectionStatus)
}

func TestMatchFoundOverridesInfected(t *testing.T) {
	session := newSessionStore(t)
	session.Apply(func(snap *state.Snapshot) { snap.InfectionStatus = state.Infected })

	b := NewMatchBridge(session, &countingStore{}, nil, false, zap.NewNop())
	b.OnMatchFound()

	// Known behavior: matching does not respect a prior infected status.
	assert.Equal(t, state.Exposed, session.Snapshot().InfectionStatus)
}

func TestHandshakeAddedRefreshesCounter(t *testing.T) {
	session := newSessionStore(t)
	b := NewMatchBridge(session, &countingStore{count: 11}, nil, false, zap.NewNop())

	b.OnHandshakeAdded(context.Background(), storage.Handshake{Token: []byte("t")})
	assert.Equal(t, 11, session.Snapshot().HandshakeCount)
}

func TestHandshakeAddedKeepsStaleCounterOnFailure(t *testing.T) {
	session := newSessionStore(t)
	session.Apply(func(snap *state.Snapshot) { snap.HandshakeCount = 6 })

	b := NewMatchBridge(session, &countingStore{err: errors.New("db gone")}, nil, false, zap.NewNop())
	b.OnHandshakeAdded(context.Background(), storage.Handshake{})

	assert.Equal(t, 6, session.Snapshot().HandshakeCount)
}

type recordingDiagnostic struct {
	handshakes []storage.Handshake
}

func (d *recordingDiagnostic) HandshakeDiscovered(h storage.Handshake) {
	d.handshakes = append(d.handshakes, h)
}

func TestHandshakeForwardedOnlyInCalibrationMode(t *testing.T) {
	session := newSessionStore(t)
	h := storage.Handshake{Token: []byte("raw")}

	diag := &recordingDiagnostic{}
	off := NewMatchBridge(session, &countingStore{}, diag, false, zap.NewNop())
	off.OnHandshakeAdded(context.Background(), h)
	assert.Empty(t, diag.handshakes)

	on := NewMatchBridge(session, &countingStore{}, diag, true, zap.NewNop())
	on.OnHandshakeAdded(context.Background(), h)
	require.Len(t, diag.handshakes, 1)
	assert.Equal(t, []byte("raw"), diag.handshakes[0].Token)
}
