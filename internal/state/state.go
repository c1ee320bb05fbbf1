package state

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eric-w/dp3t-sdk-go/internal/defaults"
)

// TrackingState describes the broadcast/discovery lifecycle state.
type TrackingState string

const (
	TrackingStopped TrackingState = "stopped"
	TrackingActive  TrackingState = "active"

	// Calibration-mode partial states. Permission events may overwrite
	// these with the plain active/inactive variants; the granularity is
	// not preserved across permission events.
	TrackingActiveAdvertisingOnly TrackingState = "active_advertising_only"
	TrackingActiveReceivingOnly   TrackingState = "active_receiving_only"

	TrackingInactive TrackingState = "inactive"
)

// InactiveReason qualifies TrackingInactive.
type InactiveReason string

const (
	ReasonNone             InactiveReason = ""
	ReasonBluetoothOff     InactiveReason = "bluetooth_off"
	ReasonPermissionDenied InactiveReason = "permission_denied"
)

// InfectionStatus describes the user's self-reported / matched status.
// There is no enforced monotonicity: a match event can move an infected
// session back to exposed.
type InfectionStatus string

const (
	Healthy  InfectionStatus = "healthy"
	Exposed  InfectionStatus = "exposed"
	Infected InfectionStatus = "infected"
)

// Snapshot is a consistent copy of the session state.
type Snapshot struct {
	HandshakeCount  int
	ContactCount    int
	TrackingState   TrackingState
	InactiveReason  InactiveReason
	LastSync        *time.Time
	InfectionStatus InfectionStatus
}

// Observer receives a snapshot after every mutation. The store holds a
// non-owning handle and delivers notifications asynchronously on the
// delivery goroutine; observer failures never affect the store.
type Observer interface {
	SessionStateChanged(Snapshot)
}

// Store owns the session state. All mutations are serialized through one
// mutex; the two durable fields (infection status, last sync) are written
// to the persisted-defaults port on every change.
type Store struct {
	mu       sync.Mutex
	snap     Snapshot
	observer Observer

	persist  defaults.Store
	delivery *Delivery
	logger   *zap.Logger
}

// NewStore creates a store seeded from the persisted defaults.
func NewStore(persist defaults.Store, delivery *Delivery, logger *zap.Logger) (*Store, error) {
	if persist == nil {
		return nil, fmt.Errorf("persisted defaults store is required")
	}
	if delivery == nil {
		return nil, fmt.Errorf("delivery executor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		snap: Snapshot{
			TrackingState:   TrackingStopped,
			InfectionStatus: Healthy,
		},
		persist:  persist,
		delivery: delivery,
		logger:   logger.Named("state"),
	}

	v, err := persist.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load persisted defaults: %w", err)
	}
	if v.InfectionStatus != "" {
		s.snap.InfectionStatus = InfectionStatus(v.InfectionStatus)
	}
	s.snap.LastSync = v.LastSync

	return s, nil
}

// SetObserver registers the observer. Passing nil unregisters it.
func (s *Store) SetObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = o
}

// Snapshot returns a consistent copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Apply runs mutate against the state under the single-writer lock,
// persists the durable fields, and notifies the observer exactly once,
// asynchronously. Persistence failures are logged, not surfaced: the
// in-memory state has already advanced and stays authoritative.
func (s *Store) Apply(mutate func(*Snapshot)) {
	s.mu.Lock()
	mutate(&s.snap)
	snap := s.snap
	observer := s.observer
	s.mu.Unlock()

	if err := s.persist.Save(defaults.Values{
		InfectionStatus: string(snap.InfectionStatus),
		LastSync:        snap.LastSync,
	}); err != nil {
		s.logger.Warn("failed to persist session defaults", zap.Error(err))
	}

	if observer != nil {
		s.delivery.Dispatch(func() {
			observer.SessionStateChanged(snap)
		})
	}
}

// Reset clears counters, status, and last-sync, stops tracking, and wipes
// the persisted defaults. The observer is notified like any other change.
func (s *Store) Reset() error {
	if err := s.persist.Clear(); err != nil {
		return fmt.Errorf("failed to clear persisted defaults: %w", err)
	}
	s.Apply(func(snap *Snapshot) {
		*snap = Snapshot{
			TrackingState:   TrackingStopped,
			InfectionStatus: Healthy,
		}
	})
	return nil
}
