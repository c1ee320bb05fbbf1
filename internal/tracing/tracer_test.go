package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eric-w/dp3t-sdk-go/internal/client"
	"github.com/eric-w/dp3t-sdk-go/internal/crypto"
	"github.com/eric-w/dp3t-sdk-go/internal/defaults"
	"github.com/eric-w/dp3t-sdk-go/internal/state"
	"github.com/eric-w/dp3t-sdk-go/internal/storage"
)

// eventRecorder captures the order of collaborator calls across fakes.
type eventRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *eventRecorder) record(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type recordingRadio struct {
	rec *eventRecorder
}

func (r *recordingRadio) Start() error         { r.rec.record("broadcast.start"); return nil }
func (r *recordingRadio) Stop() error          { r.rec.record("broadcast.stop"); return nil }
func (r *recordingRadio) StartScanning() error { r.rec.record("discovery.start"); return nil }
func (r *recordingRadio) StopScanning() error  { r.rec.record("discovery.stop"); return nil }

type memStore struct {
	storage.Store

	rec        *eventRecorder
	handshakes int
	contacts   int
}

func (s *memStore) HandshakeCount(ctx context.Context) (int, error) { return s.handshakes, nil }
func (s *memStore) ContactCount(ctx context.Context) (int, error)   { return s.contacts, nil }

func (s *memStore) RegenerateContactsFromHandshakes(ctx context.Context) error {
	return nil
}

func (s *memStore) Clear(ctx context.Context) error {
	if s.rec != nil {
		s.rec.record("storage.clear")
	}
	s.handshakes = 0
	s.contacts = 0
	return nil
}

func (s *memStore) Destroy() error {
	if s.rec != nil {
		s.rec.record("storage.destroy")
	}
	return nil
}

type stubCrypto struct {
	rec    *eventRecorder
	dayKey *crypto.DayKey
}

func (c *stubCrypto) DerivePublishableKey(onset time.Time) (*crypto.DayKey, error) {
	return c.dayKey, nil
}

func (c *stubCrypto) Reset() error {
	if c.rec != nil {
		c.rec.record("crypto.reset")
	}
	return nil
}

type stubKnownCases struct {
	err error
}

func (k *stubKnownCases) Sync(ctx context.Context, cl *client.ExposeeClient) error {
	return k.err
}

func testOptions(t *testing.T, backendURL string) (Options, *eventRecorder) {
	t.Helper()
	rec := &eventRecorder{}
	radio := &recordingRadio{rec: rec}
	return Options{
		Config: client.NewManualConfig(client.Descriptor{
			AppID:          "org.example.tracing",
			BackendBaseURL: backendURL,
		}),
		Storage:    &memStore{rec: rec, handshakes: 2, contacts: 1},
		Crypto:     &stubCrypto{rec: rec, dayKey: &crypto.DayKey{Day: "2025-03-10", Key: []byte("k")}},
		Defaults:   defaults.NewMemoryStore(),
		Broadcast:  radio,
		Discovery:  radio,
		KnownCases: &stubKnownCases{},
		Logger:     zap.NewNop(),
	}, rec
}

func newTracer(t *testing.T, opts Options) *Tracer {
	t.Helper()
	tr, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(tr.Close)
	return tr
}

func TestStartThenStatusIsActive(t *testing.T) {
	opts, _ := testOptions(t, "https://backend.example.org")
	tr := newTracer(t, opts)

	require.NoError(t, tr.Start())

	snap, err := tr.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, state.TrackingActive, snap.TrackingState)
	// Counters were refreshed from storage.
	assert.Equal(t, 2, snap.HandshakeCount)
	assert.Equal(t, 1, snap.ContactCount)
}

func TestStopOverridesPermissionDrivenState(t *testing.T) {
	opts, _ := testOptions(t, "https://backend.example.org")
	tr := newTracer(t, opts)

	tr.PermissionBridge().OnUnauthorized()
	assert.Equal(t, state.TrackingInactive, tr.session.Snapshot().TrackingState)

	tr.Stop()
	snap := tr.session.Snapshot()
	assert.Equal(t, state.TrackingStopped, snap.TrackingState)
	assert.Equal(t, state.ReasonNone, snap.InactiveReason)

	// Idempotent.
	tr.Stop()
	assert.Equal(t, state.TrackingStopped, tr.session.Snapshot().TrackingState)
}

func TestManualStartSyncStatusScenario(t *testing.T) {
	opts, _ := testOptions(t, "https://backend.example.org")
	tr := newTracer(t, opts)

	require.NoError(t, tr.Start())
	started := time.Now()
	require.NoError(t, tr.SyncNow(context.Background()))

	snap, err := tr.Status(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap.LastSync)
	assert.False(t, snap.LastSync.Before(started))
	assert.Equal(t, state.Healthy, snap.InfectionStatus)
}

func TestSyncCompletionDeliveredOnce(t *testing.T) {
	opts, _ := testOptions(t, "https://backend.example.org")
	tr := newTracer(t, opts)

	done := make(chan error, 2)
	tr.Sync(context.Background(), func(err error) { done <- err })

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sync completion never fired")
	}

	select {
	case <-done:
		t.Fatal("sync completion fired twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSyncCompletionCarriesFailure(t *testing.T) {
	opts, _ := testOptions(t, "https://backend.example.org")
	syncErr := errors.New("backend down")
	opts.KnownCases = &stubKnownCases{err: syncErr}
	tr := newTracer(t, opts)

	done := make(chan error, 1)
	tr.Sync(context.Background(), func(err error) { done <- err })

	select {
	case err := <-done:
		assert.ErrorIs(t, err, syncErr)
	case <-time.After(2 * time.Second):
		t.Fatal("sync completion never fired")
	}
}

func TestReportSuccessMarksInfectedFromAnyStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	for _, prior := range []state.InfectionStatus{state.Healthy, state.Exposed} {
		t.Run(string(prior), func(t *testing.T) {
			opts, _ := testOptions(t, srv.URL)
			tr := newTracer(t, opts)
			tr.session.Apply(func(snap *state.Snapshot) { snap.InfectionStatus = prior })

			done := make(chan error, 1)
			tr.Report(context.Background(), time.Now().AddDate(0, 0, -1), "code", func(err error) {
				done <- err
			})

			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(2 * time.Second):
				t.Fatal("report completion never fired")
			}
			assert.Equal(t, state.Infected, tr.session.Snapshot().InfectionStatus)
		})
	}
}

func TestReportWithoutKeyNeverInvokesCompletion(t *testing.T) {
	opts, _ := testOptions(t, "https://backend.example.org")
	opts.Crypto = &stubCrypto{} // no key material for any date
	tr := newTracer(t, opts)

	fired := make(chan struct{}, 1)
	tr.Report(context.Background(), time.Now(), "code", func(error) {
		fired <- struct{}{}
	})

	// Regression guard: the silent no-op is current, known behavior.
	select {
	case <-fired:
		t.Fatal("completion fired for a missing publishable key")
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, state.Healthy, tr.session.Snapshot().InfectionStatus)
}

func TestResetClearsSessionAndOrdersTeardown(t *testing.T) {
	opts, rec := testOptions(t, "https://backend.example.org")
	tr := newTracer(t, opts)

	require.NoError(t, tr.Start())
	tr.MatchBridge().OnMatchFound()
	require.NoError(t, tr.SyncNow(context.Background()))

	require.NoError(t, tr.Reset(context.Background()))

	snap := tr.session.Snapshot()
	assert.Zero(t, snap.HandshakeCount)
	assert.Zero(t, snap.ContactCount)
	assert.Equal(t, state.Healthy, snap.InfectionStatus)
	assert.Nil(t, snap.LastSync)
	assert.Equal(t, state.TrackingStopped, snap.TrackingState)

	// Tracking stops strictly before the storage wipe.
	events := rec.all()
	stopIdx, clearIdx, destroyIdx, cryptoIdx := -1, -1, -1, -1
	for i, e := range events {
		switch e {
		case "discovery.stop":
			if stopIdx == -1 {
				stopIdx = i
			}
		case "storage.clear":
			clearIdx = i
		case "storage.destroy":
			destroyIdx = i
		case "crypto.reset":
			cryptoIdx = i
		}
	}
	require.NotEqual(t, -1, stopIdx)
	require.NotEqual(t, -1, clearIdx)
	require.NotEqual(t, -1, destroyIdx)
	require.NotEqual(t, -1, cryptoIdx)
	assert.Less(t, stopIdx, clearIdx)
	assert.Less(t, clearIdx, destroyIdx)
	assert.Less(t, destroyIdx, cryptoIdx)
}

func TestSetTrackingModeRequiresCalibration(t *testing.T) {
	opts, _ := testOptions(t, "https://backend.example.org")
	tr := newTracer(t, opts)

	err := tr.SetTrackingMode(state.TrackingActiveAdvertisingOnly)
	assert.ErrorIs(t, err, ErrCalibrationDisabled)
}

func TestSetTrackingModeInCalibration(t *testing.T) {
	opts, _ := testOptions(t, "https://backend.example.org")
	opts.Calibration = true
	tr := newTracer(t, opts)

	require.NoError(t, tr.SetTrackingMode(state.TrackingActiveReceivingOnly))
	assert.Equal(t, state.TrackingActiveReceivingOnly, tr.session.Snapshot().TrackingState)

	err := tr.SetTrackingMode(state.TrackingActive)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported tracking mode")
}

func TestObserverSeesStateChanges(t *testing.T) {
	opts, _ := testOptions(t, "https://backend.example.org")
	tr := newTracer(t, opts)

	snaps := make(chan state.Snapshot, 16)
	tr.SetObserver(observerFunc(func(s state.Snapshot) { snaps <- s }))

	require.NoError(t, tr.Start())

	select {
	case s := <-snaps:
		assert.Equal(t, state.TrackingActive, s.TrackingState)
	case <-time.After(2 * time.Second):
		t.Fatal("observer never notified")
	}
}

type observerFunc func(state.Snapshot)

func (f observerFunc) SessionStateChanged(s state.Snapshot) { f(s) }

func TestNewValidatesCollaborators(t *testing.T) {
	opts, _ := testOptions(t, "https://backend.example.org")
	opts.Storage = nil
	_, err := New(opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage is required")
}
