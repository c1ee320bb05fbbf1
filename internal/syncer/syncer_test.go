package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eric-w/dp3t-sdk-go/internal/client"
	"github.com/eric-w/dp3t-sdk-go/internal/defaults"
	"github.com/eric-w/dp3t-sdk-go/internal/state"
	"github.com/eric-w/dp3t-sdk-go/internal/storage"
)

type fakeStore struct {
	storage.Store

	handshakes    int
	contacts      int
	countErr      error
	regenErr      error
	regenCalls    int
	handshakeCall int
}

func (f *fakeStore) HandshakeCount(ctx context.Context) (int, error) {
	f.handshakeCall++
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.handshakes, nil
}

func (f *fakeStore) ContactCount(ctx context.Context) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.contacts, nil
}

func (f *fakeStore) RegenerateContactsFromHandshakes(ctx context.Context) error {
	f.regenCalls++
	return f.regenErr
}

type fakeKnownCases struct {
	calls int
	err   error
	got   *client.ExposeeClient
}

func (f *fakeKnownCases) Sync(ctx context.Context, cl *client.ExposeeClient) error {
	f.calls++
	f.got = cl
	return f.err
}

type failingAppSync struct{}

func (failingAppSync) Sync(ctx context.Context) error { return errors.New("discovery down") }

type nopDescriptorSource struct{}

func (nopDescriptorSource) ResolveDescriptor(ctx context.Context, appID string) (client.Descriptor, error) {
	return client.Descriptor{}, errors.New("unused")
}

func newSessionStore(t *testing.T) *state.Store {
	t.Helper()
	delivery := state.NewDelivery(zap.NewNop())
	t.Cleanup(delivery.Close)
	s, err := state.NewStore(defaults.NewMemoryStore(), delivery, zap.NewNop())
	require.NoError(t, err)
	return s
}

func manualCache(t *testing.T) *client.Cache {
	t.Helper()
	cache, err := client.NewCache(client.NewManualConfig(client.Descriptor{
		AppID:          "org.example.tracing",
		BackendBaseURL: "https://backend.example.org",
	}), nil, nil, nil, nil)
	require.NoError(t, err)
	return cache
}

func TestSyncSuccessSetsLastSync(t *testing.T) {
	session := newSessionStore(t)
	store := &fakeStore{handshakes: 4, contacts: 2}
	known := &fakeKnownCases{}
	started := time.Now()

	c, err := NewCoordinator(manualCache(t), store, known, session, nil, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, c.Sync(context.Background()))

	snap := session.Snapshot()
	require.NotNil(t, snap.LastSync)
	assert.False(t, snap.LastSync.Before(started))
	assert.Equal(t, state.Healthy, snap.InfectionStatus)
	assert.Equal(t, 4, snap.HandshakeCount)
	assert.Equal(t, 2, snap.ContactCount)
	assert.Equal(t, 1, store.regenCalls)
	assert.Equal(t, 1, known.calls)
	assert.NotNil(t, known.got)
}

func TestSyncContinuesWhenRegenerationFails(t *testing.T) {
	session := newSessionStore(t)
	store := &fakeStore{regenErr: errors.New("db locked")}
	known := &fakeKnownCases{}

	c, err := NewCoordinator(manualCache(t), store, known, session, nil, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, c.Sync(context.Background()))
	assert.Equal(t, 1, known.calls)
	assert.NotNil(t, session.Snapshot().LastSync)
}

func TestCounterRefreshKeepsStaleOnFailure(t *testing.T) {
	session := newSessionStore(t)
	session.Apply(func(snap *state.Snapshot) {
		snap.HandshakeCount = 9
		snap.ContactCount = 3
	})

	store := &fakeStore{countErr: errors.New("db gone")}
	c, err := NewCoordinator(manualCache(t), store, &fakeKnownCases{}, session, nil, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, c.Sync(context.Background()))

	// Failed refresh leaves the previous counters, it never zeroes them.
	snap := session.Snapshot()
	assert.Equal(t, 9, snap.HandshakeCount)
	assert.Equal(t, 3, snap.ContactCount)
}

func TestSyncPropagatesResolutionFailure(t *testing.T) {
	session := newSessionStore(t)
	cache, err := client.NewCache(client.NewDiscoveryConfig("org.example.tracing"),
		nil, failingAppSync{}, nopDescriptorSource{}, nil)
	require.NoError(t, err)

	known := &fakeKnownCases{}
	c, err := NewCoordinator(cache, &fakeStore{}, known, session, nil, zap.NewNop())
	require.NoError(t, err)

	err = c.Sync(context.Background())
	require.Error(t, err)
	assert.Zero(t, known.calls)
	assert.Nil(t, session.Snapshot().LastSync)
}

func TestSyncForwardsKnownCasesFailure(t *testing.T) {
	session := newSessionStore(t)
	syncErr := errors.New("backend 500")
	known := &fakeKnownCases{err: syncErr}

	c, err := NewCoordinator(manualCache(t), &fakeStore{}, known, session, nil, zap.NewNop())
	require.NoError(t, err)

	err = c.Sync(context.Background())
	assert.ErrorIs(t, err, syncErr)
	assert.Nil(t, session.Snapshot().LastSync)
}

func TestSyncForcesClientRefresh(t *testing.T) {
	session := newSessionStore(t)
	cache := manualCache(t)

	// Pre-resolve so a cached client exists before the cycle.
	cached, err := cache.Resolve(context.Background(), false)
	require.NoError(t, err)

	known := &fakeKnownCases{}
	c, err := NewCoordinator(cache, &fakeStore{}, known, session, nil, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, c.Sync(context.Background()))
	assert.NotSame(t, cached, known.got)
}

type recordingHandler struct {
	days []string
	keys int
	err  error
}

func (h *recordingHandler) HandleExposedKeys(ctx context.Context, day string, keys []client.ExposedKey) error {
	if h.err != nil {
		return h.err
	}
	h.days = append(h.days, day)
	h.keys += len(keys)
	return nil
}

func TestHTTPKnownCasesFetchesDayWindow(t *testing.T) {
	var requested []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		day := r.URL.Path[len("/v1/exposed/"):]
		requested = append(requested, day)
		payload := map[string]interface{}{"exposed": []map[string]interface{}{}}
		if day == "2025-03-13" {
			payload["exposed"] = []map[string]interface{}{{"key": []byte("k"), "onset": day}}
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer srv.Close()

	cl, err := client.NewExposeeClient(client.Descriptor{
		AppID:          "a",
		BackendBaseURL: srv.URL,
	}, nil)
	require.NoError(t, err)

	now := func() time.Time { return time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC) }
	handler := &recordingHandler{}
	kc, err := NewHTTPKnownCases(handler, 3, now, nil)
	require.NoError(t, err)

	require.NoError(t, kc.Sync(context.Background(), cl))

	assert.Equal(t, []string{"2025-03-12", "2025-03-13", "2025-03-14"}, requested)
	// Only the non-empty batch reaches the matching engine.
	assert.Equal(t, []string{"2025-03-13"}, handler.days)
	assert.Equal(t, 1, handler.keys)
}

func TestHTTPKnownCasesAbortsOnMatcherFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"exposed": []map[string]interface{}{{"key": []byte("k"), "onset": "x"}},
		})
	}))
	defer srv.Close()

	cl, err := client.NewExposeeClient(client.Descriptor{AppID: "a", BackendBaseURL: srv.URL}, nil)
	require.NoError(t, err)

	matchErr := errors.New("matcher broken")
	kc, err := NewHTTPKnownCases(&recordingHandler{err: matchErr}, 2, nil, nil)
	require.NoError(t, err)

	err = kc.Sync(context.Background(), cl)
	assert.ErrorIs(t, err, matchErr)
}
