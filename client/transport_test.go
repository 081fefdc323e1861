package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/tokenpipe"
	"github.com/panyam/tokenpipe/authtest"
)

type countingObserver struct {
	logouts atomic.Int32
	updates atomic.Int32
	mu      sync.Mutex
	reasons []error
}

func (o *countingObserver) OnLogout(reason error) {
	o.logouts.Add(1)
	o.mu.Lock()
	o.reasons = append(o.reasons, reason)
	o.mu.Unlock()
}

func (o *countingObserver) OnCredentialUpdated(*tokenpipe.Credential) {
	o.updates.Add(1)
}

type pipelineFixture struct {
	server   *authtest.Server
	store    *tokenpipe.MemoryStore
	client   *AuthClient
	observer *countingObserver
	metrics  *tokenpipe.Metrics
	userID   string
}

func newPipelineFixture(t *testing.T, opts ...Option) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		server:   authtest.NewServer(t),
		store:    tokenpipe.NewMemoryStore(),
		observer: &countingObserver{},
		metrics:  tokenpipe.NewMetrics(nil),
	}
	userID, err := f.server.AddUser("user@example.com", "password123")
	require.NoError(t, err)
	f.userID = userID

	opts = append([]Option{WithObserver(f.observer), WithMetrics(f.metrics)}, opts...)
	f.client, err = NewAuthClient(f.server.URL, f.store, opts...)
	require.NoError(t, err)
	return f
}

// seed stores a credential whose tokens expire at the given times
func (f *pipelineFixture) seed(t *testing.T, accessExpiresAt, refreshExpiresAt time.Time) *tokenpipe.Credential {
	t.Helper()
	cred, err := f.server.Session(f.userID, accessExpiresAt, refreshExpiresAt)
	require.NoError(t, err)
	// issued long ago, so a near expiry reads as end of life
	cred.CreatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, f.store.SetCredential(context.Background(), f.server.URL, cred))
	return cred
}

// seedRevoked stores a credential the client believes is live but the
// server has already expired, so the first call comes back 401.
func (f *pipelineFixture) seedRevoked(t *testing.T) *tokenpipe.Credential {
	t.Helper()
	cred, err := f.server.Session(f.userID, time.Now().Add(-time.Minute), time.Now().Add(time.Hour))
	require.NoError(t, err)
	cred.AccessExpiresAt = time.Now().Add(time.Hour)
	require.NoError(t, f.store.SetCredential(context.Background(), f.server.URL, cred))
	return cred
}

func (f *pipelineFixture) stored(t *testing.T) *tokenpipe.Credential {
	t.Helper()
	cred, err := f.store.GetCredential(context.Background(), f.server.URL)
	require.NoError(t, err)
	return cred
}

func (f *pipelineFixture) get(path string) (*http.Response, error) {
	return f.client.HTTPClient().Get(f.server.URL + path)
}

func TestTransport_ValidCredential(t *testing.T) {
	f := newPipelineFixture(t)
	cred := f.seed(t, time.Now().Add(time.Hour), time.Now().Add(24*time.Hour))

	resp, err := f.get("/api/items/")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, f.server.RefreshCalls())
	seen := f.server.Requests()
	require.Len(t, seen, 1)
	assert.Equal(t, cred.AuthorizationHeader(), seen[0].Authorization)
}

func TestTransport_NoCredential_SendsUnauthenticated(t *testing.T) {
	f := newPipelineFixture(t)

	resp, err := f.get("/api/items/")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, f.server.RefreshCalls())
	assert.Equal(t, int32(0), f.observer.logouts.Load(), "nobody to log out")
	seen := f.server.Requests()
	require.Len(t, seen, 1, "unauthenticated calls are not replayed")
	assert.Empty(t, seen[0].Authorization)
}

func TestTransport_ProactiveRefresh_NoPrematureSend(t *testing.T) {
	f := newPipelineFixture(t)
	old := f.seed(t, time.Now().Add(30*time.Second), time.Now().Add(24*time.Hour))

	resp, err := f.get("/api/items/")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, f.server.RefreshCalls())

	// nothing left the client carrying a token inside the expiry margin
	for _, seen := range f.server.Requests() {
		assert.NotEqual(t, old.AuthorizationHeader(), seen.Authorization)
		assert.True(t, seen.AccessExpiresAt.After(time.Now().Add(tokenpipe.DefaultExpiryMargin)))
	}

	stored := f.stored(t)
	assert.NotEqual(t, old.AccessToken, stored.AccessToken)
	assert.NotEqual(t, old.RefreshToken, stored.RefreshToken, "rotated refresh token saved")
	assert.Equal(t, int32(1), f.observer.updates.Load())
}

func TestTransport_ConcurrentRequestsShareOneRefresh(t *testing.T) {
	f := newPipelineFixture(t)
	f.seed(t, time.Now().Add(-time.Minute), time.Now().Add(24*time.Hour))
	f.server.SetRefreshDelay(100 * time.Millisecond)

	const n = 5
	var wg sync.WaitGroup
	statuses := make([]int, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := f.get("/api/items/")
			errs[i] = err
			if err == nil {
				statuses[i] = resp.StatusCode
				resp.Body.Close()
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, http.StatusOK, statuses[i])
	}
	assert.Equal(t, 1, f.server.RefreshCalls())
	assert.Len(t, f.server.Requests(), n)

	stored := f.stored(t)
	for _, seen := range f.server.Requests() {
		assert.Equal(t, stored.AuthorizationHeader(), seen.Authorization)
	}
}

func TestTransport_ReactiveRefreshReplaysOnce(t *testing.T) {
	f := newPipelineFixture(t)
	old := f.seedRevoked(t)

	resp, err := f.client.HTTPClient().Post(f.server.URL+"/api/items/", "application/json", strings.NewReader(`{"name":"first"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, `{"name":"first"}`, body["body"], "replay resends the original body")

	seen := f.server.Requests()
	require.Len(t, seen, 2)
	assert.Equal(t, old.AuthorizationHeader(), seen[0].Authorization)
	assert.Equal(t, http.StatusUnauthorized, seen[0].Status)
	assert.Equal(t, f.stored(t).AuthorizationHeader(), seen[1].Authorization)
	assert.Equal(t, 1, f.server.RefreshCalls())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Replays.WithLabelValues("ok")))
}

func TestTransport_ConcurrentUnauthorizedJoinOneRefresh(t *testing.T) {
	f := newPipelineFixture(t)
	f.seedRevoked(t)
	f.server.SetRefreshDelay(100 * time.Millisecond)

	const n = 5
	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.get("/api/items/")
			if err == nil {
				if resp.StatusCode == http.StatusOK {
					ok.Add(1)
				}
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(n), ok.Load())
	assert.Equal(t, 1, f.server.RefreshCalls())
}

func TestTransport_AtMostOneReplay(t *testing.T) {
	server := authtest.New()
	var rejected atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/always401/", func(w http.ResponseWriter, r *http.Request) {
		rejected.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.Handle("/", server.Handler())
	ts := httptest.NewServer(mux)
	defer ts.Close()

	userID, err := server.AddUser("user@example.com", "password123")
	require.NoError(t, err)
	cred, err := server.Session(userID, time.Now().Add(time.Hour), time.Now().Add(24*time.Hour))
	require.NoError(t, err)

	store := tokenpipe.NewMemoryStore()
	require.NoError(t, store.SetCredential(context.Background(), ts.URL, cred))
	metrics := tokenpipe.NewMetrics(nil)
	c, err := NewAuthClient(ts.URL, store, WithMetrics(metrics))
	require.NoError(t, err)

	resp, err := c.HTTPClient().Get(ts.URL + "/api/always401/")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(2), rejected.Load(), "original plus exactly one replay")
	assert.Equal(t, 1, server.RefreshCalls())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Replays.WithLabelValues("unauthorized")))
}

func TestTransport_ExemptTargetUntouched(t *testing.T) {
	f := newPipelineFixture(t, WithExemptions("/api/public/"))
	f.seed(t, time.Now().Add(-time.Minute), time.Now().Add(24*time.Hour))

	resp, err := f.get("/api/public/")
	require.NoError(t, err)
	resp.Body.Close()

	// the fake server guards every /api/ path, so the exempt call is refused,
	// but it was sent bare and not recovered
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, f.server.RefreshCalls())
	seen := f.server.Requests()
	require.Len(t, seen, 1)
	assert.Empty(t, seen[0].Authorization)
}

func TestTransport_ExemptionIsExactPath(t *testing.T) {
	f := newPipelineFixture(t)
	cred := f.seed(t, time.Now().Add(time.Hour), time.Now().Add(24*time.Hour))

	// shares a prefix with the sign-in endpoint but is not exempt
	resp, err := f.get(tokenpipe.DefaultLoginPath + "history/")
	require.NoError(t, err)
	resp.Body.Close()

	seen := f.server.Requests()
	require.Len(t, seen, 1)
	assert.Equal(t, cred.AuthorizationHeader(), seen[0].Authorization)
}

func TestTransport_RedirectToForeignOriginCarriesNoCredential(t *testing.T) {
	var foreignAuth atomic.Value
	foreignAuth.Store("unset")
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		foreignAuth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer foreign.Close()

	server := authtest.New()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/moved/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, foreign.URL+"/landing", http.StatusFound)
	})
	mux.Handle("/", server.Handler())
	ts := httptest.NewServer(mux)
	defer ts.Close()

	userID, err := server.AddUser("user@example.com", "password123")
	require.NoError(t, err)
	cred, err := server.Session(userID, time.Now().Add(time.Hour), time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	store := tokenpipe.NewMemoryStore()
	require.NoError(t, store.SetCredential(context.Background(), ts.URL, cred))

	c, err := NewAuthClient(ts.URL, store)
	require.NoError(t, err)

	resp, err := c.HTTPClient().Get(ts.URL + "/api/moved/")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "", foreignAuth.Load(), "redirect target must not see the token")
	assert.Equal(t, 0, server.RefreshCalls())
}

func TestTransport_ForeignOrigin401NotRecovered(t *testing.T) {
	var hits atomic.Int32
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer foreign.Close()

	f := newPipelineFixture(t)
	f.seed(t, time.Now().Add(time.Hour), time.Now().Add(24*time.Hour))

	resp, err := f.client.HTTPClient().Get(foreign.URL + "/api/items/")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, 0, f.server.RefreshCalls())
	assert.Equal(t, int32(0), f.observer.logouts.Load())
}

func TestTransport_ShortLivedAccessTokenRefreshedOnce(t *testing.T) {
	f := newPipelineFixture(t)
	// issued lifetime shorter than the default expiry margin
	f.server.AccessTokenExpiry = 30 * time.Second
	f.seed(t, time.Now().Add(-time.Minute), time.Now().Add(24*time.Hour))

	for i := 0; i < 3; i++ {
		resp, err := f.get("/api/items/")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}

	assert.Equal(t, 1, f.server.RefreshCalls(), "a fresh 30s token is used, not refreshed again")
	assert.Len(t, f.server.Requests(), 3)
}

func TestTransport_TerminalRefreshBeforeSend(t *testing.T) {
	f := newPipelineFixture(t)
	f.seed(t, time.Now().Add(-time.Minute), time.Now().Add(24*time.Hour))
	f.server.SetRefreshMode(authtest.RefreshReject)

	_, err := f.get("/api/items/")
	require.Error(t, err)
	assert.True(t, tokenpipe.IsTerminal(err))

	assert.Empty(t, f.server.Requests(), "request never sent with a stale token")
	assert.Nil(t, f.stored(t))
	assert.Equal(t, int32(1), f.observer.logouts.Load())
}

func TestTransport_TerminalRefreshAfter401(t *testing.T) {
	f := newPipelineFixture(t)
	f.seedRevoked(t)
	f.server.SetRefreshMode(authtest.RefreshReject)

	resp, err := f.get("/api/items/")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "caller sees the original 401")
	assert.Len(t, f.server.Requests(), 1)
	assert.Nil(t, f.stored(t))
	assert.Equal(t, int32(1), f.observer.logouts.Load())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Logouts.WithLabelValues("rejected")))
}

func TestTransport_TransientRefreshKeepsSession(t *testing.T) {
	f := newPipelineFixture(t)
	old := f.seedRevoked(t)
	f.server.SetRefreshMode(authtest.RefreshError)

	_, err := f.get("/api/items/")
	require.Error(t, err)
	assert.True(t, tokenpipe.IsTransient(err))

	assert.Equal(t, old.AccessToken, f.stored(t).AccessToken)
	assert.Equal(t, int32(0), f.observer.logouts.Load())

	// once the server recovers the same session carries on
	f.server.SetRefreshMode(authtest.RefreshOK)
	resp, err := f.get("/api/items/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTransport_RefreshTokenExpired_NoNetwork(t *testing.T) {
	f := newPipelineFixture(t)
	f.seed(t, time.Now().Add(-2*time.Hour), time.Now().Add(-time.Hour))

	_, err := f.get("/api/items/")
	require.Error(t, err)
	assert.ErrorIs(t, err, tokenpipe.ErrSessionExpired)

	assert.Equal(t, 0, f.server.RefreshCalls())
	assert.Empty(t, f.server.Requests())
	assert.Nil(t, f.stored(t))
	assert.Equal(t, int32(1), f.observer.logouts.Load())
}

func TestTransport_RefreshTimeout(t *testing.T) {
	f := newPipelineFixture(t, WithRefreshTimeout(100*time.Millisecond))
	old := f.seed(t, time.Now().Add(-time.Minute), time.Now().Add(24*time.Hour))
	f.server.SetRefreshMode(authtest.RefreshHang)

	start := time.Now()
	_, err := f.get("/api/items/")
	require.Error(t, err)
	assert.True(t, tokenpipe.IsTransient(err))
	assert.Contains(t, err.Error(), "token refresh timeout")
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.Equal(t, old.AccessToken, f.stored(t).AccessToken)
	assert.Equal(t, int32(0), f.observer.logouts.Load())
	assert.Empty(t, f.server.Requests())
}

type onlyReader struct{ io.Reader }

func TestTransport_NonReplayableBodyNotRetried(t *testing.T) {
	f := newPipelineFixture(t)
	f.seedRevoked(t)

	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/api/items/", onlyReader{strings.NewReader("payload")})
	require.NoError(t, err)
	require.Nil(t, req.GetBody)

	resp, err := f.client.HTTPClient().Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, f.server.RefreshCalls())
}

func TestTransport_DoesNotModifyCallerRequest(t *testing.T) {
	f := newPipelineFixture(t)
	f.seed(t, time.Now().Add(time.Hour), time.Now().Add(24*time.Hour))

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/api/items/", nil)
	require.NoError(t, err)
	resp, err := f.client.HTTPClient().Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestRetryState(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, RetryState{}, RetryStateFrom(ctx))
	assert.False(t, RetryStateFrom(ctx).Exhausted())

	next := RetryStateFrom(ctx).Next()
	ctx = WithRetryState(ctx, next)
	assert.Equal(t, 1, RetryStateFrom(ctx).Attempts)
	assert.True(t, RetryStateFrom(ctx).Exhausted())
}
