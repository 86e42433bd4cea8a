package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"beacon/internal/clock"
	"beacon/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenServer struct {
	*httptest.Server
	refreshes int32
	exchanges int32
	fail      bool
	delay     time.Duration
}

func newTokenServer(t *testing.T) *tokenServer {
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "client", user)
		assert.Equal(t, "secret", pass)
		if ts.delay > 0 {
			time.Sleep(ts.delay)
		}
		w.Header().Set("Content-Type", "application/json")
		if ts.fail {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		switch r.Form.Get("grant_type") {
		case "refresh_token":
			atomic.AddInt32(&ts.refreshes, 1)
			assert.Equal(t, "refresh-1", r.Form.Get("refresh_token"))
			_, _ = w.Write([]byte(`{"access_token":"access-2","refresh_token":"refresh-2","token_type":"bearer","expires_in":7200}`))
		case "authorization_code":
			atomic.AddInt32(&ts.exchanges, 1)
			assert.Equal(t, "the-code", r.Form.Get("code"))
			assert.NotEmpty(t, r.Form.Get("code_verifier"))
			_, _ = w.Write([]byte(`{"access_token":"access-1","refresh_token":"refresh-1","token_type":"bearer","expires_in":7200}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newManager(ts *tokenServer, kv store.KV, clk clock.Clock) *Manager {
	return New(Options{
		ClientID:     "client",
		ClientSecret: "secret",
		AuthURL:      "https://example.test/authorize",
		TokenURL:     ts.URL + "/token",
		Scopes:       []string{"tweet.read", "offline.access"},
		CallbackPort: 0,
		Store:        kv,
		Clock:        clk,
	})
}

func putCredential(t *testing.T, kv store.KV, c Credential) {
	b, err := json.Marshal(c)
	require.NoError(t, err)
	require.NoError(t, kv.Put(context.Background(), TokenKey, b))
}

func TestValidTokenFreshCredentialSkipsRefresh(t *testing.T) {
	ts := newTokenServer(t)
	kv := store.NewMemory()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	putCredential(t, kv, Credential{AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresAt: clk.Now().Add(time.Hour).UnixMilli()})
	m := newManager(ts, kv, clk)

	tok, err := m.ValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok)
	assert.Zero(t, atomic.LoadInt32(&ts.refreshes))
	assert.Equal(t, Authenticated, m.State())
}

func TestValidTokenExpiredRefreshesExactlyOnce(t *testing.T) {
	ts := newTokenServer(t)
	ts.delay = 50 * time.Millisecond
	kv := store.NewMemory()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	putCredential(t, kv, Credential{AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresAt: clk.Now().Add(-time.Second).UnixMilli()})
	m := newManager(ts, kv, clk)

	var wg sync.WaitGroup
	tokens := make([]string, 10)
	errs := make([]error, 10)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = m.ValidToken(context.Background())
		}(i)
	}
	wg.Wait()

	for i := range tokens {
		require.NoError(t, errs[i])
		assert.Equal(t, "access-2", tokens[i])
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&ts.refreshes))
	assert.Equal(t, Authenticated, m.State())

	cred, state, err := m.Inspect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Authenticated, state)
	assert.Equal(t, "refresh-2", cred.RefreshToken)
	assert.Equal(t, clk.Now().Add(7200*time.Second).UnixMilli(), cred.ExpiresAt)
}

func TestExpiresAtBoundaryCountsAsExpired(t *testing.T) {
	ts := newTokenServer(t)
	kv := store.NewMemory()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	putCredential(t, kv, Credential{AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresAt: clk.Now().UnixMilli()})
	m := newManager(ts, kv, clk)

	tok, err := m.ValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok)
	assert.EqualValues(t, 1, atomic.LoadInt32(&ts.refreshes))
}

func TestRefreshFailureIsAuthError(t *testing.T) {
	ts := newTokenServer(t)
	ts.fail = true
	kv := store.NewMemory()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	putCredential(t, kv, Credential{AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresAt: clk.Now().Add(-time.Minute).UnixMilli()})
	m := newManager(ts, kv, clk)

	_, err := m.ValidToken(context.Background())
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
	assert.Equal(t, ERefreshFailed, GetCode(err))
	assert.Equal(t, Unauthenticated, m.State())
}

func TestNoCredential(t *testing.T) {
	m := newManager(newTokenServer(t), store.NewMemory(), nil)
	_, err := m.ValidToken(context.Background())
	assert.Equal(t, ENoCredential, GetCode(err))

	_, state, err := m.Inspect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Unauthenticated, state)
}

func callbackURL(t *testing.T, l *Login, query url.Values) string {
	t.Helper()
	return "http://" + l.Addr() + callbackPath + "?" + query.Encode()
}

func TestLoginFlowPersistsCredential(t *testing.T) {
	ts := newTokenServer(t)
	kv := store.NewMemory()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	m := newManager(ts, kv, clk)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l, err := m.StartLogin(ctx)
	require.NoError(t, err)
	assert.Equal(t, Authenticating, m.State())

	u, err := url.Parse(l.URL())
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.Equal(t, l.RedirectURL(), q.Get("redirect_uri"))
	assert.True(t, strings.HasSuffix(l.RedirectURL(), "/callback"))

	_, err = m.StartLogin(ctx)
	assert.Equal(t, ELoginInProgress, GetCode(err))

	resp, err := http.Get(callbackURL(t, l, url.Values{"code": {"the-code"}, "state": {q.Get("state")}}))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Authentication successful")

	require.NoError(t, l.Wait(ctx))
	assert.Equal(t, Authenticated, m.State())
	assert.EqualValues(t, 1, atomic.LoadInt32(&ts.exchanges))

	tok, err := m.ValidToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok)

	assert.Eventually(t, func() bool {
		_, err := http.Get(callbackURL(t, l, url.Values{}))
		return err != nil
	}, 3*time.Second, 20*time.Millisecond)
}

func TestLoginRejectsStateMismatch(t *testing.T) {
	ts := newTokenServer(t)
	m := newManager(ts, store.NewMemory(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l, err := m.StartLogin(ctx)
	require.NoError(t, err)
	resp, err := http.Get(callbackURL(t, l, url.Values{"code": {"the-code"}, "state": {"forged"}}))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	err = l.Wait(ctx)
	assert.Equal(t, EStateMismatch, GetCode(err))
	assert.Equal(t, Unauthenticated, m.State())
	assert.Zero(t, atomic.LoadInt32(&ts.exchanges))
}

func TestLoginMissingCode(t *testing.T) {
	m := newManager(newTokenServer(t), store.NewMemory(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l, err := m.StartLogin(ctx)
	require.NoError(t, err)
	state, _ := url.Parse(l.URL())
	resp, err := http.Get(callbackURL(t, l, url.Values{"state": {state.Query().Get("state")}}))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, EMissingCode, GetCode(l.Wait(ctx)))
}

func TestLoginWaitHonoursContext(t *testing.T) {
	m := newManager(newTokenServer(t), store.NewMemory(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	l, err := m.StartLogin(ctx)
	require.NoError(t, err)
	cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.Canceled)
	assert.Equal(t, Unauthenticated, m.State())
}
