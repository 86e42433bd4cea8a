// Package auth owns the OAuth2 credential used for every platform call:
// interactive PKCE login, persistence, and expiry-triggered refresh.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"beacon/internal/clock"
	"beacon/internal/logging"
	"beacon/internal/metrics"
	"beacon/internal/store"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// TokenKey is the store key of the persisted credential.
const TokenKey = "twitter-token"

// defaultLifetime applies when the token endpoint omits expires_in.
const defaultLifetime = 2 * time.Hour

// State is the credential lifecycle state.
type State int

const (
	Unauthenticated State = iota
	Authenticating
	Authenticated
	Expired
	Refreshing
)

func (s State) String() string {
	switch s {
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Expired:
		return "expired"
	case Refreshing:
		return "refreshing"
	default:
		return "unauthenticated"
	}
}

// Credential is the persisted token pair. ExpiresAt is epoch milliseconds.
type Credential struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt"`
}

// Expired reports whether the access token must not be used at now.
func (c Credential) Expired(now time.Time) bool { return c.ExpiresAt <= now.UnixMilli() }

// Options configures a Manager.
type Options struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	Scopes       []string
	// CallbackPort is the fixed local port for the redirect listener. 0 picks a free port.
	CallbackPort int
	Store        store.KV
	Clock        clock.Clock
	// HTTPClient is used for token requests. Nil uses http.DefaultClient.
	HTTPClient *http.Client
}

// Manager is the single owner of the persisted credential.
type Manager struct {
	oauth      oauth2.Config
	store      store.KV
	clock      clock.Clock
	port       int
	httpClient *http.Client

	mu    sync.Mutex
	state State
	group singleflight.Group
}

func New(o Options) *Manager {
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
	style := oauth2.AuthStyleInHeader
	if o.ClientSecret == "" {
		// public clients send client_id in the body
		style = oauth2.AuthStyleInParams
	}
	return &Manager{
		oauth: oauth2.Config{
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			Scopes:       o.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   o.AuthURL,
				TokenURL:  o.TokenURL,
				AuthStyle: style,
			},
		},
		store:      o.Store,
		clock:      o.Clock,
		port:       o.CallbackPort,
		httpClient: o.HTTPClient,
	}
}

// State returns the last observed lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Inspect loads the stored credential and updates State without refreshing.
func (m *Manager) Inspect(ctx context.Context) (Credential, State, error) {
	cred, err := m.load(ctx)
	if err != nil {
		if GetCode(err) == ENoCredential {
			m.setState(Unauthenticated)
			return Credential{}, Unauthenticated, nil
		}
		return Credential{}, m.State(), err
	}
	s := Authenticated
	if cred.Expired(m.clock.Now()) {
		s = Expired
	}
	if m.State() != Authenticating && m.State() != Refreshing {
		m.setState(s)
	}
	return cred, s, nil
}

// ValidToken returns an access token that is not past its expiry, refreshing
// it first if needed. Concurrent callers that find the token expired share
// one refresh. Failures are *AuthError.
func (m *Manager) ValidToken(ctx context.Context) (string, error) {
	cred, err := m.load(ctx)
	if err != nil {
		if GetCode(err) == ENoCredential {
			m.setState(Unauthenticated)
		}
		return "", err
	}
	if !cred.Expired(m.clock.Now()) {
		m.setState(Authenticated)
		return cred.AccessToken, nil
	}
	m.setState(Expired)
	v, err, _ := m.group.Do("refresh", func() (any, error) {
		// detached so one caller giving up does not fail the others
		return m.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	return v.(Credential).AccessToken, nil
}

func (m *Manager) refresh(ctx context.Context) (Credential, error) {
	// another caller may have finished a refresh since we looked
	cred, err := m.load(ctx)
	if err != nil {
		return Credential{}, err
	}
	if !cred.Expired(m.clock.Now()) {
		m.setState(Authenticated)
		return cred, nil
	}
	m.setState(Refreshing)
	if cred.RefreshToken == "" {
		return Credential{}, m.refreshFailed(errors.New("no refresh token stored"))
	}
	ts := m.oauth.TokenSource(m.withClient(ctx), &oauth2.Token{RefreshToken: cred.RefreshToken})
	tok, err := ts.Token()
	if err != nil {
		return Credential{}, m.refreshFailed(err)
	}
	next := m.credentialFrom(tok)
	if next.RefreshToken == "" {
		next.RefreshToken = cred.RefreshToken
	}
	if err := m.save(ctx, next); err != nil {
		return Credential{}, m.refreshFailed(err)
	}
	metrics.IncTokenRefresh("ok")
	logging.Info("token_refreshed", map[string]any{"expires_at": next.ExpiresAt})
	m.setState(Authenticated)
	return next, nil
}

func (m *Manager) refreshFailed(cause error) error {
	metrics.IncTokenRefresh("error")
	logging.Error("token_refresh_failed", logging.Err(cause))
	m.setState(Unauthenticated)
	return newError(ERefreshFailed, "refresh access token; run login again", cause)
}

// Logout forgets the stored credential.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.store.Delete(ctx, TokenKey); err != nil {
		return err
	}
	m.setState(Unauthenticated)
	return nil
}

func (m *Manager) load(ctx context.Context) (Credential, error) {
	b, err := m.store.Get(ctx, TokenKey)
	if errors.Is(err, store.ErrNotFound) {
		return Credential{}, newError(ENoCredential, "no stored credential; run login", nil)
	}
	if err != nil {
		return Credential{}, newError(ECorruptStore, "read credential", err)
	}
	var c Credential
	if err := json.Unmarshal(b, &c); err != nil {
		return Credential{}, newError(ECorruptStore, "decode credential", err)
	}
	if c.AccessToken == "" {
		return Credential{}, newError(ENoCredential, "stored credential has no access token; run login", nil)
	}
	return c, nil
}

func (m *Manager) save(ctx context.Context, c Credential) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := m.store.Put(ctx, TokenKey, b); err != nil {
		return newError(EPersistFailed, "write credential", err)
	}
	return nil
}

func (m *Manager) withClient(ctx context.Context) context.Context {
	if m.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

// credentialFrom computes the expiry against the manager's clock from
// expires_in, since oauth2 stamps Expiry with wall time.
func (m *Manager) credentialFrom(tok *oauth2.Token) Credential {
	life := defaultLifetime
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		life = time.Duration(v) * time.Second
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			life = time.Duration(n) * time.Second
		}
	default:
		if !tok.Expiry.IsZero() {
			life = time.Until(tok.Expiry)
		}
	}
	return Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    m.clock.Now().Add(life).UnixMilli(),
	}
}
