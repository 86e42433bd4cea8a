package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"beacon/internal/logging"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const (
	callbackPath = "/callback"
	successPage  = "<h1>Authentication successful! You can close this window.</h1>"
	failurePage  = "<h1>Authentication failed!</h1>"
)

// Login is an in-progress authorization: a local listener waiting for the
// provider to redirect the browser back with a code.
type Login struct {
	url      string
	redirect string
	addr     string
	srv      *http.Server
	done     chan error
	once     sync.Once
	claimed  atomic.Bool
	m        *Manager
}

// URL is the authorization page the user has to open.
func (l *Login) URL() string { return l.url }

// RedirectURL is the registered callback address.
func (l *Login) RedirectURL() string { return l.redirect }

// Addr is the listener's host:port.
func (l *Login) Addr() string { return l.addr }

// Wait blocks until the callback has been handled or ctx ends. On ctx end
// the listener is closed and the manager returns to Unauthenticated.
func (l *Login) Wait(ctx context.Context) error {
	select {
	case err := <-l.done:
		return err
	case <-ctx.Done():
		l.finish(ctx.Err())
		return ctx.Err()
	}
}

// finish records the outcome once and shuts the listener down.
func (l *Login) finish(err error) {
	l.once.Do(func() {
		if err != nil {
			l.m.setState(Unauthenticated)
		} else {
			l.m.setState(Authenticated)
		}
		l.done <- err
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = l.srv.Shutdown(ctx)
		}()
	})
}

// StartLogin generates a PKCE verifier and CSRF state, starts the callback
// listener and returns the pending login.
func (m *Manager) StartLogin(ctx context.Context) (*Login, error) {
	m.mu.Lock()
	if m.state == Authenticating {
		m.mu.Unlock()
		return nil, newError(ELoginInProgress, "a login is already waiting for its callback", nil)
	}
	m.state = Authenticating
	m.mu.Unlock()

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", m.port))
	if err != nil {
		m.setState(Unauthenticated)
		return nil, newError(EListenFailed, fmt.Sprintf("listen on callback port %d", m.port), err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	cfg := m.oauth
	cfg.RedirectURL = fmt.Sprintf("http://localhost:%d%s", port, callbackPath)
	verifier := oauth2.GenerateVerifier()
	state := uuid.NewString()

	l := &Login{
		url:      cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)),
		redirect: cfg.RedirectURL,
		addr:     ln.Addr().String(),
		done:     make(chan error, 1),
		m:        m,
	}
	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		if !l.claimed.CompareAndSwap(false, true) {
			w.WriteHeader(http.StatusGone)
			return
		}
		err := m.handleCallback(ctx, &cfg, r, state, verifier)
		w.Header().Set("Content-Type", "text/html")
		if err != nil {
			logging.Error("oauth_callback_failed", logging.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(failurePage))
		} else {
			logging.Info("oauth_login_ok", nil)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(successPage))
		}
		l.finish(err)
	})
	l.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.finish(newError(EListenFailed, "callback server stopped", err))
		}
	}()
	return l, nil
}

func (m *Manager) handleCallback(ctx context.Context, cfg *oauth2.Config, r *http.Request, state, verifier string) error {
	q := r.URL.Query()
	if q.Get("state") != state {
		return newError(EStateMismatch, "callback state does not match", nil)
	}
	if e := q.Get("error"); e != "" {
		return newError(EDenied, "provider returned "+e, nil)
	}
	code := q.Get("code")
	if code == "" {
		return newError(EMissingCode, "callback has no code", nil)
	}
	tok, err := cfg.Exchange(m.withClient(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return newError(EExchangeFailed, "exchange authorization code", err)
	}
	return m.save(ctx, m.credentialFrom(tok))
}

// Login runs the whole interactive flow: notify is handed the URL to show
// the user, then Login blocks until the callback completes or ctx ends.
func (m *Manager) Login(ctx context.Context, notify func(url string)) error {
	l, err := m.StartLogin(ctx)
	if err != nil {
		return err
	}
	if notify != nil {
		notify(l.URL())
	}
	return l.Wait(ctx)
}
