package linker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/latoulicious/spoticord/pkg/database"
	"github.com/latoulicious/spoticord/pkg/logging"
)

type fakeAuth struct {
	exchangeErr error
	codes       []string
}

func (a *fakeAuth) AuthCodeURL(state string, _ ...oauth2.AuthCodeOption) string {
	return "https://accounts.example.com/authorize?state=" + url.QueryEscape(state)
}

func (a *fakeAuth) Exchange(_ context.Context, code string, _ ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	a.codes = append(a.codes, code)
	if a.exchangeErr != nil {
		return nil, a.exchangeErr
	}
	return &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}, nil
}

func newTestStore(t *testing.T) database.Store {
	t.Helper()
	cfg := database.DefaultDatabaseConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "linker.db")
	store, err := database.NewStore(cfg, logging.NullLogger())
	require.NoError(t, err)
	require.NoError(t, store.Initialize(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestServer(t *testing.T, auth Authenticator) (*httptest.Server, database.Store) {
	t.Helper()
	store := newTestStore(t)
	svc, err := New(store, auth, "http://localhost:4481/", logging.NullLogger())
	require.NoError(t, err)
	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(srv.Close)
	return srv, store
}

var noRedirect = &http.Client{
	CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
}

func get(t *testing.T, rawURL string) (*http.Response, string) {
	t.Helper()
	resp, err := noRedirect.Get(rawURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestListenAddr(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://localhost:4481/", ":4481", false},
		{"https://spoticord.example.com/", ":443", false},
		{"http://spoticord.example.com", ":80", false},
		{"ftp://example.com/", "", true},
		{"not a url", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ListenAddr(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidBaseURL)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, &fakeAuth{})
	resp, body := get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeAuth{})
	resp, body := get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "spoticord_links_completed_total")
}

func TestLinkRedirectsToConsent(t *testing.T) {
	srv, store := newTestServer(t, &fakeAuth{})
	linkID, err := store.InitializeLink(context.Background(), "u1")
	require.NoError(t, err)

	resp, _ := get(t, srv.URL+"/"+linkID)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://accounts.example.com/authorize?state="+linkID, resp.Header.Get("Location"))

	resp, _ = get(t, srv.URL+"/unknown-link")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = get(t, srv.URL+"/")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCallbackCompletesLink(t *testing.T) {
	auth := &fakeAuth{}
	srv, store := newTestServer(t, auth)
	ctx := context.Background()

	linkID, err := store.InitializeLink(ctx, "u1")
	require.NoError(t, err)

	resp, body := get(t, fmt.Sprintf("%s/callback?code=abc&state=%s", srv.URL, linkID))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "has been linked")
	assert.Equal(t, []string{"abc"}, auth.codes)

	token, err := store.GetToken(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, token.Pending())
	assert.Equal(t, "access", token.Credentials.AccessToken)
	assert.Equal(t, "refresh", token.Credentials.RefreshToken)

	// The link cannot be replayed.
	resp, _ = get(t, fmt.Sprintf("%s/callback?code=abc&state=%s", srv.URL, linkID))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp, _ = get(t, srv.URL+"/"+linkID)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCallbackFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("denied", func(t *testing.T) {
		srv, _ := newTestServer(t, &fakeAuth{})
		resp, _ := get(t, srv.URL+"/callback?error=access_denied&state=x")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing code", func(t *testing.T) {
		srv, _ := newTestServer(t, &fakeAuth{})
		resp, _ := get(t, srv.URL+"/callback?state=x")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown state", func(t *testing.T) {
		auth := &fakeAuth{}
		srv, _ := newTestServer(t, auth)
		resp, _ := get(t, srv.URL+"/callback?code=abc&state=missing")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Empty(t, auth.codes)
	})

	t.Run("exchange rejected", func(t *testing.T) {
		srv, store := newTestServer(t, &fakeAuth{exchangeErr: errors.New("invalid_grant")})
		linkID, err := store.InitializeLink(ctx, "u1")
		require.NoError(t, err)

		resp, _ := get(t, fmt.Sprintf("%s/callback?code=abc&state=%s", srv.URL, linkID))
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

		token, err := store.GetToken(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, token.Pending())
	})
}

func TestInitializeAndShutdown(t *testing.T) {
	store := newTestStore(t)
	svc, err := New(store, &fakeAuth{}, "http://127.0.0.1:0/", logging.NullLogger())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, svc.Initialize(ctx))
	assert.ErrorIs(t, svc.Initialize(ctx), ErrAlreadyRunning)

	_, port, err := net.SplitHostPort(svc.Addr())
	require.NoError(t, err)

	resp, body := get(t, "http://127.0.0.1:"+port+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body)

	// A second linker on the same port cannot bind.
	other, err := New(store, &fakeAuth{}, "http://127.0.0.1:"+port+"/", logging.NullLogger())
	require.NoError(t, err)
	assert.Error(t, other.Initialize(ctx))

	require.NoError(t, svc.Shutdown(ctx))
	require.NoError(t, svc.Shutdown(ctx))
}
