// Package linker serves the HTTP side of account linking: it sends users to
// Spotify's consent page and stores the credentials Spotify hands back.
package linker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/oauth2"

	"github.com/latoulicious/spoticord/internal/spotify"
	"github.com/latoulicious/spoticord/pkg/database"
	"github.com/latoulicious/spoticord/pkg/logging"
	"github.com/latoulicious/spoticord/pkg/metrics"
)

var (
	ErrAlreadyRunning = errors.New("linker already running")
	ErrInvalidBaseURL = errors.New("invalid linker base url")
)

// LinkStore is the part of the store the linker reads and completes links in.
type LinkStore interface {
	GetLink(ctx context.Context, linkID string) (*database.LinkToken, error)
	CompleteLink(ctx context.Context, linkID string, creds database.Credentials) error
}

// Authenticator runs the OAuth authorization-code flow. *oauth2.Config satisfies it.
type Authenticator interface {
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

// Service is the linking HTTP server.
type Service struct {
	store LinkStore
	auth  Authenticator
	addr  string
	log   logging.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates the linker for baseURL, the public address users open links
// on. The server listens on all interfaces at that URL's port.
func New(store LinkStore, auth Authenticator, baseURL string, log logging.Logger) (*Service, error) {
	addr, err := ListenAddr(baseURL)
	if err != nil {
		return nil, err
	}
	return &Service{
		store: store,
		auth:  auth,
		addr:  addr,
		log:   log.With(logging.Component("linker")),
	}, nil
}

// ListenAddr maps a base URL to ":port", defaulting the port by scheme.
func ListenAddr(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https":
			port = "443"
		case "http":
			port = "80"
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
		}
	}
	return net.JoinHostPort("", port), nil
}

// Handler returns the linker routes.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /callback", s.handleCallback)
	mux.HandleFunc("GET /{linkID}", s.handleLink)

	return mux
}

// Initialize binds the listener and starts serving in the background. A bind
// failure is returned to the caller.
func (s *Service) Initialize(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return ErrAlreadyRunning
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("linker listen on %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.server = srv
	s.listener = ln

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("linker server stopped", logging.Error(err))
		}
	}()

	s.log.Info("linker listening", logging.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or the configured one before Initialize.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Shutdown stops the server gracefully.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Service) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "ok")
}

// handleLink redirects a pending link to Spotify's consent page.
func (s *Service) handleLink(w http.ResponseWriter, r *http.Request) {
	linkID := r.PathValue("linkID")

	token, err := s.store.GetLink(r.Context(), linkID)
	if errors.Is(err, database.ErrLinkNotFound) {
		writePage(w, http.StatusNotFound, "This link is invalid or has expired. Run the link command again to get a new one.")
		return
	}
	if err != nil {
		s.log.Error("failed to look up link", logging.String("link", linkID), logging.Error(err))
		writePage(w, http.StatusInternalServerError, "Something went wrong, please try again later.")
		return
	}
	if !token.Pending() {
		writePage(w, http.StatusConflict, "This link has already been used.")
		return
	}

	http.Redirect(w, r, s.auth.AuthCodeURL(linkID), http.StatusFound)
}

// handleCallback completes a link with the authorization code from Spotify.
func (s *Service) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	linkID := q.Get("state")
	log := s.log.With(logging.String("link", linkID))

	if reason := q.Get("error"); reason != "" {
		log.Info("authorization denied", logging.String("reason", reason))
		writePage(w, http.StatusBadRequest, "Spotify authorization was cancelled.")
		return
	}
	code := q.Get("code")
	if code == "" || linkID == "" {
		writePage(w, http.StatusBadRequest, "Missing authorization code.")
		return
	}

	token, err := s.store.GetLink(r.Context(), linkID)
	if errors.Is(err, database.ErrLinkNotFound) {
		writePage(w, http.StatusNotFound, "This link is invalid or has expired. Run the link command again to get a new one.")
		return
	}
	if err != nil {
		log.Error("failed to look up link", logging.Error(err))
		writePage(w, http.StatusInternalServerError, "Something went wrong, please try again later.")
		return
	}
	if !token.Pending() {
		writePage(w, http.StatusConflict, "This link has already been used.")
		return
	}

	tok, err := s.auth.Exchange(r.Context(), code)
	if err != nil {
		log.Warn("code exchange failed", logging.Error(err))
		writePage(w, http.StatusBadGateway, "Spotify did not accept the authorization, please try again.")
		return
	}

	if err := s.store.CompleteLink(r.Context(), linkID, spotify.CredentialsFromToken(tok)); err != nil {
		log.Error("failed to store credentials", logging.Error(err))
		writePage(w, http.StatusInternalServerError, "Something went wrong, please try again later.")
		return
	}

	metrics.LinksCompleted.Inc()
	log.Info("account linked", logging.String("user", token.UserID))
	writePage(w, http.StatusOK, "Your Spotify account has been linked. You can close this window.")
}

func writePage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintln(w, message)
}
