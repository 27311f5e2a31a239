// Package spotify holds the OAuth configuration for Spotify and builds
// per-user API clients from the credentials stored by the linker.
package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	spotifyauth "golang.org/x/oauth2/spotify"

	"github.com/latoulicious/spoticord/pkg/database"
	"github.com/latoulicious/spoticord/pkg/logging"
)

var (
	ErrCredentialsNotSet = errors.New("spotify client id and secret are required")
	ErrNotInitialized    = errors.New("spotify helper not initialized")
	ErrNotLinked         = errors.New("user has not linked a spotify account")
)

const (
	APIBaseURL   = "https://api.spotify.com/v1"
	CallbackPath = "callback"
)

// Scopes requested when linking; enough to run a Connect device for the user.
var Scopes = []string{
	"streaming",
	"user-read-email",
	"user-read-private",
	"user-read-playback-state",
	"user-modify-playback-state",
}

// CallbackURL derives the OAuth redirect target from the linker base URL.
func CallbackURL(baseURL string) string {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL + CallbackPath
}

// NewOAuthConfig returns the Spotify authorization-code configuration.
func NewOAuthConfig(clientID, clientSecret, redirectBaseURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     spotifyauth.Endpoint,
		RedirectURL:  CallbackURL(redirectBaseURL),
		Scopes:       Scopes,
	}
}

// TokenStore reads and refreshes the credentials saved for a user.
type TokenStore interface {
	GetToken(ctx context.Context, userID string) (*database.LinkToken, error)
	UpdateCredentials(ctx context.Context, userID string, creds database.Credentials) error
}

// Helper issues authenticated Spotify requests on behalf of linked users.
type Helper struct {
	store   TokenStore
	oauth   *oauth2.Config
	log     logging.Logger
	apiBase string

	mu          sync.RWMutex
	initialized bool
}

func NewHelper(store TokenStore, oauth *oauth2.Config, log logging.Logger) *Helper {
	return &Helper{
		store:   store,
		oauth:   oauth,
		log:     log.With(logging.Component("spotify")),
		apiBase: APIBaseURL,
	}
}

// Initialize checks that client credentials are present. They cannot be
// validated without a user grant, so nothing is sent to Spotify here.
func (h *Helper) Initialize(_ context.Context) error {
	if h.oauth == nil || h.oauth.ClientID == "" || h.oauth.ClientSecret == "" {
		return ErrCredentialsNotSet
	}
	h.mu.Lock()
	h.initialized = true
	h.mu.Unlock()
	h.log.Info("spotify helper initialized", logging.String("redirect_url", h.oauth.RedirectURL))
	return nil
}

func (h *Helper) ready() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.initialized {
		return ErrNotInitialized
	}
	return nil
}

// Token returns the stored token for userID.
func (h *Helper) Token(ctx context.Context, userID string) (*oauth2.Token, error) {
	if err := h.ready(); err != nil {
		return nil, err
	}
	t, err := h.store.GetToken(ctx, userID)
	if errors.Is(err, database.ErrTokenNotFound) {
		return nil, ErrNotLinked
	}
	if err != nil {
		return nil, err
	}
	if t.Pending() || (t.Credentials.RefreshToken == "" && t.Credentials.AccessToken == "") {
		return nil, ErrNotLinked
	}
	return TokenFromCredentials(t.Credentials), nil
}

// Client returns an HTTP client authorized as userID. Refreshed tokens are
// written back to the store.
func (h *Helper) Client(ctx context.Context, userID string) (*http.Client, error) {
	tok, err := h.Token(ctx, userID)
	if err != nil {
		return nil, err
	}
	src := &persistingSource{
		ctx:    ctx,
		userID: userID,
		base:   h.oauth.TokenSource(ctx, tok),
		store:  h.store,
		last:   tok.AccessToken,
		log:    h.log,
	}
	return oauth2.NewClient(ctx, src), nil
}

// Profile is the subset of /v1/me the bot uses.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Country     string `json:"country"`
	Product     string `json:"product"`
}

// Premium reports whether the account can stream through Connect.
func (p *Profile) Premium() bool { return p.Product == "premium" }

// Profile fetches the linked account of userID.
func (h *Helper) Profile(ctx context.Context, userID string) (*Profile, error) {
	client, err := h.Client(ctx, userID)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.apiBase+"/me", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch spotify profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch spotify profile: unexpected status %s", resp.Status)
	}

	var p Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode spotify profile: %w", err)
	}
	return &p, nil
}

// persistingSource saves every newly minted token for the user.
type persistingSource struct {
	ctx    context.Context
	userID string
	base   oauth2.TokenSource
	store  TokenStore
	log    logging.Logger

	mu   sync.Mutex
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := s.store.UpdateCredentials(s.ctx, s.userID, CredentialsFromToken(tok)); err != nil {
			s.log.Warn("failed to persist refreshed token", logging.String("user", s.userID), logging.Error(err))
		}
		s.last = tok.AccessToken
	}
	return tok, nil
}

func CredentialsFromToken(tok *oauth2.Token) database.Credentials {
	return database.Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
}

func TokenFromCredentials(c database.Credentials) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.Expiry,
	}
}
