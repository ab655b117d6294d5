// Package auth supplies access tokens to the client.
//
// A Holder owns one OAuth2 token and refreshes it through the configured
// token endpoint when it expires. It is passed explicitly into the client
// configuration; there is no package-level token state. Refreshed tokens can
// be written to a TokenStore so a restarted process picks up where the last
// one stopped.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/Sternrassler/eaccounting-client/pkg/retry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Visma Connect endpoints used by DefaultOAuthConfig.
const (
	DefaultAuthURL  = "https://identity.vismaonline.com/connect/authorize"
	DefaultTokenURL = "https://identity.vismaonline.com/connect/token"
)

// DefaultScopes grants read/write access to the accounting API and a refresh token.
var DefaultScopes = []string{"ea:api", "ea:accounting", "ea:sales", "ea:purchase", "offline_access"}

// TokenProvider is what the client needs from a token source.
type TokenProvider interface {
	// Token returns a valid access token, refreshing it first if necessary.
	Token(ctx context.Context) (string, error)
}

// RefreshError reports a non-2xx answer from the token endpoint. It carries
// the HTTP status so the retry classifier can tell a flaky identity server
// from a rejected client.
type RefreshError struct {
	Status int
	Code   string
	Err    error
}

func (e *RefreshError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("token refresh failed (status %d, %s): %v", e.Status, e.Code, e.Err)
	}
	return fmt.Sprintf("token refresh failed (status %d): %v", e.Status, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// HTTPStatus returns the token endpoint's status code.
func (e *RefreshError) HTTPStatus() int { return e.Status }

// Holder keeps the current token of one company connection. It is safe for
// concurrent use; concurrent callers share a single refresh.
type Holder struct {
	mu     sync.Mutex
	config *oauth2.Config
	token  *oauth2.Token
	store  TokenStore
	key    string
	logger zerolog.Logger
}

// HolderOption configures a Holder.
type HolderOption func(*Holder)

// WithStore persists refreshed tokens under key.
func WithStore(store TokenStore, key string) HolderOption {
	return func(h *Holder) {
		h.store = store
		h.key = key
	}
}

// WithLogger sets the holder's logger.
func WithLogger(l zerolog.Logger) HolderOption {
	return func(h *Holder) { h.logger = l }
}

// DefaultOAuthConfig returns an oauth2.Config for the Visma Connect endpoints.
func DefaultOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       DefaultScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   DefaultAuthURL,
			TokenURL:  DefaultTokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// NewHolder creates a holder for token that refreshes through config. config
// may be nil, in which case an expired token cannot be renewed.
func NewHolder(config *oauth2.Config, token *oauth2.Token, opts ...HolderOption) *Holder {
	h := &Holder{
		config: config,
		token:  token,
		logger: log.With().Str("component", "auth").Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewStaticHolder wraps a fixed access token that never expires locally.
func NewStaticHolder(accessToken string) *Holder {
	return NewHolder(nil, &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
}

// Restore replaces the in-memory token with the one in the store, if any.
// It returns ErrTokenNotFound when the store has nothing under the key.
func (h *Holder) Restore(ctx context.Context) error {
	if h.store == nil {
		return fmt.Errorf("no token store configured")
	}
	tok, err := h.store.Load(ctx, h.key)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.token = tok
	h.mu.Unlock()

	h.logger.Debug().Str("key", h.key).Time("expiry", tok.Expiry).Msg("Token restored from store")
	return nil
}

// Token returns a valid access token. An expired token without a refresh
// token fails with retry.ErrCredentialsExpired before any network call.
func (h *Holder) Token(ctx context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.token == nil {
		return "", fmt.Errorf("%w: no token", retry.ErrCredentialsExpired)
	}
	if h.token.Valid() {
		return h.token.AccessToken, nil
	}
	if h.token.RefreshToken == "" || h.config == nil {
		return "", fmt.Errorf("%w: access token expired at %s and cannot be refreshed",
			retry.ErrCredentialsExpired, h.token.Expiry.Format("2006-01-02T15:04:05Z07:00"))
	}

	refreshed, err := h.config.TokenSource(ctx, h.token).Token()
	if err != nil {
		return "", h.refreshError(err)
	}

	// The token endpoint may omit the refresh token when it does not rotate it
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = h.token.RefreshToken
	}
	h.token = refreshed

	h.logger.Info().Time("expiry", refreshed.Expiry).Msg("Access token refreshed")

	if h.store != nil {
		if err := h.store.Save(ctx, h.key, refreshed); err != nil {
			// The new token is usable even if it could not be persisted
			h.logger.Warn().Err(err).Str("key", h.key).Msg("Failed to persist refreshed token")
		}
	}

	return refreshed.AccessToken, nil
}

func (h *Holder) refreshError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		// transport failure, classified as network by the retry package
		return fmt.Errorf("token refresh: %w", err)
	}

	status := 0
	if re.Response != nil {
		status = re.Response.StatusCode
	}

	if re.ErrorCode == "invalid_grant" || status == http.StatusUnauthorized {
		h.logger.Error().Str("code", re.ErrorCode).Int("status", status).Msg("Refresh token rejected")
		return fmt.Errorf("%w: refresh token rejected (%s)", retry.ErrCredentialsExpired, re.ErrorCode)
	}

	return &RefreshError{Status: status, Code: re.ErrorCode, Err: err}
}

// Current returns a copy of the held token, or nil.
func (h *Holder) Current() *oauth2.Token {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.token == nil {
		return nil
	}
	tok := *h.token
	return &tok
}
