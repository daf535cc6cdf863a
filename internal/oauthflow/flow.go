package oauthflow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// ErrInvalidState is returned when the opaque state value does not
// round-trip: it cannot be decoded, or it does not carry a usable resume
// URL. The handshake must restart from the beginning.
var ErrInvalidState = errors.New("invalid oauth state")

// ErrTokenExchange is returned when the identity provider rejects the
// authorization-code exchange.
var ErrTokenExchange = errors.New("token exchange failed")

// CallbackPath is the route the identity provider redirects back to. The
// PKCE verifier cookie is scoped to exactly this path.
const CallbackPath = "/oauth/callback"

// VerifierCookieName names the short-lived cookie holding the PKCE code
// verifier between the authorization redirect and the provider's return.
const VerifierCookieName = "pkce-code-verifier"

// Config configures a Flow.
type Config struct {
	ClientID     string
	ClientSecret string
	Endpoint     oauth2.Endpoint
	RedirectURL  string
	Scopes       []string
}

// Flow performs the authorization-code + PKCE handshake with the identity
// provider on behalf of the claim endpoints.
type Flow struct {
	cfg oauth2.Config
}

// New creates a Flow from an explicit endpoint configuration.
func New(cfg Config) *Flow {
	return &Flow{
		cfg: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     cfg.Endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
		},
	}
}

// Discover creates a Flow by discovering the identity provider's endpoints
// from its issuer URL.
func Discover(ctx context.Context, issuerURL, clientID, clientSecret, publicOrigin string, scopes []string) (*Flow, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("discovering identity provider %s: %w", issuerURL, err)
	}
	return New(Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  publicOrigin + CallbackPath,
		Scopes:       scopes,
	}), nil
}

// Authorization is everything the claim-start handler needs to send the
// user to the identity provider.
type Authorization struct {
	URL      string
	Verifier string
}

type statePayload struct {
	RedirectTo string `json:"redirectTo"`
}

// Begin builds the provider authorization URL with a fresh PKCE verifier
// and a state value encoding the URL to resume at after the handshake.
func (f *Flow) Begin(redirectTo string) Authorization {
	verifier := oauth2.GenerateVerifier()
	authURL := f.cfg.AuthCodeURL(encodeState(redirectTo), oauth2.S256ChallengeOption(verifier))
	return Authorization{URL: authURL, Verifier: verifier}
}

// DecodeState recovers the resume URL from a state value. The URL must
// parse and be absolute, otherwise ErrInvalidState.
func DecodeState(state string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(state)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	var payload statePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	u, err := url.Parse(payload.RedirectTo)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("%w: redirect target is not an absolute URL", ErrInvalidState)
	}
	return payload.RedirectTo, nil
}

// Exchange trades an authorization code plus the persisted PKCE verifier
// for a bearer token at the provider's token endpoint.
func (f *Flow) Exchange(ctx context.Context, code, verifier string) (string, error) {
	tok, err := f.cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrTokenExchange)
	}
	return tok.AccessToken, nil
}

func encodeState(redirectTo string) string {
	raw, _ := json.Marshal(statePayload{RedirectTo: redirectTo})
	return base64.RawURLEncoding.EncodeToString(raw)
}
