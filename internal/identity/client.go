package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/oklog/ulid/v2"
	"golang.org/x/oauth2"

	"github.com/wonny/magicformula/pkg/httputil"
	"github.com/wonny/magicformula/pkg/logger"
)

// OnLoad selects what Init does about an existing session
type OnLoad string

const (
	// CheckSSO reports whether a session exists without prompting the user
	CheckSSO OnLoad = "check-sso"
	// LoginRequired makes Init fail when no session exists
	LoginRequired OnLoad = "login-required"
)

// PKCEMethodS256 is the only supported proof-key method
const PKCEMethodS256 = "S256"

var (
	ErrNotInitialized   = errors.New("identity client not initialized")
	ErrNotAuthenticated = errors.New("no active session")
	ErrUnknownState     = errors.New("unknown or expired login state")
	ErrLoginRequired    = errors.New("login required")
)

// InitOptions configures Init
type InitOptions struct {
	OnLoad           OnLoad
	CheckLoginIframe bool
	PKCEMethod       string
}

// DefaultInitOptions is a silent session check with PKCE and no iframe polling
func DefaultInitOptions() InitOptions {
	return InitOptions{
		OnLoad:           CheckSSO,
		CheckLoginIframe: false,
		PKCEMethod:       PKCEMethodS256,
	}
}

// Config identifies the realm and client at the identity provider
type Config struct {
	BaseURL  string
	Realm    string
	ClientID string
	Scopes   []string
}

// IssuerURL is the realm's issuer, the root of every OIDC endpoint
func (c Config) IssuerURL() string {
	return fmt.Sprintf("%s/realms/%s", strings.TrimRight(c.BaseURL, "/"), url.PathEscape(c.Realm))
}

type discoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	EndSessionEndpoint    string `json:"end_session_endpoint"`
}

type pendingLogin struct {
	verifier    string
	redirectURI string
	createdAt   time.Time
}

// pendingLoginTTL bounds how long an unanswered login redirect stays valid
const pendingLoginTTL = 10 * time.Minute

// Client is an OIDC authorization-code client with PKCE for a public client.
// It holds the one token set of the process.
// ⭐ SSOT: Identity provider 통신은 이 클라이언트에서만
type Client struct {
	cfg        Config
	httpClient *httputil.Client
	logger     *logger.Logger
	now        func() time.Time

	mu         sync.Mutex
	oauth      *oauth2.Config
	endSession string
	token      *oauth2.Token
	pending    map[string]pendingLogin
}

// New creates an identity client. Nothing is contacted until Init.
func New(cfg Config, httpClient *httputil.Client, log *logger.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     log.Component("identity"),
		now:        time.Now,
		pending:    make(map[string]pendingLogin),
	}
}

// Init discovers the realm's endpoints and performs the session check.
// It returns true when a usable token is held after the check.
func (c *Client) Init(ctx context.Context, opts InitOptions) (bool, error) {
	if opts.PKCEMethod != PKCEMethodS256 {
		return false, fmt.Errorf("unsupported PKCE method %q", opts.PKCEMethod)
	}
	if opts.CheckLoginIframe {
		return false, fmt.Errorf("login iframe checks are not supported")
	}

	if err := c.discover(ctx); err != nil {
		return false, err
	}

	c.mu.Lock()
	tok := c.token
	c.mu.Unlock()

	authenticated := false
	switch {
	case tok == nil:
	case tok.Valid():
		authenticated = true
	case tok.RefreshToken != "":
		if _, err := c.refresh(ctx, tok); err == nil {
			authenticated = true
		} else {
			c.logger.WithError(err).Info("Stored session could not be refreshed")
			c.clearToken(tok)
		}
	default:
		c.clearToken(tok)
	}

	if !authenticated && opts.OnLoad == LoginRequired {
		return false, ErrLoginRequired
	}

	c.logger.WithField("authenticated", authenticated).Debug("Identity client initialized")
	return authenticated, nil
}

// discover loads the realm's OpenID configuration
func (c *Client) discover(ctx context.Context) error {
	target := c.cfg.IssuerURL() + "/.well-known/openid-configuration"
	req, err := c.httpClient.NewRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}

	var doc discoveryDocument
	if err := c.httpClient.DoJSON(req, &doc); err != nil {
		return fmt.Errorf("openid discovery: %w", err)
	}
	if doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" {
		return fmt.Errorf("openid discovery: missing authorization or token endpoint")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.oauth = &oauth2.Config{
		ClientID: c.cfg.ClientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:   doc.AuthorizationEndpoint,
			TokenURL:  doc.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: c.cfg.Scopes,
	}
	c.endSession = doc.EndSessionEndpoint
	return nil
}

// Login starts an authorization-code flow and returns the URL the browser
// must be sent to. The provider redirects back to redirectURI with code and state.
func (c *Client) Login(ctx context.Context, redirectURI string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.oauth == nil {
		return "", ErrNotInitialized
	}

	c.expirePendingLocked()

	verifier := oauth2.GenerateVerifier()
	state := ulid.Make().String()
	c.pending[state] = pendingLogin{verifier: verifier, redirectURI: redirectURI, createdAt: c.now()}

	conf := *c.oauth
	conf.RedirectURL = redirectURI
	return conf.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), nil
}

// Exchange completes a login redirect by trading code for tokens
func (c *Client) Exchange(ctx context.Context, code, state string) error {
	c.mu.Lock()
	if c.oauth == nil {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	c.expirePendingLocked()
	p, ok := c.pending[state]
	delete(c.pending, state)
	conf := *c.oauth
	c.mu.Unlock()

	if !ok {
		return ErrUnknownState
	}

	conf.RedirectURL = p.redirectURI
	tok, err := conf.Exchange(c.oauthContext(ctx), code, oauth2.VerifierOption(p.verifier))
	if err != nil {
		return fmt.Errorf("code exchange: %w", err)
	}

	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()

	c.logger.WithField("expires_at", tokenExpiry(tok)).Info("Login completed")
	return nil
}

// UpdateToken refreshes the token when it expires within minValidity.
// It reports whether a new token was obtained. A failed refresh ends the session.
func (c *Client) UpdateToken(ctx context.Context, minValidity time.Duration) (bool, error) {
	c.mu.Lock()
	tok := c.token
	c.mu.Unlock()

	if tok == nil {
		return false, ErrNotAuthenticated
	}

	if tokenExpiry(tok).Sub(c.now()) > minValidity {
		return false, nil
	}

	if _, err := c.refresh(ctx, tok); err != nil {
		c.clearToken(tok)
		return false, err
	}
	return true, nil
}

// refresh exchanges tok's refresh token regardless of tok's expiry
func (c *Client) refresh(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	c.mu.Lock()
	conf := c.oauth
	c.mu.Unlock()

	if conf == nil {
		return nil, ErrNotInitialized
	}
	if tok.RefreshToken == "" {
		return nil, fmt.Errorf("token refresh: no refresh token")
	}

	stale := *tok
	stale.Expiry = c.now().Add(-time.Minute)

	fresh, err := conf.TokenSource(c.oauthContext(ctx), &stale).Token()
	if err != nil {
		return nil, fmt.Errorf("token refresh: %w", err)
	}

	// Logout or a new login may have replaced tok while the request was out
	c.mu.Lock()
	if c.token != tok {
		c.mu.Unlock()
		return nil, fmt.Errorf("token refresh: %w", ErrNotAuthenticated)
	}
	c.token = fresh
	c.mu.Unlock()

	c.logger.WithField("expires_at", tokenExpiry(fresh)).Debug("Token refreshed")
	return fresh, nil
}

// Logout drops the local token set and returns the provider's end-session
// URL for the browser, or "" when the provider has none.
func (c *Client) Logout(ctx context.Context, redirectURI string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tok := c.token
	c.token = nil
	c.pending = make(map[string]pendingLogin)

	if c.oauth == nil {
		return "", ErrNotInitialized
	}
	if c.endSession == "" {
		return "", nil
	}

	params := url.Values{}
	params.Set("client_id", c.cfg.ClientID)
	if redirectURI != "" {
		params.Set("post_logout_redirect_uri", redirectURI)
	}
	if tok != nil {
		if idToken, ok := tok.Extra("id_token").(string); ok && idToken != "" {
			params.Set("id_token_hint", idToken)
		}
	}

	sep := "?"
	if strings.Contains(c.endSession, "?") {
		sep = "&"
	}
	return c.endSession + sep + params.Encode(), nil
}

// Token returns the current access token, "" when signed out
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == nil {
		return ""
	}
	return c.token.AccessToken
}

// Expiry returns when the current access token expires, zero when unknown
func (c *Client) Expiry() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == nil {
		return time.Time{}
	}
	return tokenExpiry(c.token)
}

// clearToken drops the token set only if it is still tok
func (c *Client) clearToken(tok *oauth2.Token) {
	c.mu.Lock()
	if c.token == tok {
		c.token = nil
	}
	c.mu.Unlock()
}

func (c *Client) expirePendingLocked() {
	for state, p := range c.pending {
		if c.now().Sub(p.createdAt) > pendingLoginTTL {
			delete(c.pending, state)
		}
	}
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient.HTTPClient())
}

// tokenExpiry prefers the access token's own exp claim over the token
// endpoint's expires_in; the claim is read without signature verification.
func tokenExpiry(tok *oauth2.Token) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok.AccessToken, claims); err == nil {
		if exp, ok := claims["exp"].(float64); ok {
			return time.Unix(int64(exp), 0)
		}
	}
	return tok.Expiry
}
