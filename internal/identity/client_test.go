package identity

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/wonny/magicformula/pkg/config"
	"github.com/wonny/magicformula/pkg/httputil"
	"github.com/wonny/magicformula/pkg/logger"
)

// fakeProvider is a minimal OIDC realm: discovery, token endpoint, end session
type fakeProvider struct {
	t      *testing.T
	server *httptest.Server

	mu            sync.Mutex
	challenge     string
	accessTTL     time.Duration
	failRefresh   bool
	holdRefresh   chan struct{} // when set, refresh waits for it to close
	refreshing    chan struct{} // signalled when a held refresh arrives
	refreshCalls  int
	exchangeCalls int
	issued        int
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()

	p := &fakeProvider{t: t, accessTTL: 5 * time.Minute}
	mux := http.NewServeMux()
	mux.HandleFunc("/realms/stock-analysis/.well-known/openid-configuration", p.discovery)
	mux.HandleFunc("/realms/stock-analysis/protocol/openid-connect/token", p.token)

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProvider) endpoint(name string) string {
	return p.server.URL + "/realms/stock-analysis/protocol/openid-connect/" + name
}

func (p *fakeProvider) discovery(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"issuer":                 p.server.URL + "/realms/stock-analysis",
		"authorization_endpoint": p.endpoint("auth"),
		"token_endpoint":         p.endpoint("token"),
		"end_session_endpoint":   p.endpoint("logout"),
	})
}

func (p *fakeProvider) token(w http.ResponseWriter, r *http.Request) {
	require.NoError(p.t, r.ParseForm())

	p.mu.Lock()
	hold, arrived := p.holdRefresh, p.refreshing
	p.mu.Unlock()
	if hold != nil && r.PostForm.Get("grant_type") == "refresh_token" {
		arrived <- struct{}{}
		<-hold
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	assert.Equal(p.t, "stock-analysis-client", r.PostForm.Get("client_id"))

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		p.exchangeCalls++
		sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
		if base64.RawURLEncoding.EncodeToString(sum[:]) != p.challenge || r.PostForm.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
	case "refresh_token":
		p.refreshCalls++
		if p.failRefresh {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Session not active"}`))
			return
		}
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	p.issued++
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token":  p.signedToken(p.accessTTL),
		"token_type":    "Bearer",
		"expires_in":    int(p.accessTTL.Seconds()),
		"refresh_token": "refresh-" + time.Now().Format(time.RFC3339Nano),
		"id_token":      "id-token",
	})
}

func (p *fakeProvider) signedToken(ttl time.Duration) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(ttl).Unix(),
		"n":   p.issued,
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(p.t, err)
	return s
}

func newTestClient(t *testing.T, p *fakeProvider) *Client {
	t.Helper()

	cfg := &config.Config{API: config.APIConfig{Timeout: 5 * time.Second}}
	log := logger.Nop()
	return New(Config{
		BaseURL:  p.server.URL,
		Realm:    "stock-analysis",
		ClientID: "stock-analysis-client",
		Scopes:   []string{"openid"},
	}, httputil.New(cfg, log), log)
}

// login drives a full authorization-code round trip
func login(t *testing.T, p *fakeProvider, c *Client) {
	t.Helper()
	ctx := context.Background()

	authURL, err := c.Login(ctx, "http://localhost:3000/dashboard")
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()

	p.mu.Lock()
	p.challenge = q.Get("code_challenge")
	p.mu.Unlock()

	require.NoError(t, c.Exchange(ctx, "good-code", q.Get("state")))
}

func TestInit_NoSession(t *testing.T) {
	p := newFakeProvider(t)
	c := newTestClient(t, p)

	ok, err := c.Init(context.Background(), DefaultInitOptions())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, c.Token())
	assert.True(t, c.Expiry().IsZero())
}

func TestInit_LoginRequired(t *testing.T) {
	p := newFakeProvider(t)
	c := newTestClient(t, p)

	opts := DefaultInitOptions()
	opts.OnLoad = LoginRequired

	_, err := c.Init(context.Background(), opts)
	assert.ErrorIs(t, err, ErrLoginRequired)
}

func TestInit_RejectsUnsupportedOptions(t *testing.T) {
	p := newFakeProvider(t)
	c := newTestClient(t, p)

	opts := DefaultInitOptions()
	opts.PKCEMethod = "plain"
	_, err := c.Init(context.Background(), opts)
	assert.Error(t, err)

	opts = DefaultInitOptions()
	opts.CheckLoginIframe = true
	_, err = c.Init(context.Background(), opts)
	assert.Error(t, err)
}

func TestInit_DiscoveryFailure(t *testing.T) {
	p := newFakeProvider(t)
	c := newTestClient(t, p)
	c.cfg.Realm = "missing"

	_, err := c.Init(context.Background(), DefaultInitOptions())
	require.Error(t, err)
	assert.True(t, httputil.IsStatus(err, http.StatusNotFound))
}

func TestLogin_BeforeInit(t *testing.T) {
	p := newFakeProvider(t)
	c := newTestClient(t, p)

	_, err := c.Login(context.Background(), "http://localhost:3000/dashboard")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestLogin_BuildsPKCERedirect(t *testing.T) {
	p := newFakeProvider(t)
	c := newTestClient(t, p)

	_, err := c.Init(context.Background(), DefaultInitOptions())
	require.NoError(t, err)

	authURL, err := c.Login(context.Background(), "http://localhost:3000/dashboard")
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()

	assert.Equal(t, p.endpoint("auth"), u.Scheme+"://"+u.Host+u.Path)
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "stock-analysis-client", q.Get("client_id"))
	assert.Equal(t, "http://localhost:3000/dashboard", q.Get("redirect_uri"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.NotEmpty(t, q.Get("state"))
}

func TestExchange(t *testing.T) {
	p := newFakeProvider(t)
	c := newTestClient(t, p)

	_, err := c.Init(context.Background(), DefaultInitOptions())
	require.NoError(t, err)

	login(t, p, c)

	assert.NotEmpty(t, c.Token())
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), c.Expiry(), 5*time.Second)

	// a second Init sees the held token
	ok, err := c.Init(context.Background(), DefaultInitOptions())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExchange_UnknownState(t *testing.T) {
	p := newFakeProvider(t)
	c := newTestClient(t, p)

	_, err := c.Init(context.Background(), DefaultInitOptions())
	require.NoError(t, err)

	err = c.Exchange(context.Background(), "good-code", "not-a-state")
	assert.ErrorIs(t, err, ErrUnknownState)
	assert.Zero(t, p.exchangeCalls)
}

func TestExchange_StateIsSingleUse(t *testing.T) {
	p := newFakeProvider(t)
	c := newTestClient(t, p)

	_, err := c.Init(context.Background(), DefaultInitOptions())
	require.NoError(t, err)

	authURL, err := c.Login(context.Background(), "http://localhost:3000/dashboard")
	require.NoError(t, err)
	u, _ := url.Parse(authURL)
	state := u.Query().Get("state")

	// wrong verifier challenge on the provider side makes the exchange fail
	assert.Error(t, c.Exchange(context.Background(), "good-code", state))
	assert.ErrorIs(t, c.Exchange(context.Background(), "good-code", state), ErrUnknownState)
}

func TestUpdateToken(t *testing.T) {
	p := newFakeProvider(t)
	c := newTestClient(t, p)

	_, err := c.Init(context.Background(), DefaultInitOptions())
	require.NoError(t, err)

	t.Run("not signed in", func(t *testing.T) {
		_, err := c.UpdateToken(context.Background(), 70*time.Second)
		assert.ErrorIs(t, err, ErrNotAuthenticated)
	})

	login(t, p, c)
	first := c.Token()

	t.Run("still valid", func(t *testing.T) {
		refreshed, err := c.UpdateToken(context.Background(), 70*time.Second)
		require.NoError(t, err)
		assert.False(t, refreshed)
		assert.Equal(t, first, c.Token())
		assert.Zero(t, p.refreshCalls)
	})

	t.Run("rotates near expiry", func(t *testing.T) {
		refreshed, err := c.UpdateToken(context.Background(), 10*time.Minute)
		require.NoError(t, err)
		assert.True(t, refreshed)
		assert.NotEqual(t, first, c.Token())
		assert.Equal(t, 1, p.refreshCalls)
	})

	t.Run("failure ends the session", func(t *testing.T) {
		p.mu.Lock()
		p.failRefresh = true
		p.mu.Unlock()

		_, err := c.UpdateToken(context.Background(), 10*time.Minute)
		assert.Error(t, err)
		assert.Empty(t, c.Token())
	})
}

func TestUpdateToken_LogoutDuringRefresh(t *testing.T) {
	p := newFakeProvider(t)
	c := newTestClient(t, p)

	_, err := c.Init(context.Background(), DefaultInitOptions())
	require.NoError(t, err)
	login(t, p, c)

	hold := make(chan struct{})
	p.mu.Lock()
	p.holdRefresh = hold
	p.refreshing = make(chan struct{}, 1)
	arrived := p.refreshing
	p.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := c.UpdateToken(context.Background(), 10*time.Minute)
		done <- err
	}()

	<-arrived
	_, err = c.Logout(context.Background(), "")
	require.NoError(t, err)
	close(hold)

	err = <-done
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Empty(t, c.Token())
	assert.True(t, c.Expiry().IsZero())
}

func TestLogout(t *testing.T) {
	p := newFakeProvider(t)
	c := newTestClient(t, p)

	_, err := c.Init(context.Background(), DefaultInitOptions())
	require.NoError(t, err)
	login(t, p, c)

	target, err := c.Logout(context.Background(), "http://localhost:3000/login")
	require.NoError(t, err)
	assert.Empty(t, c.Token())

	u, err := url.Parse(target)
	require.NoError(t, err)
	assert.Equal(t, p.endpoint("logout"), u.Scheme+"://"+u.Host+u.Path)
	assert.Equal(t, "stock-analysis-client", u.Query().Get("client_id"))
	assert.Equal(t, "http://localhost:3000/login", u.Query().Get("post_logout_redirect_uri"))
	assert.Equal(t, "id-token", u.Query().Get("id_token_hint"))
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	t.Run("jwt exp claim wins", func(t *testing.T) {
		claimExp := exp.Add(-30 * time.Minute)
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"exp": claimExp.Unix(),
		}).SignedString([]byte("k"))
		require.NoError(t, err)

		got := tokenExpiry(&oauth2.Token{AccessToken: signed, Expiry: exp})
		assert.True(t, claimExp.Equal(got))
	})

	t.Run("opaque token uses endpoint expiry", func(t *testing.T) {
		got := tokenExpiry(&oauth2.Token{AccessToken: "opaque", Expiry: exp})
		assert.True(t, exp.Equal(got))
	})
}
