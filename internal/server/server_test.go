package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pubble-team/pubbleauth"
	"github.com/pubble-team/pubbleauth/access"
	"github.com/pubble-team/pubbleauth/internal/logging"
	"github.com/pubble-team/pubbleauth/metrics/export/prometheus"
	"github.com/pubble-team/pubbleauth/password"
	"github.com/pubble-team/pubbleauth/users"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testServer struct {
	router http.Handler
	engine *pubbleauth.Engine
}

func newTestServer(t *testing.T, mutate func(*pubbleauth.Config)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hasher := password.NewBcrypt(4)
	provider := users.NewMemoryProvider()
	for _, u := range [][3]string{
		{"alice", "alice-password", pubbleauth.RoleUser},
		{"root", "root-password", pubbleauth.RoleAdmin},
	} {
		hash, err := hasher.Hash(u[1])
		require.NoError(t, err)
		_, err = provider.Create(context.Background(), pubbleauth.UserRecord{
			Username: u[0], PasswordHash: hash, Role: u[2],
		})
		require.NoError(t, err)
	}

	cfg := pubbleauth.DefaultConfig()
	cfg.JWT.PrivateKey = []byte(testSecret)
	cfg.Password.BcryptCost = 4
	if mutate != nil {
		mutate(&cfg)
	}
	engine, err := pubbleauth.New().WithConfig(cfg).WithUserProvider(provider).Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	router, err := New(Options{
		Auth:    engine,
		Table:   access.MustTable(access.DefaultRules(), access.Authenticated),
		Metrics: prometheus.NewExporter(engine).Handler(),
	})
	require.NoError(t, err)
	return &testServer{router: router, engine: engine}
}

func (s *testServer) do(t *testing.T, method, path string, body any, mods ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch v := body.(type) {
		case string:
			buf.WriteString(v)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(v))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, mod := range mods {
		mod(req)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value}) }
}

func refreshCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == RefreshCookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", RefreshCookieName)
	return nil
}

func accessToken(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	h := rec.Header().Get("Authorization")
	require.True(t, strings.HasPrefix(h, "Bearer "), "Authorization header = %q", h)
	return strings.TrimPrefix(h, "Bearer ")
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func signIn(t *testing.T, s *testServer, username, pass string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodPost, "/users/signin", signInRequest{Username: username, Password: pass})
}

func TestAliceSessionLifecycle(t *testing.T) {
	s := newTestServer(t, nil)

	rec := signIn(t, s, "alice", "alice-password")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token := accessToken(t, rec)
	cookie := refreshCookie(t, rec)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, "/users", cookie.Path)
	assert.InDelta(t, (7 * 24 * time.Hour).Seconds(), cookie.MaxAge, 5)
	assert.Equal(t, "Bearer", decode(t, rec)["tokenType"])

	rec = s.do(t, http.MethodGet, "/principal", nil, bearer(token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, pubbleauth.RoleUser, body["role"])
	assert.NotEmpty(t, body["subject"])

	rec = s.do(t, http.MethodPost, "/users/logout", nil, withCookie(cookie))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "logged out", decode(t, rec)["message"])
	cleared := refreshCookie(t, rec)
	assert.Empty(t, cleared.Value)
	assert.Less(t, cleared.MaxAge, 0)

	rec = s.do(t, http.MethodPost, "/users/refresh", nil, withCookie(cookie))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "REFRESH_REVOKED", decode(t, rec)["code"])

	// the access token is not revoked by logout
	rec = s.do(t, http.MethodGet, "/principal", nil, bearer(token))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSignInFailuresLookAlike(t *testing.T) {
	s := newTestServer(t, nil)

	wrong := signIn(t, s, "alice", "not-her-password")
	unknown := signIn(t, s, "mallory", "whatever-password")
	empty := signIn(t, s, "alice", "")

	for _, rec := range []*httptest.ResponseRecorder{wrong, unknown, empty} {
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, rec.Header().Get("Authorization"))
		assert.Empty(t, rec.Result().Cookies())
		assert.Equal(t, `Bearer realm="pubble"`, rec.Header().Get("WWW-Authenticate"))
	}
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())
	assert.Equal(t, wrong.Body.String(), empty.Body.String())
	assert.Equal(t, "INVALID_CREDENTIALS", decode(t, wrong)["code"])
}

func TestSignInBadJSON(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/users/signin", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", decode(t, rec)["code"])
}

func TestSignInRateLimited(t *testing.T) {
	s := newTestServer(t, func(cfg *pubbleauth.Config) {
		cfg.Security.MaxLoginAttempts = 2
		cfg.Security.LoginCooldown = time.Minute
	})

	for i := 0; i < 2; i++ {
		rec := signIn(t, s, "alice", "wrong-password")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := signIn(t, s, "alice", "alice-password")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Empty(t, rec.Header().Get("WWW-Authenticate"))
	assert.Equal(t, "TOO_MANY_ATTEMPTS", decode(t, rec)["code"])
}

func TestProtectedRoutes(t *testing.T) {
	s := newTestServer(t, nil)
	userToken := accessToken(t, signIn(t, s, "alice", "alice-password"))
	adminToken := accessToken(t, signIn(t, s, "root", "root-password"))

	cases := []struct {
		name   string
		path   string
		mods   []func(*http.Request)
		status int
	}{
		{"no token", "/principal", nil, http.StatusUnauthorized},
		{"garbage token", "/principal", []func(*http.Request){bearer("not-a-jwt")}, http.StatusUnauthorized},
		{"user on admin", "/admin", []func(*http.Request){bearer(userToken)}, http.StatusForbidden},
		{"admin on admin", "/admin", []func(*http.Request){bearer(adminToken)}, http.StatusOK},
		{"user on metrics", "/admin/metrics", []func(*http.Request){bearer(userToken)}, http.StatusForbidden},
		{"health is public", "/health", nil, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, tc.path, nil, tc.mods...)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}

	rec := s.do(t, http.MethodGet, "/principal", nil)
	assert.Equal(t, `Bearer realm="pubble"`, rec.Header().Get("WWW-Authenticate"))
}

func TestAdminMetrics(t *testing.T) {
	s := newTestServer(t, nil)
	adminToken := accessToken(t, signIn(t, s, "root", "root-password"))

	rec := s.do(t, http.MethodGet, "/admin/metrics", nil, bearer(adminToken))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pubble_auth_signin_success_total 1")
}

func TestRefreshRotation(t *testing.T) {
	s := newTestServer(t, nil)
	first := refreshCookie(t, signIn(t, s, "alice", "alice-password"))

	rec := s.do(t, http.MethodPost, "/users/refresh", nil, withCookie(first))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	second := refreshCookie(t, rec)
	assert.NotEqual(t, first.Value, second.Value)
	token := accessToken(t, rec)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/principal", nil, bearer(token)).Code)

	// replaying the rotated token revokes the family
	rec = s.do(t, http.MethodPost, "/users/refresh", nil, withCookie(first))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Less(t, refreshCookie(t, rec).MaxAge, 0)

	rec = s.do(t, http.MethodPost, "/users/refresh", nil, withCookie(second))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "REFRESH_REVOKED", decode(t, rec)["code"])
}

func TestRefreshFromBody(t *testing.T) {
	s := newTestServer(t, nil)
	cookie := refreshCookie(t, signIn(t, s, "alice", "alice-password"))

	rec := s.do(t, http.MethodPost, "/users/refresh", refreshRequest{RefreshToken: cookie.Value})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRefreshWithoutToken(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/users/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "REFRESH_INVALID", decode(t, rec)["code"])
	assert.Equal(t, `Bearer realm="pubble"`, rec.Header().Get("WWW-Authenticate"))
}

func TestLogoutIsIdempotent(t *testing.T) {
	s := newTestServer(t, nil)
	cookie := refreshCookie(t, signIn(t, s, "alice", "alice-password"))

	for _, mods := range [][]func(*http.Request){
		nil,
		{withCookie(&http.Cookie{Name: RefreshCookieName, Value: "garbage"})},
		{withCookie(cookie)},
		{withCookie(cookie)},
	} {
		rec := s.do(t, http.MethodPost, "/users/logout", nil, mods...)
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := s.do(t, http.MethodPost, "/users/logout", refreshRequest{RefreshToken: cookie.Value})
	assert.Equal(t, http.StatusOK, rec.Code)
}

type stubAuth struct {
	logoutErr error
	pingErr   error
}

func (s *stubAuth) Authenticate(context.Context, string) (pubbleauth.Principal, error) {
	return pubbleauth.Principal{}, pubbleauth.ErrTokenInvalid
}

func (s *stubAuth) SignIn(context.Context, string, string) (pubbleauth.TokenPair, error) {
	return pubbleauth.TokenPair{}, errors.New("boom")
}

func (s *stubAuth) Refresh(context.Context, string) (pubbleauth.TokenPair, error) {
	return pubbleauth.TokenPair{}, pubbleauth.ErrStorePersistence
}

func (s *stubAuth) Logout(context.Context, string) error { return s.logoutErr }
func (s *stubAuth) Ping(context.Context) error          { return s.pingErr }
func (s *stubAuth) LoginCooldown() time.Duration        { return 0 }

func newStubServer(t *testing.T, auth *stubAuth) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router, err := New(Options{Auth: auth})
	require.NoError(t, err)
	return &testServer{router: router}
}

func TestLogoutStoreUnavailable(t *testing.T) {
	s := newStubServer(t, &stubAuth{logoutErr: pubbleauth.ErrStoreUnavailable})

	rec := s.do(t, http.MethodPost, "/users/logout", refreshRequest{RefreshToken: "anything"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "STORE_UNAVAILABLE", decode(t, rec)["code"])
}

func TestInternalErrorsAreOpaque(t *testing.T) {
	s := newStubServer(t, &stubAuth{})

	rec := signIn(t, s, "alice", "alice-password")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL", decode(t, rec)["code"])
	assert.NotContains(t, rec.Body.String(), "boom")

	rec = s.do(t, http.MethodPost, "/users/refresh", refreshRequest{RefreshToken: "x"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "STORE_PERSISTENCE", decode(t, rec)["code"])
}

func TestHealthUnavailable(t *testing.T) {
	s := newStubServer(t, &stubAuth{pingErr: pubbleauth.ErrStoreUnavailable})

	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", decode(t, rec)["status"])
}

func TestCORSExposesAuthorization(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router, err := New(Options{Auth: &stubAuth{}, CORSOrigins: []string{"https://pubble.example"}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://pubble.example")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "https://pubble.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "Authorization")
}

func TestNewRequiresAuth(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, "127.0.0.1:0", http.NotFoundHandler(), discardLogger())
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func discardLogger() logging.Logger { return logging.Discard() }
