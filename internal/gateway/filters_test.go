package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/edge-gateway/internal/auth"
	"github.com/spec-kit/edge-gateway/internal/config"
	"github.com/spec-kit/edge-gateway/internal/domain"
	"github.com/spec-kit/edge-gateway/internal/ratelimit"
	apperrors "github.com/spec-kit/edge-gateway/pkg/util"
)

var publicPaths = []string{"/auth/login", "/auth/register", "/auth/refresh", "/health", "/fallback"}

func newTokens() *auth.TokenService {
	return auth.NewTokenService(config.AuthConfig{
		JWTSecret:       "gateway-test-secret-0123456789abcdef",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 24 * time.Hour,
	})
}

func issue(t *testing.T, tokens *auth.TokenService, subject string, kind domain.TokenKind, roles ...string) string {
	t.Helper()
	tok, _, err := tokens.Issue(subject, roles, kind)
	require.NoError(t, err)
	return tok
}

type echo struct {
	userID string
	roles  string
	trace  string
	calls  int
}

func (e *echo) handler(c *fiber.Ctx) error {
	e.calls++
	e.userID = c.Get(UserIDHeader)
	e.roles = c.Get(UserRolesHeader)
	e.trace = c.Get(TraceHeader)
	return c.SendString("ok")
}

func body(t *testing.T, resp *http.Response) apperrors.APIResponse {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out apperrors.APIResponse
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out
}

func TestTraceFilterTagsRequestAndResponse(t *testing.T) {
	e := &echo{}
	app := newChainApp(NewChain(e.handler, nil, NewTraceFilter(nil)))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/users/me", nil))
	require.NoError(t, err)
	trace := resp.Header.Get(TraceHeader)
	assert.Len(t, trace, 8)
	assert.Equal(t, trace, e.trace)

	resp2, err := app.Test(httptest.NewRequest(http.MethodGet, "/users/me", nil))
	require.NoError(t, err)
	assert.NotEqual(t, trace, resp2.Header.Get(TraceHeader))
}

func TestAuthenticateFilter(t *testing.T) {
	tokens := newTokens()
	user := issue(t, tokens, "alice", domain.TokenKindAccess, "USER")
	admin := issue(t, tokens, "root", domain.TokenKindAccess, "USER", "ADMIN")
	refresh := issue(t, tokens, "alice", domain.TokenKindRefresh, "USER")

	tests := []struct {
		name   string
		method string
		path   string
		header string
		status int
		code   string
		userID string
		roles  string
	}{
		{"public login", http.MethodPost, "/auth/login", "", http.StatusOK, "", "", ""},
		{"public health", http.MethodGet, "/health/live", "", http.StatusOK, "", "", ""},
		{"missing header", http.MethodGet, "/users/me", "", http.StatusUnauthorized, apperrors.CodeMissingToken, "", ""},
		{"basic scheme", http.MethodGet, "/users/me", "Basic dXNlcg==", http.StatusUnauthorized, apperrors.CodeMissingToken, "", ""},
		{"garbage token", http.MethodGet, "/users/me", "Bearer nope", http.StatusUnauthorized, apperrors.CodeInvalidToken, "", ""},
		{"refresh token", http.MethodGet, "/users/me", "Bearer " + refresh, http.StatusUnauthorized, apperrors.CodeInvalidToken, "", ""},
		{"user on own profile", http.MethodGet, "/users/me", "Bearer " + user, http.StatusOK, "", "alice", "USER"},
		{"user on admin path", http.MethodGet, "/users", "Bearer " + user, http.StatusForbidden, apperrors.CodeAccessDenied, "", ""},
		{"user on eureka", http.MethodGet, "/eureka/apps", "Bearer " + user, http.StatusForbidden, apperrors.CodeAccessDenied, "", ""},
		{"admin on admin path", http.MethodDelete, "/users/42", "Bearer " + admin, http.StatusOK, "", "root", "ADMIN,USER"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &echo{}
			app := newChainApp(NewChain(e.handler, nil, NewAuthenticateFilter(tokens, publicPaths, nil)))

			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.code != "" {
				b := body(t, resp)
				assert.Equal(t, tt.code, b.Error)
				assert.Equal(t, tt.status, b.StatusCode)
				assert.Equal(t, tt.path, b.Path)
				assert.Zero(t, e.calls)
				return
			}
			assert.Equal(t, tt.userID, e.userID)
			assert.Equal(t, tt.roles, e.roles)
		})
	}
}

func TestAuthenticateFilterStripsSpoofedIdentity(t *testing.T) {
	e := &echo{}
	app := newChainApp(NewChain(e.handler, nil, NewAuthenticateFilter(newTokens(), publicPaths, nil)))

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.Header.Set(UserIDHeader, "admin")
	req.Header.Set(UserRolesHeader, "ADMIN")
	_, err := app.Test(req)
	require.NoError(t, err)
	assert.Empty(t, e.userID)
	assert.Empty(t, e.roles)
}

func TestIsPublicMatchesWholeSegments(t *testing.T) {
	f := NewAuthenticateFilter(newTokens(), []string{"/health", "/docs/"}, nil)
	assert.True(t, f.IsPublic("/health"))
	assert.True(t, f.IsPublic("/health/ready"))
	assert.True(t, f.IsPublic("/docs/index.html"))
	assert.False(t, f.IsPublic("/healthz"))
	assert.False(t, f.IsPublic("/users"))
}

func TestClientKeyPriority(t *testing.T) {
	var got []string
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		got = append(got, ClientKey(c, "X-Client-ID"))
		return nil
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Client-ID", "mobile-app")
	req.Header.Set("User-Agent", "curl/8.0")
	_, err := app.Test(req)
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", "curl/8.0")
	_, err = app.Test(req)
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Del("User-Agent")
	_, err = app.Test(req)
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, "id:mobile-app", got[0])
	assert.Regexp(t, `^ua:[0-9a-f]+$`, got[1])
	assert.Regexp(t, `^ip:`, got[2])
}

func newRateApp(t *testing.T, store ratelimit.CounterStore, now func() time.Time) (*fiber.App, *echo) {
	t.Helper()
	cfg := config.RateLimitConfig{
		Window:           time.Minute,
		DefaultPerWindow: 3,
		AuthPerWindow:    1,
		AuthPathPrefix:   "/auth/",
		ClientIDHeader:   "X-Client-ID",
		KeyPrefix:        "rate_limit",
	}
	limiter := ratelimit.NewLimiter(store, cfg, ratelimit.WithClock(now))
	filter := NewRateLimitFilter(limiter, cfg.ClientIDHeader, nil, nil)
	filter.now = now
	e := &echo{}
	return newChainApp(NewChain(e.handler, nil, filter)), e
}

func TestRateLimitFilter(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Date(2026, 7, 1, 9, 30, 15, 0, time.UTC)
	app, e := newRateApp(t, ratelimit.NewRedisCounterStore(client), func() time.Time { return now })
	reset := strconv.FormatInt(time.Date(2026, 7, 1, 9, 31, 0, 0, time.UTC).Unix(), 10)

	send := func() *http.Response {
		req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
		req.Header.Set("X-Client-ID", "tenant-1")
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp
	}

	for i := 1; i <= 3; i++ {
		resp := send()
		require.Equal(t, http.StatusOK, resp.StatusCode, "request %d", i)
		assert.Equal(t, "3", resp.Header.Get(HeaderRateLimit))
		assert.Equal(t, strconv.Itoa(3-i), resp.Header.Get(HeaderRateRemaining))
		assert.Equal(t, reset, resp.Header.Get(HeaderRateReset))
	}

	resp := send()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "0", resp.Header.Get(HeaderRateRemaining))
	assert.Equal(t, "45", resp.Header.Get(fiber.HeaderRetryAfter))
	b := body(t, resp)
	assert.Equal(t, apperrors.CodeRateLimitExceeded, b.Error)
	assert.Equal(t, 3, e.calls)
}

func TestRateLimitFilterFailsOpenWithoutHeaders(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	app, e := newRateApp(t, ratelimit.NewRedisCounterStore(client), time.Now)
	for i := 0; i < 5; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/users/me", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, resp.Header.Get(HeaderRateLimit))
	}
	assert.Equal(t, 5, e.calls)
}

func TestRateLimitFilterAuthClass(t *testing.T) {
	now := time.Now()
	app, _ := newRateApp(t, ratelimit.NewMemoryCounterStore(func() time.Time { return now }), func() time.Time { return now })

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "1", resp.Header.Get(HeaderRateLimit))

	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
