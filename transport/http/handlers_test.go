package http

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/signet/adapters/ratelimit"
	"github.com/layer-3/signet/adapters/store"
	"github.com/layer-3/signet/adapters/tokenizer"
	"github.com/layer-3/signet/adapters/verifier"
	"github.com/layer-3/signet/core"
	"github.com/layer-3/signet/ports"
	"github.com/layer-3/signet/service"
)

const testDomain = "app.example.com"

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router *gin.Engine
	auth   *service.AuthService
	store  *store.MemoryStore
}

type authStore interface {
	ports.NonceStore
	ports.SessionStore
}

func newTestServer(t *testing.T, limiters map[ratelimit.Category]ports.RateLimiter, admins ...string) *testServer {
	t.Helper()
	st := store.NewMemoryStore()
	s := newTestServerWithStore(t, st, limiters, admins...)
	s.store = st
	return s
}

func newTestServerWithStore(t *testing.T, st authStore, limiters map[ratelimit.Category]ports.RateLimiter, admins ...string) *testServer {
	t.Helper()
	tokens := tokenizer.NewJWTTokenizer([]byte("0123456789abcdef0123456789abcdef"), "signet", "signet-web")
	reg := prometheus.NewRegistry()
	security := service.NewSecurityLogger(nil, nil, reg)
	nonces := service.NewNonceService(st, 5*time.Minute, nil)
	sessions := service.NewSessionManager(st, tokens, security, 24*time.Hour, 720*time.Hour, nil)
	auth := service.NewAuthService(nonces, service.NewSignatureVerifier(nonces, testDomain), sessions, tokens, security, nil).
		WithAdmins(admins)

	router := SetupRouter(auth, RouterConfig{
		Limiters: limiters,
		Security: security,
		Gatherer: reg,
	})
	return &testServer{router: router, auth: auth}
}

type client struct {
	userAgent string
	ip        string
	cookies   map[string]*http.Cookie
}

func newClient(userAgent, ip string) *client {
	return &client{userAgent: userAgent, ip: ip, cookies: make(map[string]*http.Cookie)}
}

func (c *client) do(t *testing.T, s *testServer, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Forwarded-For", c.ip)
	for _, cookie := range c.cookies {
		req.AddCookie(cookie)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	for _, cookie := range rec.Result().Cookies() {
		if cookie.MaxAge < 0 {
			delete(c.cookies, cookie.Name)
		} else {
			c.cookies[cookie.Name] = cookie
		}
	}
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func responseCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

type wallet struct {
	key     *ecdsa.PrivateKey
	address string
}

func newWallet(t *testing.T) wallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return wallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey).Hex()}
}

func (w wallet) sign(t *testing.T, nonce string) map[string]string {
	t.Helper()
	raw := verifier.FormatMessage(core.SignedMessage{
		Chain:    core.ChainEthereum,
		Domain:   testDomain,
		Address:  w.address,
		URI:      "https://" + testDomain,
		Version:  "1",
		ChainID:  "1",
		Nonce:    nonce,
		IssuedAt: time.Now(),
	})
	sig, err := verifier.SignEthereum([]byte(raw), w.key)
	require.NoError(t, err)
	return map[string]string{"message": raw, "signature": sig}
}

// signIn runs nonce and verify for c and returns the verify response body
func (c *client) signIn(t *testing.T, s *testServer, w wallet) map[string]interface{} {
	t.Helper()
	rec := c.do(t, s, http.MethodGet, "/auth/nonce", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	nonce := decode(t, rec)["nonce"].(string)

	rec = c.do(t, s, http.MethodPost, "/auth/verify", w.sign(t, nonce))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode(t, rec)
}

const firefox = "Mozilla/5.0 (X11; Linux x86_64; rv:131.0) Gecko/20100101 Firefox/131.0"

func TestNonceEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	c := newClient(firefox, "203.0.113.7")

	t.Run("get without address", func(t *testing.T) {
		rec := c.do(t, s, http.MethodGet, "/auth/nonce", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode(t, rec)["nonce"], 32)

		cookie := responseCookie(rec, NonceCookie)
		require.NotNil(t, cookie)
		assert.True(t, cookie.HttpOnly)
		assert.True(t, cookie.Secure)
		assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
		assert.Equal(t, 300, cookie.MaxAge)
	})

	t.Run("post requires address", func(t *testing.T) {
		rec := c.do(t, s, http.MethodPost, "/auth/nonce", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = c.do(t, s, http.MethodPost, "/auth/nonce", map[string]string{"address": "0x123"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = c.do(t, s, http.MethodPost, "/auth/nonce", map[string]string{"address": newWallet(t).address})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestVerifyAndCheck(t *testing.T) {
	s := newTestServer(t, nil)
	w := newWallet(t)
	laptop := newClient(firefox, "203.0.113.7")

	rec := laptop.do(t, s, http.MethodGet, "/auth/nonce", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	nonce := decode(t, rec)["nonce"].(string)
	signed := w.sign(t, nonce)

	rec = laptop.do(t, s, http.MethodPost, "/auth/verify", signed)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.NotEmpty(t, body["jwt"])
	assert.Equal(t, w.address, body["address"])

	auth := responseCookie(rec, AuthCookie)
	require.NotNil(t, auth)
	assert.Equal(t, "/", auth.Path)
	assert.Equal(t, http.SameSiteLaxMode, auth.SameSite)
	assert.Equal(t, 24*60*60, auth.MaxAge)
	assert.False(t, auth.HttpOnly, "scripts may read the cookie outside production")
	cleared := responseCookie(rec, NonceCookie)
	require.NotNil(t, cleared)
	assert.Negative(t, cleared.MaxAge)

	t.Run("replay is rejected", func(t *testing.T) {
		rec := laptop.do(t, s, http.MethodPost, "/auth/verify", signed)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("check", func(t *testing.T) {
		rec := laptop.do(t, s, http.MethodGet, "/auth/check", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, true, body["valid"])
		assert.Equal(t, w.address, body["address"])
		assert.NotEmpty(t, body["sessionId"])
	})

	t.Run("protected route", func(t *testing.T) {
		rec := laptop.do(t, s, http.MethodGet, "/api/me", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, w.address, decode(t, rec)["address"])

		rec = newClient(firefox, "203.0.113.7").do(t, s, http.MethodGet, "/api/me", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("sessions listing", func(t *testing.T) {
		rec := laptop.do(t, s, http.MethodGet, "/auth/sessions", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var out struct {
			Sessions []sessionView `json:"sessions"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		require.Len(t, out.Sessions, 1)
		assert.True(t, out.Sessions[0].Current)
		assert.Equal(t, "203.0.113.7", out.Sessions[0].IP)
	})

	t.Run("stolen cookie on another device", func(t *testing.T) {
		thief := newClient("Mozilla/5.0 (Windows NT 10.0) Chrome/129.0", "203.0.113.7")
		thief.cookies[AuthCookie] = laptop.cookies[AuthCookie]

		rec := thief.do(t, s, http.MethodGet, "/auth/check", nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, map[string]interface{}{"valid": false, "reason": "session_invalid"}, decode(t, rec))

		rec = laptop.do(t, s, http.MethodGet, "/auth/check", nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "session_invalid", decode(t, rec)["reason"])
	})
}

func TestVerifyRejections(t *testing.T) {
	s := newTestServer(t, nil)
	w := newWallet(t)
	c := newClient(firefox, "203.0.113.7")

	rec := c.do(t, s, http.MethodPost, "/auth/verify", map[string]string{"message": "only"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = c.do(t, s, http.MethodGet, "/auth/nonce", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	nonce := decode(t, rec)["nonce"].(string)

	signed := w.sign(t, nonce)
	signed["signature"] = "0x" + "00"
	rec = c.do(t, s, http.MethodPost, "/auth/verify", signed)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "Invalid nonce or signature", decode(t, rec)["error"])

	rec = c.do(t, s, http.MethodPost, "/auth/verify", w.sign(t, "neverissued1"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCheckReasons(t *testing.T) {
	s := newTestServer(t, nil)
	c := newClient(firefox, "203.0.113.7")

	rec := c.do(t, s, http.MethodGet, "/auth/check", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "no_token", decode(t, rec)["reason"])

	c.cookies[AuthCookie] = &http.Cookie{Name: AuthCookie, Value: "garbage"}
	rec = c.do(t, s, http.MethodGet, "/auth/check", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_token", decode(t, rec)["reason"])
}

func TestLogout(t *testing.T) {
	s := newTestServer(t, nil)
	w := newWallet(t)

	t.Run("without cookie", func(t *testing.T) {
		rec := newClient(firefox, "203.0.113.7").do(t, s, http.MethodPost, "/auth/logout", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, decode(t, rec)["success"])
	})

	t.Run("with session", func(t *testing.T) {
		c := newClient(firefox, "203.0.113.7")
		body := c.signIn(t, s, w)
		token := body["jwt"].(string)

		rec := c.do(t, s, http.MethodPost, "/auth/logout", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		cleared := responseCookie(rec, AuthCookie)
		require.NotNil(t, cleared)
		assert.Negative(t, cleared.MaxAge)

		c.cookies[AuthCookie] = &http.Cookie{Name: AuthCookie, Value: token}
		rec = c.do(t, s, http.MethodGet, "/auth/check", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

// unreachableStore serves nonces normally but fails session reads once down is set
type unreachableStore struct {
	*store.MemoryStore
	down atomic.Bool
}

func (u *unreachableStore) GetSession(ctx context.Context, jti string) (*core.Session, error) {
	if u.down.Load() {
		return nil, fmt.Errorf("get session: %w: connection refused", core.ErrStoreOperationFailed)
	}
	return u.MemoryStore.GetSession(ctx, jti)
}

func TestSessionStoreOutage(t *testing.T) {
	st := &unreachableStore{MemoryStore: store.NewMemoryStore()}
	s := newTestServerWithStore(t, st, nil)
	c := newClient(firefox, "203.0.113.7")
	c.signIn(t, s, newWallet(t))

	st.down.Store(true)

	rec := c.do(t, s, http.MethodGet, "/auth/check", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "verification_failed", body["reason"])
	assert.NotContains(t, rec.Body.String(), "connection refused")

	rec = c.do(t, s, http.MethodGet, "/api/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = c.do(t, s, http.MethodPost, "/auth/logout", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
	cleared := responseCookie(rec, AuthCookie)
	require.NotNil(t, cleared, "logout clears the cookie even when revocation fails")
	assert.Negative(t, cleared.MaxAge)
	assert.NotContains(t, c.cookies, AuthCookie)
}

func TestBlacklistEndpoint(t *testing.T) {
	admin, victim := newWallet(t), newWallet(t)
	s := newTestServer(t, nil, admin.address)

	adminClient := newClient(firefox, "203.0.113.7")
	adminClient.signIn(t, s, admin)
	victimClient := newClient(firefox, "198.51.100.4")
	victimSession := victimClient.signIn(t, s, victim)["sessionId"].(string)

	rec := adminClient.do(t, s, http.MethodPost, "/auth/sessions/blacklist", map[string]string{"targetAddress": victim.address})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := map[string]string{"targetAddress": victim.address, "targetJti": victimSession, "reason": "compromised"}

	rec = newClient(firefox, "203.0.113.7").do(t, s, http.MethodPost, "/auth/sessions/blacklist", req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "no session")

	rec = victimClient.do(t, s, http.MethodPost, "/auth/sessions/blacklist", req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "not an admin")

	rec = adminClient.do(t, s, http.MethodPost, "/auth/sessions/blacklist", req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["success"])

	rec = victimClient.do(t, s, http.MethodGet, "/auth/check", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "session_invalid", decode(t, rec)["reason"])
}

type brokenLimiter struct{}

func (brokenLimiter) IsRateLimited(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func (brokenLimiter) Window() time.Duration { return time.Minute }

func TestRateLimit(t *testing.T) {
	t.Run("429 after the limit", func(t *testing.T) {
		s := newTestServer(t, map[ratelimit.Category]ports.RateLimiter{
			ratelimit.CategoryNonce: ratelimit.NewMemoryLimiter(ratelimit.Policy{MaxRequests: 2, Window: time.Minute}),
		})
		c := newClient(firefox, "203.0.113.7")

		for i := 0; i < 2; i++ {
			require.Equal(t, http.StatusOK, c.do(t, s, http.MethodGet, "/auth/nonce", nil).Code)
		}
		rec := c.do(t, s, http.MethodGet, "/auth/nonce", nil)
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "60", rec.Header().Get("Retry-After"))
		body := decode(t, rec)
		assert.Equal(t, float64(60), body["retryAfter"])
		assert.NotEmpty(t, body["error"])

		other := newClient(firefox, "198.51.100.4")
		assert.Equal(t, http.StatusOK, other.do(t, s, http.MethodGet, "/auth/nonce", nil).Code, "buckets are per ip")
	})

	t.Run("limiter failure lets requests through", func(t *testing.T) {
		s := newTestServer(t, map[ratelimit.Category]ports.RateLimiter{
			ratelimit.CategoryNonce: brokenLimiter{},
		})
		rec := newClient(firefox, "203.0.113.7").do(t, s, http.MethodGet, "/auth/nonce", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRoutedCategories(t *testing.T) {
	categories := RoutedCategories()
	assert.Len(t, categories, 5)
	for _, category := range categories {
		assert.Contains(t, ratelimit.DefaultPolicies, category)
	}
	assert.NotContains(t, categories, ratelimit.CategoryDraft)
	assert.NotContains(t, categories, ratelimit.CategoryLike)
	assert.NotContains(t, categories, ratelimit.CategoryUserCampaigns)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{name: "forwarded chain", headers: map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, want: "203.0.113.7"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "198.51.100.4"}, want: "198.51.100.4"},
		{name: "forwarded wins", headers: map[string]string{"X-Forwarded-For": "203.0.113.7", "X-Real-IP": "198.51.100.4"}, want: "203.0.113.7"},
		{name: "nothing", want: "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}

func TestOperationalEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	c := newClient(firefox, "203.0.113.7")

	rec := c.do(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	c.cookies[AuthCookie] = &http.Cookie{Name: AuthCookie, Value: "garbage"}
	c.do(t, s, http.MethodGet, "/auth/check", nil)
	rec = c.do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `signet_security_events_total{type="auth_failure"}`)
}
