package service

import (
	"context"
	"crypto/ecdsa"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/layer-3/signet/adapters/store"
	"github.com/layer-3/signet/adapters/tokenizer"
	"github.com/layer-3/signet/adapters/verifier"
	"github.com/layer-3/signet/core"
)

const testDomain = "app.example.com"

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	events chan core.SecurityEvent
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{events: make(chan core.SecurityEvent, 64)}
}

func (p *recordingPublisher) PublishSecurityEvent(_ context.Context, event core.SecurityEvent) error {
	p.events <- event
	return nil
}

type fixture struct {
	clock    *clock
	store    *store.MemoryStore
	tokens   *tokenizer.JWTTokenizer
	logs     *observer.ObservedLogs
	security *SecurityLogger
	nonces   *NonceService
	verifier *SignatureVerifier
	sessions *SessionManager
	auth     *AuthService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := &clock{now: time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)}
	observed, logs := observer.New(zap.DebugLevel)
	logger := zap.New(observed)

	st := store.NewMemoryStore().WithClock(c.Now)
	tokens := tokenizer.NewJWTTokenizer(testSecret, "signet", "signet-web").WithClock(c.Now)
	security := NewSecurityLogger(logger, nil, nil).WithClock(c.Now)
	nonces := NewNonceService(st, 5*time.Minute, logger).WithClock(c.Now)
	sigVerifier := NewSignatureVerifier(nonces, testDomain).WithClock(c.Now)
	sessions := NewSessionManager(st, tokens, security, 24*time.Hour, 720*time.Hour, logger).WithClock(c.Now)

	return &fixture{
		clock:    c,
		store:    st,
		tokens:   tokens,
		logs:     logs,
		security: security,
		nonces:   nonces,
		verifier: sigVerifier,
		sessions: sessions,
		auth:     NewAuthService(nonces, sigVerifier, sessions, tokens, security, logger),
	}
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

// signIn builds and signs a sign-in message for nonce at the fixture's time
func (w wallet) signIn(t *testing.T, f *fixture, nonce string, edit ...func(*core.SignedMessage)) (string, string) {
	t.Helper()
	msg := core.SignedMessage{
		Chain:     core.ChainEthereum,
		Domain:    testDomain,
		Address:   w.address,
		Statement: "Sign in to back campaigns.",
		URI:       "https://" + testDomain,
		Version:   "1",
		ChainID:   "1",
		Nonce:     nonce,
		IssuedAt:  f.clock.Now(),
	}
	for _, fn := range edit {
		fn(&msg)
	}
	raw := verifier.FormatMessage(msg)
	sig, err := verifier.SignEthereum([]byte(raw), w.key)
	require.NoError(t, err)
	return raw, sig
}

func browserMeta(ip string) RequestMeta {
	r, _ := http.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Firefox/131.0")
	r.Header.Set("Accept-Language", "en-US")
	return RequestMeta{IP: ip, UserAgent: r.UserAgent(), DeviceID: GenerateDeviceID(r)}
}
