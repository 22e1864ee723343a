package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/layer-3/signet/adapters/verifier"
	"github.com/layer-3/signet/core"
	"github.com/layer-3/signet/ports"
)

// UnknownIP is the client IP used when no proxy header names one
const UnknownIP = "unknown"

// Revocation reasons recorded on the session
const (
	RevokeLogout          = "logout"
	RevokeAddressMismatch = "address_mismatch"
	RevokeDeviceMismatch  = "device_mismatch"
	RevokeBlacklisted     = "blacklisted"
)

// deviceHeaders feed the device fingerprint. They are stable for one browser
// and none of them is an explicit client supplied identifier.
var deviceHeaders = []string{
	"User-Agent",
	"Accept-Language",
	"Sec-CH-UA",
	"Sec-CH-UA-Platform",
	"Sec-CH-UA-Mobile",
}

// RequestMeta is what the transport layer knows about the calling client
type RequestMeta struct {
	IP        string
	UserAgent string
	DeviceID  string
}

// SessionManager owns the server-side session state behind bearer tokens
type SessionManager struct {
	store        ports.SessionStore
	tokens       ports.Tokenizer
	security     *SecurityLogger
	ttl          time.Duration
	blacklistTTL time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

// NewSessionManager creates a session manager
func NewSessionManager(
	store ports.SessionStore,
	tokens ports.Tokenizer,
	security *SecurityLogger,
	ttl, blacklistTTL time.Duration,
	logger *zap.Logger,
) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if security == nil {
		security = NewSecurityLogger(logger, nil, nil)
	}
	return &SessionManager{
		store:        store,
		tokens:       tokens,
		security:     security,
		ttl:          ttl,
		blacklistTTL: blacklistTTL,
		now:          time.Now,
		logger:       logger,
	}
}

// WithClock replaces the manager clock
func (m *SessionManager) WithClock(now func() time.Time) *SessionManager {
	m.now = now
	return m
}

// TTL is the lifetime of a new session
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// CreateSession stores a new active session for address under jti
func (m *SessionManager) CreateSession(ctx context.Context, address, jti, deviceID, ip string) (*core.Session, error) {
	address, err := normalizeAddress(address)
	if err != nil {
		return nil, err
	}

	now := m.now()
	session := core.Session{
		ID:           jti,
		Address:      address,
		DeviceID:     deviceID,
		IP:           ip,
		Status:       core.SessionActive,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(m.ttl),
	}
	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &session, nil
}

// ValidateSession verifies the token and the session behind it. A session
// presented with the wrong address or from another device or network is
// revoked before the error is returned.
func (m *SessionManager) ValidateSession(ctx context.Context, token, deviceID, ip string) (*core.Session, error) {
	claims, err := m.tokens.TokenToSession(token)
	if err != nil {
		return nil, err
	}
	meta := RequestMeta{IP: ip, DeviceID: deviceID}

	blacklisted, err := m.store.IsBlacklisted(ctx, claims.Address, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if blacklisted {
		return nil, core.ErrSessionBlacklisted
	}

	session, err := m.store.GetSession(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}

	if session.Address != claims.Address {
		m.revoke(ctx, session, RevokeAddressMismatch, meta)
		m.security.Log(ctx, core.SecurityEvent{
			Type:     core.EventSuspiciousActivity,
			Address:  session.Address,
			IP:       ip,
			Reason:   RevokeAddressMismatch,
			Metadata: map[string]string{"jti": session.ID, "token_address": claims.Address},
		})
		return nil, core.ErrAddressMismatch
	}

	if !session.Active() {
		return nil, core.ErrSessionRevoked
	}

	if session.DeviceID != deviceID || session.IP != ip {
		m.revoke(ctx, session, RevokeDeviceMismatch, meta)
		return nil, core.ErrDeviceMismatch
	}

	now := m.now()
	if err := m.store.TouchSession(ctx, session.ID, now); err != nil {
		return nil, err
	}
	session.LastActiveAt = now
	return session, nil
}

// RevokeSession marks the session owned by address inactive. Revoking a
// missing or already revoked session succeeds.
func (m *SessionManager) RevokeSession(ctx context.Context, address, jti, reason string) error {
	session, err := m.store.GetSession(ctx, jti)
	if errors.Is(err, core.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if normalized, err := normalizeAddress(address); err != nil || normalized != session.Address {
		return core.ErrAddressMismatch
	}
	if !session.Active() {
		return nil
	}
	return m.revokeRecord(ctx, session, reason, RequestMeta{})
}

// BlacklistSession records a denial for the address and jti pair that holds
// for the blacklist TTL regardless of what happens to the session itself.
func (m *SessionManager) BlacklistSession(ctx context.Context, address, jti, reason string) error {
	address, err := normalizeAddress(address)
	if err != nil {
		return err
	}

	now := m.now()
	entry := core.BlacklistEntry{
		Address:   address,
		SessionID: jti,
		Reason:    reason,
		CreatedAt: now,
		ExpiresAt: now.Add(m.blacklistTTL),
	}
	if err := m.store.Blacklist(ctx, entry); err != nil {
		return fmt.Errorf("failed to blacklist session: %w", err)
	}

	session, err := m.store.GetSession(ctx, jti)
	switch {
	case errors.Is(err, core.ErrSessionNotFound):
		return nil
	case err != nil:
		m.logger.Warn("blacklisted session not revoked", zap.String("jti", jti), zap.Error(err))
		return nil
	case session.Address == address && session.Active():
		m.revoke(ctx, session, RevokeBlacklisted, RequestMeta{})
	}
	return nil
}

// GetActiveSessions lists the active sessions of address
func (m *SessionManager) GetActiveSessions(ctx context.Context, address string) ([]core.Session, error) {
	address, err := normalizeAddress(address)
	if err != nil {
		return nil, err
	}
	return m.store.ActiveSessions(ctx, address)
}

// GenerateDeviceID fingerprints the requesting client
func (m *SessionManager) GenerateDeviceID(r *http.Request) string {
	return GenerateDeviceID(r)
}

// GenerateDeviceID hashes the stable browser headers of r. Two requests from
// the same browser yield the same id.
func GenerateDeviceID(r *http.Request) string {
	h := sha256.New()
	for _, name := range deviceHeaders {
		h.Write([]byte(strings.TrimSpace(r.Header.Get(name))))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// revoke is used on the security paths where the caller already fails the
// request; a store error is only logged.
func (m *SessionManager) revoke(ctx context.Context, session *core.Session, reason string, meta RequestMeta) {
	if err := m.revokeRecord(ctx, session, reason, meta); err != nil {
		m.logger.Error("session revocation failed",
			zap.String("jti", session.ID),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
}

func (m *SessionManager) revokeRecord(ctx context.Context, session *core.Session, reason string, meta RequestMeta) error {
	if err := m.store.RevokeSession(ctx, session.ID, reason, m.now()); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	m.security.Log(ctx, core.SecurityEvent{
		Type:      core.EventSessionRevoked,
		Address:   session.Address,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Reason:    reason,
		Metadata:  map[string]string{"jti": session.ID},
	})
	return nil
}

func normalizeAddress(address string) (string, error) {
	chain, err := verifier.DetectChain(address)
	if err != nil {
		return "", err
	}
	return verifier.NormalizeAddress(chain, address)
}
