package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/layer-3/signet/adapters/verifier"
	"github.com/layer-3/signet/core"
	"github.com/layer-3/signet/ports"
)

// NonceChallenge is an issued nonce plus the signed carrier token the client
// keeps in a cookie until it comes back to verify.
type NonceChallenge struct {
	Nonce     string
	Carrier   string
	ExpiresAt time.Time
}

// VerifyRequest is a signed sign-in message. Carrier is the nonce carrier
// token from the cookie and may be empty.
type VerifyRequest struct {
	Message   string
	Signature string
	Carrier   string
}

// SignIn is the result of a successful verify
type SignIn struct {
	Token   string
	Session *core.Session
	Claims  core.Claims
}

// BlacklistRequest names the session an administrator wants denied
type BlacklistRequest struct {
	TargetAddress string
	TargetJTI     string
	Reason        string
}

// AuthService handles authentication business logic
type AuthService struct {
	nonces   *NonceService
	verifier *SignatureVerifier
	sessions *SessionManager
	tokens   ports.Tokenizer
	security *SecurityLogger
	admins   map[string]struct{}
	logger   *zap.Logger
}

// NewAuthService creates a new authentication service
func NewAuthService(
	nonces *NonceService,
	sigVerifier *SignatureVerifier,
	sessions *SessionManager,
	tokens ports.Tokenizer,
	security *SecurityLogger,
	logger *zap.Logger,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if security == nil {
		security = NewSecurityLogger(logger, nil, nil)
	}
	return &AuthService{
		nonces:   nonces,
		verifier: sigVerifier,
		sessions: sessions,
		tokens:   tokens,
		security: security,
		admins:   make(map[string]struct{}),
		logger:   logger,
	}
}

// WithAdmins restricts the blacklist operation to the given addresses. With no
// admins configured any authenticated caller may blacklist.
func (s *AuthService) WithAdmins(addresses []string) *AuthService {
	for _, a := range addresses {
		normalized, err := normalizeAddress(a)
		if err != nil {
			s.logger.Warn("ignoring invalid admin address", zap.String("address", a))
			continue
		}
		s.admins[normalized] = struct{}{}
	}
	return s
}

// NonceTTL is the lifetime of an issued nonce and its carrier
func (s *AuthService) NonceTTL() time.Duration {
	return s.nonces.TTL()
}

// SessionTTL is the lifetime of a new session and its token
func (s *AuthService) SessionTTL() time.Duration {
	return s.sessions.TTL()
}

// RequestNonce issues a nonce and wraps it in a short-lived carrier token
func (s *AuthService) RequestNonce(ctx context.Context, address string, meta RequestMeta) (*NonceChallenge, error) {
	nonce, err := s.nonces.Issue(ctx, address)
	if err != nil {
		return nil, err
	}

	carrier, err := s.tokens.NonceToToken(core.NonceCarrier{
		Nonce:     nonce.Value,
		IssuedAt:  nonce.CreatedAt,
		ExpiresAt: nonce.ExpiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create nonce carrier: %w", err)
	}

	s.security.Inspect(ctx, nonce.Address, meta)
	return &NonceChallenge{
		Nonce:     nonce.Value,
		Carrier:   carrier,
		ExpiresAt: nonce.ExpiresAt,
	}, nil
}

// Verify checks the signed message and, on success, opens a session bound to
// the calling device and issues its token.
func (s *AuthService) Verify(ctx context.Context, req VerifyRequest, meta RequestMeta) (*SignIn, error) {
	if req.Carrier != "" {
		if err := s.checkCarrier(req); err != nil {
			s.logFailure(ctx, "", meta, err)
			return nil, err
		}
	}

	claims, err := s.verifier.Verify(ctx, req.Message, req.Signature)
	if err != nil {
		if errors.Is(err, core.ErrInvalidNonce) {
			s.security.Log(ctx, core.SecurityEvent{
				Type:      core.EventNonceReuse,
				IP:        meta.IP,
				UserAgent: meta.UserAgent,
				Reason:    err.Error(),
			})
		} else {
			s.logFailure(ctx, "", meta, err)
		}
		return nil, err
	}

	session, err := s.sessions.CreateSession(ctx, claims.Address, uuid.NewString(), meta.DeviceID, meta.IP)
	if err != nil {
		s.logger.Error("session creation failed", zap.String("address", claims.Address), zap.Error(err))
		return nil, err
	}

	token, err := s.tokens.SessionToToken(core.SessionClaims{
		Address:   claims.Address,
		ChainID:   claims.ChainID,
		Domain:    claims.Domain,
		Nonce:     claims.Nonce,
		SessionID: session.ID,
		IssuedAt:  session.CreatedAt,
		ExpiresAt: session.ExpiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session token: %w", err)
	}

	s.security.Log(ctx, core.SecurityEvent{
		Type:      core.EventAuthSuccess,
		Address:   claims.Address,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Metadata:  map[string]string{"jti": session.ID, "chain": string(claims.Chain)},
	})
	s.security.Inspect(ctx, claims.Address, meta)

	return &SignIn{Token: token, Session: session, Claims: claims}, nil
}

// Check validates a session token for the calling device
func (s *AuthService) Check(ctx context.Context, token string, meta RequestMeta) (*core.Session, error) {
	session, err := s.sessions.ValidateSession(ctx, token, meta.DeviceID, meta.IP)
	if err != nil {
		if errors.Is(err, core.ErrStoreOperationFailed) {
			s.logger.Error("session validation failed", zap.Error(err))
		}
		s.logFailure(ctx, "", meta, err)
		return nil, err
	}
	return session, nil
}

// Logout revokes the session behind token. A missing or unreadable token
// leaves nothing to revoke and is not an error.
func (s *AuthService) Logout(ctx context.Context, token string, meta RequestMeta) error {
	if token == "" {
		return nil
	}
	claims, err := s.tokens.TokenToSession(token)
	if err != nil {
		s.logger.Debug("logout with unusable token", zap.Error(err))
		return nil
	}
	if err := s.sessions.RevokeSession(ctx, claims.Address, claims.SessionID, RevokeLogout); err != nil {
		s.logger.Error("logout revocation failed",
			zap.String("address", claims.Address),
			zap.String("jti", claims.SessionID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// Blacklist denies the target session on behalf of the authenticated caller
func (s *AuthService) Blacklist(ctx context.Context, token string, req BlacklistRequest, meta RequestMeta) error {
	caller, err := s.Check(ctx, token, meta)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrUnauthorized, err)
	}
	if len(s.admins) > 0 {
		if _, ok := s.admins[caller.Address]; !ok {
			s.logFailure(ctx, caller.Address, meta, errors.New("blacklist by non-admin"))
			return core.ErrUnauthorized
		}
	}

	if err := s.sessions.BlacklistSession(ctx, req.TargetAddress, req.TargetJTI, req.Reason); err != nil {
		return err
	}

	s.logger.Info("session blacklisted",
		zap.String("admin", caller.Address),
		zap.String("target_address", req.TargetAddress),
		zap.String("target_jti", req.TargetJTI),
		zap.String("reason", req.Reason),
	)
	return nil
}

// ActiveSessions lists the active sessions of the owner of an already
// validated session
func (s *AuthService) ActiveSessions(ctx context.Context, caller *core.Session) ([]core.Session, error) {
	if caller == nil || !caller.Active() {
		return nil, core.ErrUnauthorized
	}
	return s.sessions.GetActiveSessions(ctx, caller.Address)
}

// checkCarrier compares the nonce in the message with the one the server
// handed to this client.
func (s *AuthService) checkCarrier(req VerifyRequest) error {
	carrier, err := s.tokens.TokenToNonce(req.Carrier)
	if err != nil {
		return fmt.Errorf("%w: carrier: %v", core.ErrInvalidNonce, err)
	}
	msg, err := verifier.ParseMessage(req.Message)
	if err != nil {
		return err
	}
	if msg.Nonce != carrier.Nonce {
		return fmt.Errorf("%w: carrier mismatch", core.ErrInvalidNonce)
	}
	return nil
}

func (s *AuthService) logFailure(ctx context.Context, address string, meta RequestMeta, err error) {
	s.security.Log(ctx, core.SecurityEvent{
		Type:      core.EventAuthFailure,
		Address:   address,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Reason:    err.Error(),
	})
}
