package ports

import (
	"context"
	"time"

	"github.com/layer-3/signet/core"
)

// NonceStore persists issued nonces.
type NonceStore interface {
	// InsertNonce records a freshly issued, unused nonce.
	InsertNonce(ctx context.Context, nonce core.Nonce) error

	// ConsumeNonce atomically marks an unused, unexpired nonce as used and binds
	// it to address. It returns false when no such nonce exists. Exactly one of
	// any number of concurrent callers presenting the same value gets true.
	ConsumeNonce(ctx context.Context, value, address string, now time.Time) (bool, error)
}

// SessionStore persists sessions and the blacklist.
type SessionStore interface {
	CreateSession(ctx context.Context, session core.Session) error

	// GetSession returns core.ErrSessionNotFound when no record exists for jti.
	GetSession(ctx context.Context, jti string) (*core.Session, error)

	// TouchSession updates the last-active timestamp. Last write wins.
	TouchSession(ctx context.Context, jti string, at time.Time) error

	// RevokeSession marks the session revoked. Revoking a missing or already
	// revoked session is not an error.
	RevokeSession(ctx context.Context, jti, reason string, at time.Time) error

	// ActiveSessions lists the active sessions owned by address.
	ActiveSessions(ctx context.Context, address string) ([]core.Session, error)

	// Blacklist records a denial for the address and jti pair that outlives the session.
	Blacklist(ctx context.Context, entry core.BlacklistEntry) error

	IsBlacklisted(ctx context.Context, address, jti string) (bool, error)
}
