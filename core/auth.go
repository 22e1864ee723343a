package core

import "time"

// Chain identifies the wallet family a sign-in message belongs to.
type Chain string

const (
	ChainEthereum Chain = "ethereum"
	ChainSolana   Chain = "solana"
)

// Nonce is a single-use challenge embedded in a sign-in message.
type Nonce struct {
	Value     string    // Random, unguessable challenge value
	Address   string    // Wallet address; empty until the nonce is consumed or bound at issuance
	CreatedAt time.Time // When the nonce was issued
	ExpiresAt time.Time // After this instant the nonce can never be consumed
	Used      bool      // Flipped to true exactly once by a successful consume
}

// Expired reports whether the nonce is past its expiry at the given time.
func (n Nonce) Expired(now time.Time) bool {
	return !now.Before(n.ExpiresAt)
}

// SessionStatus is the lifecycle state of a server-side session.
type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionRevoked SessionStatus = "revoked"
)

// Session is the server-side record a bearer token points at through its jti.
type Session struct {
	ID            string        // jti of the token bound to this session
	Address       string        // Normalized wallet address
	DeviceID      string        // Fingerprint derived from request headers at creation
	IP            string        // Client IP at creation
	Status        SessionStatus // active or revoked
	CreatedAt     time.Time     // When the session was created
	LastActiveAt  time.Time     // Updated on every validated request
	ExpiresAt     time.Time     // Matches the token expiry
	RevokedReason string        // Why the session was revoked, if it was
	RevokedAt     time.Time     // When the session was revoked, if it was
}

// Active reports whether the session can still authenticate requests.
func (s Session) Active() bool {
	return s.Status == SessionActive
}

// BlacklistEntry is a punitive denial record for an address and jti pair.
// It is stored apart from sessions and outlives them.
type BlacklistEntry struct {
	Address   string
	SessionID string
	Reason    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SignedMessage is a parsed SIWE/SIWS sign-in message.
type SignedMessage struct {
	Chain          Chain
	Domain         string
	Address        string
	Statement      string
	URI            string
	Version        string
	ChainID        string
	Nonce          string
	IssuedAt       time.Time
	ExpirationTime time.Time
	NotBefore      time.Time
	RequestID      string
	Resources      []string
	Raw            string // Exact text the wallet signed
}

// Claims are the facts established by a successful signature verification.
type Claims struct {
	Chain   Chain
	Address string
	ChainID string
	Domain  string
	Nonce   string
}

// SessionClaims is the payload carried by a session bearer token.
type SessionClaims struct {
	Address   string
	ChainID   string
	Domain    string
	Nonce     string
	SessionID string
	Issuer    string
	Audience  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// NonceCarrier is the payload of the short-lived token wrapping an issued nonce.
type NonceCarrier struct {
	Nonce     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
