package ports

import "github.com/layer-3/signet/core"

// Tokenizer converts between domain objects and signed bearer tokens
type Tokenizer interface {
	// Session token operations
	SessionToToken(claims core.SessionClaims) (string, error)
	TokenToSession(token string) (*core.SessionClaims, error)

	// Nonce carrier operations
	NonceToToken(carrier core.NonceCarrier) (string, error)
	TokenToNonce(token string) (*core.NonceCarrier, error)
}
