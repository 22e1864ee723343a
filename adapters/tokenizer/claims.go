package tokenizer

import "github.com/golang-jwt/jwt/v5"

// SessionTokenClaims combines standard claims with the wallet identity.
// Field names are part of the wire contract with the web client.
type SessionTokenClaims struct {
	Address string `json:"address"`
	ChainID string `json:"chainId"`
	Domain  string `json:"domain"`
	Nonce   string `json:"nonce"`
	jwt.RegisteredClaims
}

// NonceCarrierClaims wraps an issued nonce for the pre-auth cookie
type NonceCarrierClaims struct {
	Nonce string `json:"nonce"`
	jwt.RegisteredClaims
}
