package verifier

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/layer-3/signet/core"
)

// VerifySolana checks a base58 ed25519 signature over message by the base58 public key address.
func VerifySolana(message []byte, signature, address string) error {
	pub, err := base58.Decode(address)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return core.ErrInvalidAddress
	}
	sig, err := base58.Decode(signature)
	if err != nil {
		return fmt.Errorf("failed to decode signature: %w", core.ErrInvalidSignature)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("signature must be %d bytes: %w", ed25519.SignatureSize, core.ErrInvalidSignature)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), message, sig) {
		return core.ErrInvalidSignature
	}
	return nil
}

// SignSolana signs message with an ed25519 key and base58 encodes the signature.
func SignSolana(message []byte, key ed25519.PrivateKey) string {
	return base58.Encode(ed25519.Sign(key, message))
}

// SolanaAddress is the base58 encoding of an ed25519 public key.
func SolanaAddress(pub ed25519.PublicKey) string {
	return base58.Encode(pub)
}
