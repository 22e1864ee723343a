package signet

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/layer-3/signet/adapters/verifier"
)

// Signer is a wallet able to sign the sign-in message
type Signer interface {
	Address() string
	SignMessage(message []byte) (string, error)
}

// EthSigner signs with a secp256k1 key using personal_sign
type EthSigner struct {
	key     *ecdsa.PrivateKey
	address string
}

func NewEthSigner(key *ecdsa.PrivateKey) *EthSigner {
	return &EthSigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey).Hex()}
}

// NewEthSignerFromHex loads a hex encoded private key, with or without 0x
func NewEthSignerFromHex(hexKey string) (*EthSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewEthSigner(key), nil
}

func (s *EthSigner) Address() string { return s.address }

func (s *EthSigner) SignMessage(message []byte) (string, error) {
	return verifier.SignEthereum(message, s.key)
}

// SolanaSigner signs with an ed25519 key
type SolanaSigner struct {
	key ed25519.PrivateKey
}

func NewSolanaSigner(key ed25519.PrivateKey) *SolanaSigner {
	return &SolanaSigner{key: key}
}

func (s *SolanaSigner) Address() string {
	return verifier.SolanaAddress(s.key.Public().(ed25519.PublicKey))
}

func (s *SolanaSigner) SignMessage(message []byte) (string, error) {
	return verifier.SignSolana(message, s.key), nil
}
