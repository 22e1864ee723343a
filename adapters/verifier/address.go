package verifier

import (
	"crypto/ed25519"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"

	"github.com/layer-3/signet/core"
)

// NormalizeAddress validates address for chain and returns its canonical form:
// EIP-55 checksum for Ethereum, unchanged base58 for Solana.
func NormalizeAddress(chain core.Chain, address string) (string, error) {
	switch chain {
	case core.ChainEthereum:
		if !common.IsHexAddress(address) || !strings.HasPrefix(address, "0x") {
			return "", core.ErrInvalidAddress
		}
		return common.HexToAddress(address).Hex(), nil
	case core.ChainSolana:
		pub, err := base58.Decode(address)
		if err != nil || len(pub) != ed25519.PublicKeySize {
			return "", core.ErrInvalidAddress
		}
		return address, nil
	default:
		return "", core.ErrInvalidAddress
	}
}

// DetectChain guesses the chain of a bare address.
func DetectChain(address string) (core.Chain, error) {
	if strings.HasPrefix(address, "0x") {
		if _, err := NormalizeAddress(core.ChainEthereum, address); err != nil {
			return "", err
		}
		return core.ChainEthereum, nil
	}
	if _, err := NormalizeAddress(core.ChainSolana, address); err != nil {
		return "", err
	}
	return core.ChainSolana, nil
}

// Verify dispatches to the chain's signature scheme over the exact raw message bytes.
func Verify(msg *core.SignedMessage, signature string) error {
	switch msg.Chain {
	case core.ChainEthereum:
		return VerifyEthereum([]byte(msg.Raw), signature, msg.Address)
	case core.ChainSolana:
		return VerifySolana([]byte(msg.Raw), signature, msg.Address)
	default:
		return core.ErrInvalidSignature
	}
}
