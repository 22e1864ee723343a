package verifier

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/signet/core"
)

func ethMessage(t *testing.T, address string) core.SignedMessage {
	t.Helper()
	return core.SignedMessage{
		Chain:     core.ChainEthereum,
		Domain:    "app.example.com",
		Address:   address,
		Statement: "Sign in to back campaigns.",
		URI:       "https://app.example.com/login",
		Version:   "1",
		ChainID:   "1",
		Nonce:     "abc123def456",
		IssuedAt:  time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC),
	}
}

func TestParseMessage(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	t.Run("round trip", func(t *testing.T) {
		in := ethMessage(t, address)
		in.ExpirationTime = in.IssuedAt.Add(10 * time.Minute)
		in.Resources = []string{"ipfs://bafy", "https://app.example.com/terms"}
		raw := FormatMessage(in)

		out, err := ParseMessage(raw)
		require.NoError(t, err)
		assert.Equal(t, core.ChainEthereum, out.Chain)
		assert.Equal(t, in.Domain, out.Domain)
		assert.Equal(t, in.Address, out.Address)
		assert.Equal(t, in.Statement, out.Statement)
		assert.Equal(t, in.URI, out.URI)
		assert.Equal(t, in.ChainID, out.ChainID)
		assert.Equal(t, in.Nonce, out.Nonce)
		assert.True(t, in.IssuedAt.Equal(out.IssuedAt))
		assert.True(t, in.ExpirationTime.Equal(out.ExpirationTime))
		assert.Equal(t, in.Resources, out.Resources)
		assert.Equal(t, raw, out.Raw)
	})

	t.Run("without statement", func(t *testing.T) {
		in := ethMessage(t, address)
		in.Statement = ""
		out, err := ParseMessage(FormatMessage(in))
		require.NoError(t, err)
		assert.Empty(t, out.Statement)
		assert.Equal(t, in.Nonce, out.Nonce)
	})

	t.Run("scheme in header", func(t *testing.T) {
		raw := strings.Replace(FormatMessage(ethMessage(t, address)), "app.example.com wants", "https://app.example.com wants", 1)
		out, err := ParseMessage(raw)
		require.NoError(t, err)
		assert.Equal(t, "app.example.com", out.Domain)
	})

	malformed := map[string]func(m *core.SignedMessage) string{
		"bad header": func(m *core.SignedMessage) string {
			return strings.Replace(FormatMessage(*m), "wants you to sign in", "asks you to log in", 1)
		},
		"short nonce": func(m *core.SignedMessage) string {
			m.Nonce = "abc"
			return FormatMessage(*m)
		},
		"missing chain id": func(m *core.SignedMessage) string {
			m.ChainID = ""
			return FormatMessage(*m)
		},
		"bad address": func(m *core.SignedMessage) string {
			m.Address = "0x1234"
			return FormatMessage(*m)
		},
		"bad version": func(m *core.SignedMessage) string {
			m.Version = "2"
			return FormatMessage(*m)
		},
		"unknown field": func(m *core.SignedMessage) string {
			return FormatMessage(*m) + "\nColour: blue"
		},
		"empty": func(m *core.SignedMessage) string { return "" },
	}
	for name, build := range malformed {
		build := build
		t.Run(name, func(t *testing.T) {
			m := ethMessage(t, address)
			_, err := ParseMessage(build(&m))
			assert.ErrorIs(t, err, core.ErrMalformedMessage)
		})
	}
}

func TestVerifyEthereum(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	raw := FormatMessage(ethMessage(t, address))

	sig, err := SignEthereum([]byte(raw), key)
	require.NoError(t, err)

	msg, err := ParseMessage(raw)
	require.NoError(t, err)
	require.NoError(t, Verify(msg, sig))

	t.Run("lowercase address still matches", func(t *testing.T) {
		assert.NoError(t, VerifyEthereum([]byte(raw), sig, strings.ToLower(address)))
	})

	t.Run("other signer", func(t *testing.T) {
		other, err := crypto.GenerateKey()
		require.NoError(t, err)
		otherSig, err := SignEthereum([]byte(raw), other)
		require.NoError(t, err)
		assert.ErrorIs(t, Verify(msg, otherSig), core.ErrInvalidSignature)
	})

	t.Run("modified message", func(t *testing.T) {
		assert.ErrorIs(t, VerifyEthereum([]byte(raw+" "), sig, address), core.ErrInvalidSignature)
	})

	t.Run("garbage signature", func(t *testing.T) {
		assert.ErrorIs(t, VerifyEthereum([]byte(raw), "0xdeadbeef", address), core.ErrInvalidSignature)
		assert.ErrorIs(t, VerifyEthereum([]byte(raw), "not-hex", address), core.ErrInvalidSignature)
	})
}

func TestVerifySolana(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	address := SolanaAddress(pub)

	raw := FormatMessage(core.SignedMessage{
		Chain:   core.ChainSolana,
		Domain:  "app.example.com",
		Address: address,
		URI:     "https://app.example.com",
		Version: "1",
		ChainID: "mainnet",
		Nonce:   "solnonce1234",
	})
	msg, err := ParseMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, core.ChainSolana, msg.Chain)

	sig := SignSolana([]byte(raw), priv)
	require.NoError(t, Verify(msg, sig))

	_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	assert.ErrorIs(t, Verify(msg, SignSolana([]byte(raw), otherPriv)), core.ErrInvalidSignature)
	assert.ErrorIs(t, Verify(msg, "0OIl"), core.ErrInvalidSignature)
}

func TestCheckTimeBounds(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

	assert.NoError(t, CheckTimeBounds(&core.SignedMessage{}, now))
	assert.NoError(t, CheckTimeBounds(&core.SignedMessage{ExpirationTime: now.Add(time.Second)}, now))
	assert.ErrorIs(t, CheckTimeBounds(&core.SignedMessage{ExpirationTime: now}, now), core.ErrMessageExpired)
	assert.ErrorIs(t, CheckTimeBounds(&core.SignedMessage{NotBefore: now.Add(time.Minute)}, now), core.ErrMessageExpired)
}

func TestNormalizeAddress(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	checksum := crypto.PubkeyToAddress(key.PublicKey).Hex()

	got, err := NormalizeAddress(core.ChainEthereum, strings.ToLower(checksum))
	require.NoError(t, err)
	assert.Equal(t, checksum, got)

	_, err = NormalizeAddress(core.ChainEthereum, "0xAAA")
	assert.ErrorIs(t, err, core.ErrInvalidAddress)

	chain, err := DetectChain(checksum)
	require.NoError(t, err)
	assert.Equal(t, core.ChainEthereum, chain)

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	chain, err = DetectChain(SolanaAddress(pub))
	require.NoError(t, err)
	assert.Equal(t, core.ChainSolana, chain)

	_, err = DetectChain("definitely not an address")
	assert.Error(t, err)
}
