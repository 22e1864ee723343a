package service

import (
	"context"
	"fmt"
	"time"

	"github.com/layer-3/signet/adapters/verifier"
	"github.com/layer-3/signet/core"
)

// SignatureVerifier turns a signed sign-in message into verified claims.
// Nonce consumption is part of verification, so a valid signature over a
// spent nonce is rejected.
type SignatureVerifier struct {
	nonces *NonceService
	domain string
	now    func() time.Time
}

// NewSignatureVerifier creates a verifier expecting messages for domain
func NewSignatureVerifier(nonces *NonceService, domain string) *SignatureVerifier {
	return &SignatureVerifier{
		nonces: nonces,
		domain: domain,
		now:    time.Now,
	}
}

// WithClock replaces the clock used for message time bounds
func (v *SignatureVerifier) WithClock(now func() time.Time) *SignatureVerifier {
	v.now = now
	return v
}

// Verify runs every check in order and stops at the first failure.
func (v *SignatureVerifier) Verify(ctx context.Context, raw, signature string) (core.Claims, error) {
	msg, err := verifier.ParseMessage(raw)
	if err != nil {
		return core.Claims{}, err
	}

	if err := verifier.Verify(msg, signature); err != nil {
		return core.Claims{}, err
	}

	if err := verifier.CheckTimeBounds(msg, v.now()); err != nil {
		return core.Claims{}, err
	}

	address, err := verifier.NormalizeAddress(msg.Chain, msg.Address)
	if err != nil {
		return core.Claims{}, fmt.Errorf("%w: %v", core.ErrMalformedMessage, err)
	}

	if !v.nonces.Consume(ctx, address, msg.Nonce) {
		return core.Claims{}, core.ErrInvalidNonce
	}

	if msg.Domain != v.domain {
		return core.Claims{}, fmt.Errorf("%w: got %q", core.ErrDomainMismatch, msg.Domain)
	}

	return core.Claims{
		Chain:   msg.Chain,
		Address: address,
		ChainID: msg.ChainID,
		Domain:  msg.Domain,
		Nonce:   msg.Nonce,
	}, nil
}
