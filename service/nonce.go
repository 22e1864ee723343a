package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/layer-3/signet/adapters/verifier"
	"github.com/layer-3/signet/core"
	"github.com/layer-3/signet/ports"
)

const nonceBytes = 16

// NonceService issues and consumes single-use sign-in challenges
type NonceService struct {
	store  ports.NonceStore
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// NewNonceService creates a nonce service whose nonces live for ttl
func NewNonceService(store ports.NonceStore, ttl time.Duration, logger *zap.Logger) *NonceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NonceService{
		store:  store,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

// WithClock replaces the service clock
func (s *NonceService) WithClock(now func() time.Time) *NonceService {
	s.now = now
	return s
}

// TTL is how long an issued nonce stays consumable
func (s *NonceService) TTL() time.Duration {
	return s.ttl
}

// Issue generates and persists a fresh nonce. The address is optional; when
// present it must be a valid Ethereum or Solana address.
func (s *NonceService) Issue(ctx context.Context, address string) (core.Nonce, error) {
	if address != "" {
		chain, err := verifier.DetectChain(address)
		if err != nil {
			return core.Nonce{}, err
		}
		if address, err = verifier.NormalizeAddress(chain, address); err != nil {
			return core.Nonce{}, err
		}
	}

	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return core.Nonce{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := s.now()
	nonce := core.Nonce{
		Value:     hex.EncodeToString(buf),
		Address:   address,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.InsertNonce(ctx, nonce); err != nil {
		return core.Nonce{}, fmt.Errorf("failed to store nonce: %w", err)
	}
	return nonce, nil
}

// Consume marks the nonce used and binds it to address. Store failures count
// as a failed consume.
func (s *NonceService) Consume(ctx context.Context, address, value string) bool {
	ok, err := s.store.ConsumeNonce(ctx, value, address, s.now())
	if err != nil {
		s.logger.Error("nonce consume failed", zap.String("address", address), zap.Error(err))
		return false
	}
	return ok
}
