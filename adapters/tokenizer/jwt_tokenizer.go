package tokenizer

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/layer-3/signet/core"
)

const nonceAudienceSuffix = ":nonce"

// JWTTokenizer implements the Tokenizer interface using HS256 JWTs
type JWTTokenizer struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// NewJWTTokenizer creates a new JWT tokenizer
func NewJWTTokenizer(secret []byte, issuer, audience string) *JWTTokenizer {
	return &JWTTokenizer{
		secret:   secret,
		issuer:   issuer,
		audience: audience,
		now:      time.Now,
	}
}

// WithClock replaces the clock used to validate time based claims
func (j *JWTTokenizer) WithClock(now func() time.Time) *JWTTokenizer {
	j.now = now
	return j
}

// WithLeeway tolerates clock skew when validating exp and iat
func (j *JWTTokenizer) WithLeeway(leeway time.Duration) *JWTTokenizer {
	j.leeway = leeway
	return j
}

// SessionToToken signs a session token. Issuer and audience always come from
// the tokenizer, not the input.
func (j *JWTTokenizer) SessionToToken(c core.SessionClaims) (string, error) {
	claims := SessionTokenClaims{
		Address: c.Address,
		ChainID: c.ChainID,
		Domain:  c.Domain,
		Nonce:   c.Nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        c.SessionID,
			Issuer:    j.issuer,
			Audience:  jwt.ClaimStrings{j.audience},
			IssuedAt:  jwt.NewNumericDate(c.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedToken, err := token.SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}

	return signedToken, nil
}

// TokenToSession parses and validates a session token
func (j *JWTTokenizer) TokenToSession(tokenStr string) (*core.SessionClaims, error) {
	claims := &SessionTokenClaims{}
	if err := j.parse(tokenStr, claims, j.audience); err != nil {
		return nil, err
	}
	if claims.ID == "" || claims.Address == "" {
		return nil, fmt.Errorf("missing jti or address: %w", core.ErrInvalidToken)
	}

	return &core.SessionClaims{
		Address:   claims.Address,
		ChainID:   claims.ChainID,
		Domain:    claims.Domain,
		Nonce:     claims.Nonce,
		SessionID: claims.ID,
		Issuer:    claims.Issuer,
		Audience:  j.audience,
		IssuedAt:  numericTime(claims.IssuedAt),
		ExpiresAt: numericTime(claims.ExpiresAt),
	}, nil
}

// NonceToToken wraps a nonce in a short-lived token with its own audience
func (j *JWTTokenizer) NonceToToken(carrier core.NonceCarrier) (string, error) {
	claims := NonceCarrierClaims{
		Nonce: carrier.Nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    j.issuer,
			Audience:  jwt.ClaimStrings{j.audience + nonceAudienceSuffix},
			IssuedAt:  jwt.NewNumericDate(carrier.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(carrier.ExpiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedToken, err := token.SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign nonce token: %w", err)
	}

	return signedToken, nil
}

// TokenToNonce parses a nonce carrier token
func (j *JWTTokenizer) TokenToNonce(tokenStr string) (*core.NonceCarrier, error) {
	claims := &NonceCarrierClaims{}
	if err := j.parse(tokenStr, claims, j.audience+nonceAudienceSuffix); err != nil {
		return nil, err
	}
	if claims.Nonce == "" {
		return nil, fmt.Errorf("missing nonce: %w", core.ErrInvalidToken)
	}

	return &core.NonceCarrier{
		Nonce:     claims.Nonce,
		IssuedAt:  numericTime(claims.IssuedAt),
		ExpiresAt: numericTime(claims.ExpiresAt),
	}, nil
}

func (j *JWTTokenizer) parse(tokenStr string, claims jwt.Claims, audience string) error {
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: %v", core.ErrInvalidSigningMethod, token.Header["alg"])
		}
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(j.issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(j.leeway),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return core.ErrTokenExpired
		}
		return fmt.Errorf("failed to parse token: %v: %w", err, core.ErrInvalidToken)
	}

	// Validate token
	if !token.Valid {
		return core.ErrInvalidToken
	}
	return nil
}

func numericTime(d *jwt.NumericDate) time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.Time
}
