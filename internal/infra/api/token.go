package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken      = errors.New("missing access token")
	ErrInvalidToken = errors.New("invalid access token")
)

const tokenIssuer = "crypto-payment-gate"

// AccessClaims bind a token to the pricing pattern that was paid for.
type AccessClaims struct {
	Pattern string `json:"pat"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and checks short-lived HS256 access tokens issued after a confirmed payment.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Mint returns a token for paymentID valid on every endpoint priced by pattern.
func (a *TokenIssuer) Mint(pattern, paymentID string) (string, error) {
	now := a.now()
	claims := AccessClaims{
		Pattern: pattern,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   paymentID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// ParseFromRequest reads "Authorization: Bearer <jwt>" and checks it was minted for pattern.
func (a *TokenIssuer) ParseFromRequest(r *http.Request, pattern string) (*AccessClaims, error) {
	hdr := r.Header.Get("Authorization")
	if hdr == "" || !strings.HasPrefix(strings.ToLower(hdr), "bearer ") {
		return nil, ErrNoToken
	}
	return a.Parse(strings.TrimSpace(hdr[7:]), pattern)
}

func (a *TokenIssuer) Parse(tok, pattern string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !tkn.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Pattern != pattern {
		return nil, fmt.Errorf("%w: issued for %s", ErrInvalidToken, claims.Pattern)
	}
	return claims, nil
}
