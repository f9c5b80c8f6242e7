package auth

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims defines the structure of the data stored inside the JWT.
type CustomClaims struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// JWTProvider verifies HS256 tokens issued by the external auth system.
type JWTProvider struct {
	secret []byte
	issuer string
	clock  clock.Clock
}

func NewJWTProvider(secret, issuer string, clk clock.Clock) *JWTProvider {
	return &JWTProvider{secret: []byte(secret), issuer: issuer, clock: clk}
}

// Verify checks signature, issuer and expiry and returns the identity the token was issued for.
func (p *JWTProvider) Verify(_ context.Context, tokenString string) (domain.UserID, error) {
	claims, err := p.ValidateToken(tokenString)
	if err != nil {
		return "", err
	}
	return domain.UserID(claims.UserID), nil
}

// ValidateToken parses and validates the signature and expiration of a JWT string.
func (p *JWTProvider) ValidateToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithTimeFunc(p.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidToken, jwt.ErrSignatureInvalid)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user_id", errors.ErrInvalidToken)
	}
	return claims, nil
}

// GenerateToken creates a signed JWT for a specific user.
// Tokens are normally issued outside the relay, this serves development and tests.
func (p *JWTProvider) GenerateToken(userID string, roles []string, ttl time.Duration) (string, error) {
	now := p.clock.Now()
	claims := &CustomClaims{
		UserID: userID,
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    p.issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.secret)
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" header value.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
