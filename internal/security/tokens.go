package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAccessTokenTTL bounds how long an access token is accepted. The session's sliding expiry still applies.
const DefaultAccessTokenTTL = 12 * time.Hour

var (
	// ErrInvalidToken is returned when a token is malformed or invalid.
	ErrInvalidToken = errors.New("invalid token")
)

// RandomHex returns n bytes from crypto/rand encoded as lowercase hex (2n characters).
func RandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// AccessClaims holds JWT claims for the access token handed to RPC clients.
type AccessClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id"`
	ClientID  string `json:"client_id"`
}

// TokenProvider issues and validates HS256 access tokens that bind a session to the client that created it.
type TokenProvider struct {
	key      []byte
	issuer   string
	audience string
	ttl      time.Duration
}

// NewTokenProvider returns a TokenProvider signing with key (see DeriveKey with PurposeAccessToken).
func NewTokenProvider(key []byte, issuer, audience string, ttl time.Duration) *TokenProvider {
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	return &TokenProvider{key: key, issuer: issuer, audience: audience, ttl: ttl}
}

// IssueAccess issues an access JWT for the given session, user, and client.
// Returns the token string and its expiration time.
func (p *TokenProvider) IssueAccess(sessionID, userID, clientID string) (token string, expiresAt time.Time, err error) {
	jti, err := RandomHex(16)
	if err != nil {
		return "", time.Time{}, err
	}
	now := time.Now().UTC()
	expiresAt = now.Add(p.ttl)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		SessionID: sessionID,
		ClientID:  clientID,
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.key)
	return token, expiresAt, err
}

// ValidateAccess parses and validates the access token (signature, exp, iss, aud).
// Returns sessionID, userID, clientID, or ErrInvalidToken.
func (p *TokenProvider) ValidateAccess(tokenString string) (sessionID, userID, clientID string, err error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return p.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
	)
	if err != nil {
		return "", "", "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid || claims.SessionID == "" {
		return "", "", "", ErrInvalidToken
	}
	return claims.SessionID, claims.Subject, claims.ClientID, nil
}
