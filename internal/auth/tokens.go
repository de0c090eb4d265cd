package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"punch-chat/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("token has expired")
	ErrWrongTokenKind = errors.New("wrong token kind")
)

type TokenKind string

const (
	KindAccess        TokenKind = "access"
	KindRefresh       TokenKind = "refresh"
	KindPasswordReset TokenKind = "password_reset"
)

// Claims carries the user id in the standard subject claim.
type Claims struct {
	Kind TokenKind `json:"type"`
	jwt.RegisteredClaims
}

type TokenManager struct {
	secret []byte
	issuer string
	ttl    map[TokenKind]time.Duration
}

func NewTokenManager(cfg config.JWTConfig) *TokenManager {
	return &TokenManager{
		secret: cfg.Secret,
		issuer: cfg.Issuer,
		ttl: map[TokenKind]time.Duration{
			KindAccess:        cfg.AccessTTL,
			KindRefresh:       cfg.RefreshTTL,
			KindPasswordReset: cfg.ResetTTL,
		},
	}
}

func (m *TokenManager) TTL(kind TokenKind) time.Duration {
	return m.ttl[kind]
}

func (m *TokenManager) Issue(userID int, kind TokenKind) (string, error) {
	ttl, ok := m.ttl[kind]
	if !ok {
		return "", fmt.Errorf("unknown token kind %q", kind)
	}

	now := time.Now()
	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   strconv.Itoa(userID),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Parse checks signature and expiry only.
func (m *TokenManager) Parse(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Verify parses the token, requires the given kind and returns the user id.
func (m *TokenManager) Verify(tokenString string, kind TokenKind) (int, error) {
	claims, err := m.Parse(tokenString)
	if err != nil {
		return 0, err
	}
	if claims.Kind != kind {
		return 0, ErrWrongTokenKind
	}

	userID, err := strconv.Atoi(claims.Subject)
	if err != nil || userID <= 0 {
		return 0, ErrInvalidToken
	}
	return userID, nil
}
