// Package auth signs and verifies the HS256 bearer tokens exchanged
// between the engine and the record store.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

const (
	DefaultRole = "participant"
	tokenTTL    = 15 * time.Minute
)

// Claims are the fields the store reads from a verified token.
type Claims struct {
	Username string
	Role     string
}

type Signer struct {
	secret   []byte
	username string
	role     string
	now      func() time.Time
}

func NewSigner(secret []byte, username, role string) *Signer {
	if role == "" {
		role = DefaultRole
	}
	return &Signer{secret: secret, username: username, role: role, now: time.Now}
}

// Sign mints a short-lived token carrying the signer's username and role.
func (s *Signer) Sign() (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":      s.username,
		"username": s.username,
		"role":     s.role,
		"iat":      now.Unix(),
		"exp":      now.Add(tokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

func (v *Verifier) Verify(tokenString string) (Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Claims{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrInvalidToken
	}

	username, _ := claims["username"].(string)
	if username == "" {
		username, _ = claims["sub"].(string)
	}
	if username == "" {
		return Claims{}, fmt.Errorf("%w: username", ErrMissingClaim)
	}
	role, _ := claims["role"].(string)
	return Claims{Username: username, Role: role}, nil
}
