package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"

	"peercord/internal/core/domain"
	"peercord/pkg/validation"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token expired")
	ErrIdentityMismatch = errors.New("token was issued for another identity")
)

// IdentityService issues and checks the tokens that bind a signaling session
// to a claimed identity.
type IdentityService interface {
	IssueToken(id domain.PeerID) (token string, expiresAt time.Time, err error)
	ValidateToken(tokenString string) (*IdentityClaims, error)
	VerifyIdentity(tokenString string, id domain.PeerID) error
}

type IdentityClaims struct {
	PeerID domain.PeerID `json:"peer_id"`
	jwt.RegisteredClaims
}

type identityService struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

func NewIdentityService(secret string, ttl time.Duration, clk clock.Clock) IdentityService {
	if clk == nil {
		clk = clock.New()
	}
	return &identityService{
		secret: []byte(secret),
		ttl:    ttl,
		clock:  clk,
	}
}

func (s *identityService) IssueToken(id domain.PeerID) (string, time.Time, error) {
	if err := validation.ValidatePeerID(string(id)); err != nil {
		return "", time.Time{}, err
	}

	now := s.clock.Now()
	expiresAt := now.Add(s.ttl)
	claims := &IdentityClaims{
		PeerID: id,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(id),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign identity token: %w", err)
	}
	return signed, expiresAt, nil
}

func (s *identityService) ValidateToken(tokenString string) (*IdentityClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &IdentityClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.clock.Now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*IdentityClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

func (s *identityService) VerifyIdentity(tokenString string, id domain.PeerID) error {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return err
	}
	if claims.PeerID != id {
		return ErrIdentityMismatch
	}
	return nil
}
