// Package auth turns a verified phone number into a session and keeps
// sessions revocable through a per-user token version.
package auth

import (
	"context"
	"fmt"

	"github.com/solven/escrow/internal/users"
)

// Service issues, refreshes and revokes sessions.
type Service struct {
	users  *users.Service
	issuer *Issuer
}

// NewService builds an auth service.
func NewService(u *users.Service, issuer *Issuer) *Service {
	return &Service{users: u, issuer: issuer}
}

// Session is the result of a successful login.
type Session struct {
	User   users.User
	Tokens TokenPair
}

// Login checks the one-time code sent to phone and opens a session.
func (s *Service) Login(ctx context.Context, phone, code string) (Session, error) {
	u, err := s.users.VerifyCode(ctx, phone, code)
	if err != nil {
		return Session{}, err
	}
	pair, err := s.issuer.Issue(u)
	if err != nil {
		return Session{}, err
	}
	return Session{User: u, Tokens: pair}, nil
}

// Refresh exchanges a refresh token for a new pair as long as the user has
// not logged out since it was issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.issuer.ParseRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	u, err := s.users.Get(ctx, claims.Subject)
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}
	if u.TokenVersion != claims.Version {
		return TokenPair{}, fmt.Errorf("%w: revoked", ErrInvalidToken)
	}
	return s.issuer.Issue(u)
}

// Logout revokes every token issued to userID.
func (s *Service) Logout(ctx context.Context, userID string) error {
	return s.users.RevokeTokens(ctx, userID)
}

// Authorize validates an access token and returns the user id it carries.
func (s *Service) Authorize(ctx context.Context, accessToken string) (string, error) {
	claims, err := s.issuer.ParseAccess(accessToken)
	if err != nil {
		return "", err
	}
	version, err := s.users.TokenVersion(ctx, claims.Subject)
	if err != nil || version != claims.Version {
		return "", fmt.Errorf("%w: revoked", ErrInvalidToken)
	}
	return claims.Subject, nil
}
