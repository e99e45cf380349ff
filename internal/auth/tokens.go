package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/solven/escrow/internal/apperr"
	"github.com/solven/escrow/internal/users"
)

const (
	kindAccess  = "access"
	kindRefresh = "refresh"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// Claims carried by both token kinds.
type Claims struct {
	Phone   string `json:"phone,omitempty"`
	Role    string `json:"role,omitempty"`
	Version int    `json:"ver"`
	Kind    string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenPair is handed to a client after login.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// IssuerOptions configures token signing.
type IssuerOptions struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Issuer signs and verifies HS256 tokens.
type Issuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewIssuer validates opts and builds an issuer.
func NewIssuer(opts IssuerOptions) (*Issuer, error) {
	if opts.AccessSecret == "" || opts.RefreshSecret == "" {
		return nil, fmt.Errorf("jwt secrets required: %w", apperr.ErrInvalidConfiguration)
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 15 * time.Minute
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 30 * 24 * time.Hour
	}
	return &Issuer{
		accessSecret:  []byte(opts.AccessSecret),
		refreshSecret: []byte(opts.RefreshSecret),
		accessTTL:     opts.AccessTTL,
		refreshTTL:    opts.RefreshTTL,
		now:           time.Now,
	}, nil
}

// Issue signs an access and a refresh token for u.
func (i *Issuer) Issue(u users.User) (TokenPair, error) {
	access, err := i.sign(u.ID, u.Phone, string(u.Role), u.TokenVersion, kindAccess, i.accessSecret, i.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := i.sign(u.ID, "", "", u.TokenVersion, kindRefresh, i.refreshSecret, i.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(i.accessTTL.Seconds())}, nil
}

// ParseAccess verifies an access token.
func (i *Issuer) ParseAccess(token string) (Claims, error) {
	return i.parse(token, kindAccess, i.accessSecret)
}

// ParseRefresh verifies a refresh token.
func (i *Issuer) ParseRefresh(token string) (Claims, error) {
	return i.parse(token, kindRefresh, i.refreshSecret)
}

func (i *Issuer) sign(sub, phone, role string, version int, kind string, secret []byte, ttl time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		Phone:   phone,
		Role:    role,
		Version: version,
		Kind:    kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (i *Issuer) parse(token, kind string, secret []byte) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Kind != kind || claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
