// Package service contains application services wiring the core packages
// (C1-C10) into the operations the HTTP transport exposes.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	pkgcrypto "github.com/zann-project/zann/internal/crypto"
	"github.com/zann-project/zann/internal/crypto/envelope"
	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/limiter"
	"github.com/zann-project/zann/internal/model"
	"github.com/zann-project/zann/internal/repository"
)

// AuthService authenticates accounts and mints access/refresh tokens. It
// never sees a master key: password-based key derivation for data
// encryption (spec.md §4.2) happens entirely client-side, from the KDF
// tuple internal/prelogin advertises. The password this service hashes and
// verifies is a separate, ordinary server-side credential.
type AuthService interface {
	Register(ctx context.Context, email, password string) (uuid.UUID, error)
	// LoginWithIP authenticates and issues fresh tokens. deviceID is the
	// identity's optional device_id (spec.md §Identity); an empty string is
	// its own rate-limiter bucket, distinct from any real device.
	LoginWithIP(ctx context.Context, email, password, deviceID, ip string) (model.Tokens, model.User, error)
	Refresh(ctx context.Context, refreshToken string) (model.Tokens, error)
}

// AuthServiceImpl is the default AuthService.
type AuthServiceImpl struct {
	users      repository.UserRepository
	signKey    []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	lim        limiter.Limiter
	kdfParams  model.KDFParams
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(users repository.UserRepository, signKey []byte, accessTTL, refreshTTL time.Duration, lim limiter.Limiter, kdfParams model.KDFParams) *AuthServiceImpl {
	return &AuthServiceImpl{users: users, signKey: signKey, accessTTL: accessTTL, refreshTTL: refreshTTL, lim: lim, kdfParams: kdfParams}
}

// Register creates a new account with per-user auth/KDF salts. The KDF
// tuple is immediately readable via internal/prelogin once this commits.
func (s *AuthServiceImpl) Register(ctx context.Context, email, password string) (uuid.UUID, error) {
	if email == "" || password == "" {
		return uuid.Nil, errors.New("validation: empty email/password")
	}
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	authSalt, err := pkgcrypto.RandBytes(envelope.SaltLen)
	if err != nil {
		return uuid.Nil, err
	}
	kdfSalt, err := envelope.RandomSalt()
	if err != nil {
		return uuid.Nil, err
	}

	u := &model.User{
		ID:        id,
		Email:     email,
		PwdHash:   pkgcrypto.HashPassword([]byte(password), authSalt),
		AuthSalt:  authSalt,
		KdfSalt:   kdfSalt,
		KdfParams: s.kdfParams,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// LoginWithIP authenticates with rate limiting keyed by (email, device, ip
// hash) and issues fresh tokens on success.
func (s *AuthServiceImpl) LoginWithIP(ctx context.Context, email, password, deviceID, ip string) (model.Tokens, model.User, error) {
	deviceHash := limiter.Hash(deviceID)
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, email, deviceHash, ipHash)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	if !allowed {
		return model.Tokens{}, model.User{}, errs.ErrRateLimited
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil || !pkgcrypto.VerifyPassword([]byte(password), u.AuthSalt, u.PwdHash) {
		if blocked, _, ferr := s.lim.Failure(ctx, email, deviceHash, ipHash); ferr == nil && blocked {
			return model.Tokens{}, model.User{}, errs.ErrRateLimited
		}
		// Same response whether the account is unknown or the password is
		// wrong: existence must not leak (spec.md §4.8's prelogin property
		// applies equally here).
		return model.Tokens{}, model.User{}, errs.ErrUnauthorized
	}

	_ = s.lim.Success(ctx, email, deviceHash, ipHash)

	tokens, err := s.issueTokens(u.ID)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	return tokens, *u, nil
}

// Refresh validates a refresh token and mints a fresh token pair.
func (s *AuthServiceImpl) Refresh(ctx context.Context, refreshToken string) (model.Tokens, error) {
	claims := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(refreshToken, claims, func(t *jwt.Token) (any, error) {
		return s.signKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil || !tok.Valid || claims.Subject == "" {
		return model.Tokens{}, errs.New(errs.KindInvalidToken, "invalid refresh token")
	}
	if claims.Issuer != refreshTokenIssuer {
		return model.Tokens{}, errs.New(errs.KindInvalidToken, "not a refresh token")
	}
	userID, err := uuid.FromString(claims.Subject)
	if err != nil {
		return model.Tokens{}, errs.New(errs.KindInvalidToken, "invalid token subject")
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return model.Tokens{}, errs.New(errs.KindInvalidToken, "unknown subject")
	}
	return s.issueTokens(userID)
}

const refreshTokenIssuer = "zann-refresh:v1"

func (s *AuthServiceImpl) issueTokens(userID uuid.UUID) (model.Tokens, error) {
	now := time.Now()
	accessExp := now.Add(s.accessTTL)
	access, err := signClaims(s.signKey, jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(accessExp),
	})
	if err != nil {
		return model.Tokens{}, fmt.Errorf("sign access token: %w", err)
	}

	refresh, err := signClaims(s.signKey, jwt.RegisteredClaims{
		Subject:   userID.String(),
		Issuer:    refreshTokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshTTL)),
	})
	if err != nil {
		return model.Tokens{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return model.Tokens{AccessToken: access, RefreshToken: refresh, ExpiresAt: accessExp}, nil
}

func signClaims(key []byte, claims jwt.RegisteredClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}
