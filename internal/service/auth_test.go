package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"

	pkgcrypto "github.com/zann-project/zann/internal/crypto"
	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/limiter"
	"github.com/zann-project/zann/internal/model"
	"github.com/zann-project/zann/internal/repository"
)

type fakeUsers struct {
	byEmail map[string]*model.User

	createErr error
	getErr    error
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.byEmail == nil {
		f.byEmail = map[string]*model.User{}
	}
	if _, exists := f.byEmail[u.Email]; exists {
		return errs.ErrAlreadyExists
	}
	cpy := *u
	f.byEmail[u.Email] = &cpy
	return nil
}
func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	for _, u := range f.byEmail {
		if u.ID == id {
			c := *u
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}
func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byEmail[email]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool
	failErr     error

	successErr error

	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, []byte, []byte) (bool, time.Duration, error) {
	l.allowCalls++
	return l.allowOK, 0, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, string, []byte, []byte) error {
	l.successCalls++
	return l.successErr
}
func (l *fakeLimiter) Failure(context.Context, string, []byte, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, l.failErr
}

func testKDFParams() model.KDFParams {
	return model.KDFParams{Algorithm: "argon2id", Iterations: 3, MemoryKB: 64 * 1024, Parallelism: 1}
}

func TestAuth_Register_Basics(t *testing.T) {
	t.Parallel()
	users := &fakeUsers{byEmail: map[string]*model.User{}}
	s := NewAuthService(users, []byte("k"), time.Minute, time.Hour, &fakeLimiter{}, testKDFParams())

	if _, err := s.Register(context.Background(), "", ""); err == nil {
		t.Fatalf("want validation error on empty email/password")
	}

	id, err := s.Register(context.Background(), "alice@example.com", "pwd")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id == uuid.Nil {
		t.Fatalf("empty user id")
	}

	if _, err := s.Register(context.Background(), "alice@example.com", "pwd2"); err == nil {
		t.Fatalf("want repo error on duplicate email")
	}

	users.createErr = errors.New("boom")
	if _, err := s.Register(context.Background(), "bob@example.com", "pwd"); err == nil {
		t.Fatalf("want propagated repo error")
	}
}

func TestAuth_Register_KDFMaterialIsUsable(t *testing.T) {
	t.Parallel()
	users := &fakeUsers{byEmail: map[string]*model.User{}}
	s := NewAuthService(users, []byte("k"), time.Minute, time.Hour, &fakeLimiter{}, testKDFParams())

	if _, err := s.Register(context.Background(), "alice@example.com", "pwd"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	u := users.byEmail["alice@example.com"]
	if len(u.KdfSalt) == 0 || u.KdfParams != testKDFParams() {
		t.Fatalf("prelogin-visible KDF material not persisted: %+v", u)
	}
	if len(u.AuthSalt) == 0 || len(u.PwdHash) == 0 {
		t.Fatalf("server-side auth material not persisted: %+v", u)
	}
}

func TestAuth_LoginWithIP_RateLimiterAndCreds(t *testing.T) {
	t.Parallel()

	authSalt, _ := pkgcrypto.RandBytes(16)
	pw := []byte("correct")
	u := &model.User{
		ID:       uuid.Must(uuid.NewV4()),
		Email:    "alice@example.com",
		AuthSalt: authSalt,
		PwdHash:  pkgcrypto.HashPassword(pw, authSalt),
	}

	users := &fakeUsers{byEmail: map[string]*model.User{"alice@example.com": u}}
	lim := &fakeLimiter{allowOK: true}
	s := NewAuthService(users, []byte("secret"), 2*time.Minute, time.Hour, lim, testKDFParams())

	lim.allowErr = errors.New("lim-err")
	if _, _, err := s.LoginWithIP(context.Background(), "alice@example.com", "correct", "", "1.2.3.4"); err == nil {
		t.Fatalf("want limiter error propagate")
	}
	lim.allowErr = nil

	lim.allowOK = false
	if _, _, err := s.LoginWithIP(context.Background(), "alice@example.com", "correct", "", "1.2.3.4"); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}
	lim.allowOK = true

	users.getErr = errs.ErrNotFound
	if _, _, err := s.LoginWithIP(context.Background(), "nope@example.com", "x", "", ""); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on missing user, got %v", err)
	}
	users.getErr = nil

	lim.failBlocked = true
	if _, _, err := s.LoginWithIP(context.Background(), "alice@example.com", "wrong", "", ""); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited on blocked after failure, got %v", err)
	}

	lim.failBlocked = false
	if _, _, err := s.LoginWithIP(context.Background(), "alice@example.com", "wrong", "", ""); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on wrong password, got %v", err)
	}

	tok, gotUser, err := s.LoginWithIP(context.Background(), "alice@example.com", "correct", "device-1", "127.0.0.1:123")
	if err != nil {
		t.Fatalf("LoginWithIP success: %v", err)
	}
	if tok.AccessToken == "" || tok.RefreshToken == "" || tok.ExpiresAt.Before(time.Now()) {
		t.Fatalf("bad token: %+v", tok)
	}
	if gotUser.ID != u.ID {
		t.Fatalf("bad user returned: %+v", gotUser)
	}
	if lim.successCalls == 0 {
		t.Fatalf("expected Success() to be called")
	}
}

func TestAuth_Refresh_RoundTrip(t *testing.T) {
	t.Parallel()
	authSalt, _ := pkgcrypto.RandBytes(16)
	u := &model.User{ID: uuid.Must(uuid.NewV4()), Email: "bob@example.com", AuthSalt: authSalt,
		PwdHash: pkgcrypto.HashPassword([]byte("p"), authSalt)}
	users := &fakeUsers{byEmail: map[string]*model.User{"bob@example.com": u}}
	s := NewAuthService(users, []byte("k"), time.Minute, time.Hour, &fakeLimiter{allowOK: true}, testKDFParams())

	first, _, err := s.LoginWithIP(context.Background(), "bob@example.com", "p", "", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	refreshed, err := s.Refresh(context.Background(), first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.AccessToken == "" {
		t.Fatalf("empty access token from refresh")
	}

	if _, err := s.Refresh(context.Background(), first.AccessToken); err == nil {
		t.Fatalf("want rejection of an access token presented as a refresh token")
	}
	if _, err := s.Refresh(context.Background(), "not-a-jwt"); err == nil {
		t.Fatalf("want rejection of a malformed token")
	}
}

func TestAuth_issueTokens_TTLOnLogin(t *testing.T) {
	t.Parallel()

	users := &fakeUsers{byEmail: map[string]*model.User{}}
	lim := &fakeLimiter{allowOK: true}
	s := NewAuthService(users, []byte("k"), 1*time.Second, time.Hour, lim, testKDFParams())

	salt, _ := pkgcrypto.RandBytes(16)
	u := &model.User{
		ID: uuid.Must(uuid.NewV4()), Email: "bob@example.com", AuthSalt: salt,
		PwdHash: pkgcrypto.HashPassword([]byte("p"), salt),
	}
	_ = users.Create(context.Background(), u)

	tk, _, err := s.LoginWithIP(context.Background(), "bob@example.com", "p", "", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if tk.AccessToken == "" {
		t.Fatalf("empty token")
	}
	if time.Until(tk.ExpiresAt) <= 0 {
		t.Fatalf("token already expired: %v", tk.ExpiresAt)
	}
}
