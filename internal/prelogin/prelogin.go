// Package prelogin implements the KDF-parameter advertisement contract
// (spec.md §4.8, component C8): given an email, tell the caller which KDF
// salt/params to derive a master key with, without revealing whether the
// account exists.
package prelogin

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/zann-project/zann/internal/crypto/envelope"
	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
	"github.com/zann-project/zann/internal/repository"
)

// Response is the prelogin tuple returned to a client (spec.md §6.1).
type Response struct {
	KDFSalt         []byte
	KDFParams       model.KDFParams
	SaltFingerprint string
}

// Service advertises KDF parameters for known and unknown accounts alike.
// Unknown accounts get a stable synthesized tuple so existence and timing
// do not leak (spec.md §4.8).
type Service struct {
	users  repository.UserRepository
	pepper []byte
	params model.KDFParams
}

// New constructs a Service. pepper is a server-held secret that seeds the
// deterministic salt synthesized for unknown accounts; defaultParams is
// advertised for any account that has none of its own yet.
func New(users repository.UserRepository, pepper []byte, defaultParams model.KDFParams) *Service {
	return &Service{users: users, pepper: pepper, params: defaultParams}
}

// Lookup resolves the KDF tuple for email, synthesizing one deterministically
// when the account is unknown rather than caching a one-off random value —
// this keeps the server stateless across restarts/nodes while still being
// stable per email (spec.md §4.8: "core may choose random() once then cache;
// the important property: timing and existence do not leak").
func (s *Service) Lookup(ctx context.Context, email string) (Response, error) {
	u, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return build(u.KdfSalt, u.KdfParams), nil
	case errors.Is(err, errs.ErrNotFound):
		return build(s.synthesizeSalt(email), s.params), nil
	default:
		return Response{}, fmt.Errorf("prelogin lookup: %w", err)
	}
}

func (s *Service) synthesizeSalt(email string) []byte {
	mac := hmac.New(sha256.New, s.pepper)
	mac.Write([]byte(strings.ToLower(strings.TrimSpace(email))))
	return mac.Sum(nil)
}

func build(salt []byte, params model.KDFParams) Response {
	return Response{
		KDFSalt:         salt,
		KDFParams:       params,
		SaltFingerprint: envelope.Fingerprint(append(append([]byte{}, salt...), canonicalParams(params)...)),
	}
}

// canonicalParams renders params deterministically for fingerprinting
// (spec.md §4.8: "H(kdf_salt || kdf_params_canonical)").
func canonicalParams(p model.KDFParams) []byte {
	return []byte(fmt.Sprintf("%s:%d:%d:%d", p.Algorithm, p.Iterations, p.MemoryKB, p.Parallelism))
}
