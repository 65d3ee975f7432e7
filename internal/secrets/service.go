package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/crypto/envelope"
	"github.com/zann-project/zann/internal/crypto/keyhierarchy"
	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
	"github.com/zann-project/zann/internal/repository"
)

// VaultKeyResolver returns the unwrapped vault key for a shared vault.
type VaultKeyResolver func(ctx context.Context, vaultID uuid.UUID) (envelope.Key, error)

// UsageRecorder is invoked fire-and-forget after a successful Get (spec.md
// §4.9: "records read usage asynchronously ... errors do not affect the
// response").
type UsageRecorder func(ctx context.Context, vaultID, itemID uuid.UUID)

// payload is the JSON shape stored for every secret item.
type payload struct {
	Value  string         `json:"value"`
	Policy string         `json:"policy"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// Service implements ensure/rotate/get/batch_ensure/batch_get over
// server-encrypted items (spec.md §4.9, component C9).
type Service struct {
	items        repository.ItemRepository
	vaultKeys    VaultKeyResolver
	policies     *Registry
	recordUsage  UsageRecorder
	historyLimit int
}

// New constructs a Service. recordUsage may be nil, in which case Get
// records nothing.
func New(items repository.ItemRepository, vaultKeys VaultKeyResolver, policies *Registry, recordUsage UsageRecorder, historyLimit int) *Service {
	if historyLimit <= 0 {
		historyLimit = 5
	}
	return &Service{items: items, vaultKeys: vaultKeys, policies: policies, recordUsage: recordUsage, historyLimit: historyLimit}
}

func (s *Service) decode(ctx context.Context, vaultID uuid.UUID, it *model.Item) (payload, error) {
	key, err := s.vaultKeys(ctx, vaultID)
	if err != nil {
		return payload{}, fmt.Errorf("secrets: resolve vault key: %w", err)
	}
	pt, err := keyhierarchy.UnwrapPayload(key, vaultID, it.ID, it.PayloadEnc)
	if err != nil {
		return payload{}, errs.New(errs.KindPayloadDecryptFailed, "decrypt secret payload")
	}
	var p payload
	if err := json.Unmarshal(pt, &p); err != nil {
		return payload{}, errs.New(errs.KindInvalidPayload, "secret payload is not valid JSON")
	}
	return p, nil
}

func (s *Service) encode(ctx context.Context, vaultID, itemID uuid.UUID, p payload) ([]byte, string, error) {
	key, err := s.vaultKeys(ctx, vaultID)
	if err != nil {
		return nil, "", fmt.Errorf("secrets: resolve vault key: %w", err)
	}
	pt, err := json.Marshal(p)
	if err != nil {
		return nil, "", errs.New(errs.KindPayloadEncryptFailed, "marshal secret payload")
	}
	enc, err := keyhierarchy.WrapPayload(key, vaultID, itemID, pt)
	if err != nil {
		return nil, "", errs.New(errs.KindPayloadEncryptFailed, "encrypt secret payload")
	}
	return enc, envelope.Checksum(enc), nil
}

// Ensure returns the existing secret at path if one exists (enforcing the
// policy-identity invariant), else generates and inserts a new one.
func (s *Service) Ensure(ctx context.Context, vaultID uuid.UUID, path, policyName string, meta map[string]any, actor model.ActorSnapshot) (model.Item, error) {
	path, name, err := repository.NormalizePath(path)
	if err != nil {
		return model.Item{}, err
	}
	policy, err := s.policies.Resolve(policyName)
	if err != nil {
		return model.Item{}, err
	}

	existing, err := s.items.GetByVaultPath(ctx, vaultID, path)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.Item{}, fmt.Errorf("secrets ensure: lookup: %w", err)
	}
	if existing != nil {
		cur, derr := s.decode(ctx, vaultID, existing)
		if derr != nil {
			return model.Item{}, derr
		}
		if cur.Policy != policy.Name {
			return model.Item{}, errs.New(errs.KindPolicyMismatch, "secret policy mismatch").
				WithDetails(map[string]any{"existing": cur.Policy, "requested": policy.Name})
		}
		return *existing, nil
	}

	value, err := Generate(policy)
	if err != nil {
		return model.Item{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return model.Item{}, err
	}
	payloadEnc, checksum, err := s.encode(ctx, vaultID, id, payload{Value: value, Policy: policy.Name, Meta: meta})
	if err != nil {
		return model.Item{}, err
	}
	return s.items.Create(ctx, vaultID, repository.NewItem{
		Item:  model.Item{ID: id, VaultID: vaultID, Path: path, Name: name, TypeID: "secret", PayloadEnc: payloadEnc, Checksum: checksum},
		Actor: actor,
	}, s.historyLimit)
}

// Rotate regenerates the value at path unconditionally, bumping version and
// writing the pre-rotation payload to history.
func (s *Service) Rotate(ctx context.Context, vaultID uuid.UUID, path, policyName string, meta map[string]any, rowVersion int64, actor model.ActorSnapshot) (model.Item, error) {
	path, name, err := repository.NormalizePath(path)
	if err != nil {
		return model.Item{}, err
	}
	policy, err := s.policies.Resolve(policyName)
	if err != nil {
		return model.Item{}, err
	}
	existing, err := s.items.GetByVaultPath(ctx, vaultID, path)
	if err != nil {
		return model.Item{}, err
	}

	value, err := Generate(policy)
	if err != nil {
		return model.Item{}, err
	}
	payloadEnc, checksum, err := s.encode(ctx, vaultID, existing.ID, payload{Value: value, Policy: policy.Name, Meta: meta})
	if err != nil {
		return model.Item{}, err
	}
	return s.items.Update(ctx, vaultID, repository.ItemUpdate{
		ID: existing.ID, RowVersion: rowVersion, Path: path, Name: name, TypeID: "secret",
		PayloadEnc: payloadEnc, Checksum: checksum, Actor: actor,
	}, s.historyLimit)
}

// Get decrypts and returns the value at path, recording read usage
// fire-and-forget.
func (s *Service) Get(ctx context.Context, vaultID uuid.UUID, path string) (string, error) {
	path, _, err := repository.NormalizePath(path)
	if err != nil {
		return "", err
	}
	it, err := s.items.GetByVaultPath(ctx, vaultID, path)
	if err != nil {
		return "", err
	}
	p, err := s.decode(ctx, vaultID, it)
	if err != nil {
		return "", err
	}
	if s.recordUsage != nil {
		go s.recordUsage(context.WithoutCancel(ctx), vaultID, it.ID)
	}
	return p.Value, nil
}

// BatchResult is one entry of a batch_ensure/batch_get response; a batch
// never short-circuits on one path's failure (spec.md §4.9).
type BatchResult struct {
	Path  string
	Item  model.Item
	Value string
	Err   error
}

// BatchEnsureInput is one requested path within a batch_ensure call.
type BatchEnsureInput struct {
	Path       string
	PolicyName string
	Meta       map[string]any
}

// BatchEnsure runs Ensure over every input, collecting per-path results.
func (s *Service) BatchEnsure(ctx context.Context, vaultID uuid.UUID, inputs []BatchEnsureInput, actor model.ActorSnapshot) []BatchResult {
	out := make([]BatchResult, len(inputs))
	for i, in := range inputs {
		item, err := s.Ensure(ctx, vaultID, in.Path, in.PolicyName, in.Meta, actor)
		out[i] = BatchResult{Path: in.Path, Item: item, Err: err}
	}
	return out
}

// BatchGet runs Get over every path, collecting per-path results.
func (s *Service) BatchGet(ctx context.Context, vaultID uuid.UUID, paths []string) []BatchResult {
	out := make([]BatchResult, len(paths))
	for i, p := range paths {
		value, err := s.Get(ctx, vaultID, p)
		out[i] = BatchResult{Path: p, Value: value, Err: err}
	}
	return out
}
