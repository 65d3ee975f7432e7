// Package httpapi is the JSON/HTTP transport (spec.md §6.1) over the core
// services: thin request decoding, response encoding, and error-envelope
// mapping, with no business logic of its own.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/zann-project/zann/internal/crypto/envelope"
	"github.com/zann-project/zann/internal/crypto/keyhierarchy"
	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/prelogin"
	"github.com/zann-project/zann/internal/repository"
	"github.com/zann-project/zann/internal/rotation"
	"github.com/zann-project/zann/internal/secrets"
	"github.com/zann-project/zann/internal/service"
)

// VaultKeyResolver resolves a shared vault's unwrapped key for server-side
// decryption (secrets, plain-representation file download, shared pull).
type VaultKeyResolver func(ctx context.Context, vaultID uuid.UUID) (envelope.Key, error)

// VaultKeyIssuer mints a fresh vault key for a Shared vault and returns it
// wrapped under the Server Master Key. Clients never see the SMK, so a
// Shared vault's vault_key_enc cannot be supplied by the caller the way a
// Personal vault's can (wrapped locally under the owner's master key) — the
// server generates and wraps it instead, at creation and at key rotation.
type VaultKeyIssuer func(ctx context.Context, vaultID uuid.UUID) ([]byte, error)

// API bundles the core services the transport dispatches to.
type API struct {
	auth        service.AuthService
	vaults      *service.VaultService
	items       *service.ItemService
	itemRepo    repository.ItemRepository
	syncRepo    repository.SyncRepository
	rotation    *rotation.Service
	secrets     *secrets.Service
	prelogin    *prelogin.Service
	vaultKey    VaultKeyResolver
	issueVault  VaultKeyIssuer
	signKey     []byte
	log         *zap.Logger
	historyLimit int
}

// NewAPI constructs the transport's service bundle.
func NewAPI(
	auth service.AuthService,
	vaults *service.VaultService,
	items *service.ItemService,
	itemRepo repository.ItemRepository,
	syncRepo repository.SyncRepository,
	rot *rotation.Service,
	sec *secrets.Service,
	pre *prelogin.Service,
	vaultKey VaultKeyResolver,
	issueVault VaultKeyIssuer,
	signKey []byte,
	historyLimit int,
	log *zap.Logger,
) *API {
	return &API{
		auth: auth, vaults: vaults, items: items, itemRepo: itemRepo, syncRepo: syncRepo,
		rotation: rot, secrets: sec, prelogin: pre,
		vaultKey: vaultKey, issueVault: issueVault,
		signKey: signKey, historyLimit: historyLimit, log: log,
	}
}

func (a *API) decryptForVault(ctx context.Context, vaultID, itemID uuid.UUID, payloadEnc []byte) ([]byte, error) {
	key, err := a.vaultKey(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	pt, err := keyhierarchy.UnwrapPayload(key, vaultID, itemID, payloadEnc)
	if err != nil {
		return nil, errs.New(errs.KindPayloadDecryptFailed, "decrypt payload")
	}
	return pt, nil
}

func pathParam(r *http.Request, key string) string { return chi.URLParam(r, key) }

// NewRouter builds the chi router implementing spec.md §6.1's route shapes.
func NewRouter(a *API) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(Recover(a.log))
	r.Use(Logging(a.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}))

	r.Route("/v1/auth", func(r chi.Router) {
		r.Get("/prelogin", a.handlePrelogin)
		r.Post("/register", a.handleRegister)
		r.Post("/login", a.handleLogin)
		r.Post("/login/oidc", a.handleLoginOIDC)
		r.Post("/refresh", a.handleRefresh)
		r.Post("/logout", a.handleLogout)
		r.Post("/service-account", a.handleServiceAccountLogin)
	})

	r.Route("/v1/vaults", func(r chi.Router) {
		r.Use(Auth(a.signKey))
		r.Get("/", a.handleListVaults)
		r.Post("/", a.handleCreateVault)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.handleGetVault)
			r.Put("/", a.handleUpdateVault)
			r.Delete("/", a.handleDeleteVault)
			r.Put("/key", a.handleRotateVaultKey)
		})
		r.Route("/{vid}/items", func(r chi.Router) {
			r.Get("/", a.handleListItems)
			r.Post("/", a.handleCreateItem)
			r.Route("/{iid}", func(r chi.Router) {
				r.Get("/", a.handleGetItem)
				r.Put("/", a.handleUpdateItem)
				r.Delete("/", a.handleDeleteItem)
				r.Get("/versions", a.handleListVersions)
				r.Get("/versions/{v}", a.handleGetVersion)
				r.Post("/versions/{v}/restore", a.handleRestoreVersion)
				r.Get("/file", a.handleGetItemFile)
				r.Post("/file", a.handlePutItemFile)
			})
		})
		r.Route("/{vid}/secrets", func(r chi.Router) {
			r.Get("/*", a.handleSecretGet)
			r.Post("/ensure", a.handleSecretEnsure)
			r.Post("/rotate", a.handleSecretRotate)
			r.Post("/batch/ensure", a.handleSecretBatchEnsure)
			r.Post("/batch/get", a.handleSecretBatchGet)
		})
	})

	r.Route("/v1/sync", func(r chi.Router) {
		r.Use(Auth(a.signKey))
		r.Post("/pull", a.handlePull(false))
		r.Post("/push", a.handlePush(false))
		r.Post("/shared/pull", a.handlePull(true))
		r.Post("/shared/push", a.handlePush(true))
	})

	r.Route("/v1/shared/items/{iid}/rotate", func(r chi.Router) {
		r.Use(Auth(a.signKey))
		r.Post("/start", a.handleRotationStart)
		r.Get("/status", a.handleRotationStatus)
		r.Get("/candidate", a.handleRotationCandidate)
		r.Post("/recover", a.handleRotationRecover)
		r.Post("/commit", a.handleRotationCommit)
		r.Post("/abort", a.handleRotationAbort)
	})

	return r
}
