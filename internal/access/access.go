// Package access implements the collaborator-facing access decision
// contract (spec.md §4.7, component C7): a pure function from an identity,
// an action, and a resource to Allow/Deny/NoMatch. It has no persistence of
// its own — callers (internal/httpapi, internal/service) resolve the
// identity and resource first and pass the already-loaded values in.
package access

import "github.com/gofrs/uuid/v5"

// Decision is the outcome of Evaluate.
type Decision int

const (
	// NoMatch means no rule applied; the caller should fall through to a
	// default (usually Deny).
	NoMatch Decision = iota
	Allow
	Deny
)

// VaultRole is a member's role within a shared vault (spec.md §3.1).
type VaultRole string

const (
	RoleOwner  VaultRole = "owner"
	RoleEditor VaultRole = "editor"
	RoleViewer VaultRole = "viewer"
)

// Action is a coarse-grained operation name checked against a role or scope.
type Action string

const (
	ActionRead     Action = "read"
	ActionWrite    Action = "write"
	ActionDelete   Action = "delete"
	ActionRestore  Action = "restore"
	ActionRotate   Action = "rotate"
	ActionManage   Action = "manage" // membership/key changes
)

// Identity is the minimal caller shape Evaluate needs: either a user acting
// through a vault role, or a service account acting through path scopes.
type Identity struct {
	UserID           uuid.UUID
	VaultRole        VaultRole // zero value if this identity is not a vault member
	ServiceAccountID uuid.UUID
	Scopes           []Scope // only set for service accounts
	DeviceID         uuid.NullUUID
}

// Scope is one service-account grant: a path prefix plus the actions it allows.
type Scope struct {
	PathPrefix string
	Actions    []Action
}

// Resource is the object an Action is being evaluated against.
type Resource struct {
	VaultID       uuid.UUID
	Path          string
	RequireDevice bool // spec.md's device_required precondition for this resource
}

// Evaluate resolves a decision for identity performing action on resource.
// It never consults a database: VaultRoleAllows/ScopesAllowVault are pure
// predicates over already-loaded identity state.
func Evaluate(identity Identity, action Action, resource Resource) Decision {
	if resource.RequireDevice && identity.DeviceID.UUID == uuid.Nil {
		return Deny
	}
	if identity.ServiceAccountID != uuid.Nil {
		if ServiceAccountAllowsPath(identity.Scopes, resource.Path, action) {
			return Allow
		}
		return Deny
	}
	if identity.VaultRole != "" {
		if VaultRoleAllows(identity.VaultRole, action) {
			return Allow
		}
		return Deny
	}
	return NoMatch
}

// VaultRoleAllows reports whether role permits action, independent of any
// specific resource (spec.md §4.7's "vault_role_allows").
func VaultRoleAllows(role VaultRole, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleEditor:
		switch action {
		case ActionRead, ActionWrite, ActionDelete, ActionRestore:
			return true
		default:
			return false
		}
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// ScopesAllowVault reports whether any scope in scopes grants action,
// under any path prefix — used to short-circuit a vault-level listing
// before checking individual paths.
func ScopesAllowVault(scopes []Scope, action Action) bool {
	for _, sc := range scopes {
		for _, a := range sc.Actions {
			if a == action {
				return true
			}
		}
	}
	return false
}

// ServiceAccountAllowsPrefix reports whether scopes grant action anywhere
// under prefix.
func ServiceAccountAllowsPrefix(scopes []Scope, prefix string, action Action) bool {
	for _, sc := range scopes {
		if !hasPathPrefix(prefix, sc.PathPrefix) && !hasPathPrefix(sc.PathPrefix, prefix) {
			continue
		}
		for _, a := range sc.Actions {
			if a == action {
				return true
			}
		}
	}
	return false
}

// ServiceAccountAllowsPath reports whether scopes grant action on the exact path.
func ServiceAccountAllowsPath(scopes []Scope, path string, action Action) bool {
	for _, sc := range scopes {
		if !hasPathPrefix(path, sc.PathPrefix) {
			continue
		}
		for _, a := range sc.Actions {
			if a == action {
				return true
			}
		}
	}
	return false
}

func hasPathPrefix(path, prefix string) bool {
	if prefix == "" || prefix == "/" {
		return true
	}
	if len(path) < len(prefix) {
		return false
	}
	return path[:len(prefix)] == prefix
}
