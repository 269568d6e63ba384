// Package storage defines the uniform credential/config store (§4.A) and
// its backends: relational (Postgres), hash-store (Redis-compatible) and
// a file-based fallback.
package storage

import "context"

// ErrNotFound is returned by Get-style calls for keys that don't exist.
// Per §4.A's error policy, backends are expected not to propagate this
// past their own package — callers see it only from the backends
// themselves, never leaking out of the credential pool.
type ErrNotFound struct{ Key string }

func (e *ErrNotFound) Error() string { return "not found: " + e.Key }

// CredentialsSummaryFilter narrows a credentials summary listing.
type CredentialsSummaryFilter struct {
	Offset          int
	Limit           int
	StatusFilter    string // "enabled", "disabled", ""
	ErrorCodeFilter int    // 0 means unset
	CooldownFilter  bool
}

// CredentialsSummary is a paginated, display-oriented view of the pool.
type CredentialsSummary struct {
	Total   int
	Entries []map[string]any
}

// Backend is the capability set every storage implementation provides.
// Namespace selects between the normal and "antigravity" credential
// tables/prefixes (§6); an empty namespace means the normal one.
type Backend interface {
	Initialize(ctx context.Context) error
	Close() error
	Health(ctx context.Context) error

	GetCredential(ctx context.Context, namespace, filename string) (map[string]any, error)
	ListCredentials(ctx context.Context, namespace string) ([]string, error)
	// StoreCredential returns ok=false without writing when a different
	// filename in the same namespace already holds the same refresh_token.
	StoreCredential(ctx context.Context, namespace, filename string, data map[string]any) (ok bool, err error)
	DeleteCredential(ctx context.Context, namespace, filename string) error

	// UpdateCredentialState patches only the mutable state fields
	// (disabled, error_codes, last_success, user_email, model_cooldowns,
	// call_count, plus access_token and expiry after a refresh) of an
	// existing credential.
	UpdateCredentialState(ctx context.Context, namespace, filename string, state map[string]any) error
	SetModelCooldown(ctx context.Context, namespace, filename, modelKey string, until int64) error

	GetCredentialsSummary(ctx context.Context, namespace string, filter CredentialsSummaryFilter) (CredentialsSummary, error)

	GetConfig(ctx context.Context, key string) (any, bool)
	SetConfig(ctx context.Context, key string, value any) error
	DeleteConfig(ctx context.Context, key string) error
	ReloadConfigCache(ctx context.Context) error
}
