package credential

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"gcli2api-go/internal/storage"
)

// Pool holds the in-memory view of every credential in a namespace and
// keeps it in sync with a storage.Backend. Selection is a uniform shuffle
// over the non-disabled, non-cooled-down set rather than round-robin, so
// load spreads evenly without tracking a cursor (§4.B).
type Pool struct {
	mu sync.RWMutex

	namespace string
	backend   storage.Backend
	rng       *rand.Rand

	creds map[string]*Credential // filename -> credential
	order int64                  // monotonic counter for RotationOrder

	MaxErrorHistory   int
	AutoDisableWindow int
	CooldownSeconds   int
}

// NewPool constructs a Pool bound to one namespace of a storage backend.
func NewPool(backend storage.Backend, namespace string) *Pool {
	return &Pool{
		namespace:         namespace,
		backend:           backend,
		rng:               rand.New(rand.NewSource(time.Now().UnixNano())),
		creds:             make(map[string]*Credential),
		MaxErrorHistory:   10,
		AutoDisableWindow: 3,
		CooldownSeconds:   60,
	}
}

// Load populates the pool from storage, replacing whatever was in memory.
func (p *Pool) Load(ctx context.Context) error {
	names, err := p.backend.ListCredentials(ctx, p.namespace)
	if err != nil {
		return fmt.Errorf("list credentials: %w", err)
	}

	loaded := make(map[string]*Credential, len(names))
	var order int64
	for _, name := range names {
		data, err := p.backend.GetCredential(ctx, p.namespace, name)
		if err != nil || data == nil {
			log.WithField("filename", name).WithError(err).Warn("credential pool: skipping unreadable credential")
			continue
		}
		order++
		loaded[name] = fromStored(name, data, order)
	}

	p.mu.Lock()
	p.creds = loaded
	p.order = order
	p.mu.Unlock()
	return nil
}

func fromStored(filename string, data map[string]any, order int64) *Credential {
	c := NewCredential(filename, data, order)
	if disabled, ok := data["disabled"].(bool); ok {
		c.Disabled = disabled
	}
	if email, ok := data["user_email"].(string); ok {
		c.UserEmail = email
	}
	if ls, ok := toInt64(data["last_success"]); ok {
		c.LastSuccess = ls
	}
	if codes, ok := data["error_codes"].([]any); ok {
		for _, v := range codes {
			if n, ok := toInt64(v); ok {
				c.ErrorCodes = append(c.ErrorCodes, int(n))
			}
		}
	}
	if cds, ok := data["model_cooldowns"].(map[string]any); ok {
		for k, v := range cds {
			if until, ok := toInt64(v); ok {
				c.ModelCooldowns[k] = until
			}
		}
	}
	if cc, ok := toInt64(data["call_count"]); ok {
		c.CallCount = cc
	}
	return c
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case float64:
		return int64(t), true
	case int:
		return int64(t), true
	}
	return 0, false
}

// Add registers a new credential both in memory and in storage, respecting
// the backend's refresh_token dedup. Returns false if it was a duplicate.
func (p *Pool) Add(ctx context.Context, filename string, data map[string]any) (bool, error) {
	ok, err := p.backend.StoreCredential(ctx, p.namespace, filename, data)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	p.mu.Lock()
	p.order++
	p.creds[filename] = fromStored(filename, data, p.order)
	p.mu.Unlock()
	return true, nil
}

// Remove deletes a credential from both memory and storage.
func (p *Pool) Remove(ctx context.Context, filename string) error {
	p.mu.Lock()
	delete(p.creds, filename)
	p.mu.Unlock()
	return p.backend.DeleteCredential(ctx, p.namespace, filename)
}

// GetValidCredential returns a uniformly-random credential eligible for
// modelKey: not disabled and not on cooldown for that model. The second
// return is false when the pool has nothing usable.
func (p *Pool) GetValidCredential(ctx context.Context, modelKey string) (*Credential, bool) {
	now := time.Now().Unix()

	p.mu.RLock()
	candidates := make([]*Credential, 0, len(p.creds))
	for _, c := range p.creds {
		if c.IsDisabled() {
			continue
		}
		if c.IsCooledDown(modelKey, now) {
			continue
		}
		candidates = append(candidates, c)
	}
	p.mu.RUnlock()

	if len(candidates) == 0 {
		return nil, false
	}

	p.mu.Lock()
	idx := p.rng.Intn(len(candidates))
	p.mu.Unlock()

	return candidates[idx].Clone(), true
}

// RecordSuccess marks a call as successful both in memory and storage.
func (p *Pool) RecordSuccess(ctx context.Context, filename string) {
	p.mu.RLock()
	c := p.creds[filename]
	p.mu.RUnlock()
	if c == nil {
		return
	}
	c.RecordSuccess()
	p.persistState(ctx, c)
}

// IncrementCallCount bumps the usage counter for a credential.
func (p *Pool) IncrementCallCount(ctx context.Context, filename string) {
	p.mu.RLock()
	c := p.creds[filename]
	p.mu.RUnlock()
	if c == nil {
		return
	}
	c.IncrementCallCount()
	p.persistState(ctx, c)
}

// RecordError records a failed call, possibly starting a cooldown or
// disabling the credential, and persists the resulting state.
func (p *Pool) RecordError(ctx context.Context, filename string, statusCode int, modelKey string) {
	p.mu.RLock()
	c := p.creds[filename]
	p.mu.RUnlock()
	if c == nil {
		return
	}
	c.RecordError(statusCode, modelKey, p.MaxErrorHistory, p.AutoDisableWindow, p.CooldownSeconds)
	p.persistState(ctx, c)

	if c.IsDisabled() {
		log.WithFields(log.Fields{"filename": filename, "namespace": p.namespace}).
			Warn("credential pool: auto-disabled after trailing fatal errors")
	}
}

// UpdateAccessToken persists a refreshed access token for a credential.
func (p *Pool) UpdateAccessToken(ctx context.Context, filename, accessToken string, expiry int64) {
	p.mu.RLock()
	c := p.creds[filename]
	p.mu.RUnlock()
	if c == nil {
		return
	}
	c.SetTokens(accessToken, expiry)
	if err := p.backend.UpdateCredentialState(ctx, p.namespace, filename, map[string]any{
		"access_token": accessToken,
		"expiry":       expiry,
	}); err != nil {
		log.WithError(err).Warn("credential pool: persist refreshed token failed")
	}
}

func (p *Pool) persistState(ctx context.Context, c *Credential) {
	snap := c.Clone()
	cooldowns := make(map[string]any, len(snap.ModelCooldowns))
	for k, v := range snap.ModelCooldowns {
		cooldowns[k] = v
	}
	codes := make([]any, len(snap.ErrorCodes))
	for i, v := range snap.ErrorCodes {
		codes[i] = v
	}
	state := map[string]any{
		"disabled":        snap.Disabled,
		"error_codes":     codes,
		"last_success":    snap.LastSuccess,
		"model_cooldowns": cooldowns,
		"call_count":      snap.CallCount,
	}
	if err := p.backend.UpdateCredentialState(ctx, p.namespace, snap.Filename, state); err != nil {
		log.WithError(err).Warn("credential pool: persist state failed")
	}
}

// Summary returns the paginated listing used by the management surface.
func (p *Pool) Summary(ctx context.Context, filter storage.CredentialsSummaryFilter) (storage.CredentialsSummary, error) {
	return p.backend.GetCredentialsSummary(ctx, p.namespace, filter)
}

// Snapshot returns a defensive copy of every credential currently held.
func (p *Pool) Snapshot() []*Credential {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Credential, 0, len(p.creds))
	for _, c := range p.creds {
		out = append(out, c.Clone())
	}
	return out
}

// Len reports how many credentials are currently tracked.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.creds)
}
