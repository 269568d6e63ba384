// Package credential implements the credential pool manager: selection,
// rotation, per-model cooldowns and error-driven disabling (§4.B).
package credential

import (
	"sync"
	"time"
)

// Credential is one OAuth token bundle tracked by the pool, identified by
// an opaque Filename. All mutation goes through its methods, which hold
// the embedded lock — callers never touch the fields directly.
type Credential struct {
	mu sync.RWMutex

	Filename       string
	Data           map[string]any // credential_data: refresh_token, access_token, expiry, project_id, ...
	Disabled       bool
	ErrorCodes     []int
	LastSuccess    int64 // seconds-epoch
	UserEmail      string
	ModelCooldowns map[string]int64 // model key -> seconds-epoch until usable
	RotationOrder  int64
	CallCount      int64
}

// NewCredential constructs a Credential from a raw token bundle.
func NewCredential(filename string, data map[string]any, rotationOrder int64) *Credential {
	return &Credential{
		Filename:       filename,
		Data:           data,
		ModelCooldowns: make(map[string]int64),
		RotationOrder:  rotationOrder,
	}
}

// Clone returns a deep copy safe to hand to callers outside the pool's lock.
func (c *Credential) Clone() *Credential {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dataCopy := make(map[string]any, len(c.Data))
	for k, v := range c.Data {
		dataCopy[k] = v
	}
	cooldowns := make(map[string]int64, len(c.ModelCooldowns))
	for k, v := range c.ModelCooldowns {
		cooldowns[k] = v
	}
	codes := append([]int(nil), c.ErrorCodes...)

	return &Credential{
		Filename:       c.Filename,
		Data:           dataCopy,
		Disabled:       c.Disabled,
		ErrorCodes:     codes,
		LastSuccess:    c.LastSuccess,
		UserEmail:      c.UserEmail,
		ModelCooldowns: cooldowns,
		RotationOrder:  c.RotationOrder,
		CallCount:      c.CallCount,
	}
}

// RefreshToken returns the credential's OAuth refresh token, if present.
func (c *Credential) RefreshToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.Data["refresh_token"].(string); ok {
		return v
	}
	return ""
}

// AccessToken returns the current access token.
func (c *Credential) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.Data["access_token"].(string); ok {
		return v
	}
	return ""
}

// IsExpired reports whether the stored access token's expiry has passed,
// with a small safety margin (aheadSeconds) to refresh proactively.
func (c *Credential) IsExpired(aheadSeconds int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	expiry, ok := c.Data["expiry"]
	if !ok {
		return true
	}
	var expirySeconds int64
	switch v := expiry.(type) {
	case int64:
		expirySeconds = v
	case float64:
		expirySeconds = int64(v)
	default:
		return true
	}
	return time.Now().Unix()+int64(aheadSeconds) >= expirySeconds
}

// SetTokens updates the access token and expiry after a refresh.
func (c *Credential) SetTokens(accessToken string, expiry int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Data["access_token"] = accessToken
	c.Data["expiry"] = expiry
}

// IsDisabled reports whether the credential is currently disabled.
func (c *Credential) IsDisabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Disabled
}

// CooldownUntil returns the cooldown deadline for a model key, or 0 if none.
func (c *Credential) CooldownUntil(modelKey string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ModelCooldowns[modelKey]
}

// IsCooledDown reports whether the model key is currently on cooldown.
func (c *Credential) IsCooledDown(modelKey string, now int64) bool {
	if modelKey == "" {
		return false
	}
	return c.CooldownUntil(modelKey) > now
}

// RecordError appends a status code to the trailing error history, bounded
// to maxHistory entries, sets a per-model cooldown on 429, and disables the
// credential if the trailing autoDisableWindow entries are all fatal
// (401/403).
func (c *Credential) RecordError(statusCode int, modelKey string, maxHistory, autoDisableWindow, cooldownSeconds int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ErrorCodes = append(c.ErrorCodes, statusCode)
	if len(c.ErrorCodes) > maxHistory {
		c.ErrorCodes = c.ErrorCodes[len(c.ErrorCodes)-maxHistory:]
	}

	if statusCode == 429 && modelKey != "" {
		c.ModelCooldowns[modelKey] = time.Now().Unix() + int64(cooldownSeconds)
	}

	if autoDisableWindow > 0 && len(c.ErrorCodes) >= autoDisableWindow {
		trailing := c.ErrorCodes[len(c.ErrorCodes)-autoDisableWindow:]
		allFatal := true
		for _, code := range trailing {
			if code != 401 && code != 403 {
				allFatal = false
				break
			}
		}
		if allFatal {
			c.Disabled = true
		}
	}
}

// RecordSuccess clears error history and stamps the last-success time.
func (c *Credential) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LastSuccess = time.Now().Unix()
	c.ErrorCodes = nil
}

// IncrementCallCount bumps the best-effort usage counter.
func (c *Credential) IncrementCallCount() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCount++
}

// SetModelCooldown sets an explicit cooldown deadline for a model key.
func (c *Credential) SetModelCooldown(modelKey string, until int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ModelCooldowns[modelKey] = until
}
