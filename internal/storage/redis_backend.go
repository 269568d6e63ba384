package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RedisBackend stores each credential as a JSON blob under a single key
// and tracks membership in a per-namespace set, since Redis has no native
// uniqueness constraint to dedup on refresh_token the way Postgres does.
type RedisBackend struct {
	client *redis.Client

	configMu    sync.RWMutex
	configCache map[string]any
}

// NewRedisBackend wraps an already-configured Redis-compatible client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// credKey and indexKey use the gcli:ag_ prefix for the "antigravity"
// namespace and gcli: for the normal one.
func credKey(namespace, filename string) string {
	return keyPrefix(namespace) + "creds:" + filename
}

func indexKey(namespace string) string {
	return keyPrefix(namespace) + "creds_index"
}

func keyPrefix(namespace string) string {
	if namespace == "antigravity" {
		return "gcli:ag_"
	}
	return "gcli:"
}

const configHashKey = "gcli:config"

func (r *RedisBackend) Initialize(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return r.ReloadConfigCache(ctx)
}

func (r *RedisBackend) Close() error { return r.client.Close() }

func (r *RedisBackend) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisBackend) GetCredential(ctx context.Context, namespace, filename string) (map[string]any, error) {
	raw, err := r.client.Get(ctx, credKey(namespace, filename)).Result()
	if err == redis.Nil {
		return nil, &ErrNotFound{Key: filename}
	}
	if err != nil {
		log.WithError(err).Warn("redis backend: get credential failed")
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		log.WithError(err).Warn("redis backend: decode credential failed")
		return nil, nil
	}
	return out, nil
}

func (r *RedisBackend) ListCredentials(ctx context.Context, namespace string) ([]string, error) {
	names, err := r.client.SMembers(ctx, indexKey(namespace)).Result()
	if err != nil {
		log.WithError(err).Warn("redis backend: list credentials failed")
		return []string{}, nil
	}
	return names, nil
}

func (r *RedisBackend) StoreCredential(ctx context.Context, namespace, filename string, data map[string]any) (bool, error) {
	refreshToken, _ := data["refresh_token"].(string)
	if refreshToken != "" {
		if dup, err := r.hasDuplicateRefreshToken(ctx, namespace, filename, refreshToken); err != nil {
			log.WithError(err).Warn("redis backend: dedup scan failed")
		} else if dup {
			return false, nil
		}
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return false, fmt.Errorf("marshal credential: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, credKey(namespace, filename), raw, 0)
	pipe.SAdd(ctx, indexKey(namespace), filename)
	if _, err := pipe.Exec(ctx); err != nil {
		log.WithError(err).Warn("redis backend: store credential failed")
		return false, nil
	}
	return true, nil
}

func (r *RedisBackend) hasDuplicateRefreshToken(ctx context.Context, namespace, excludeFilename, refreshToken string) (bool, error) {
	names, err := r.client.SMembers(ctx, indexKey(namespace)).Result()
	if err != nil {
		return false, err
	}
	for _, name := range names {
		if name == excludeFilename {
			continue
		}
		raw, err := r.client.Get(ctx, credKey(namespace, name)).Result()
		if err != nil {
			continue
		}
		var rec map[string]any
		if json.Unmarshal([]byte(raw), &rec) != nil {
			continue
		}
		if rt, _ := rec["refresh_token"].(string); rt == refreshToken {
			return true, nil
		}
	}
	return false, nil
}

func (r *RedisBackend) DeleteCredential(ctx context.Context, namespace, filename string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, credKey(namespace, filename))
	pipe.SRem(ctx, indexKey(namespace), filename)
	if _, err := pipe.Exec(ctx); err != nil {
		log.WithError(err).Warn("redis backend: delete credential failed")
	}
	return nil
}

func (r *RedisBackend) UpdateCredentialState(ctx context.Context, namespace, filename string, state map[string]any) error {
	raw, err := r.client.Get(ctx, credKey(namespace, filename)).Result()
	if err != nil {
		log.WithError(err).Warn("redis backend: update state read failed")
		return nil
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		log.WithError(err).Warn("redis backend: update state decode failed")
		return nil
	}
	for _, field := range []string{"disabled", "error_codes", "last_success", "user_email", "model_cooldowns", "call_count", "access_token", "expiry"} {
		if v, ok := state[field]; ok {
			rec[field] = v
		}
	}
	merged, err := json.Marshal(rec)
	if err != nil {
		return nil
	}
	if err := r.client.Set(ctx, credKey(namespace, filename), merged, 0).Err(); err != nil {
		log.WithError(err).Warn("redis backend: update state write failed")
	}
	return nil
}

func (r *RedisBackend) SetModelCooldown(ctx context.Context, namespace, filename, modelKey string, until int64) error {
	rec, err := r.GetCredential(ctx, namespace, filename)
	if err != nil || rec == nil {
		return nil
	}
	cooldowns, _ := rec["model_cooldowns"].(map[string]any)
	if cooldowns == nil {
		cooldowns = map[string]any{}
	}
	cooldowns[modelKey] = until
	return r.UpdateCredentialState(ctx, namespace, filename, map[string]any{"model_cooldowns": cooldowns})
}

func (r *RedisBackend) GetCredentialsSummary(ctx context.Context, namespace string, filter CredentialsSummaryFilter) (CredentialsSummary, error) {
	names, _ := r.ListCredentials(ctx, namespace)
	var entries []map[string]any
	for _, name := range names {
		rec, err := r.GetCredential(ctx, namespace, name)
		if err != nil || rec == nil {
			continue
		}
		disabled, _ := rec["disabled"].(bool)
		if filter.StatusFilter == "enabled" && disabled {
			continue
		}
		if filter.StatusFilter == "disabled" && !disabled {
			continue
		}
		entries = append(entries, map[string]any{"filename": name, "disabled": disabled})
	}
	total := len(entries)
	if filter.Offset > 0 && filter.Offset < len(entries) {
		entries = entries[filter.Offset:]
	} else if filter.Offset >= len(entries) {
		entries = nil
	}
	if filter.Limit > 0 && filter.Limit < len(entries) {
		entries = entries[:filter.Limit]
	}
	return CredentialsSummary{Total: total, Entries: entries}, nil
}

func (r *RedisBackend) GetConfig(ctx context.Context, key string) (any, bool) {
	r.configMu.RLock()
	defer r.configMu.RUnlock()
	v, ok := r.configCache[key]
	return v, ok
}

func (r *RedisBackend) SetConfig(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal config value: %w", err)
	}
	if err := r.client.HSet(ctx, configHashKey, key, raw).Err(); err != nil {
		log.WithError(err).Warn("redis backend: set config failed")
		return nil
	}
	r.configMu.Lock()
	if r.configCache == nil {
		r.configCache = make(map[string]any)
	}
	r.configCache[key] = value
	r.configMu.Unlock()
	return nil
}

func (r *RedisBackend) DeleteConfig(ctx context.Context, key string) error {
	if err := r.client.HDel(ctx, configHashKey, key).Err(); err != nil {
		log.WithError(err).Warn("redis backend: delete config failed")
	}
	r.configMu.Lock()
	delete(r.configCache, key)
	r.configMu.Unlock()
	return nil
}

func (r *RedisBackend) ReloadConfigCache(ctx context.Context) error {
	all, err := r.client.HGetAll(ctx, configHashKey).Result()
	if err != nil {
		log.WithError(err).Warn("redis backend: reload config cache failed")
		return nil
	}
	cache := make(map[string]any, len(all))
	for k, raw := range all {
		var v any
		if json.Unmarshal([]byte(raw), &v) == nil {
			cache[k] = v
		}
	}
	r.configMu.Lock()
	r.configCache = cache
	r.configMu.Unlock()
	return nil
}
