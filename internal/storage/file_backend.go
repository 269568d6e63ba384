package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// FileBackend is the degrade target used when no database is configured,
// or when the configured backend fails to initialize (§4.A). Each
// credential lives as an individual JSON file under <dir>/creds_<namespace>/
// (creds_default for the empty namespace), and
// config is a single JSON sidecar file.
type FileBackend struct {
	mu         sync.RWMutex
	dir        string
	configPath string
	configMu   sync.RWMutex
	configCache map[string]any
}

// NewFileBackend constructs a file-backed store rooted at dir.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{
		dir:        dir,
		configPath: filepath.Join(dir, "config.json"),
	}
}

func (f *FileBackend) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}
	return f.ReloadConfigCache(ctx)
}

func (f *FileBackend) Close() error { return nil }

func (f *FileBackend) Health(ctx context.Context) error {
	_, err := os.Stat(f.dir)
	return err
}

func (f *FileBackend) namespaceDir(namespace string) string {
	if namespace == "" {
		namespace = "default"
	}
	return filepath.Join(f.dir, "creds_"+namespace)
}

func (f *FileBackend) credPath(namespace, filename string) string {
	return filepath.Join(f.namespaceDir(namespace), filename+".json")
}

func (f *FileBackend) GetCredential(ctx context.Context, namespace, filename string) (map[string]any, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := os.ReadFile(f.credPath(namespace, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ErrNotFound{Key: filename}
		}
		log.WithError(err).Warn("file backend: read credential failed")
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		log.WithError(err).Warn("file backend: decode credential failed")
		return nil, nil
	}
	return out, nil
}

func (f *FileBackend) ListCredentials(ctx context.Context, namespace string) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entries, err := os.ReadDir(f.namespaceDir(namespace))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		log.WithError(err).Warn("file backend: list credentials failed")
		return []string{}, nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) == ".json" {
			names = append(names, name[:len(name)-len(".json")])
		}
	}
	sort.Strings(names)
	return names, nil
}

func (f *FileBackend) StoreCredential(ctx context.Context, namespace, filename string, data map[string]any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	refreshToken, _ := data["refresh_token"].(string)
	if refreshToken != "" {
		if dup, err := f.findDuplicateRefreshToken(namespace, filename, refreshToken); err != nil {
			log.WithError(err).Warn("file backend: dedup scan failed")
		} else if dup {
			return false, nil
		}
	}

	if err := os.MkdirAll(f.namespaceDir(namespace), 0o755); err != nil {
		log.WithError(err).Warn("file backend: mkdir failed")
		return false, nil
	}
	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		log.WithError(err).Warn("file backend: marshal credential failed")
		return false, nil
	}
	if err := os.WriteFile(f.credPath(namespace, filename), payload, 0o644); err != nil {
		log.WithError(err).Warn("file backend: write credential failed")
		return false, nil
	}
	return true, nil
}

func (f *FileBackend) findDuplicateRefreshToken(namespace, excludeFilename, refreshToken string) (bool, error) {
	entries, err := os.ReadDir(f.namespaceDir(namespace))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		name := e.Name()[:len(e.Name())-len(".json")]
		if name == excludeFilename {
			continue
		}
		data, err := os.ReadFile(filepath.Join(f.namespaceDir(namespace), e.Name()))
		if err != nil {
			continue
		}
		var rec map[string]any
		if json.Unmarshal(data, &rec) != nil {
			continue
		}
		if rt, _ := rec["refresh_token"].(string); rt == refreshToken {
			return true, nil
		}
	}
	return false, nil
}

func (f *FileBackend) DeleteCredential(ctx context.Context, namespace, filename string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.credPath(namespace, filename)); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("file backend: delete credential failed")
	}
	return nil
}

func (f *FileBackend) UpdateCredentialState(ctx context.Context, namespace, filename string, state map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.credPath(namespace, filename))
	if err != nil {
		log.WithError(err).Warn("file backend: update state read failed")
		return nil
	}
	var rec map[string]any
	if err := json.Unmarshal(data, &rec); err != nil {
		log.WithError(err).Warn("file backend: update state decode failed")
		return nil
	}
	for _, field := range []string{"disabled", "error_codes", "last_success", "user_email", "model_cooldowns", "call_count", "access_token", "expiry"} {
		if v, ok := state[field]; ok {
			rec[field] = v
		}
	}
	payload, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil
	}
	if err := os.WriteFile(f.credPath(namespace, filename), payload, 0o644); err != nil {
		log.WithError(err).Warn("file backend: update state write failed")
	}
	return nil
}

func (f *FileBackend) SetModelCooldown(ctx context.Context, namespace, filename, modelKey string, until int64) error {
	rec, err := f.GetCredential(ctx, namespace, filename)
	if err != nil || rec == nil {
		return nil
	}
	cooldowns, _ := rec["model_cooldowns"].(map[string]any)
	if cooldowns == nil {
		cooldowns = map[string]any{}
	}
	cooldowns[modelKey] = until
	return f.UpdateCredentialState(ctx, namespace, filename, map[string]any{"model_cooldowns": cooldowns})
}

func (f *FileBackend) GetCredentialsSummary(ctx context.Context, namespace string, filter CredentialsSummaryFilter) (CredentialsSummary, error) {
	names, _ := f.ListCredentials(ctx, namespace)
	var entries []map[string]any
	now := time.Now().Unix()
	for _, name := range names {
		rec, err := f.GetCredential(ctx, namespace, name)
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
		if filter.CooldownFilter {
			onCooldown := false
			if cds, ok := rec["model_cooldowns"].(map[string]any); ok {
				for _, v := range cds {
					if until, ok := toInt64(v); ok && until > now {
						onCooldown = true
						break
					}
				}
			}
			if !onCooldown {
				continue
			}
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

func (f *FileBackend) GetConfig(ctx context.Context, key string) (any, bool) {
	f.configMu.RLock()
	defer f.configMu.RUnlock()
	v, ok := f.configCache[key]
	return v, ok
}

func (f *FileBackend) SetConfig(ctx context.Context, key string, value any) error {
	f.configMu.Lock()
	if f.configCache == nil {
		f.configCache = make(map[string]any)
	}
	f.configCache[key] = value
	snapshot := make(map[string]any, len(f.configCache))
	for k, v := range f.configCache {
		snapshot[k] = v
	}
	f.configMu.Unlock()

	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil
	}
	if err := os.WriteFile(f.configPath, payload, 0o644); err != nil {
		log.WithError(err).Warn("file backend: write config failed")
	}
	return nil
}

func (f *FileBackend) DeleteConfig(ctx context.Context, key string) error {
	f.configMu.Lock()
	delete(f.configCache, key)
	f.configMu.Unlock()
	return f.SetConfig(ctx, "__noop__", f.configCache["__noop__"])
}

func (f *FileBackend) ReloadConfigCache(ctx context.Context) error {
	data, err := os.ReadFile(f.configPath)
	if err != nil {
		f.configMu.Lock()
		if f.configCache == nil {
			f.configCache = make(map[string]any)
		}
		f.configMu.Unlock()
		if os.IsNotExist(err) {
			return nil
		}
		log.WithError(err).Warn("file backend: reload config failed")
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		log.WithError(err).Warn("file backend: decode config failed")
		return nil
	}
	f.configMu.Lock()
	f.configCache = m
	f.configMu.Unlock()
	return nil
}
