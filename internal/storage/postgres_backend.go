package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"

	"gcli2api-go/internal/migrations"
)

// PostgresBackend stores credentials and config in a Postgres database,
// with refresh_token deduplication enforced by a partial unique index
// rather than an application-level scan (§4.A).
type PostgresBackend struct {
	db *sql.DB

	configMu    sync.RWMutex
	configCache map[string]any
}

// NewPostgresBackend opens a connection pool against dsn. The connection
// is validated and migrated in Initialize, not here.
func NewPostgresBackend(dsn string) (*PostgresBackend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	return &PostgresBackend{db: db}, nil
}

func tableFor(namespace string) string {
	if namespace == "antigravity" {
		return "antigravity_credentials"
	}
	return "credentials"
}

func (p *PostgresBackend) Initialize(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	if err := migrations.PostgresUp(p.db); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return p.ReloadConfigCache(ctx)
}

func (p *PostgresBackend) Close() error { return p.db.Close() }

func (p *PostgresBackend) Health(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresBackend) GetCredential(ctx context.Context, namespace, filename string) (map[string]any, error) {
	table := tableFor(namespace)
	row := p.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT data, disabled, error_codes, last_success, user_email, model_cooldowns, call_count
		 FROM %s WHERE filename = $1`, table), filename)

	var rawData, rawCodes, rawCooldowns []byte
	var disabled bool
	var lastSuccess int64
	var userEmail string
	var callCount int64
	if err := row.Scan(&rawData, &disabled, &rawCodes, &lastSuccess, &userEmail, &rawCooldowns, &callCount); err != nil {
		if err == sql.ErrNoRows {
			return nil, &ErrNotFound{Key: filename}
		}
		log.WithError(err).Warn("postgres backend: get credential failed")
		return nil, nil
	}

	out := map[string]any{}
	_ = json.Unmarshal(rawData, &out)
	var codes []int
	_ = json.Unmarshal(rawCodes, &codes)
	var cooldowns map[string]any
	_ = json.Unmarshal(rawCooldowns, &cooldowns)

	out["disabled"] = disabled
	out["error_codes"] = toAnySlice(codes)
	out["last_success"] = lastSuccess
	out["user_email"] = userEmail
	out["model_cooldowns"] = cooldowns
	out["call_count"] = callCount
	return out, nil
}

func toAnySlice(codes []int) []any {
	out := make([]any, len(codes))
	for i, c := range codes {
		out[i] = c
	}
	return out
}

func (p *PostgresBackend) ListCredentials(ctx context.Context, namespace string) ([]string, error) {
	table := tableFor(namespace)
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`SELECT filename FROM %s ORDER BY created_at`, table))
	if err != nil {
		log.WithError(err).Warn("postgres backend: list credentials failed")
		return []string{}, nil
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			names = append(names, name)
		}
	}
	return names, nil
}

func (p *PostgresBackend) StoreCredential(ctx context.Context, namespace, filename string, data map[string]any) (bool, error) {
	table := tableFor(namespace)
	rawData, err := json.Marshal(data)
	if err != nil {
		return false, fmt.Errorf("marshal credential: %w", err)
	}
	refreshToken, _ := data["refresh_token"].(string)
	var refreshTokenArg any
	if refreshToken != "" {
		refreshTokenArg = refreshToken
	}

	_, err = p.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (filename, data, refresh_token)
		VALUES ($1, $2, $3)
		ON CONFLICT (filename) DO UPDATE SET data = EXCLUDED.data, refresh_token = EXCLUDED.refresh_token
	`, table), filename, rawData, refreshTokenArg)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		log.WithError(err).Warn("postgres backend: store credential failed")
		return false, nil
	}
	return true, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && (containsAny(err.Error(), "duplicate key value", "unique constraint"))
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}

func (p *PostgresBackend) DeleteCredential(ctx context.Context, namespace, filename string) error {
	table := tableFor(namespace)
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE filename = $1`, table), filename)
	if err != nil {
		log.WithError(err).Warn("postgres backend: delete credential failed")
	}
	return nil
}

func (p *PostgresBackend) UpdateCredentialState(ctx context.Context, namespace, filename string, state map[string]any) error {
	table := tableFor(namespace)

	sets := []string{}
	args := []any{}
	argN := 1

	addSet := func(col string, val any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, argN))
		args = append(args, val)
		argN++
	}

	if v, ok := state["disabled"]; ok {
		addSet("disabled", v)
	}
	if v, ok := state["error_codes"]; ok {
		raw, _ := json.Marshal(v)
		addSet("error_codes", raw)
	}
	if v, ok := state["last_success"]; ok {
		addSet("last_success", v)
	}
	if v, ok := state["user_email"]; ok {
		addSet("user_email", v)
	}
	if v, ok := state["model_cooldowns"]; ok {
		raw, _ := json.Marshal(v)
		addSet("model_cooldowns", raw)
	}
	if v, ok := state["call_count"]; ok {
		addSet("call_count", v)
	}
	if v, ok := state["access_token"]; ok {
		addSet("data", jsonMergeAccessToken(p, ctx, table, filename, v, state["expiry"]))
		_ = v
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, filename)
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE filename = $%d`, table, joinComma(sets), argN)
	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		log.WithError(err).Warn("postgres backend: update credential state failed")
	}
	return nil
}

// jsonMergeAccessToken folds a refreshed access_token/expiry pair into the
// stored data JSON blob, since those two fields live inside it rather
// than as their own columns.
func jsonMergeAccessToken(p *PostgresBackend, ctx context.Context, table, filename string, accessToken, expiry any) []byte {
	row := p.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT data FROM %s WHERE filename = $1`, table), filename)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return []byte("{}")
	}
	var rec map[string]any
	if json.Unmarshal(raw, &rec) != nil {
		rec = map[string]any{}
	}
	rec["access_token"] = accessToken
	rec["expiry"] = expiry
	merged, _ := json.Marshal(rec)
	return merged
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

func (p *PostgresBackend) SetModelCooldown(ctx context.Context, namespace, filename, modelKey string, until int64) error {
	table := tableFor(namespace)
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET model_cooldowns = jsonb_set(model_cooldowns, $2, to_jsonb($3::bigint), true)
		WHERE filename = $1
	`, table), filename, "{"+modelKey+"}", until)
	if err != nil {
		log.WithError(err).Warn("postgres backend: set model cooldown failed")
	}
	return nil
}

func (p *PostgresBackend) GetCredentialsSummary(ctx context.Context, namespace string, filter CredentialsSummaryFilter) (CredentialsSummary, error) {
	table := tableFor(namespace)

	where := "TRUE"
	args := []any{}
	argN := 1
	if filter.StatusFilter == "enabled" {
		where += " AND disabled = FALSE"
	} else if filter.StatusFilter == "disabled" {
		where += " AND disabled = TRUE"
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT count(*) FROM %s WHERE %s`, table, where)
	if err := p.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		log.WithError(err).Warn("postgres backend: summary count failed")
	}

	query := fmt.Sprintf(`SELECT filename, disabled, call_count FROM %s WHERE %s ORDER BY created_at`, table, where)
	if filter.Limit > 0 {
		argN++
		query += fmt.Sprintf(" LIMIT $%d", argN-1)
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		argN++
		query += fmt.Sprintf(" OFFSET $%d", argN-1)
		args = append(args, filter.Offset)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.WithError(err).Warn("postgres backend: summary list failed")
		return CredentialsSummary{Total: total}, nil
	}
	defer rows.Close()

	var entries []map[string]any
	for rows.Next() {
		var filename string
		var disabled bool
		var callCount int64
		if rows.Scan(&filename, &disabled, &callCount) == nil {
			entries = append(entries, map[string]any{
				"filename": filename, "disabled": disabled, "call_count": callCount,
			})
		}
	}
	return CredentialsSummary{Total: total, Entries: entries}, nil
}

func (p *PostgresBackend) GetConfig(ctx context.Context, key string) (any, bool) {
	p.configMu.RLock()
	defer p.configMu.RUnlock()
	v, ok := p.configCache[key]
	return v, ok
}

func (p *PostgresBackend) SetConfig(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal config value: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO config_entries (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, key, raw)
	if err != nil {
		log.WithError(err).Warn("postgres backend: set config failed")
		return nil
	}
	p.configMu.Lock()
	if p.configCache == nil {
		p.configCache = make(map[string]any)
	}
	p.configCache[key] = value
	p.configMu.Unlock()
	return nil
}

func (p *PostgresBackend) DeleteConfig(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM config_entries WHERE key = $1`, key)
	if err != nil {
		log.WithError(err).Warn("postgres backend: delete config failed")
	}
	p.configMu.Lock()
	delete(p.configCache, key)
	p.configMu.Unlock()
	return nil
}

func (p *PostgresBackend) ReloadConfigCache(ctx context.Context) error {
	rows, err := p.db.QueryContext(ctx, `SELECT key, value FROM config_entries`)
	if err != nil {
		log.WithError(err).Warn("postgres backend: reload config cache failed")
		return nil
	}
	defer rows.Close()

	cache := make(map[string]any)
	for rows.Next() {
		var key string
		var raw []byte
		if rows.Scan(&key, &raw) != nil {
			continue
		}
		var v any
		if json.Unmarshal(raw, &v) == nil {
			cache[key] = v
		}
	}
	p.configMu.Lock()
	p.configCache = cache
	p.configMu.Unlock()
	return nil
}
