package credential

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// EnvSource discovers credentials packed into GCLI_CREDS_<N> environment
// variables, each holding one credential's JSON body. This lets a
// container-based deployment inject credentials without a mounted volume.
type EnvSource struct {
	Prefix string
}

// NewEnvSource constructs a source reading GCLI_CREDS_* by default.
func NewEnvSource() *EnvSource {
	return &EnvSource{Prefix: "GCLI_CREDS_"}
}

// Discover scans the environment for prefixed variables and adds each as
// a credential named after its suffix, lowercased.
func (s *EnvSource) Discover(ctx context.Context, pool *Pool) error {
	for _, kv := range os.Environ() {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		key, val := kv[:eq], kv[eq+1:]
		if !strings.HasPrefix(key, s.Prefix) {
			continue
		}
		var data map[string]any
		if err := json.Unmarshal([]byte(val), &data); err != nil {
			log.WithError(err).WithField("var", key).Warn("credential env source: invalid json")
			continue
		}
		suffix := strings.TrimPrefix(key, s.Prefix)
		filename := "env-" + strings.ToLower(suffix)
		ok, err := pool.Add(ctx, filename, data)
		if err != nil {
			log.WithError(err).WithField("var", key).Warn("credential env source: add failed")
			continue
		}
		if !ok {
			log.WithField("var", key).Info("credential env source: duplicate refresh_token skipped")
		}
	}
	return nil
}
