package credential

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"gcli2api-go/internal/events"
	"gcli2api-go/internal/storage"
)

// TokenRefresher refreshes an OAuth access token given a refresh token,
// implemented by internal/oauth against the real token endpoint.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (accessToken string, expiry int64, err error)
}

// Manager owns a namespace's Pool, its discovery sources, and the
// background loops that keep access tokens fresh and storage in sync.
type Manager struct {
	Pool      *Pool
	Namespace string

	refresher TokenRefresher
	hub       *events.Hub

	fileSource *FileSource
	envSource  *EnvSource

	refreshAhead int
}

// NewManager wires a Pool over backend for namespace with the given
// credential-directory source and OAuth refresher.
func NewManager(backend storage.Backend, namespace, credsDir string, refresher TokenRefresher, hub *events.Hub) *Manager {
	return &Manager{
		Pool:         NewPool(backend, namespace),
		Namespace:    namespace,
		refresher:    refresher,
		hub:          hub,
		fileSource:   NewFileSource(credsDir),
		envSource:    NewEnvSource(),
		refreshAhead: 120,
	}
}

// Start loads existing credentials from storage, runs the discovery
// sources once, and launches the file watcher and refresh loop as
// background goroutines bound to ctx.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.Pool.Load(ctx); err != nil {
		return fmt.Errorf("load credential pool: %w", err)
	}
	if err := m.fileSource.Discover(ctx, m.Pool); err != nil {
		log.WithError(err).Warn("credential manager: file discovery failed")
	}
	if err := m.envSource.Discover(ctx, m.Pool); err != nil {
		log.WithError(err).Warn("credential manager: env discovery failed")
	}

	go func() {
		if err := m.fileSource.Watch(ctx, m.Pool); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("credential manager: file watch stopped")
		}
	}()
	go m.refreshLoop(ctx)

	return nil
}

// refreshLoop proactively refreshes access tokens that are near expiry,
// publishing TopicCredentialChanged so other components (e.g. a cached
// client pool) can react.
func (m *Manager) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refreshDue(ctx)
		}
	}
}

func (m *Manager) refreshDue(ctx context.Context) {
	if m.refresher == nil {
		return
	}
	for _, c := range m.Pool.Snapshot() {
		if c.IsDisabled() || !c.IsExpired(m.refreshAhead) {
			continue
		}
		rt := c.RefreshToken()
		if rt == "" {
			continue
		}
		accessToken, expiry, err := m.refresher.Refresh(ctx, rt)
		if err != nil {
			log.WithError(err).WithField("filename", c.Filename).Warn("credential manager: token refresh failed")
			m.Pool.RecordError(ctx, c.Filename, 401, "")
			continue
		}
		m.Pool.UpdateAccessToken(ctx, c.Filename, accessToken, expiry)
		if m.hub != nil {
			m.hub.Publish(ctx, events.TopicCredentialChanged, c.Filename, map[string]string{"namespace": m.Namespace})
		}
	}
}

// EnsureFreshToken refreshes c's access token synchronously if it is
// already expired, used on the request path as a last-resort check
// between background refresh cycles.
func (m *Manager) EnsureFreshToken(ctx context.Context, c *Credential) (*Credential, error) {
	if !c.IsExpired(0) {
		return c, nil
	}
	if m.refresher == nil {
		return c, fmt.Errorf("credential %s expired and no refresher configured", c.Filename)
	}
	rt := c.RefreshToken()
	if rt == "" {
		return c, fmt.Errorf("credential %s has no refresh token", c.Filename)
	}
	accessToken, expiry, err := m.refresher.Refresh(ctx, rt)
	if err != nil {
		return c, fmt.Errorf("refresh credential %s: %w", c.Filename, err)
	}
	m.Pool.UpdateAccessToken(ctx, c.Filename, accessToken, expiry)
	c.SetTokens(accessToken, expiry)
	return c, nil
}
