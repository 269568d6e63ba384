package credential

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// FileSource discovers credential JSON files dropped into a directory and
// keeps watching it for new arrivals via fsnotify, the same hot-reload
// pattern the rest of the ambient stack uses for config files.
type FileSource struct {
	Dir string
}

// NewFileSource constructs a source rooted at dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{Dir: dir}
}

// Discover loads every *.json file in Dir into the pool once.
func (s *FileSource) Discover(ctx context.Context, pool *Pool) error {
	if s.Dir == "" {
		return nil
	}
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		s.loadOne(ctx, pool, e.Name())
	}
	return nil
}

func (s *FileSource) loadOne(ctx context.Context, pool *Pool, name string) {
	path := filepath.Join(s.Dir, name)
	raw, err := os.ReadFile(path)
	if err != nil {
		log.WithError(err).WithField("path", path).Warn("credential file source: read failed")
		return
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		log.WithError(err).WithField("path", path).Warn("credential file source: invalid json")
		return
	}
	filename := strings.TrimSuffix(name, ".json")
	ok, err := pool.Add(ctx, filename, data)
	if err != nil {
		log.WithError(err).WithField("path", path).Warn("credential file source: add failed")
		return
	}
	if !ok {
		log.WithField("path", path).Info("credential file source: duplicate refresh_token skipped")
	}
}

// Watch blocks, reloading credentials whenever a file is created or
// written in Dir, until ctx is cancelled.
func (s *FileSource) Watch(ctx context.Context, pool *Pool) error {
	if s.Dir == "" {
		<-ctx.Done()
		return ctx.Err()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(s.Dir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			s.loadOne(ctx, pool, filepath.Base(event.Name))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("credential file source: watch error")
		}
	}
}
