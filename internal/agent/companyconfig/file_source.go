package companyconfig

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"agent-engine/internal/common/logger"
	"agent-engine/internal/models"
	"agent-engine/pkg/registry"

	"github.com/fsnotify/fsnotify"
)

var documentExtensions = []string{".yaml", ".yml", ".json"}

// FileSource reads one document per company from dir, named
// <companyId>.yaml, .yml or .json.
type FileSource struct {
	dir    string
	logger logger.Logger
	mu     sync.Mutex // serializes flag rewrites
}

func NewFileSource(dir string, log logger.Logger) *FileSource {
	return &FileSource{
		dir:    dir,
		logger: log.WithFields(map[string]interface{}{"component": "file-source", "dir": dir}),
	}
}

func (s *FileSource) pathFor(companyID string) (string, bool) {
	if companyID == "" || strings.ContainsAny(companyID, `/\`) || strings.HasPrefix(companyID, ".") {
		return "", false
	}
	for _, ext := range documentExtensions {
		p := filepath.Join(s.dir, companyID+ext)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

func (s *FileSource) Fetch(_ context.Context, companyID string) (*models.CompanyConfig, error) {
	path, ok := s.pathFor(companyID)
	if !ok {
		return nil, ErrNotFound
	}
	return registry.LoadDocument(path)
}

// SetFeatureFlag rewrites the company document in place.
func (s *FileSource) SetFeatureFlag(_ context.Context, companyID, flag string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, ok := s.pathFor(companyID)
	if !ok {
		return ErrNotFound
	}
	cfg, err := registry.LoadDocument(path)
	if err != nil {
		return err
	}
	if cfg.FeatureFlags == nil {
		cfg.FeatureFlags = make(map[string]bool)
	}
	cfg.FeatureFlags[flag] = enabled

	format, _ := registry.FormatForPath(path)
	out, err := registry.MarshalDocument(cfg, format)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	return os.Rename(tmp, path)
}

// ListCompanies returns the company ids present in dir.
func (s *FileSource) ListCompanies(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := companyIDFromPath(e.Name()); ok {
			seen[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func companyIDFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return "", false
	}
	if _, ok := registry.FormatForPath(base); !ok {
		return "", false
	}
	return strings.TrimSuffix(base, filepath.Ext(base)), true
}

// Watch invalidates a company whenever its document changes on disk. It
// blocks until ctx is done.
func (s *FileSource) Watch(ctx context.Context, inv Invalidator) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}
	s.logger.Info("watching company documents", nil)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			companyID, ok := companyIDFromPath(event.Name)
			if !ok {
				continue
			}
			if err := inv.InvalidateCompany(ctx, companyID, OriginFile); err != nil {
				s.logger.Warn("invalidation failed", map[string]interface{}{
					"companyId": companyID,
					"error":     err.Error(),
				})
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watcher error", map[string]interface{}{"error": err.Error()})
		}
	}
}
