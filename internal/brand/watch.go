package brand

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Source hands out the current profile and swaps it when the backing file
// changes. A Source without a path always serves the built-in profile.
type Source struct {
	path    string
	current atomic.Pointer[Profile]
	logger  *slog.Logger
}

// NewSource loads path (or the built-in profile when path is empty).
func NewSource(path string) (*Source, error) {
	s := &Source{path: path, logger: slog.Default()}
	if path == "" {
		s.current.Store(Default())
		return s, nil
	}
	p, err := Load(path)
	if err != nil {
		return nil, err
	}
	s.current.Store(p)
	return s, nil
}

// Static wraps a fixed profile.
func Static(p *Profile) *Source {
	s := &Source{logger: slog.Default()}
	s.current.Store(p)
	return s
}

// Profile returns the active profile.
func (s *Source) Profile() *Profile {
	return s.current.Load()
}

// Reload re-reads the backing file. A file that fails to parse leaves the
// previous profile active.
func (s *Source) Reload() error {
	if s.path == "" {
		return nil
	}
	p, err := Load(s.path)
	if err != nil {
		return err
	}
	s.current.Store(p)
	return nil
}

// Watch reloads the profile whenever its file is written or replaced, until
// ctx is cancelled. It watches the parent directory so editors that save by
// rename are picked up.
func (s *Source) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating brand profile watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := s.Reload(); err != nil {
				s.logger.Warn("brand profile reload failed, keeping previous", "path", s.path, "error", err)
				continue
			}
			s.logger.Info("brand profile reloaded", "path", s.path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("brand profile watcher error", "error", err)
		}
	}
}
