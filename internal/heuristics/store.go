package heuristics

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Store serves the current Tables and swaps them atomically on reload.
type Store struct {
	path    string
	current atomic.Pointer[Tables]
	logger  *slog.Logger
}

// NewStore loads tables from path, or the embedded defaults when path is empty.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: strings.TrimSpace(path), logger: logger}
	if s.path == "" {
		s.current.Store(Default())
		return s, nil
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewStaticStore serves t without a backing file.
func NewStaticStore(t *Tables, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{logger: logger}
	s.current.Store(t)
	return s
}

// Current returns the tables in effect.
func (s *Store) Current() *Tables {
	return s.current.Load()
}

// Reload re-reads the backing file. On error the previous tables stay active.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	t, err := LoadFile(s.path)
	if err != nil {
		return err
	}
	s.current.Store(t)
	s.logger.Info("heuristic tables loaded", "path", s.path, "version", t.Version)
	return nil
}

func (s *Store) IsLegal(query string) bool {
	m, ok := s.Current().Classify(query)
	if ok {
		s.logger.Debug("query classified as legal", "rule", m.Rule, "matched", m.Value)
	} else {
		s.logger.Debug("query not classified as legal")
	}
	return ok
}

func (s *Store) Expand(query string) string {
	expanded := s.Current().Expand(query)
	if expanded != query {
		s.logger.Debug("query expanded", "from", query, "to", expanded)
	}
	return expanded
}

func (s *Store) IsAcceptable(query, answer string) bool {
	if reason := s.Current().Review(answer); reason != "" {
		s.logger.Warn("answer rejected by quality gate", "reason", string(reason), "query", query)
		return false
	}
	return true
}

// Watch reloads the tables whenever the backing file is written or replaced,
// until ctx is done. The parent directory is watched so editors that rename
// over the file are picked up.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("heuristics: create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("heuristics: watch %s: %w", s.path, err)
	}

	target := filepath.Clean(s.path)
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := s.Reload(); err != nil {
					s.logger.Error("heuristic tables reload failed", "path", s.path, "err", err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Error("heuristic tables watcher error", "err", err)
			}
		}
	}()
	return nil
}
