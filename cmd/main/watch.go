package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/CTAG07/workshop/pkg/metrics"
	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 250 * time.Millisecond

// watchFiles refreshes the template manager and the asset provider when files under
// their directories change. Bursts of events are collapsed into a single refresh per
// component. It blocks until ctx is done.
func (s *Server) watchFiles(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func(w *fsnotify.Watcher) {
		_ = w.Close()
	}(w)

	templateDir := filepath.Clean(s.tm.GetTemplateDir())
	staticDir := filepath.Clean(s.assets.GetConfig().StaticDir)
	for _, dir := range []string{templateDir, staticDir} {
		if err = addRecursive(w, dir); err != nil {
			s.logger.Warn("Directory not watched", "dir", dir, "error", err)
		}
	}
	s.logger.Info("Watching files for changes", "templates", templateDir, "static", staticDir)

	pending := map[string]bool{}
	timer := time.NewTimer(watchDebounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					_ = addRecursive(w, event.Name)
				}
			}
			switch {
			case within(event.Name, templateDir):
				pending["templates"] = true
			case within(event.Name, staticDir):
				pending["resources"] = true
			default:
				continue
			}
			timer.Reset(watchDebounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("File watcher error", "error", err)

		case <-timer.C:
			for component := range pending {
				s.refreshComponent(component)
			}
			clear(pending)
		}
	}
}

func (s *Server) refreshComponent(component string) {
	var err error
	switch component {
	case "templates":
		err = s.tm.Refresh()
	case "resources":
		err = s.assets.Refresh()
	}
	metrics.RecordRefresh(component, err)
	if err != nil {
		s.logger.Error("Refresh after file change failed", "component", component, "error", err)
		return
	}
	s.logger.Info("Refreshed after file change", "component", component)
}

// addRecursive watches dir and every directory below it.
func addRecursive(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

func within(path, dir string) bool {
	return path == dir || strings.HasPrefix(path, dir+string(filepath.Separator))
}
