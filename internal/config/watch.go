package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses the burst of events an editor save produces.
const reloadDebounce = 200 * time.Millisecond

// Watcher reloads the layered configuration when either config file changes.
type Watcher struct {
	globalPath  string
	projectPath string
	onChange    func(*OrchestratorConfig)
	fsw         *fsnotify.Watcher
	logger      *slog.Logger
	debounce    time.Duration
}

// NewWatcher watches the directories holding globalPath and projectPath.
// Directories are watched rather than files so editors that replace the file
// on save keep triggering reloads. Missing directories are skipped.
func NewWatcher(globalPath, projectPath string, onChange func(*OrchestratorConfig), logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating config watcher: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	w := &Watcher{
		globalPath:  globalPath,
		projectPath: projectPath,
		onChange:    onChange,
		fsw:         fsw,
		logger:      logger,
		debounce:    reloadDebounce,
	}

	watched := 0
	for _, p := range []string{globalPath, projectPath} {
		if p == "" {
			continue
		}
		dir := filepath.Dir(p)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			logger.Warn("Failed to watch config directory", "path", dir, "error", err)
			continue
		}
		watched++
	}
	if watched == 0 {
		logger.Debug("No config directories to watch")
	}
	return w, nil
}

// Run processes file events until ctx is cancelled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("Config change detected", "path", event.Name, "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerCh = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("Config watcher error", "error", err)

		case <-timerCh:
			timerCh = nil
			w.reload()
		}
	}
}

func (w *Watcher) relevant(e fsnotify.Event) bool {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) && !e.Has(fsnotify.Rename) && !e.Has(fsnotify.Remove) {
		return false
	}
	name := filepath.Clean(e.Name)
	for _, p := range []string{w.globalPath, w.projectPath} {
		if p != "" && filepath.Base(name) == filepath.Base(p) && sameDir(name, p) {
			return true
		}
	}
	return false
}

func sameDir(a, b string) bool {
	da, err1 := filepath.Abs(filepath.Dir(a))
	db, err2 := filepath.Abs(filepath.Dir(b))
	return err1 == nil && err2 == nil && da == db
}

// reload keeps the previous configuration when the new one fails to load.
func (w *Watcher) reload() {
	cfg, err := Load(w.globalPath, w.projectPath)
	if err != nil {
		w.logger.Warn("Config reload failed, keeping previous config", "error", err)
		return
	}
	w.logger.Info("Config reloaded")
	w.onChange(cfg)
}
