package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// DepartmentEntry is the routing vocabulary for one department, as declared
// in departments.yaml. Detection matches aliases exactly and scores keywords
// by frequency.
type DepartmentEntry struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Aliases  []string `yaml:"aliases"`
	Keywords []string `yaml:"keywords"`
}

type departmentsFile struct {
	Departments []DepartmentEntry `yaml:"departments"`
}

// DefaultDepartmentsPath returns the departments file location under the
// user config directory.
func DefaultDepartmentsPath() string {
	return filepath.Join(getUserConfigDir(), "departments.yaml")
}

// LoadDepartments reads the routing vocabulary from a YAML file.
func LoadDepartments(path string) ([]DepartmentEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading departments file: %w", err)
	}

	var f departmentsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing departments file: %w", err)
	}

	for i, d := range f.Departments {
		if d.ID == "" {
			return nil, fmt.Errorf("departments[%d]: missing id", i)
		}
	}
	return f.Departments, nil
}

// DepartmentWatcher serves the current routing vocabulary and hot-reloads it
// when the backing file changes. A reload that fails to parse keeps the
// previous vocabulary.
type DepartmentWatcher struct {
	path    string
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	mu      sync.RWMutex
	entries []DepartmentEntry

	done chan struct{}
}

// NewDepartmentWatcher loads the file once and starts watching it.
func NewDepartmentWatcher(path string, logger *slog.Logger) (*DepartmentWatcher, error) {
	entries, err := LoadDepartments(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	// Watch the directory: editors replace files on save, which would
	// drop a watch on the file itself.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching departments directory: %w", err)
	}

	w := &DepartmentWatcher{
		path:    path,
		logger:  logger,
		watcher: fw,
		entries: entries,
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Departments returns the vocabulary loaded most recently.
func (w *DepartmentWatcher) Departments() []DepartmentEntry {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]DepartmentEntry, len(w.entries))
	copy(out, w.entries)
	return out
}

// Close stops the watcher.
func (w *DepartmentWatcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *DepartmentWatcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("departments watcher error", "error", err)
		}
	}
}

func (w *DepartmentWatcher) reload() {
	entries, err := LoadDepartments(w.path)
	if err != nil {
		w.logger.Warn("departments reload failed, keeping previous vocabulary",
			"path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	w.entries = entries
	w.mu.Unlock()
	w.logger.Info("departments vocabulary reloaded", "count", len(entries))
}
