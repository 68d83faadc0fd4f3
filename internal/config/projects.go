package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// LoadProjects reads the known project slugs. Entries may be plain strings
// or objects carrying a "slug" key; anything else is skipped. A missing
// file means no projects, not an error.
func LoadProjects(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var doc struct {
		Projects []json.RawMessage `json:"projects"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(doc.Projects))
	for _, entry := range doc.Projects {
		var slug string
		if json.Unmarshal(entry, &slug) == nil && slug != "" {
			out = append(out, slug)
			continue
		}
		var obj struct {
			Slug string `json:"slug"`
		}
		if json.Unmarshal(entry, &obj) == nil && obj.Slug != "" {
			out = append(out, obj.Slug)
		}
	}
	return out, nil
}

// ProjectRegistry serves the project list to concurrent readers and can
// reload it when the backing file changes. A failed reload keeps the last
// good list.
type ProjectRegistry struct {
	path string

	mu       sync.RWMutex
	projects []string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

func NewProjectRegistry(path string) (*ProjectRegistry, error) {
	projects, err := LoadProjects(path)
	if err != nil {
		return nil, err
	}
	return &ProjectRegistry{path: path, projects: projects}, nil
}

func (r *ProjectRegistry) Projects() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.projects...)
}

func (r *ProjectRegistry) Reload() error {
	projects, err := LoadProjects(r.path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.projects = projects
	r.mu.Unlock()
	return nil
}

// Watch reloads the registry whenever the projects file is written or
// replaced. Watching the parent directory survives editors that rename a
// temp file over the target.
func (r *ProjectRegistry) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		_ = watcher.Close()
		return err
	}
	r.watcher = watcher
	r.done = make(chan struct{})
	go r.watchLoop()
	return nil
}

func (r *ProjectRegistry) watchLoop() {
	target := filepath.Clean(r.path)
	for {
		select {
		case <-r.done:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := r.Reload(); err != nil {
				log.Printf("projects reload failed: %v", err)
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("projects watch error: %v", err)
		}
	}
}

func (r *ProjectRegistry) Close() error {
	if r.watcher == nil {
		return nil
	}
	close(r.done)
	return r.watcher.Close()
}
