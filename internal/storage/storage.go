// Package storage persists the member's local preferences: the notification
// sound flag and liked gallery items.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

// ErrWatchUnsupported is returned by Watch on filesystems other than the OS one.
var ErrWatchUnsupported = errors.New("preferences watch requires the OS filesystem")

type document struct {
	SoundEnabled *bool               `json:"sound_enabled,omitempty"`
	Liked        map[string][]string `json:"liked,omitempty"`
}

// Preferences is a small JSON document on an afero filesystem. Reads are
// served from memory; every change is written through.
type Preferences struct {
	fs     afero.Fs
	path   string
	logger *slog.Logger

	mu        sync.RWMutex
	doc       document
	listeners []func()
}

// NewPreferences loads path from fsys. A missing file yields defaults; a
// corrupt one is logged and replaced on the next write.
func NewPreferences(fsys afero.Fs, path string, logger *slog.Logger) (*Preferences, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Preferences{fs: fsys, path: path, logger: logger.With("component", "preferences")}
	if err := p.reload(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Preferences) reload() error {
	data, err := afero.ReadFile(p.fs, p.path)
	if errors.Is(err, fs.ErrNotExist) {
		p.set(document{})
		return nil
	}
	if err != nil {
		return fmt.Errorf("read preferences: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		p.logger.Warn("Ignoring corrupt preferences file", "path", p.path, "error", err)
		doc = document{}
	}
	p.set(doc)
	return nil
}

func (p *Preferences) set(doc document) {
	p.mu.Lock()
	p.doc = doc
	listeners := slices.Clone(p.listeners)
	p.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// SoundEnabled reports whether the notification sound plays. It defaults to true.
func (p *Preferences) SoundEnabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.doc.SoundEnabled == nil || *p.doc.SoundEnabled
}

// SetSoundEnabled stores the sound flag.
func (p *Preferences) SetSoundEnabled(enabled bool) error {
	return p.update(func(doc *document) {
		doc.SoundEnabled = &enabled
	})
}

// ToggleLike flips item in gallery and reports whether it is now liked.
func (p *Preferences) ToggleLike(gallery, item string) (bool, error) {
	var liked bool
	err := p.update(func(doc *document) {
		if doc.Liked == nil {
			doc.Liked = make(map[string][]string)
		}
		ids := doc.Liked[gallery]
		if i := slices.Index(ids, item); i >= 0 {
			doc.Liked[gallery] = slices.Delete(slices.Clone(ids), i, i+1)
			if len(doc.Liked[gallery]) == 0 {
				delete(doc.Liked, gallery)
			}
			return
		}
		doc.Liked[gallery] = append(slices.Clone(ids), item)
		liked = true
	})
	return liked, err
}

// Liked returns the liked items of gallery in the order they were liked.
func (p *Preferences) Liked(gallery string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.doc.Liked[gallery])
}

// Galleries lists the galleries with at least one liked item.
func (p *Preferences) Galleries() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.doc.Liked))
	for g := range p.doc.Liked {
		out = append(out, g)
	}
	slices.Sort(out)
	return out
}

// IsLiked reports whether item in gallery is liked.
func (p *Preferences) IsLiked(gallery, item string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Contains(p.doc.Liked[gallery], item)
}

// OnChange registers fn to run after every reload or update.
func (p *Preferences) OnChange(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

func (p *Preferences) update(mutate func(*document)) error {
	p.mu.Lock()
	doc := p.doc
	doc.Liked = cloneLiked(p.doc.Liked)
	mutate(&doc)

	if err := p.write(doc); err != nil {
		p.mu.Unlock()
		return err
	}
	p.doc = doc
	listeners := slices.Clone(p.listeners)
	p.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
	return nil
}

// write replaces the file through a temporary sibling so readers never see
// a partial document.
func (p *Preferences) write(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	if err := p.fs.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("create preferences dir: %w", err)
	}
	tmp := p.path + ".tmp"
	if err := afero.WriteFile(p.fs, tmp, data, 0o600); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	if err := p.fs.Rename(tmp, p.path); err != nil {
		_ = p.fs.Remove(tmp)
		return fmt.Errorf("replace preferences: %w", err)
	}
	return nil
}

func cloneLiked(m map[string][]string) map[string][]string {
	if m == nil {
		return nil
	}
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = slices.Clone(v)
	}
	return out
}

// Watch reloads the file when another process changes it, until ctx is
// canceled. The directory is watched so atomic replaces are seen.
func (p *Preferences) Watch(ctx context.Context) error {
	if _, ok := p.fs.(*afero.OsFs); !ok {
		return ErrWatchUnsupported
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create preferences dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file system watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(p.path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
					continue
				}
				p.logger.Debug("Preferences changed on disk", "op", event.Op.String())
				if err := p.reload(); err != nil {
					p.logger.Error("Failed to reload preferences", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.logger.Error("File system watcher error", "error", err)
			}
		}
	}()
	return nil
}
