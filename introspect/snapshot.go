package introspect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Snapshot is a serialized view of the schemas an engine was linked
// against. Deployments that cannot reach information_schema at boot
// load a snapshot file instead of introspecting live.
type Snapshot struct {
	GeneratedAt time.Time     `yaml:"generatedAt"`
	Dialect     string        `yaml:"dialect"`
	Tables      []TableSchema `yaml:"tables"`
}

// Take introspects every table of the given schemas and assembles a
// snapshot, sorted for stable serialization.
func Take(ctx context.Context, ex Extractor, dialect string, schemas ...string) (*Snapshot, error) {
	snap := &Snapshot{GeneratedAt: time.Now().UTC(), Dialect: dialect}
	for _, s := range schemas {
		names, err := ex.Tables(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("introspect: snapshot schema %q: %w", s, err)
		}
		for _, name := range names {
			ts, err := ex.Table(ctx, s, name)
			if err != nil {
				return nil, fmt.Errorf("introspect: snapshot %s.%s: %w", s, name, err)
			}
			snap.Tables = append(snap.Tables, *ts)
		}
	}
	sort.Slice(snap.Tables, func(i, j int) bool {
		return snap.Tables[i].Path() < snap.Tables[j].Path()
	})
	return snap, nil
}

// Table returns the snapshot entry for schema.name, or nil.
func (s *Snapshot) Table(schema, name string) *TableSchema {
	for i := range s.Tables {
		if s.Tables[i].Schema == schema && s.Tables[i].Name == name {
			return &s.Tables[i]
		}
	}
	return nil
}

// Save writes the snapshot as YAML. The write goes through a temp file
// in the same directory so watchers never observe a partial snapshot.
func (s *Snapshot) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("introspect: marshal snapshot: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*.yaml")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadSnapshot reads a YAML snapshot from disk.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("introspect: parse snapshot %s: %w", path, err)
	}
	return &snap, nil
}

// Watcher reloads a snapshot file whenever it changes on disk and
// delivers the parsed result on Updates. Editors and atomic renames
// produce bursts of fsnotify events, so reloads are debounced.
type Watcher struct {
	path     string
	fw       *fsnotify.Watcher
	updates  chan *Snapshot
	errors   chan error
	debounce time.Duration
	done     chan struct{}
}

// Watch starts watching the snapshot at path.
func Watch(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: rename-based saves replace
	// the inode and would silently drop a file-level watch.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{
		path:     path,
		fw:       fw,
		updates:  make(chan *Snapshot, 1),
		errors:   make(chan error, 1),
		debounce: 100 * time.Millisecond,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Updates delivers each successfully reloaded snapshot.
func (w *Watcher) Updates() <-chan *Snapshot { return w.updates }

// Errors delivers reload failures. The watcher keeps running after an
// error; a later save of a valid snapshot recovers.
func (w *Watcher) Errors() <-chan error { return w.errors }

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fw.Close()
}

func (w *Watcher) loop() {
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.report(err)
		case <-fire:
			timer, fire = nil, nil
			snap, err := LoadSnapshot(w.path)
			if err != nil {
				w.report(err)
				continue
			}
			select {
			case w.updates <- snap:
			case <-w.done:
				return
			default:
				// Receiver lagging; drop the stale pending snapshot.
				select {
				case <-w.updates:
				default:
				}
				w.updates <- snap
			}
		}
	}
}

func (w *Watcher) report(err error) {
	select {
	case w.errors <- err:
	default:
	}
}
