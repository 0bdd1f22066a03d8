package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ritzau/category-sync/pkg/logging"
)

// ChangeType represents the type of file change detected
type ChangeType int

const (
	// ChangeTypeModuleFile is an edit of go.mod, go.sum or go.work
	ChangeTypeModuleFile ChangeType = iota
	// ChangeTypeSourceLayout is a .go file created, removed or renamed
	ChangeTypeSourceLayout
	// ChangeTypeSourceFile is a write to an existing .go file
	ChangeTypeSourceFile
)

func (t ChangeType) String() string {
	switch t {
	case ChangeTypeModuleFile:
		return "module"
	case ChangeTypeSourceLayout:
		return "layout"
	default:
		return "source"
	}
}

// ChangeEvent represents a batch of file system changes
type ChangeEvent struct {
	Type      ChangeType
	Paths     []string
	Timestamp time.Time
}

const batchWindow = 100 * time.Millisecond

// FileWatcher watches a Go module for file changes
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	workspace string
	events    chan ChangeEvent
	done      chan struct{}
	stopOnce  sync.Once
}

// NewFileWatcher creates a new file system watcher for a Go module
func NewFileWatcher(workspace string) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	fw := &FileWatcher{
		watcher:   watcher,
		workspace: workspace,
		events:    make(chan ChangeEvent, 100),
		done:      make(chan struct{}),
	}

	return fw, nil
}

// Start begins watching for file changes
func (fw *FileWatcher) Start(ctx context.Context) error {
	count, err := fw.watchTree(fw.workspace)
	if err != nil {
		return err
	}

	logging.Info("started watching workspace", "path", fw.workspace, "directories", count)

	go fw.processEvents(ctx)

	return nil
}

// skipDir reports directories that never hold packages of the module
func skipDir(name string) bool {
	return name != "." && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") ||
		name == "vendor" || name == "testdata" || name == "node_modules")
}

// watchTree adds root and every package directory below it
func (fw *FileWatcher) watchTree(root string) (int, error) {
	count := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip files we can't access
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := fw.watcher.Add(path); err != nil {
			logging.Warn("failed to watch directory", "path", path, "error", err)
			return nil
		}
		count++
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("failed to walk workspace: %w", err)
	}
	return count, nil
}

// classify maps an fsnotify event to a change type
func classify(event fsnotify.Event) (ChangeType, bool) {
	name := filepath.Base(event.Name)

	switch name {
	case "go.mod", "go.sum", "go.work", "go.work.sum":
		if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
			return 0, false
		}
		return ChangeTypeModuleFile, true
	}

	if !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
		return 0, false
	}
	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		return ChangeTypeSourceLayout, true
	case event.Has(fsnotify.Write):
		return ChangeTypeSourceFile, true
	}
	return 0, false
}

// processEvents processes file system events and batches them by type
func (fw *FileWatcher) processEvents(ctx context.Context) {
	defer close(fw.events)

	batches := make(map[ChangeType][]string)

	flushTimer := time.NewTimer(batchWindow)
	flushTimer.Stop()

	flush := func() {
		for _, t := range []ChangeType{ChangeTypeModuleFile, ChangeTypeSourceLayout, ChangeTypeSourceFile} {
			if len(batches[t]) == 0 {
				continue
			}
			select {
			case fw.events <- ChangeEvent{Type: t, Paths: batches[t], Timestamp: time.Now()}:
			case <-ctx.Done():
				return
			}
			delete(batches, t)
		}
	}

	for {
		select {
		case <-ctx.Done():
			fw.Stop()
			return

		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			// New directories may hold new packages
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !skipDir(info.Name()) {
					if _, err := fw.watchTree(event.Name); err != nil {
						logging.Warn("failed to watch new directory", "path", event.Name, "error", err)
					}
					batches[ChangeTypeSourceLayout] = append(batches[ChangeTypeSourceLayout], event.Name)
					flushTimer.Reset(batchWindow)
					continue
				}
			}

			t, relevant := classify(event)
			if !relevant {
				continue
			}
			logging.Trace("file event", "path", event.Name, "op", event.Op.String(), "type", t)
			batches[t] = append(batches[t], event.Name)
			flushTimer.Reset(batchWindow)

		case <-flushTimer.C:
			flush()

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("watcher error", "error", err)
		}
	}
}

// Events returns the channel of change events
func (fw *FileWatcher) Events() <-chan ChangeEvent {
	return fw.events
}

// Stop stops the file watcher
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		close(fw.done)
		err = fw.watcher.Close()
	})
	return err
}
