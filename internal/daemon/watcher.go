package daemon

import (
	"context"
	"log/slog"
	"path/filepath"
	gosync "sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hochfrequenz/flowcell-ingest/internal/layout"
)

// CompletionCallback is called with the run folders whose completion marker appeared
type CompletionCallback func(folders []string)

// FolderWatcher reports run folders once the instrument writes the completion marker
type FolderWatcher struct {
	watcher  *fsnotify.Watcher
	callback CompletionCallback
	debounce time.Duration
	logger   *slog.Logger

	folders map[string]struct{}

	pending map[string]struct{}
	timer   *time.Timer
	mu      gosync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// NewFolderWatcher creates a watcher that calls callback after debounce has passed without further events
func NewFolderWatcher(debounce time.Duration, callback CompletionCallback) (*FolderWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &FolderWatcher{
		watcher:  watcher,
		callback: callback,
		debounce: debounce,
		logger:   slog.Default(),
		folders:  make(map[string]struct{}),
		pending:  make(map[string]struct{}),
		done:     make(chan struct{}),
	}, nil
}

// SetLogger sets the logger used for watcher errors
func (fw *FolderWatcher) SetLogger(logger *slog.Logger) {
	fw.logger = logger
}

// AddFolder starts watching a run folder. Folders that are already complete are not watched.
func (fw *FolderWatcher) AddFolder(folder string) error {
	folder = filepath.Clean(folder)

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if _, exists := fw.folders[folder]; exists {
		return nil
	}
	if layout.CompletionMarkerPresent(folder) {
		return nil
	}
	if err := fw.watcher.Add(folder); err != nil {
		return err
	}
	fw.folders[folder] = struct{}{}
	return nil
}

// RemoveFolder stops watching a run folder
func (fw *FolderWatcher) RemoveFolder(folder string) {
	folder = filepath.Clean(folder)

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if _, exists := fw.folders[folder]; !exists {
		return
	}
	_ = fw.watcher.Remove(folder)
	delete(fw.folders, folder)
	delete(fw.pending, folder)
}

// Folders returns the number of watched folders
func (fw *FolderWatcher) Folders() int {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return len(fw.folders)
}

// Start begins watching for file changes
func (fw *FolderWatcher) Start(ctx context.Context) {
	ctx, fw.cancel = context.WithCancel(ctx)

	go func() {
		defer close(fw.done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-fw.watcher.Events:
				if !ok {
					return
				}
				fw.handleEvent(event)
			case err, ok := <-fw.watcher.Errors:
				if !ok {
					return
				}
				fw.logger.Warn("folder watcher error", "err", err)
			}
		}
	}()
}

// Stop stops watching and waits for the event loop to exit
func (fw *FolderWatcher) Stop() {
	if fw.cancel != nil {
		fw.cancel()
		<-fw.done
	}
	fw.mu.Lock()
	if fw.timer != nil {
		fw.timer.Stop()
	}
	fw.mu.Unlock()
	fw.watcher.Close()
}

func (fw *FolderWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Base(event.Name) != layout.CompletionMarker {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	folder := filepath.Dir(event.Name)

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if _, ok := fw.folders[folder]; !ok {
		return
	}
	fw.pending[folder] = struct{}{}

	if fw.timer != nil {
		fw.timer.Stop()
	}
	fw.timer = time.AfterFunc(fw.debounce, fw.flush)
}

func (fw *FolderWatcher) flush() {
	fw.mu.Lock()
	pending := fw.pending
	fw.pending = make(map[string]struct{})
	// a finished run does not change any more
	for folder := range pending {
		_ = fw.watcher.Remove(folder)
		delete(fw.folders, folder)
	}
	fw.mu.Unlock()

	if fw.callback == nil || len(pending) == 0 {
		return
	}

	folders := make([]string, 0, len(pending))
	for f := range pending {
		folders = append(folders, f)
	}
	fw.callback(folders)
}
