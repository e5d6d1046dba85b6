package cli

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/asaidimu/go-loom/core/persistence"
	"github.com/asaidimu/go-loom/core/schema"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// SchemaWatcher re-registers schema descriptors when their files change.
type SchemaWatcher struct {
	dir     *persistence.Directory
	path    string
	opts    []persistence.RegisterOption
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewSchemaWatcher watches the descriptor files directly under path.
func NewSchemaWatcher(dir *persistence.Directory, path string, logger *zap.Logger, opts ...persistence.RegisterOption) (*SchemaWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch directory: %w", err)
	}
	return &SchemaWatcher{
		dir:     dir,
		path:    path,
		opts:    opts,
		watcher: watcher,
		logger:  logger,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Start runs the watch loop in the background.
func (w *SchemaWatcher) Start() {
	go w.watchLoop()
	w.logger.Info("Watching schema files for changes", zap.String("path", w.path))
}

// Stop ends the watch loop and waits for it to exit.
func (w *SchemaWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.watcher.Close()
	})
	<-w.done
}

func (w *SchemaWatcher) watchLoop() {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !schema.IsDescriptorFile(event.Name) {
				continue
			}
			// Editors that save atomically produce a create.
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.logger.Debug("Schema file changed",
					zap.String("event", event.Op.String()),
					zap.String("file", event.Name),
				)
				if err := w.Reload(event.Name); err != nil {
					w.logger.Error("Schema reload failed", zap.String("file", event.Name), zap.Error(err))
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Schema watcher error", zap.Error(err))

		case <-w.stopCh:
			return
		}
	}
}

// Reload parses one descriptor file and registers it, replacing the
// collection of the same name.
func (w *SchemaWatcher) Reload(file string) error {
	def, err := schema.ParseFile(file)
	if err != nil {
		return err
	}
	if _, err := w.dir.RegisterSchema(def, w.opts...); err != nil {
		return err
	}
	w.logger.Info("Schema reloaded", zap.String("collection", def.Name), zap.String("file", filepath.Base(file)))
	return nil
}
