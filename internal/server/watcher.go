package server

import (
	"sync"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// Watcher reports page documents changed on disk by something other than
// the server, e.g. a git checkout under a file store.
type Watcher struct {
	watcher  *fsnotify.Watcher
	pageOf   func(path string) (string, bool)
	onChange func(page string) error
	log      *log.Logger
	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher watches dir. pageOf maps a changed file to its page; files it
// rejects are ignored.
func NewWatcher(dir string, pageOf func(string) (string, bool), onChange func(string) error, logger *log.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Watcher{
		watcher:  fsWatcher,
		pageOf:   pageOf,
		onChange: onChange,
		log:      logger.WithPrefix("watch"),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching for file changes.
func (w *Watcher) Start() {
	go func() {
		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				// Atomic writes land as a create (rename) rather than a write.
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				page, ok := w.pageOf(event.Name)
				if !ok {
					continue
				}
				w.log.Debug("page changed", "page", page, "file", event.Name)
				if err := w.onChange(page); err != nil {
					w.log.Warn("reload failed", "page", page, "err", err)
				}

			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.log.Error("watch error", "err", err)

			case <-w.done:
				return
			}
		}
	}()
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}
