package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/msageha/storebridge/internal/logging"
)

// RosterWatcher keeps a Roster in sync with a roster file that the game server
// (or a log tailer) rewrites whenever a player joins or leaves.
type RosterWatcher struct {
	path   string
	roster *Roster
	logger *logging.Logger

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

func NewRosterWatcher(path string, roster *Roster, logger *logging.Logger) *RosterWatcher {
	if logger == nil {
		logger = logging.Discard()
	}
	return &RosterWatcher{path: path, roster: roster, logger: logger}
}

// Reload reads the roster file into the Roster. A missing file means nobody is online.
func (rw *RosterWatcher) Reload() error {
	f, err := os.Open(rw.path)
	if errors.Is(err, os.ErrNotExist) {
		rw.roster.Replace(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("open roster: %w", err)
	}
	defer f.Close()

	names, err := ParseRosterFile(f)
	if err != nil {
		return fmt.Errorf("read roster: %w", err)
	}
	rw.roster.Replace(names)
	rw.logger.Debugf("roster_reloaded players=%d", len(names))
	return nil
}

// Start loads the file once and then follows changes until Close.
// The parent directory is watched so atomic replace-by-rename is seen.
func (rw *RosterWatcher) Start(ctx context.Context) error {
	if err := rw.Reload(); err != nil {
		return err
	}
	dir := filepath.Dir(rw.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("ensure roster dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	rw.watcher = w

	ctx, rw.cancel = context.WithCancel(ctx)
	rw.wg.Add(1)
	go rw.loop(ctx)
	return nil
}

func (rw *RosterWatcher) loop(ctx context.Context) {
	defer rw.wg.Done()
	target := filepath.Clean(rw.path)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				rw.logger.Debugf("fsnotify event=%s file=%s", event.Op, event.Name)
				if err := rw.Reload(); err != nil {
					rw.logger.Warnf("roster reload failed: %v", err)
				}
			}
		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			rw.logger.Errorf("fsnotify error=%v", err)
		}
	}
}

func (rw *RosterWatcher) Close() error {
	if rw.cancel != nil {
		rw.cancel()
	}
	var err error
	if rw.watcher != nil {
		err = rw.watcher.Close()
	}
	rw.wg.Wait()
	return err
}
