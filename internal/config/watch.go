package config

import (
	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Config from disk whenever its source file changes,
// for long-running deployments that want their file-type pattern table
// to pick up edits without a restart.
type Watcher struct {
	fsw  *fsnotify.Watcher
	path string
}

// WatchFile starts watching path for writes. onReload is invoked with a
// freshly Load()ed Config each time the file changes; load errors (a
// config mid-write, or invalid YAML) are passed to onError and the
// previous configuration is left in place.
func WatchFile(path string, onReload func(*Config), onError func(error)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{fsw: fsw, path: path}
	go w.loop(onReload, onError)
	return w, nil
}

func (w *Watcher) loop(onReload func(*Config), onError func(error)) {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if onError != nil {
				onError(err)
			}
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
