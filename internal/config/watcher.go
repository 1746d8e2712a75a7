package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/statview/statview/internal/logging"
)

// Watcher monitors the .env file for changes and applies the settings that
// are safe to change at runtime (currently the log level).
type Watcher struct {
	envPath     string
	watcher     *fsnotify.Watcher
	stopChan    chan struct{}
	stopOnce    sync.Once
	lastModTime time.Time
}

// NewWatcher creates a watcher for the .env file in the data directory.
func NewWatcher(cfg *Config) (*Watcher, error) {
	envPath := filepath.Join(cfg.DataDir, ".env")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		envPath:  envPath,
		watcher:  watcher,
		stopChan: make(chan struct{}),
	}

	if stat, err := os.Stat(envPath); err == nil {
		w.lastModTime = stat.ModTime()
	}

	return w, nil
}

// Start begins watching the data directory for .env changes.
func (w *Watcher) Start() error {
	// Watch the directory; editors replace the file rather than write it
	// in place, so watching the path itself misses changes.
	if err := w.watcher.Add(filepath.Dir(w.envPath)); err != nil {
		return err
	}

	go w.watchForChanges()
	log.Info().Str("env_path", w.envPath).Msg("Started watching config file for changes")
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.watcher.Close()
	})
}

func (w *Watcher) watchForChanges() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != ".env" {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			// Debounce: wait for the write to complete.
			time.Sleep(100 * time.Millisecond)

			stat, err := os.Stat(w.envPath)
			if err != nil {
				continue
			}
			if !stat.ModTime().After(w.lastModTime) {
				continue
			}
			w.lastModTime = stat.ModTime()

			log.Info().Str("event", event.Op.String()).Msg("Detected .env file change")
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Config watcher error")

		case <-w.stopChan:
			return
		}
	}
}

// reload re-reads the .env file and applies runtime-adjustable settings.
func (w *Watcher) reload() {
	values, err := godotenv.Read(w.envPath)
	if err != nil {
		log.Warn().Err(err).Str("file", w.envPath).Msg("Failed to re-read .env file")
		return
	}

	if level, ok := values["LOG_LEVEL"]; ok {
		logging.SetLevel(level)
		log.Info().Str("level", level).Msg("Applied new log level from .env")
	}
}
