// Package watcher sends files dropped into an outbox directory to every
// connected peer.
package watcher

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"lanlink/internal/util/logger/sl"

	"github.com/fsnotify/fsnotify"
)

type Outbox struct {
	watcher   *fsnotify.Watcher
	sender    Sender
	errors    chan error
	config    Config
	log       *slog.Logger
	debouncer *Debouncer
	metrics   *Metrics
	stopChan  chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	closed    bool
}

func NewOutbox(sender Sender, config Config) (*Outbox, error) {
	if config.DebounceDuration == 0 {
		config.DebounceDuration = DefaultDebounceDuration
	}
	if config.BufferSize == 0 {
		config.BufferSize = DefaultBufferSize
	}
	if config.IgnorePatterns == nil {
		config.IgnorePatterns = IgnoredPatterns
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	o := &Outbox{
		watcher:   watcher,
		sender:    sender,
		errors:    make(chan error, config.BufferSize),
		config:    config,
		log:       config.Logger.With(slog.String("component", "outbox")),
		debouncer: NewDebouncer(config.DebounceDuration),
		metrics:   &Metrics{},
		stopChan:  make(chan struct{}),
	}

	o.wg.Add(1)
	go o.run()

	return o, nil
}

// Watch добавляет каталог (без вложенных)
func (o *Outbox) Watch(dir string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrWatcherClosed
	}

	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotDirectory, dir)
	}

	if err := o.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	o.log.Info("Watching outbox", slog.String("dir", dir))
	return nil
}

func (o *Outbox) run() {
	defer o.wg.Done()

	for {
		select {
		case <-o.stopChan:
			return
		case event, ok := <-o.watcher.Events:
			if !ok {
				return
			}
			if o.shouldProcessEvent(event) {
				o.processEvent(event)
			}
		case err, ok := <-o.watcher.Errors:
			if !ok {
				return
			}
			o.handleError(err)
		}
	}
}

func (o *Outbox) shouldProcessEvent(event fsnotify.Event) bool {
	if event.Op&WatchedEvents == 0 {
		return false
	}

	// скрытые файлы
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return false
	}

	for _, pattern := range o.config.IgnorePatterns {
		if strings.Contains(event.Name, pattern) {
			o.log.Debug("Ignoring file", slog.String("path", event.Name), slog.String("pattern", pattern))
			return false
		}
	}

	return true
}

func (o *Outbox) processEvent(event fsnotify.Event) {
	o.metrics.RecordEvent()

	path := event.Name
	o.debouncer.Debounce(path, func() {
		// за время ожидания файл могли удалить или это каталог
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			return
		}

		if err := o.sender.SendFile(path); err != nil {
			o.handleError(fmt.Errorf("failed to send file %s: %w", path, err))
			return
		}

		o.metrics.RecordFileSent()
		o.log.Info("Outbox file sent", slog.String("path", path))
	})
}

func (o *Outbox) handleError(err error) {
	o.metrics.RecordError()

	select {
	case o.errors <- err:
	default:
		o.log.Warn("Error buffer full, dropping error", sl.Err(err))
	}
}

func (o *Outbox) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}
	o.closed = true

	close(o.stopChan)
	o.wg.Wait()
	o.debouncer.Stop()

	if err := o.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (o *Outbox) Errors() <-chan error {
	return o.errors
}

func (o *Outbox) Stats() Stats {
	return o.metrics.Stats()
}
