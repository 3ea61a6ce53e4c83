package watcher

import (
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	DefaultDebounceDuration = 500 * time.Millisecond
	DefaultBufferSize       = 100
)

var (
	// События, после которых файл отправляется
	WatchedEvents = fsnotify.Create | fsnotify.Write

	// Файловые паттерны, которые нужно игнорировать
	IgnoredPatterns = []string{
		":Zone.Identifier",
		".tmp",
		".swp",
		"~",
	}
)
