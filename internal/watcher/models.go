package watcher

import (
	"log/slog"
	"time"
)

// Sender отправляет файл всем подключенным пирам
type Sender interface {
	SendFile(path string) error
}

// Config содержит настройки для Outbox
type Config struct {
	DebounceDuration time.Duration
	BufferSize       int
	// nil - IgnoredPatterns
	IgnorePatterns []string
	Logger         *slog.Logger
}
