package watcher

import "errors"

var (
	ErrWatcherClosed = errors.New("watcher is closed")
	ErrInvalidPath   = errors.New("invalid path")
	ErrNotDirectory  = errors.New("outbox must be a directory")
)
