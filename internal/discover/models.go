package discover

import (
	"context"
	"errors"
	"time"
)

const (
	DefaultPort = 45454
	// Marker - маяк узла и ответ на пробу
	Marker = "LAN-Device"
	// Probe - содержимое пробы при обходе сегмента
	Probe = "Discovery"

	DefaultBeaconInterval = 2 * time.Second
	DefaultQueueSize      = 512

	maxDatagramSize = 1500
)

var (
	ErrNotStarted     = errors.New("discovery is not started")
	ErrAlreadyStarted = errors.New("discovery is already started")
)

type Config struct {
	Port           int
	BeaconInterval time.Duration
	// размер очереди проб и ответов
	QueueSize int
	// дополнительные сегменты вида "192.168.1."
	Segments []string
}

func (c Config) withDefaults() Config {
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	if c.BeaconInterval <= 0 {
		c.BeaconInterval = DefaultBeaconInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	return c
}

// Mechanism представляет собой дополнительный механизм обнаружения пиров
// (mDNS и т.п.), который пополняет общий набор обнаруженных адресов.
type Mechanism interface {
	// Start запускает механизм обнаружения
	Start(ctx context.Context) error

	// Stop останавливает механизм обнаружения
	Stop() error

	// Name возвращает имя механизма обнаружения
	Name() string

	// SetOnPeerDiscovered устанавливает callback для обработки обнаруженных пиров
	SetOnPeerDiscovered(callback func(address string))
}
