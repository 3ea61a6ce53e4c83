package connectionmanager

import (
	"errors"
	"fmt"
	"time"
)

const (
	// PortRange - сколько портов после basePort пробуем при старте
	PortRange = 10

	defaultMaxConnections = 100
	defaultEventBuffer    = 64
	eventSendTimeout      = 5 * time.Second
	acceptPollInterval    = time.Second
	readBufferSize        = 64 * 1024
)

var (
	ErrNoPortAvailable = errors.New("no free port in range")
	ErrNotListening    = errors.New("presence socket is not bound")
	ErrInvalidFilename = errors.New("invalid file name")
	ErrInvalidGroup    = errors.New("not an IPv4 multicast group")
	ErrNoInterfaces    = errors.New("no usable network interface")
	ErrClosed          = errors.New("connection manager is closed")
)

// Config содержит настройки для connection_manager
type Config struct {
	// Hostname отправляется в presence датаграммах
	Hostname     string
	DownloadsDir string
	// 0 - без таймаута
	DialTimeout    time.Duration
	MaxFrameSize   uint32
	MaxConnections int
	EventBuffer    int
}

func (c Config) withDefaults() Config {
	if c.MaxConnections <= 0 {
		c.MaxConnections = defaultMaxConnections
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = defaultEventBuffer
	}
	if c.DownloadsDir == "" {
		c.DownloadsDir = "downloads"
	}
	return c
}

// State - состояние соединения
type State int

const (
	StateConnecting State = iota
	StateEstablished
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateEstablished:
		return "established"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type EventType int

const (
	MessageReceived EventType = iota
	FileReceived
	PeerDiscovered
)

func (t EventType) String() string {
	switch t {
	case MessageReceived:
		return "message"
	case FileReceived:
		return "file"
	case PeerDiscovered:
		return "peer"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event публикуется менеджером для внешнего слоя (CLI, UI).
// Для PeerDiscovered Text содержит "hostname (ip)".
type Event struct {
	Type      EventType
	ConnID    string
	Address   string
	Text      string
	Path      string
	Hostname  string
	Timestamp string
}

// ConnectionInfo - снимок записи таблицы соединений
type ConnectionInfo struct {
	ID      string
	Address string
	State   State
}
