package connectionmanager

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"lanlink/internal/protocol"
	"lanlink/internal/util/logger/sl"
)

type ConnectionManager struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	conns    map[*Connection]string // handle -> remote address
	listener *net.TCPListener
	port     int

	udp     *net.UDPConn
	udpPort int
	groups  map[string]*net.Interface // группа -> интерфейс, на котором вступили (nil - по умолчанию)

	connLimiter chan struct{}

	// для тестов
	interfaces func() ([]net.Interface, error)

	events chan Event
	errors chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

func NewConnectionManager(ctx context.Context, cfg Config, log *slog.Logger) *ConnectionManager {
	ctx, cancel := context.WithCancel(ctx)
	cfg = cfg.withDefaults()

	return &ConnectionManager{
		cfg:         cfg,
		log:         log.With(slog.String("component", "connection_manager")),
		conns:       make(map[*Connection]string),
		groups:      make(map[string]*net.Interface),
		connLimiter: make(chan struct{}, cfg.MaxConnections),
		interfaces:  net.Interfaces,
		events:      make(chan Event, cfg.EventBuffer),
		errors:      make(chan error, cfg.EventBuffer),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Events - канал событий: входящие сообщения, файлы, обнаруженные пиры
func (m *ConnectionManager) Events() <-chan Event {
	return m.events
}

// Errors - асинхронные ошибки (подключение, запись, файлы, multicast)
func (m *ConnectionManager) Errors() <-chan error {
	return m.errors
}

// Connect не блокирует: запись Connecting появляется сразу, дозвон идет в фоне.
func (m *ConnectionManager) Connect(address string, port int) {
	const op = "connectionmanager.Connect"
	log := m.log.With(slog.String("op", op), slog.String("address", address), slog.Int("port", port))

	if port <= 0 || port > 65535 {
		m.handleError(fmt.Errorf("connect %s: invalid port %d", address, port))
		return
	}

	c := newConnection(address)
	if !m.register(c) {
		m.handleError(fmt.Errorf("connect %s: %w", address, ErrClosed))
		return
	}

	log.Info("Connecting", slog.String("conn_id", c.ID()))

	go func() {
		defer m.wg.Done()

		target := net.JoinHostPort(address, strconv.Itoa(port))
		dialer := net.Dialer{Timeout: m.cfg.DialTimeout}

		conn, err := dialer.DialContext(m.ctx, "tcp", target)
		if err != nil {
			m.unregister(c)
			log.Warn("Failed to connect", sl.Err(err))
			m.handleError(fmt.Errorf("connect %s: %w", target, err))
			return
		}

		if !c.establish(conn) {
			m.unregister(c)
			return
		}

		log.Info("Connection established", slog.String("conn_id", c.ID()))
		m.serve(c)
	}()

	// presence сокет на port+1 рядом с портом пира
	if err := m.ensurePresenceSocket(port + 1); err != nil {
		log.Warn("Failed to bind presence socket", sl.Err(err))
		m.handleError(err)
	}
}

// SendText пишет один Text кадр во все установленные соединения
func (m *ConnectionManager) SendText(message string) {
	const op = "connectionmanager.SendText"
	log := m.log.With(slog.String("op", op))

	frame := protocol.EncodeText(message)
	sent := m.broadcast(frame)

	log.Debug("Text sent", slog.Int("connections", sent), slog.Int("bytes", len(frame)))
}

// SendFile читает файл целиком и отправляет его одним File кадром
func (m *ConnectionManager) SendFile(path string) error {
	const op = "connectionmanager.SendFile"
	log := m.log.With(slog.String("op", op), slog.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("send file: %w", err)
		log.Error("Failed to read file", sl.Err(err))
		m.handleError(err)
		return err
	}

	frame := protocol.EncodeFile(filepath.Base(path), data)
	if m.cfg.MaxFrameSize != 0 && uint64(len(frame)-protocol.LengthSize) > uint64(m.cfg.MaxFrameSize) {
		err = fmt.Errorf("send file %s: %w", path, protocol.ErrFrameTooLarge)
		m.handleError(err)
		return err
	}

	sent := m.broadcast(frame)
	log.Info("File sent", slog.Int("connections", sent), slog.Int("size", len(data)))
	return nil
}

func (m *ConnectionManager) broadcast(frame []byte) int {
	sent := 0
	for _, c := range m.snapshot() {
		if c.State() != StateEstablished {
			continue
		}
		if err := c.Send(frame); err != nil {
			m.handleError(err)
			continue
		}
		sent++
	}
	return sent
}

// Connections возвращает снимок таблицы соединений, отсортированный по адресу
func (m *ConnectionManager) Connections() []ConnectionInfo {
	conns := m.snapshot()

	infos := make([]ConnectionInfo, 0, len(conns))
	for _, c := range conns {
		infos = append(infos, c.info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Address == infos[j].Address {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].Address < infos[j].Address
	})
	return infos
}

func (m *ConnectionManager) snapshot() []*Connection {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns := make([]*Connection, 0, len(m.conns))
	for c := range m.conns {
		conns = append(conns, c)
	}
	return conns
}

// register добавляет запись в таблицу. При успехе вызывающий обязан запустить
// горутину соединения, которая завершится m.wg.Done().
func (m *ConnectionManager) register(c *Connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	m.conns[c] = c.Address()
	m.wg.Add(1)
	return true
}

func (m *ConnectionManager) unregister(c *Connection) {
	m.mu.Lock()
	delete(m.conns, c)
	m.mu.Unlock()

	c.Close()
}

// Port возвращает порт слушателя, 0 если не слушаем
func (m *ConnectionManager) Port() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port
}

// Close закрывает слушатель, presence сокет и все соединения
func (m *ConnectionManager) Close() error {
	const op = "connectionmanager.Close"
	log := m.log.With(slog.String("op", op))

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.cancel()

	listener, udp := m.listener, m.udp
	conns := make([]*Connection, 0, len(m.conns))
	for c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	var firstErr error
	if listener != nil {
		if err := listener.Close(); err != nil {
			firstErr = err
		}
	}
	if udp != nil {
		if err := udp.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, c := range conns {
		c.Close()
	}

	m.wg.Wait()
	log.Info("Connection manager stopped", slog.Int("connections", len(conns)))
	return firstErr
}

// emit отдает событие, при переполненном канале ждет eventSendTimeout и отбрасывает
func (m *ConnectionManager) emit(ev Event) {
	select {
	case m.events <- ev:
	case <-m.ctx.Done():
	case <-time.After(eventSendTimeout):
		m.log.Warn("event channel full, dropping event",
			slog.String("type", ev.Type.String()),
			slog.String("address", ev.Address),
		)
	}
}

func (m *ConnectionManager) handleError(err error) {
	select {
	case m.errors <- err:
	default:
		m.log.Debug("error channel full, dropping error", sl.Err(err))
	}
}
