package connectionmanager

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"lanlink/internal/util/logger/sl"
	"lanlink/internal/util/netutil"
)

// StartListening пробует порты basePort..basePort+PortRange. Порт считается
// занятым, если не поднялся TCP или рядом с ним presence сокет на port+1
// без единого рабочего интерфейса. Повторный вызов возвращает текущий порт.
func (m *ConnectionManager) StartListening(basePort int) (int, error) {
	const op = "connectionmanager.StartListening"
	log := m.log.With(slog.String("op", op))

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}
	if m.listener != nil {
		return m.port, nil
	}

	for port := basePort; port <= basePort+PortRange; port++ {
		if port <= 0 || port >= 65535 {
			continue
		}

		tcpAddr := &net.TCPAddr{Port: port}
		ln, err := net.ListenTCP("tcp4", tcpAddr)
		if err != nil {
			log.Debug("Port busy", slog.Int("port", port), sl.Err(err))
			continue
		}

		if err := m.bindPresenceLocked(port + 1); err != nil {
			log.Debug("Presence socket unavailable", slog.Int("port", port+1), sl.Err(err))
			ln.Close()
			continue
		}

		m.listener = ln
		m.port = port

		m.wg.Add(1)
		go m.acceptLoop(ln)

		log.Info("Listening", slog.Int("port", port), slog.Int("presence_port", m.udpPort))
		return port, nil
	}

	log.Error("No port available", slog.Int("base_port", basePort), slog.Int("range", PortRange))
	return 0, fmt.Errorf("%w: %d..%d", ErrNoPortAvailable, basePort, basePort+PortRange)
}

func (m *ConnectionManager) acceptLoop(ln *net.TCPListener) {
	defer m.wg.Done()

	const op = "connectionmanager.acceptLoop"
	log := m.log.With(slog.String("op", op))

	for {
		select {
		case <-m.ctx.Done():
			log.Info("Shutting down listener")
			return
		default:
		}

		if err := ln.SetDeadline(time.Now().Add(acceptPollInterval)); err != nil {
			log.Warn("Failed to set deadline", sl.Err(err))
		}

		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue // продолжаем слушать, если это ошибка таймаута
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn("Error accepting connection", sl.Err(err))
			continue
		}

		select {
		case m.connLimiter <- struct{}{}:
			m.onNewConnection(conn)
		default:
			log.Warn("Too many connections, rejecting new connection", slog.String("remote_addr", conn.RemoteAddr().String()))
			conn.Close()
		}
	}
}

func (m *ConnectionManager) onNewConnection(conn net.Conn) {
	address := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(address); err == nil {
		address = host
	}

	c := newConnection(address)
	c.establish(conn)

	if !m.register(c) {
		conn.Close()
		<-m.connLimiter
		return
	}

	m.log.Info("New connection established",
		slog.String("conn_id", c.ID()),
		slog.String("address", address),
	)

	go func() {
		defer m.wg.Done()
		defer func() { <-m.connLimiter }()
		m.serve(c)
	}()
}

// bindPresenceLocked поднимает UDP сокет, если его еще нет. Вызывается под m.mu.
func (m *ConnectionManager) bindPresenceLocked(port int) error {
	if m.udp != nil {
		return nil
	}

	ifaces, err := netutil.ActiveInterfaces(m.interfaces)
	if err != nil {
		return fmt.Errorf("list interfaces: %w", err)
	}
	if len(ifaces) == 0 {
		return ErrNoInterfaces
	}

	udp, err := netutil.ListenUDPShared(m.ctx, "udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("bind udp %d: %w", port, err)
	}

	m.udp = udp
	m.udpPort = port

	m.wg.Add(1)
	go m.presenceLoop(udp)
	return nil
}

func (m *ConnectionManager) ensurePresenceSocket(port int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	return m.bindPresenceLocked(port)
}
