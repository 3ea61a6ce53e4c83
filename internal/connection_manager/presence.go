package connectionmanager

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"lanlink/internal/protocol"
	"lanlink/internal/util/logger/sl"
	"lanlink/internal/util/netutil"

	"golang.org/x/net/ipv4"
)

const maxDatagramSize = 64 * 1024

func (m *ConnectionManager) presenceLoop(udp *net.UDPConn) {
	defer m.wg.Done()

	const op = "connectionmanager.presenceLoop"
	log := m.log.With(slog.String("op", op))

	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := udp.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn("Failed to read datagram", sl.Err(err))
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		m.onDatagram(data, from)
	}
}

// onDatagram разбирает presence датаграмму; мусор и пустые поля отбрасываются
func (m *ConnectionManager) onDatagram(data []byte, from *net.UDPAddr) {
	p, err := protocol.DecodePresence(data)
	if err != nil {
		m.log.Debug("Dropping presence datagram",
			slog.String("from", from.String()),
			sl.Err(err),
		)
		return
	}

	ip := from.IP.String()
	m.emit(Event{
		Type:      PeerDiscovered,
		Address:   ip,
		Hostname:  p.Hostname,
		Timestamp: p.Timestamp,
		Text:      fmt.Sprintf("%s (%s)", p.Hostname, ip),
	})
}

func parseGroup(group string) (net.IP, error) {
	if group == "" {
		group = protocol.DefaultPresenceGroup
	}
	ip := net.ParseIP(group).To4()
	if ip == nil || !ip.IsMulticast() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidGroup, group)
	}
	return ip, nil
}

// JoinMulticastGroup вступает в группу на первом интерфейсе, где это удалось;
// если ни один не подошел - на интерфейсе по умолчанию. Повторный вызов ничего не делает.
func (m *ConnectionManager) JoinMulticastGroup(group string) error {
	const op = "connectionmanager.JoinMulticastGroup"
	log := m.log.With(slog.String("op", op), slog.String("group", group))

	ip, err := parseGroup(group)
	if err != nil {
		m.handleError(err)
		return err
	}
	key := ip.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.udp == nil {
		return ErrNotListening
	}
	if _, joined := m.groups[key]; joined {
		return nil
	}

	pc := ipv4.NewPacketConn(m.udp)
	if err := pc.SetMulticastLoopback(true); err != nil {
		log.Debug("Failed to enable multicast loopback", sl.Err(err))
	}

	ifaces, err := netutil.ActiveInterfaces(m.interfaces)
	if err != nil {
		log.Warn("Failed to list interfaces", sl.Err(err))
	}

	groupAddr := &net.UDPAddr{IP: ip}
	for i := range ifaces {
		iface := ifaces[i]
		if iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := pc.JoinGroup(&iface, groupAddr); err != nil {
			log.Warn("Failed to join group on interface", slog.String("iface", iface.Name), sl.Err(err))
			m.handleError(fmt.Errorf("join %s on %s: %w", key, iface.Name, err))
			continue
		}

		m.groups[key] = &iface
		log.Info("Joined multicast group", slog.String("iface", iface.Name))
		return nil
	}

	if err := pc.JoinGroup(nil, groupAddr); err != nil {
		log.Warn("Failed to join group on default interface", sl.Err(err))
		err = fmt.Errorf("join %s: %w", key, err)
		m.handleError(err)
		return err
	}

	m.groups[key] = nil
	log.Info("Joined multicast group on default interface")
	return nil
}

// LeaveMulticastGroup выходит из группы на том интерфейсе, где вступали
func (m *ConnectionManager) LeaveMulticastGroup(group string) error {
	const op = "connectionmanager.LeaveMulticastGroup"
	log := m.log.With(slog.String("op", op), slog.String("group", group))

	ip, err := parseGroup(group)
	if err != nil {
		m.handleError(err)
		return err
	}
	key := ip.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.udp == nil {
		return ErrNotListening
	}

	iface, joined := m.groups[key]
	if !joined {
		return nil
	}

	// запись остается, пока сокет в группе: иначе Join не вступит повторно
	if err := ipv4.NewPacketConn(m.udp).LeaveGroup(iface, &net.UDPAddr{IP: ip}); err != nil {
		log.Warn("Failed to leave multicast group", sl.Err(err))
		err = fmt.Errorf("leave %s: %w", key, err)
		m.handleError(err)
		return err
	}
	delete(m.groups, key)

	log.Info("Left multicast group")
	return nil
}

// BroadcastPresence отправляет "я здесь" в group:<локальный UDP порт>.
// Периодичность задает вызывающий.
func (m *ConnectionManager) BroadcastPresence(group string) error {
	const op = "connectionmanager.BroadcastPresence"
	log := m.log.With(slog.String("op", op))

	ip, err := parseGroup(group)
	if err != nil {
		m.handleError(err)
		return err
	}

	// ошибка вступления уже отправлена в Errors, отправку не блокирует
	if err := m.JoinMulticastGroup(ip.String()); errors.Is(err, ErrNotListening) {
		return err
	}

	m.mu.Lock()
	udp, port := m.udp, m.udpPort
	m.mu.Unlock()

	data := protocol.EncodePresence(protocol.NewPresence(time.Now(), m.cfg.Hostname))
	if _, err := udp.WriteToUDP(data, &net.UDPAddr{IP: ip, Port: port}); err != nil {
		err = fmt.Errorf("send presence to %s:%d: %w", ip, port, err)
		log.Warn("Failed to send presence", sl.Err(err))
		m.handleError(err)
		return err
	}

	log.Debug("Presence sent", slog.String("group", ip.String()), slog.Int("port", port))
	return nil
}
