// Package discover finds lanlink peers on the local network: it announces
// itself with a broadcast beacon, sweeps /24 segments with probes and keeps
// the set of addresses that answered.
package discover

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"lanlink/internal/util/logger/sl"
	"lanlink/internal/util/netutil"
)

type Discoverer struct {
	cfg Config
	log *slog.Logger

	mu         sync.Mutex
	segments   []string
	segmentSet map[string]struct{}
	peers      map[string]struct{}
	local      map[string]struct{}
	onPeer     func(address string)

	mechanisms     map[string]Mechanism
	mechanismsLock sync.RWMutex

	sender *sender

	// подменяются в тестах
	listen         func(ctx context.Context, port int) (net.PacketConn, error)
	interfaceAddrs func() ([]net.Addr, error)

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	closed  bool
}

func New(cfg Config, log *slog.Logger) *Discoverer {
	return &Discoverer{
		cfg:            cfg.withDefaults(),
		log:            log.With(slog.String("component", "discover")),
		segmentSet:     make(map[string]struct{}),
		peers:          make(map[string]struct{}),
		local:          map[string]struct{}{},
		mechanisms:     make(map[string]Mechanism),
		listen:         listenShared,
		interfaceAddrs: net.InterfaceAddrs,
	}
}

func listenShared(ctx context.Context, port int) (net.PacketConn, error) {
	return netutil.ListenUDPShared(ctx, "udp4", fmt.Sprintf(":%d", port))
}

// SetOnPeerDiscovered вызывается один раз на каждый новый адрес
func (d *Discoverer) SetOnPeerDiscovered(callback func(address string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onPeer = callback
}

// Start поднимает сокет обнаружения, отправляет маяк, обходит все сегменты
// и запускает таймер маяка. Остановка - отмена ctx или Close.
func (d *Discoverer) Start(ctx context.Context) error {
	const op = "discover.Start"
	log := d.log.With(slog.String("op", op))

	d.mu.Lock()
	if d.started || d.closed {
		d.mu.Unlock()
		return ErrAlreadyStarted
	}

	conn, err := d.listen(ctx, d.cfg.Port)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("bind discovery port %d: %w", d.cfg.Port, err)
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.sender = newSender(conn, d.cfg.QueueSize, d.log)
	d.started = true

	addrs, err := d.interfaceAddrs()
	if err != nil {
		log.Warn("Failed to enumerate interface addresses", sl.Err(err))
	}
	d.local = localIPs(addrs)

	for _, prefix := range SubnetsFromAddrs(addrs) {
		d.addSegmentLocked(prefix)
	}
	for _, prefix := range d.cfg.Segments {
		if ValidSegment(prefix) {
			d.addSegmentLocked(prefix)
		} else {
			log.Warn("Ignoring invalid segment", slog.String("segment", prefix))
		}
	}
	segments := append([]string(nil), d.segments...)
	d.mu.Unlock()

	d.wg.Add(4)
	go func() {
		defer d.wg.Done()
		d.sender.run(d.ctx)
	}()
	go d.readLoop(conn)
	go d.beaconLoop()

	// закрытие сокета - единственный способ прервать ReadFrom
	go func() {
		defer d.wg.Done()
		<-d.ctx.Done()
		conn.Close()
	}()

	_ = d.BroadcastBeacon()
	for _, prefix := range segments {
		d.startSweep(prefix)
	}

	d.startMechanisms()

	log.Info("Discovery started",
		slog.Int("port", d.cfg.Port),
		slog.Any("segments", segments),
	)
	return nil
}

// Close останавливает механизмы, таймер и сокет
func (d *Discoverer) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	started := d.started
	d.mu.Unlock()

	d.stopMechanisms()

	if !started {
		return nil
	}

	d.cancel()
	d.wg.Wait()

	d.log.Info("Discovery stopped")
	return nil
}

// AddSegment регистрирует префикс "a.b.c." и запускает по нему один обход.
// Повторная регистрация ничего не делает.
func (d *Discoverer) AddSegment(prefix string) bool {
	if !ValidSegment(prefix) {
		d.log.Warn("Invalid segment", slog.String("segment", prefix))
		return false
	}

	d.mu.Lock()
	added := d.addSegmentLocked(prefix)
	started := d.started && !d.closed
	d.mu.Unlock()

	if added && started {
		d.startSweep(prefix)
	}
	return added
}

func (d *Discoverer) addSegmentLocked(prefix string) bool {
	if _, ok := d.segmentSet[prefix]; ok {
		return false
	}
	d.segmentSet[prefix] = struct{}{}
	d.segments = append(d.segments, prefix)
	return true
}

// Segments возвращает префиксы в порядке регистрации
func (d *Discoverer) Segments() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.segments...)
}

// DiscoveredPeers возвращает отсортированный снимок обнаруженных адресов
func (d *Discoverer) DiscoveredPeers() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	peers := make([]string, 0, len(d.peers))
	for peer := range d.peers {
		peers = append(peers, peer)
	}
	sort.Strings(peers)
	return peers
}

// BroadcastBeacon ставит маяк в приоритетный слот отправителя
func (d *Discoverer) BroadcastBeacon() error {
	s, err := d.activeSender()
	if err != nil {
		return err
	}

	s.sendPriority(datagram{
		payload: []byte(Marker),
		to:      &net.UDPAddr{IP: net.IPv4bcast, Port: d.cfg.Port},
	})
	return nil
}

// ProbeSegment отправляет пробы на prefix.1 … prefix.255 в фоне
func (d *Discoverer) ProbeSegment(prefix string) error {
	if !ValidSegment(prefix) {
		return fmt.Errorf("invalid segment %q", prefix)
	}
	if _, err := d.activeSender(); err != nil {
		return err
	}

	d.startSweep(prefix)
	return nil
}

func (d *Discoverer) activeSender() (*sender, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started || d.closed {
		return nil, ErrNotStarted
	}
	return d.sender, nil
}

func (d *Discoverer) startSweep(prefix string) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		d.sweep(prefix)
	}()
}

func (d *Discoverer) sweep(prefix string) {
	const op = "discover.sweep"
	log := d.log.With(slog.String("op", op), slog.String("segment", prefix))

	payload := []byte(Probe)
	for host := 1; host <= 255; host++ {
		ip := net.ParseIP(prefix + strconv.Itoa(host))
		if ip == nil {
			log.Warn("Bad probe address", slog.Int("host", host))
			return
		}

		if !d.sender.sendBulk(d.ctx, datagram{payload: payload, to: &net.UDPAddr{IP: ip, Port: d.cfg.Port}}) {
			log.Debug("Sweep interrupted", slog.Int("host", host))
			return
		}
	}
	log.Debug("Sweep queued")
}

func (d *Discoverer) beaconLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.BeaconInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			_ = d.BroadcastBeacon()
		}
	}
}

func (d *Discoverer) readLoop(conn net.PacketConn) {
	defer d.wg.Done()

	const op = "discover.readLoop"
	log := d.log.With(slog.String("op", op))

	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-d.ctx.Done():
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			log.Debug("Discovery socket closed", sl.Err(err))
			return
		}

		d.OnDatagram(from, buf[:n])
	}
}

// OnDatagram: маркер от нового адреса добавляет пира, проба получает
// в ответ маркер. Собственные адреса игнорируются, поэтому два экземпляра
// на одном хосте (общий порт через SO_REUSEPORT) друг друга не обнаружат.
func (d *Discoverer) OnDatagram(from net.Addr, payload []byte) {
	ip := hostOf(from)
	if ip == "" {
		return
	}

	d.mu.Lock()
	_, own := d.local[ip]
	d.mu.Unlock()
	if own {
		return
	}

	switch string(payload) {
	case Marker:
		d.addPeer(ip, "beacon")
	case Probe:
		s, err := d.activeSender()
		if err != nil {
			return
		}
		if !s.trySendBulk(datagram{payload: []byte(Marker), to: from}) {
			d.log.Debug("Send queue full, probe reply dropped", slog.String("to", ip))
		}
	default:
		d.log.Debug("Ignoring datagram", slog.String("from", ip), slog.Int("size", len(payload)))
	}
}

func (d *Discoverer) addPeer(ip, source string) {
	d.mu.Lock()
	if _, exists := d.peers[ip]; exists {
		d.mu.Unlock()
		return
	}
	d.peers[ip] = struct{}{}
	callback := d.onPeer
	d.mu.Unlock()

	d.log.Info("New peer discovered", slog.String("address", ip), slog.String("source", source))
	if callback != nil {
		callback(ip)
	}
}

func hostOf(addr net.Addr) string {
	switch v := addr.(type) {
	case *net.UDPAddr:
		if ip4 := v.IP.To4(); ip4 != nil {
			return ip4.String()
		}
		return v.IP.String()
	case nil:
		return ""
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return addr.String()
		}
		return host
	}
}
