// Package mdns advertises the node over multicast DNS and browses for other
// lanlink nodes. It plugs into discover.Discoverer as an extra mechanism.
package mdns

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lanlink/internal/util/logger/sl"

	"github.com/grandcat/zeroconf"
)

const (
	DefaultService        = "_lanlink._tcp"
	Domain                = "local."
	DefaultBrowseInterval = 30 * time.Second
	defaultBrowseTimeout  = 5 * time.Second
)

type Config struct {
	Service  string
	Instance string
	// порт обмена сообщениями, публикуется в записи сервиса
	Port           int
	BrowseInterval time.Duration
	BrowseTimeout  time.Duration
}

type server interface {
	Shutdown()
}

type registerFunc func(instance, service, domain string, port int, text []string) (server, error)

type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Mechanism реализует механизм обнаружения через mDNS
type Mechanism struct {
	cfg Config
	log *slog.Logger

	mu               sync.Mutex
	server           server
	onPeerDiscovered func(address string)
	cancel           context.CancelFunc
	wg               sync.WaitGroup

	register registerFunc
	browse   browseFunc
}

func New(cfg Config, log *slog.Logger) *Mechanism {
	if cfg.Service == "" {
		cfg.Service = DefaultService
	}
	if cfg.BrowseInterval <= 0 {
		cfg.BrowseInterval = DefaultBrowseInterval
	}
	if cfg.BrowseTimeout <= 0 {
		cfg.BrowseTimeout = defaultBrowseTimeout
	}

	return &Mechanism{
		cfg:      cfg,
		log:      log.With(slog.String("discovery", "mdns")),
		register: zeroconfRegister,
		browse:   zeroconfBrowse,
	}
}

func zeroconfRegister(instance, service, domain string, port int, text []string) (server, error) {
	return zeroconf.Register(instance, service, domain, port, text, nil)
}

func zeroconfBrowse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	// резолвер живет один Browse
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("create resolver: %w", err)
	}
	return resolver.Browse(ctx, service, domain, entries)
}

func (m *Mechanism) Name() string {
	return "mdns"
}

func (m *Mechanism) SetOnPeerDiscovered(callback func(address string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPeerDiscovered = callback
}

// Start публикует сервис и запускает периодический Browse
func (m *Mechanism) Start(ctx context.Context) error {
	const op = "mdns.Start"
	log := m.log.With(slog.String("op", op))

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return nil
	}

	srv, err := m.register(m.cfg.Instance, m.cfg.Service, Domain, m.cfg.Port, []string{
		"txtv=1",
		"instance=" + m.cfg.Instance,
	})
	if err != nil {
		return fmt.Errorf("register mdns service: %w", err)
	}
	m.server = srv

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go m.browseLoop(ctx)

	log.Info("mDNS advertisement started",
		slog.String("instance", m.cfg.Instance),
		slog.String("service", m.cfg.Service),
		slog.Int("port", m.cfg.Port),
	)
	return nil
}

func (m *Mechanism) Stop() error {
	m.mu.Lock()
	cancel, srv := m.cancel, m.server
	m.cancel, m.server = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	m.wg.Wait()

	if srv != nil {
		srv.Shutdown()
	}
	m.log.Info("mDNS advertisement stopped")
	return nil
}

func (m *Mechanism) browseLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.BrowseInterval)
	defer ticker.Stop()

	for {
		m.browseOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Mechanism) browseOnce(ctx context.Context) {
	const op = "mdns.browseOnce"
	log := m.log.With(slog.String("op", op))

	ctx, cancel := context.WithTimeout(ctx, m.cfg.BrowseTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := m.browse(ctx, m.cfg.Service, Domain, entries); err != nil {
		log.Warn("Failed to browse", sl.Err(err))
		return
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return
			}
			m.handleEntry(entry)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Mechanism) handleEntry(entry *zeroconf.ServiceEntry) {
	if entry == nil || entry.Instance == m.cfg.Instance || len(entry.AddrIPv4) == 0 {
		return
	}

	m.mu.Lock()
	callback := m.onPeerDiscovered
	m.mu.Unlock()

	address := fmt.Sprintf("%s:%d", entry.AddrIPv4[0].String(), entry.Port)
	m.log.Debug("Found service",
		slog.String("instance", entry.Instance),
		slog.String("host", entry.HostName),
		slog.String("address", address),
	)

	if callback != nil {
		callback(address)
	}
}
