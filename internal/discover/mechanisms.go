package discover

import (
	"context"
	"log/slog"

	"lanlink/internal/util/logger/sl"
)

// RegisterMechanism регистрирует дополнительный механизм обнаружения.
// Если обнаружение уже запущено, механизм стартует сразу.
func (d *Discoverer) RegisterMechanism(mechanism Mechanism) {
	const op = "discover.RegisterMechanism"
	log := d.log.With(slog.String("op", op))

	name := mechanism.Name()
	mechanism.SetOnPeerDiscovered(func(address string) {
		d.onMechanismPeer(name, address)
	})

	d.mechanismsLock.Lock()
	d.mechanisms[name] = mechanism
	d.mechanismsLock.Unlock()

	log.Info("Registered discovery mechanism", slog.String("mechanism", name))

	d.mu.Lock()
	ctx, running := d.ctx, d.started && !d.closed
	d.mu.Unlock()

	if running {
		d.startMechanism(ctx, name, mechanism)
	}
}

// UnregisterMechanism останавливает и удаляет механизм
func (d *Discoverer) UnregisterMechanism(name string) {
	d.mechanismsLock.Lock()
	mechanism, exists := d.mechanisms[name]
	delete(d.mechanisms, name)
	d.mechanismsLock.Unlock()

	if !exists {
		return
	}
	if err := mechanism.Stop(); err != nil {
		d.log.Warn("Error stopping discovery mechanism", slog.String("mechanism", name), sl.Err(err))
	}
}

// Mechanisms возвращает имена зарегистрированных механизмов
func (d *Discoverer) Mechanisms() []string {
	d.mechanismsLock.RLock()
	defer d.mechanismsLock.RUnlock()

	names := make([]string, 0, len(d.mechanisms))
	for name := range d.mechanisms {
		names = append(names, name)
	}
	return names
}

func (d *Discoverer) startMechanisms() {
	d.mechanismsLock.RLock()
	defer d.mechanismsLock.RUnlock()

	for name, mechanism := range d.mechanisms {
		d.startMechanism(d.ctx, name, mechanism)
	}
}

func (d *Discoverer) startMechanism(ctx context.Context, name string, mechanism Mechanism) {
	if err := mechanism.Start(ctx); err != nil {
		d.log.Error("Failed to start discovery mechanism", slog.String("mechanism", name), sl.Err(err))
		return
	}
	d.log.Info("Started discovery mechanism", slog.String("mechanism", name))
}

func (d *Discoverer) stopMechanisms() {
	d.mechanismsLock.RLock()
	defer d.mechanismsLock.RUnlock()

	for name, mechanism := range d.mechanisms {
		if err := mechanism.Stop(); err != nil {
			d.log.Error("Error stopping discovery mechanism", slog.String("mechanism", name), sl.Err(err))
		}
	}
}

func (d *Discoverer) onMechanismPeer(name, address string) {
	ip := hostOf(stringAddr(address))

	d.mu.Lock()
	_, own := d.local[ip]
	d.mu.Unlock()
	if own || ip == "" {
		return
	}
	d.addPeer(ip, name)
}

// stringAddr позволяет разобрать "host" и "host:port" одинаково
type stringAddr string

func (a stringAddr) Network() string { return "udp" }
func (a stringAddr) String() string  { return string(a) }
