package discover

import (
	"context"
	"log/slog"
	"net"

	"lanlink/internal/util/logger/sl"
)

type datagram struct {
	payload []byte
	to      net.Addr
}

// sender - единственный писатель в общий сокет обнаружения.
// Маяк идет через слот на одно место и обгоняет очередь проб.
type sender struct {
	conn     net.PacketConn
	priority chan datagram
	bulk     chan datagram
	log      *slog.Logger
}

func newSender(conn net.PacketConn, queueSize int, log *slog.Logger) *sender {
	return &sender{
		conn:     conn,
		priority: make(chan datagram, 1),
		bulk:     make(chan datagram, queueSize),
		log:      log,
	}
}

func (s *sender) run(ctx context.Context) {
	for {
		select {
		case dg := <-s.priority:
			s.write(dg)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case dg := <-s.priority:
			s.write(dg)
		case dg := <-s.bulk:
			s.write(dg)
		}
	}
}

// sendPriority не блокирует; если маяк уже ждет, новый не нужен
func (s *sender) sendPriority(dg datagram) bool {
	select {
	case s.priority <- dg:
		return true
	default:
		return false
	}
}

// sendBulk ждет места в очереди, пока жив ctx
func (s *sender) sendBulk(ctx context.Context, dg datagram) bool {
	select {
	case s.bulk <- dg:
		return true
	case <-ctx.Done():
		return false
	}
}

// trySendBulk для ответов: при полной очереди ответ отбрасывается
func (s *sender) trySendBulk(dg datagram) bool {
	select {
	case s.bulk <- dg:
		return true
	default:
		return false
	}
}

func (s *sender) write(dg datagram) {
	if _, err := s.conn.WriteTo(dg.payload, dg.to); err != nil {
		s.log.Debug("Failed to send datagram", slog.String("to", dg.to.String()), sl.Err(err))
	}
}
