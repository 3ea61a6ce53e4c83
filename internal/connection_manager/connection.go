package connectionmanager

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"lanlink/internal/protocol"

	"github.com/google/uuid"
)

var errNotEstablished = errors.New("connection is not established")

// Connection - одна TCP связь с пиром. Пишут в нее несколько горутин,
// поэтому запись сериализуется writeMu; читает только горутина reader.
type Connection struct {
	id      string
	address string

	mu    sync.RWMutex
	conn  net.Conn
	state State

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newConnection(address string) *Connection {
	return &Connection{
		id:      uuid.NewString(),
		address: address,
		state:   StateConnecting,
	}
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) Address() string {
	return c.address
}

func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Connection) info() ConnectionInfo {
	return ConnectionInfo{ID: c.id, Address: c.address, State: c.State()}
}

// establish привязывает сокет к записи. Если запись уже закрыта, сокет закрывается.
func (c *Connection) establish(conn net.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		conn.Close()
		return false
	}
	c.conn = conn
	c.state = StateEstablished
	return true
}

// Send пишет готовый кадр целиком.
func (c *Connection) Send(frame []byte) error {
	c.mu.RLock()
	conn, state := c.conn, c.state
	c.mu.RUnlock()

	if state != StateEstablished || conn == nil {
		return errNotEstablished
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("write to %s: %w", c.address, err)
	}
	return nil
}

func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		conn := c.conn
		c.state = StateClosed
		c.mu.Unlock()

		if conn != nil {
			err = conn.Close()
		}
	})
	return err
}

// readLoop читает поток, собирает кадры и отдает тела в handle по порядку.
// Блокирующий Read прерывается только закрытием net.Conn, поэтому остановка
// соединения - это Close. Возвращает причину завершения; io.EOF - пир закрыл связь.
func (c *Connection) readLoop(maxFrameSize uint32, handle func(body []byte)) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return errNotEstablished
	}

	decoder := protocol.NewDecoder(maxFrameSize)
	buf := make([]byte, readBufferSize)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			_, _ = decoder.Write(buf[:n])
			for {
				body, ok, derr := decoder.Next()
				if derr != nil {
					// длину не доверяем - синхронизацию потока не восстановить
					return derr
				}
				if !ok {
					break
				}
				handle(body)
			}
		}
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return io.EOF
			}
			return err
		}
	}
}
