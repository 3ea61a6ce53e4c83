package cli

import (
	"context"

	connectionmanager "lanlink/internal/connection_manager"
	"lanlink/internal/discover"
)

// Messenger - то, что CLI использует от менеджера соединений
type Messenger interface {
	Connect(address string, port int)
	SendText(message string)
	SendFile(path string) error
	Connections() []connectionmanager.ConnectionInfo
	JoinMulticastGroup(group string) error
	LeaveMulticastGroup(group string) error
	BroadcastPresence(group string) error
	Port() int
}

// Discoverer - то, что CLI использует от обнаружения
type Discoverer interface {
	DiscoveredPeers() []string
	AddSegment(prefix string) bool
	Segments() []string
}

// AppContext хранит зависимости, которые будут использоваться в командах CLI
type AppContext struct {
	Messenger  Messenger
	Discoverer Discoverer
	CancelFunc context.CancelFunc
}

func NewAppContext(m Messenger, d Discoverer, cancel context.CancelFunc) *AppContext {
	return &AppContext{
		Messenger:  m,
		Discoverer: d,
		CancelFunc: cancel,
	}
}

// ValidSegment проверяет префикс сегмента вида "192.168.1."
func ValidSegment(prefix string) bool {
	return discover.ValidSegment(prefix)
}
