// Package netutil holds socket helpers shared by discovery and the connection manager.
package netutil

import (
	"context"
	"fmt"
	"net"
)

// ListenUDPShared binds a UDP socket that other processes on the host may bind too.
func ListenUDPShared(ctx context.Context, network, address string) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: reuseControl}

	pc, err := lc.ListenPacket(ctx, network, address)
	if err != nil {
		return nil, err
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("unexpected packet conn type %T", pc)
	}
	return conn, nil
}

// ActiveInterfaces returns interfaces that are up and not loopback.
func ActiveInterfaces(list func() ([]net.Interface, error)) ([]net.Interface, error) {
	if list == nil {
		list = net.Interfaces
	}

	ifaces, err := list()
	if err != nil {
		return nil, err
	}

	active := make([]net.Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		active = append(active, iface)
	}
	return active, nil
}
