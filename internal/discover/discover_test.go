package discover

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type packet struct {
	payload []byte
	addr    net.Addr
}

// fakePacketConn записывает исходящие датаграммы и отдает входящие из канала
type fakePacketConn struct {
	net.PacketConn

	mu     sync.Mutex
	writes []packet

	in        chan packet
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakePacketConn() *fakePacketConn {
	return &fakePacketConn{
		in:     make(chan packet, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakePacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	select {
	case p := <-f.in:
		return copy(b, p.payload), p.addr, nil
	case <-f.closed:
		return 0, nil, net.ErrClosed
	}
}

func (f *fakePacketConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.writes = append(f.writes, packet{payload: append([]byte(nil), b...), addr: addr})
	return len(b), nil
}

func (f *fakePacketConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakePacketConn) sent(payload string) []packet {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []packet
	for _, p := range f.writes {
		if string(p.payload) == payload {
			out = append(out, p)
		}
	}
	return out
}

type mockMechanism struct {
	mock.Mock
}

func (m *mockMechanism) Start(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockMechanism) Stop() error {
	return m.Called().Error(0)
}

func (m *mockMechanism) Name() string {
	return m.Called().String(0)
}

func (m *mockMechanism) SetOnPeerDiscovered(callback func(address string)) {
	m.Called(callback)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func cidr(t *testing.T, s string) net.Addr {
	t.Helper()
	ip, ipNet, err := net.ParseCIDR(s)
	require.NoError(t, err)
	ipNet.IP = ip
	return ipNet
}

func newTestDiscoverer(t *testing.T, addrs ...net.Addr) (*Discoverer, *fakePacketConn) {
	t.Helper()

	conn := newFakePacketConn()
	d := New(Config{BeaconInterval: time.Hour}, discardLogger())
	d.listen = func(context.Context, int) (net.PacketConn, error) { return conn, nil }
	d.interfaceAddrs = func() ([]net.Addr, error) { return addrs, nil }

	t.Cleanup(func() { d.Close() })
	return d, conn
}

func TestSubnetsFromAddrs(t *testing.T) {
	addrs := []net.Addr{
		cidr(t, "192.168.1.10/24"),
		cidr(t, "127.0.0.1/8"),
		cidr(t, "169.254.3.4/16"),
		cidr(t, "10.0.0.5/8"),
		cidr(t, "192.168.1.20/24"),
		cidr(t, "fe80::1/64"),
		&net.IPAddr{IP: net.IPv4(172, 16, 0, 9)},
	}

	assert.Equal(t, []string{"192.168.1.", "10.0.0.", "172.16.0."}, SubnetsFromAddrs(addrs))
}

func TestSubnetsFromAddrs_OnlyLoopback(t *testing.T) {
	assert.Empty(t, SubnetsFromAddrs([]net.Addr{cidr(t, "127.0.0.1/8")}))
}

func TestValidSegment(t *testing.T) {
	tests := []struct {
		prefix string
		want   bool
	}{
		{"192.168.1.", true},
		{"10.0.0.", true},
		{"255.255.255.", true},
		{"192.168.1", false},
		{"192.168.1.1", false},
		{"192.168.256.", false},
		{"a.b.c.", false},
		{"", false},
		{"1.2.3.4.", false},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidSegment(tt.prefix))
		})
	}
}

func TestStart_SweepsLocalSubnetsAndBeacons(t *testing.T) {
	d, conn := newTestDiscoverer(t, cidr(t, "192.168.7.3/24"))
	require.NoError(t, d.Start(context.Background()))

	assert.Equal(t, []string{"192.168.7."}, d.Segments())

	require.Eventually(t, func() bool {
		return len(conn.sent(Probe)) == 255
	}, 2*time.Second, 10*time.Millisecond)

	beacons := conn.sent(Marker)
	require.NotEmpty(t, beacons)
	assert.Equal(t, "255.255.255.255:45454", beacons[0].addr.String())

	assert.ErrorIs(t, d.Start(context.Background()), ErrAlreadyStarted)
}

func TestAddSegment_TwiceSweepsOnce(t *testing.T) {
	d, conn := newTestDiscoverer(t)
	require.NoError(t, d.Start(context.Background()))

	assert.True(t, d.AddSegment("10.1.2."))
	assert.False(t, d.AddSegment("10.1.2."))

	require.Eventually(t, func() bool {
		return len(conn.sent(Probe)) == 255
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	probes := conn.sent(Probe)
	require.Len(t, probes, 255)

	assert.Equal(t, "10.1.2.1:45454", probes[0].addr.String())
	assert.Equal(t, "10.1.2.255:45454", probes[254].addr.String())
	assert.Equal(t, []string{"10.1.2."}, d.Segments())
}

func TestAddSegment_Invalid(t *testing.T) {
	d, _ := newTestDiscoverer(t)

	assert.False(t, d.AddSegment("10.1.2"))
	assert.Empty(t, d.Segments())
}

func TestAddSegment_BeforeStart(t *testing.T) {
	d, conn := newTestDiscoverer(t)

	assert.True(t, d.AddSegment("10.9.9."))
	assert.Empty(t, conn.sent(Probe), "no sweep before start")

	require.NoError(t, d.Start(context.Background()))
	require.Eventually(t, func() bool {
		return len(conn.sent(Probe)) == 255
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOnDatagram_MarkerAddsPeerOnce(t *testing.T) {
	d, _ := newTestDiscoverer(t)

	var mu sync.Mutex
	var seen []string
	d.SetOnPeerDiscovered(func(address string) {
		mu.Lock()
		seen = append(seen, address)
		mu.Unlock()
	})

	from := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 42), Port: DefaultPort}
	d.OnDatagram(from, []byte(Marker))
	d.OnDatagram(from, []byte(Marker))
	d.OnDatagram(&net.UDPAddr{IP: net.IPv4(192, 168, 1, 3), Port: DefaultPort}, []byte(Marker))

	assert.Equal(t, []string{"192.168.1.3", "192.168.1.42"}, d.DiscoveredPeers())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"192.168.1.42", "192.168.1.3"}, seen)
}

func TestOnDatagram_IgnoresOtherPayloads(t *testing.T) {
	d, _ := newTestDiscoverer(t)
	from := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 42), Port: DefaultPort}

	d.OnDatagram(from, []byte("LAN-Device "))
	d.OnDatagram(from, []byte("lan-device"))
	d.OnDatagram(from, nil)

	assert.Empty(t, d.DiscoveredPeers())
}

func TestOnDatagram_IgnoresOwnAddress(t *testing.T) {
	d, _ := newTestDiscoverer(t, cidr(t, "192.168.7.3/24"))
	require.NoError(t, d.Start(context.Background()))

	d.OnDatagram(&net.UDPAddr{IP: net.IPv4(192, 168, 7, 3), Port: DefaultPort}, []byte(Marker))
	assert.Empty(t, d.DiscoveredPeers())
}

func TestOnDatagram_ProbeIsAnswered(t *testing.T) {
	d, conn := newTestDiscoverer(t)
	require.NoError(t, d.Start(context.Background()))

	from := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 8), Port: DefaultPort}
	d.OnDatagram(from, []byte(Probe))

	require.Eventually(t, func() bool {
		for _, p := range conn.sent(Marker) {
			if p.addr.String() == from.String() {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	assert.Empty(t, d.DiscoveredPeers(), "a probe alone does not make a peer")
}

func TestReadLoop_FeedsPeerSet(t *testing.T) {
	d, conn := newTestDiscoverer(t)
	require.NoError(t, d.Start(context.Background()))

	conn.in <- packet{payload: []byte(Marker), addr: &net.UDPAddr{IP: net.IPv4(10, 0, 0, 9), Port: DefaultPort}}

	require.Eventually(t, func() bool {
		return len(d.DiscoveredPeers()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "10.0.0.9", d.DiscoveredPeers()[0])
}

func TestNotStarted(t *testing.T) {
	d, _ := newTestDiscoverer(t)

	assert.ErrorIs(t, d.BroadcastBeacon(), ErrNotStarted)
	assert.ErrorIs(t, d.ProbeSegment("10.0.0."), ErrNotStarted)
	assert.Error(t, d.ProbeSegment("bad"))
}

func TestContextCancelStopsDiscovery(t *testing.T) {
	d, conn := newTestDiscoverer(t)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Start(ctx))
	cancel()

	select {
	case <-conn.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("socket was not closed after cancel")
	}
	assert.NoError(t, d.Close())
}

func TestSender_BeaconOvertakesQueuedProbes(t *testing.T) {
	conn := newFakePacketConn()
	s := newSender(conn, 8, discardLogger())

	probe := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: DefaultPort}
	for i := 0; i < 5; i++ {
		require.True(t, s.trySendBulk(datagram{payload: []byte(Probe), to: probe}))
	}
	require.True(t, s.sendPriority(datagram{payload: []byte(Marker), to: probe}))
	assert.False(t, s.sendPriority(datagram{payload: []byte(Marker), to: probe}), "slot holds one beacon")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.run(ctx)

	require.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return len(conn.writes) == 6
	}, 2*time.Second, 10*time.Millisecond)

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Equal(t, Marker, string(conn.writes[0].payload))
}

func TestSender_QueueFullDropsReplies(t *testing.T) {
	s := newSender(newFakePacketConn(), 1, discardLogger())
	to := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: DefaultPort}

	assert.True(t, s.trySendBulk(datagram{payload: []byte(Marker), to: to}))
	assert.False(t, s.trySendBulk(datagram{payload: []byte(Marker), to: to}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, s.sendBulk(ctx, datagram{payload: []byte(Probe), to: to}))
}

func TestMechanismFeedsPeerSet(t *testing.T) {
	d, _ := newTestDiscoverer(t)

	var callback func(string)
	m := new(mockMechanism)
	m.On("Name").Return("mdns")
	m.On("SetOnPeerDiscovered", mock.Anything).Run(func(args mock.Arguments) {
		callback = args.Get(0).(func(string))
	})
	m.On("Start", mock.Anything).Return(nil)
	m.On("Stop").Return(nil)

	d.RegisterMechanism(m)
	require.NotNil(t, callback)
	assert.Equal(t, []string{"mdns"}, d.Mechanisms())

	require.NoError(t, d.Start(context.Background()))

	callback("10.0.0.20:12345")
	callback("10.0.0.20")
	assert.Equal(t, []string{"10.0.0.20"}, d.DiscoveredPeers())

	require.NoError(t, d.Close())
	m.AssertExpectations(t)
}

func TestUnregisterMechanism(t *testing.T) {
	d, _ := newTestDiscoverer(t)

	m := new(mockMechanism)
	m.On("Name").Return("mdns")
	m.On("SetOnPeerDiscovered", mock.Anything).Return()
	m.On("Stop").Return(nil).Once()

	d.RegisterMechanism(m)
	d.UnregisterMechanism("mdns")
	d.UnregisterMechanism("mdns")

	assert.Empty(t, d.Mechanisms())
	m.AssertExpectations(t)
}
