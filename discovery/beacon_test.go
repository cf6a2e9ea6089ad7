package discovery

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openLoopback(t *testing.T, target string) *Beacon {
	t.Helper()
	b, err := Open(context.Background(), Options{
		Tag:        []byte("dchat"),
		Port:       1337,
		ListenAddr: "127.0.0.1:0",
		Target:     target,
	})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestOpenValidation(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, Options{Port: 1337, ListenAddr: "127.0.0.1:0"})
	assert.ErrorIs(t, err, ErrEmptyTag)

	_, err = Open(ctx, Options{Tag: []byte("dchat"), Port: 0})
	assert.Error(t, err)

	_, err = Open(ctx, Options{Tag: []byte("dchat"), Port: 1337, ListenAddr: "127.0.0.1:0", Mode: "carrier-pigeon"})
	assert.Error(t, err)

	_, err = Open(ctx, Options{Tag: []byte("dchat"), Port: 1337, ListenAddr: "127.0.0.1:0", Mode: ModeMulticast, Group: "10.0.0.1"})
	assert.Error(t, err)
}

func TestAnnounceReachesListener(t *testing.T) {
	b := openLoopback(t, "")
	a := openLoopback(t, b.LocalAddr().String())

	require.NoError(t, a.Announce())

	require.NoError(t, b.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	payload, src, err := b.ReadDatagram()
	require.NoError(t, err)
	assert.Equal(t, []byte("dchat"), payload)
	assert.Equal(t, a.LocalAddr().String(), src.String())

	target, err := b.ListenOnce(payload, src)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddrPort("127.0.0.1:1337"), target)
}

func TestListenOnceMismatch(t *testing.T) {
	b := openLoopback(t, "")
	src := netip.MustParseAddrPort("192.0.2.9:1337")

	for _, payload := range [][]byte{[]byte("other"), []byte("dchat\n"), []byte("dcha"), nil} {
		_, err := b.ListenOnce(payload, src)
		assert.ErrorIs(t, err, ErrChannelMismatch, "payload %q", payload)
	}
}

func TestListenOnceFiltersSelf(t *testing.T) {
	b := openLoopback(t, "")
	port := b.localPort

	_, err := b.ListenOnce([]byte("dchat"), netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), port))
	assert.ErrorIs(t, err, ErrSelfAnnouncement)

	// Same port from a remote host is another node.
	target, err := b.ListenOnce([]byte("dchat"), netip.AddrPortFrom(netip.MustParseAddr("192.0.2.9"), port))
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.9:1337", target.String())
}

func TestOwnAnnouncementIsFiltered(t *testing.T) {
	b := openLoopback(t, "")
	b.dest = b.conn.LocalAddr().(*net.UDPAddr)

	require.NoError(t, b.Announce())
	require.NoError(t, b.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	payload, src, err := b.ReadDatagram()
	require.NoError(t, err)

	_, err = b.ListenOnce(payload, src)
	assert.ErrorIs(t, err, ErrSelfAnnouncement)
}

func TestServeDeliversAndStops(t *testing.T) {
	b := openLoopback(t, "")
	a := openLoopback(t, b.LocalAddr().String())

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan []byte, 4)
	done := make(chan error, 1)
	go func() {
		done <- b.Serve(ctx, func(payload []byte, _ netip.AddrPort) { got <- payload })
	}()

	require.NoError(t, a.Announce())
	select {
	case p := <-got:
		assert.Equal(t, []byte("dchat"), p)
	case <-time.After(2 * time.Second):
		t.Fatal("datagram not delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop")
	}
}

func TestAnnounceLoopRepeats(t *testing.T) {
	b := openLoopback(t, "")
	a := openLoopback(t, b.LocalAddr().String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.AnnounceLoop(ctx, 20*time.Millisecond)

	require.NoError(t, b.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for i := 0; i < 3; i++ {
		payload, _, err := b.ReadDatagram()
		require.NoError(t, err)
		assert.Equal(t, []byte("dchat"), payload)
	}
}

func TestMulticastMode(t *testing.T) {
	b, err := Open(context.Background(), Options{
		Tag:        []byte("dchat"),
		Port:       1337,
		ListenAddr: "0.0.0.0:0",
		Mode:       ModeMulticast,
		Group:      "239.255.13.37",
	})
	if err != nil {
		t.Skipf("multicast unavailable: %v", err)
	}
	defer b.Close()

	assert.NotNil(t, b.mcast)
	assert.Equal(t, "239.255.13.37:1337", b.dest.String())
}
