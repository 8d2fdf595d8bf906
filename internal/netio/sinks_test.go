package netio_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/macadriano/TQ/internal/netio"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// udpListener binds an ephemeral UDP port and returns the conn and addr.
func udpListener(t *testing.T) (*net.UDPConn, string) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, conn.LocalAddr().String()
}

func TestPlatformSinkDeliversFrame(t *testing.T) {
	t.Parallel()

	conn, addr := udpListener(t)

	sink, err := netio.NewPlatformSink(addr, time.Second, discardLogger())
	if err != nil {
		t.Fatalf("NewPlatformSink: %v", err)
	}
	defer sink.Close()

	const frame = ">RGP030925174421-3439.1355-05832.02800042971000001;&01;ID=68133;#0001*47<"
	if err := sink.Send(frame); err != nil {
		t.Fatalf("Send: %v", err)
	}

	buf := make([]byte, 2048)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read datagram: %v", err)
	}
	if got := string(buf[:n]); got != frame {
		t.Errorf("datagram = %q, want %q", got, frame)
	}
}

func TestPlatformSinkClosed(t *testing.T) {
	t.Parallel()

	_, addr := udpListener(t)
	sink, err := netio.NewPlatformSink(addr, time.Second, discardLogger())
	if err != nil {
		t.Fatalf("NewPlatformSink: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := sink.Send("x"); !errors.Is(err, netio.ErrSinkClosed) {
		t.Errorf("Send after Close = %v, want ErrSinkClosed", err)
	}
}

func TestMirrorSinkWritesExactBytes(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen tcp: %v", err)
	}
	defer ln.Close()

	got := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		b, _ := io.ReadAll(conn)
		got <- b
	}()

	sink := netio.NewMirrorSink(ln.Addr().String(), 2*time.Second, 0, 0, discardLogger())

	// The sink must keep its own copy; the caller's buffer is reused.
	payload := []byte{0x24, 0x20, 0x76, 0x66, 0x81, 0x33}
	want := bytes.Clone(payload)
	sink.Enqueue(payload)
	payload[0] = 0xff

	select {
	case b := <-got:
		if !bytes.Equal(b, want) {
			t.Errorf("mirrored bytes = %x, want %x", b, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("mirror write did not arrive")
	}

	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	sent, dropped, failed := sink.Stats()
	if sent != 1 || dropped != 0 || failed != 0 {
		t.Errorf("stats = %d/%d/%d, want 1/0/0", sent, dropped, failed)
	}
}

func TestMirrorSinkSurvivesDeadEndpoint(t *testing.T) {
	t.Parallel()

	// Grab a port and close it so dials are refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen tcp: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	sink := netio.NewMirrorSink(addr, 200*time.Millisecond, 4, 1, discardLogger())
	sink.Enqueue([]byte("one"))
	sink.Enqueue([]byte("two"))
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, _, failed := sink.Stats()
	if failed != 2 {
		t.Errorf("failed = %d, want 2", failed)
	}
}

func TestHeartbeatSender(t *testing.T) {
	t.Parallel()

	conn, addr := udpListener(t)
	hb := netio.NewHeartbeatSender(addr, time.Second)

	payload := []byte(`{"server_id":"tq_server_rpg","status":"running"}`)
	if err := hb.Send(payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	buf := make([]byte, 2048)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read datagram: %v", err)
	}
	if !bytes.Equal(buf[:n], payload) {
		t.Errorf("datagram = %q, want %q", buf[:n], payload)
	}
}

func TestListenTCPAcceptsConnections(t *testing.T) {
	t.Parallel()

	ln, err := netio.ListenTCP(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	defer ln.Close()

	done := make(chan error, 1)
	go func() {
		conn, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
		if err == nil {
			conn.Close()
		}
		done <- err
	}()

	conn, err := ln.Accept()
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	conn.Close()
	if err := <-done; err != nil {
		t.Fatalf("dial: %v", err)
	}
}

func TestListenUDPBinds(t *testing.T) {
	t.Parallel()

	conn, err := netio.ListenUDP(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	conn.Close()
}
