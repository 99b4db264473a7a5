package debugtap

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"
)

func TestServer_BroadcastsToConnectedClient(t *testing.T) {
	s := New(WithListenAddr("127.0.0.1:0"), WithFlushInterval(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.Serve(ctx)
	select {
	case <-s.Ready():
	case <-time.After(time.Second):
		t.Fatal("server never became ready")
	}

	conn, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	// Give the accept loop a moment to register the client before
	// broadcasting, otherwise the line may be sent to nobody.
	deadline := time.Now().Add(time.Second)
	for s.Hub.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if s.Hub.Count() == 0 {
		t.Fatal("client never registered with hub")
	}

	s.Broadcast("car1:1000#00000001#0000000000000000\n")

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if line != "car1:1000#00000001#0000000000000000\n" {
		t.Fatalf("got %q", line)
	}
}

func TestServer_ShutdownClosesClients(t *testing.T) {
	s := New(WithListenAddr("127.0.0.1:0"))
	ctx, cancel := context.WithCancel(context.Background())

	go s.Serve(ctx)
	select {
	case <-s.Ready():
	case <-time.After(time.Second):
		t.Fatal("server never became ready")
	}

	conn, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	cancel()

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatal("expected read to fail after server shutdown")
	}
}

func TestServer_NoClientsBroadcastIsNoop(t *testing.T) {
	s := New()
	s.Broadcast("car1:1#00000001#0000000000000000\n") // must not panic or block
}
