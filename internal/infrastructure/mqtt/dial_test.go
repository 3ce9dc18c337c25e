package mqtt

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/nerrad567/touchportal-mqtt/internal/infrastructure/config"
)

// slowBroker accepts one connection and answers CONNECT only after delay.
// closed is signalled when the client side drops the socket.
func slowBroker(t *testing.T, delay time.Duration) (port int, closed <-chan struct{}) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	done := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		defer close(done)

		buf := make([]byte, 512)
		if _, err := conn.Read(buf); err != nil {
			return
		}
		time.Sleep(delay)
		// CONNACK, session not present, accepted.
		if _, err := conn.Write([]byte{0x20, 0x02, 0x00, 0x00}); err != nil {
			return
		}
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port, done
}

func TestConnectV3_AbandonedDialIsDisconnected(t *testing.T) {
	port, closed := slowBroker(t, 300*time.Millisecond)

	cfg := testConfig()
	cfg.Broker.Port = port
	cfg.Broker.ProtocolVersion = config.ProtocolV311
	cfg.ConnectTimeout = 5

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := Connect(ctx, cfg); !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}

	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("client still connected after the dial was abandoned")
	}
}
