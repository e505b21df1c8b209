package memtransport

import (
	"context"
	"testing"
	"time"
)

func TestConnectAcceptRoundTrip(t *testing.T) {
	net_ := NewNetwork()

	server, err := net_.NewEndpoint("node-a")
	if err != nil {
		t.Fatalf("NewEndpoint(node-a): %v", err)
	}
	client, err := net_.NewEndpoint("node-b")
	if err != nil {
		t.Fatalf("NewEndpoint(node-b): %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	acceptCh := make(chan error, 1)
	go func() {
		conn, err := server.Accept(ctx)
		if err != nil {
			acceptCh <- err
			return
		}
		if conn.RemoteAddress() != "node-b" {
			t.Errorf("server RemoteAddress = %q, want %q", conn.RemoteAddress(), "node-b")
			acceptCh <- err
			return
		}
		stream, err := conn.AcceptBi(ctx)
		if err != nil {
			acceptCh <- err
			return
		}
		buf := make([]byte, 5)
		if _, err := stream.Read(buf); err != nil {
			acceptCh <- err
			return
		}
		if string(buf) != "hello" {
			t.Errorf("server read %q, want %q", buf, "hello")
		}
		if _, err := stream.Write([]byte("world")); err != nil {
			acceptCh <- err
			return
		}
		acceptCh <- nil
	}()

	conn, err := client.Connect(ctx, "node-a")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if conn.RemoteAddress() != "node-a" {
		t.Errorf("RemoteAddress = %q, want %q", conn.RemoteAddress(), "node-a")
	}

	stream, err := conn.OpenBi(ctx)
	if err != nil {
		t.Fatalf("OpenBi: %v", err)
	}
	if _, err := stream.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	reply := make([]byte, 5)
	if _, err := stream.Read(reply); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(reply) != "world" {
		t.Errorf("client read %q, want %q", reply, "world")
	}

	if err := <-acceptCh; err != nil {
		t.Fatalf("server goroutine: %v", err)
	}
}

func TestConnectToUnknownAddressFails(t *testing.T) {
	net_ := NewNetwork()
	client, err := net_.NewEndpoint("node-b")
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := client.Connect(ctx, "nowhere"); err == nil {
		t.Error("expected error connecting to unregistered address")
	}
}

func TestDuplicateAddressRegistrationFails(t *testing.T) {
	net_ := NewNetwork()
	if _, err := net_.NewEndpoint("node-a"); err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}
	if _, err := net_.NewEndpoint("node-a"); err == nil {
		t.Error("expected error registering a duplicate address")
	}
}

func TestCloseStopsAccept(t *testing.T) {
	net_ := NewNetwork()
	server, err := net_.NewEndpoint("node-a")
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}

	if err := server.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := server.Accept(ctx); err == nil {
		t.Error("expected Accept to fail after Close")
	}
}
