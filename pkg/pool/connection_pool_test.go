package pool

import (
	"context"
	"testing"
	"time"

	"github.com/a7maadf/anonnet/pkg/transport/memtransport"
)

func TestConnectionPoolReusesIdleConnection(t *testing.T) {
	net_ := memtransport.NewNetwork()
	if _, err := net_.NewEndpoint("server"); err != nil {
		t.Fatalf("NewEndpoint(server): %v", err)
	}
	client, err := net_.NewEndpoint("client")
	if err != nil {
		t.Fatalf("NewEndpoint(client): %v", err)
	}

	p := NewConnectionPool(client, nil, nil)
	ctx := context.Background()

	first, err := p.Get(ctx, "server")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	p.Put("server", first)

	second, err := p.Get(ctx, "server")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first != second {
		t.Error("expected the idle connection to be reused")
	}
	if stats := p.Stats(); stats.Total != 1 {
		t.Errorf("Stats().Total = %d, want 1", stats.Total)
	}
}

func TestConnectionPoolDialsFreshWhenInUse(t *testing.T) {
	net_ := memtransport.NewNetwork()
	if _, err := net_.NewEndpoint("server"); err != nil {
		t.Fatalf("NewEndpoint(server): %v", err)
	}
	client, err := net_.NewEndpoint("client")
	if err != nil {
		t.Fatalf("NewEndpoint(client): %v", err)
	}

	p := NewConnectionPool(client, nil, nil)
	ctx := context.Background()

	first, err := p.Get(ctx, "server")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := p.Get(ctx, "server")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first == second {
		t.Error("expected a fresh connection since the first is still in use")
	}
}

func TestConnectionPoolRejectsBeyondMaxConnectionsPerPeer(t *testing.T) {
	net_ := memtransport.NewNetwork()
	if _, err := net_.NewEndpoint("server"); err != nil {
		t.Fatalf("NewEndpoint(server): %v", err)
	}
	client, err := net_.NewEndpoint("client")
	if err != nil {
		t.Fatalf("NewEndpoint(client): %v", err)
	}

	cfg := &ConnectionPoolConfig{MaxIdlePerPeer: 1, MaxLifetime: time.Minute, MaxConnectionsPerPeer: 1}
	p := NewConnectionPool(client, cfg, nil)
	ctx := context.Background()

	if _, err := p.Get(ctx, "server"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := p.Get(ctx, "server"); err == nil {
		t.Error("expected the second Get to be rejected at the per-peer connection cap")
	}
}

func TestConnectionPoolExpiresOldConnections(t *testing.T) {
	net_ := memtransport.NewNetwork()
	if _, err := net_.NewEndpoint("server"); err != nil {
		t.Fatalf("NewEndpoint(server): %v", err)
	}
	client, err := net_.NewEndpoint("client")
	if err != nil {
		t.Fatalf("NewEndpoint(client): %v", err)
	}

	cfg := &ConnectionPoolConfig{MaxIdlePerPeer: 1, MaxLifetime: time.Millisecond}
	p := NewConnectionPool(client, cfg, nil)
	ctx := context.Background()

	first, err := p.Get(ctx, "server")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	p.Put("server", first)
	time.Sleep(5 * time.Millisecond)

	second, err := p.Get(ctx, "server")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first == second {
		t.Error("expected the expired connection to be replaced")
	}
}

func TestConnectionPoolCleanupIdle(t *testing.T) {
	net_ := memtransport.NewNetwork()
	if _, err := net_.NewEndpoint("server"); err != nil {
		t.Fatalf("NewEndpoint(server): %v", err)
	}
	client, err := net_.NewEndpoint("client")
	if err != nil {
		t.Fatalf("NewEndpoint(client): %v", err)
	}

	p := NewConnectionPool(client, nil, nil)
	ctx := context.Background()

	conn, err := p.Get(ctx, "server")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	p.Put("server", conn)
	time.Sleep(5 * time.Millisecond)

	removed := p.CleanupIdle(time.Millisecond)
	if removed != 1 {
		t.Errorf("CleanupIdle removed %d, want 1", removed)
	}
	if stats := p.Stats(); stats.Total != 0 {
		t.Errorf("Stats().Total = %d, want 0", stats.Total)
	}
}

func TestConnectionPoolGetErrorsOnUnknownAddress(t *testing.T) {
	net_ := memtransport.NewNetwork()
	client, err := net_.NewEndpoint("client")
	if err != nil {
		t.Fatalf("NewEndpoint(client): %v", err)
	}
	p := NewConnectionPool(client, nil, nil)

	if _, err := p.Get(context.Background(), "nowhere"); err == nil {
		t.Error("expected an error dialing an unregistered address")
	}
}
