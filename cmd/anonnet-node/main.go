// Package main provides the anonnet node executable.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/a7maadf/anonnet/pkg/circuit"
	"github.com/a7maadf/anonnet/pkg/config"
	"github.com/a7maadf/anonnet/pkg/dht"
	"github.com/a7maadf/anonnet/pkg/dispatch"
	"github.com/a7maadf/anonnet/pkg/identity"
	"github.com/a7maadf/anonnet/pkg/kademlia"
	"github.com/a7maadf/anonnet/pkg/logger"
	"github.com/a7maadf/anonnet/pkg/pool"
	"github.com/a7maadf/anonnet/pkg/ratelimit"
	"github.com/a7maadf/anonnet/pkg/relay"
	"github.com/a7maadf/anonnet/pkg/transport"
	"github.com/a7maadf/anonnet/pkg/transport/memtransport"
	"github.com/a7maadf/anonnet/pkg/wire"
)

var (
	version   = "0.1.0-dev"
	buildTime = "unknown"
)

func main() {
	dataDir := flag.String("data-dir", "", "Data directory for persisted identity state (default: ./anonnet-data)")
	listenAddr := flag.String("listen", "127.0.0.1:0", "Local address to bind the node's endpoint to")
	powDifficulty := flag.Int("pow-difficulty", 0, "Proof-of-work difficulty to mine at startup (default from config)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("anonnet-node version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg := config.DefaultConfig()
	if *dataDir != "" {
		cfg.DataDirectory = *dataDir
	}
	if *powDifficulty != 0 {
		cfg.PowDifficulty = uint8(*powDifficulty)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(level, os.Stdout)

	log.Info("starting anonnet-node", "version", version, "build_time", buildTime)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	if err := run(ctx, cfg, *listenAddr, log); err != nil {
		log.Error("application error", "error", err)
		os.Exit(1)
	}

	log.Info("shutdown complete")
}

// run constructs every long-lived component a node holds and blocks
// until a shutdown signal arrives, following the teacher's
// construct/start/signal-wait/graceful-shutdown structure
// (_examples/opd-ai-go-tor/cmd/tor-client/main.go).
func run(ctx context.Context, cfg *config.Config, listenAddr string, log *logger.Logger) error {
	if err := os.MkdirAll(cfg.DataDirectory, 0o700); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	identityPath := filepath.Join(cfg.DataDirectory, "identity.json")
	id, err := identity.LoadOrGenerate(identityPath, cfg.PowDifficulty)
	if err != nil {
		return fmt.Errorf("load or generate identity: %w", err)
	}
	log.Info("node identity ready", "node_id", id.NodeID.ShortString())

	table := kademlia.NewRoutingTable(id.NodeID)
	store := dht.NewStore()
	circuits := circuit.NewManager()
	engine := relay.NewEngine(id.NodeID)
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		MaxTokens:        cfg.RateLimitMaxTokens,
		RefillRate:       cfg.RateLimitBytesPerSecond,
		BurstSize:        cfg.RateLimitBurstBytes,
		ViolationPenalty: cfg.RateLimitViolationPenalty,
	})
	disp := dispatch.New(id, table, store, circuits, engine, limiter, cfg.PowMinDifficulty, log)

	// The concrete networked transport.Endpoint (QUIC, TLS over TCP, or
	// otherwise) is an external collaborator this repo does not
	// implement (spec.md §6). memtransport's in-memory Network serves as
	// a local stand-in so the rest of the node's wiring can be
	// exercised end to end; swapping in a real Endpoint requires no
	// change to anything constructed below it.
	network := memtransport.NewNetwork()
	endpoint, err := network.NewEndpoint(listenAddr)
	if err != nil {
		return fmt.Errorf("bind local endpoint: %w", err)
	}
	defer endpoint.Close()

	connPoolCfg := pool.DefaultConnectionPoolConfig()
	connPoolCfg.MaxConnectionsPerPeer = cfg.MaxConnectionsPerPeer
	connPool := pool.NewConnectionPool(endpoint, connPoolCfg, log)
	defer connPool.Close()

	circuitBuilder := func(purpose circuit.Purpose) (*circuit.Circuit, error) {
		return circuits.Create(purpose)
	}
	circuitPool := pool.NewCircuitPool(circuits, circuitBuilder)

	log.Info("node bootstrapped", "listen", listenAddr, "k_bucket_size", cfg.KBucketSize, "lookup_alpha", cfg.LookupAlpha)

	go acceptLoop(ctx, endpoint, disp, log)

	cleanupTicker := time.NewTicker(cfg.RefreshInterval)
	defer cleanupTicker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	log.Info("press ctrl+c to exit")

runLoop:
	for {
		select {
		case sig := <-sigChan:
			log.Info("received shutdown signal", "signal", sig.String())
			break runLoop
		case <-ctx.Done():
			log.Info("context cancelled", "reason", ctx.Err())
			break runLoop
		case <-cleanupTicker.C:
			removed := table.SweepStale(cfg.MaxNodeAge)
			retired := circuitPool.Cleanup()
			if removed > 0 || retired > 0 {
				log.Debug("periodic cleanup", "stale_peers_removed", removed, "circuits_retired", retired)
			}
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info("initiating graceful shutdown")

	select {
	case <-shutdownCtx.Done():
		log.Warn("shutdown timeout exceeded, forcing exit")
		return shutdownCtx.Err()
	default:
	}

	return nil
}

// acceptLoop accepts inbound peer connections until ctx is cancelled,
// serving each on its own goroutine.
func acceptLoop(ctx context.Context, endpoint transport.Endpoint, disp *dispatch.Dispatcher, log *logger.Logger) {
	for {
		conn, err := endpoint.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("accept failed", "error", err)
			continue
		}
		go serveConnection(ctx, conn, disp, log)
	}
}

// serveConnection accepts every bidirectional stream a peer opens on
// conn and serves each independently, since a single connection
// multiplexes one stream per circuit hop.
func serveConnection(ctx context.Context, conn transport.Connection, disp *dispatch.Dispatcher, log *logger.Logger) {
	defer conn.Close()
	peerAddr := conn.RemoteAddress()
	for {
		stream, err := conn.AcceptBi(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Debug("connection closed", "peer", peerAddr, "error", err)
			}
			return
		}
		go serveStream(ctx, stream, disp, log)
	}
}

// serveStream reads one wire.Envelope from stream, decodes its
// dispatch.Message payload, routes it through the dispatcher, and
// writes back whatever reply Dispatch returns over the same stream.
// The authenticated per-connection handshake that would establish the
// peer's NodeID (spec.md §6) is the connection manager's job and is
// not modeled here; until it exists, "from" is the zero NodeID.
func serveStream(ctx context.Context, stream transport.Stream, disp *dispatch.Dispatcher, log *logger.Logger) {
	env, err := wire.ReadEnvelope(stream)
	if err != nil {
		log.Debug("failed to read envelope", "error", err)
		_ = stream.Reset(1)
		return
	}

	msg, err := dispatch.UnmarshalMessage(env.Payload)
	if err != nil {
		log.Debug("failed to decode message", "error", err)
		_ = stream.Reset(1)
		return
	}

	reply, err := disp.Dispatch(ctx, identity.NodeID{}, msg)
	if err != nil {
		log.Debug("dispatch error", "type", msg.Type.String(), "error", err)
		_ = stream.Reset(1)
		return
	}
	if reply == nil {
		_ = stream.Finish()
		return
	}

	data, err := reply.Marshal()
	if err != nil {
		log.Warn("failed to marshal reply", "error", err)
		_ = stream.Reset(1)
		return
	}
	replyEnvelope := wire.NewEnvelope(data, time.Now().Unix())
	if _, err := replyEnvelope.WriteTo(stream); err != nil {
		log.Debug("failed to write reply", "error", err)
		_ = stream.Reset(1)
		return
	}
	_ = stream.Finish()
}
