package server

import (
	"fmt"
	"io"
	"net"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/ValentinKolb/dMsg/lib/dedup"
	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/ValentinKolb/dMsg/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/benbjohnson/clock"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("rpc")

// RPCServer receives messages and dispatches them to the registered listeners
type RPCServer struct {
	config    common.ServerConfig
	transport transport.IRPCServerTransport
	listeners map[uint8]MessageListener
	hashes    *dedup.Store
	metrics   *metrics.Set
	done      chan struct{}
	closeOnce sync.Once
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and the listener registry as parameters.
// The listeners are copied, later registrations have no effect.
// A nil clock defaults to the wall clock.
//
// Usage:
//
//	listeners := server.NewListenerRegistry()
//	_ = listeners.RegisterListener(5, func(version uint16, host string, size int, payload []byte) (common.Status, error) {
//		return common.StatusOK, nil
//	})
//
//	s := server.NewRPCServer(config, tcp.NewTCPServerTransport(), listeners, nil)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	listeners *ListenerRegistry,
	clk clock.Clock,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	if listeners == nil {
		listeners = NewListenerRegistry()
	}

	s := &RPCServer{
		config:    config,
		transport: transport,
		listeners: listeners.snapshot(),
		hashes:    dedup.NewStore(config.HashTTL, clk),
		metrics:   metrics.NewSet(),
		done:      make(chan struct{}),
	}

	s.metrics.NewGauge("dmsg_server_connections_active", func() float64 {
		return float64(s.transport.ActiveConnections())
	})
	s.metrics.NewGauge("dmsg_server_hash_entries", func() float64 {
		return float64(s.hashes.Size())
	})

	Logger.Infof("Created RPC Server with %d listeners", len(s.listeners))
	Logger.Infof("%s", config.String())

	return s
}

// Start binds the endpoint and serves connections in the background
func (s *RPCServer) Start() error {
	s.transport.RegisterHandler(s.handleConnection)
	if err := s.transport.Listen(s.config); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Serve starts the server and blocks until Close is called
func (s *RPCServer) Serve() error {
	if err := s.Start(); err != nil {
		return err
	}
	<-s.done
	return nil
}

// Close stops accepting connections, closes the open ones and waits for their handlers
func (s *RPCServer) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.transport.Close()
		close(s.done)
	})
	return err
}

// Addr returns the address the server is bound to
func (s *RPCServer) Addr() net.Addr {
	return s.transport.Addr()
}

// Hashes returns the dedup store of the server
func (s *RPCServer) Hashes() *dedup.Store {
	return s.hashes
}

// WritePrometheus writes the server metrics in the Prometheus text format
func (s *RPCServer) WritePrometheus(w io.Writer) {
	s.metrics.WritePrometheus(w)
}

// counter returns the per type counter with the given name
func (s *RPCServer) counter(name string, messageType uint8) *metrics.Counter {
	return s.metrics.GetOrCreateCounter(fmt.Sprintf(`%s{type="%d"}`, name, messageType))
}
