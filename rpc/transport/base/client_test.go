package base

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/ValentinKolb/dMsg/rpc/transport"
)

// loopbackConnector implements IClientConnector and IServerConnector over tcp without socket options
type loopbackConnector struct {
	dials atomic.Int32
}

func (c *loopbackConnector) GetName() string { return "loopback" }

func (c *loopbackConnector) Connect(endpoint string, timeout time.Duration) (net.Conn, error) {
	c.dials.Add(1)
	return net.DialTimeout("tcp", endpoint, timeout)
}

func (c *loopbackConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	return net.Listen("tcp", config.Endpoint)
}

func (c *loopbackConnector) UpgradeConnection(net.Conn, common.SocketConf) error { return nil }

// startStatusServer starts a server answering every frame with status.
// If framesPerConn > 0 the server closes a connection after that many frames.
func startStatusServer(t *testing.T, status common.Status, framesPerConn int) (transport.IRPCServerTransport, *atomic.Int32) {
	t.Helper()
	var eofs atomic.Int32

	srv := NewBaseServerTransport(&loopbackConnector{})
	srv.RegisterHandler(func(netConn net.Conn) {
		conn := NewConnection(netConn, 5*time.Second)
		for frames := 0; framesPerConn <= 0 || frames < framesPerConn; frames++ {
			h, err := conn.ReadRequestHeader()
			if err != nil {
				return
			}
			if h.IsEOF() {
				eofs.Add(1)
				return
			}
			if err := conn.DiscardPayload(h.Length); err != nil {
				return
			}
			if err := conn.WriteResponse(h.ClientID, h.Hash, status); err != nil {
				return
			}
		}
	})

	config := common.DefaultServerConfig()
	config.Endpoint = "127.0.0.1:0"
	if err := srv.Listen(config); err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return srv, &eofs
}

func newTestPool(t *testing.T, addr net.Addr, poolSize int) (transport.IRPCClientTransport, *loopbackConnector) {
	t.Helper()
	host, port, _ := net.SplitHostPort(addr.String())

	config := common.DefaultClientConfig()
	config.Host = host
	config.Port, _ = strconv.Atoi(port)
	config.PoolSize = poolSize
	config.ConnectionTimeout = time.Second
	config.SocketTimeout = time.Second

	connector := &loopbackConnector{}
	pool := NewBaseClientTransport(connector)
	if err := pool.Connect(config); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return pool, connector
}

func TestPoolSend(t *testing.T) {
	srv, _ := startStatusServer(t, common.StatusOK, 0)
	pool, connector := newTestPool(t, srv.Addr(), 2)
	defer pool.Close()

	for i := 0; i < 5; i++ {
		status, err := pool.Send(context.Background(), common.NewMessage(1, 5, []byte{byte(i)}))
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		if status != common.StatusOK {
			t.Errorf("status = %s, want OK", status)
		}
	}

	// sequential sends reuse a single connection
	if n := connector.dials.Load(); n != 1 {
		t.Errorf("expected 1 dial, got %d", n)
	}
}

func TestPoolLazyDial(t *testing.T) {
	srv, _ := startStatusServer(t, common.StatusOK, 0)
	_, connector := newTestPool(t, srv.Addr(), 4)

	if n := connector.dials.Load(); n != 0 {
		t.Errorf("connections must be dialed lazily, got %d dials", n)
	}
}

func TestPoolReconnect(t *testing.T) {
	// the server drops every connection after a single frame
	srv, _ := startStatusServer(t, common.StatusOK, 1)
	pool, connector := newTestPool(t, srv.Addr(), 1)
	defer pool.Close()

	for i := 0; i < 3; i++ {
		if _, err := pool.Send(context.Background(), common.NewMessage(1, 5, []byte{byte(i)})); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		// give the server time to close its side
		time.Sleep(20 * time.Millisecond)
	}

	if n := connector.dials.Load(); n != 3 {
		t.Errorf("expected a new dial per send, got %d", n)
	}
}

func TestPoolConnectError(t *testing.T) {
	// reserve a port and close it again so nothing listens
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr()
	_ = l.Close()

	pool, _ := newTestPool(t, addr, 1)
	defer pool.Close()

	if _, err := pool.Send(context.Background(), common.NewMessage(1, 5, nil)); err == nil {
		t.Error("send without a server should fail")
	}
}

func TestPoolClose(t *testing.T) {
	srv, eofs := startStatusServer(t, common.StatusOK, 0)
	pool, _ := newTestPool(t, srv.Addr(), 2)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = pool.Send(context.Background(), common.NewMessage(1, 5, []byte{byte(i)}))
		}(i)
	}
	wg.Wait()

	if err := pool.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := pool.Send(context.Background(), common.NewMessage(1, 5, nil)); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed, got %v", err)
	}

	// every open connection receives the EOF sentinel
	deadline := time.Now().Add(time.Second)
	for eofs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if eofs.Load() == 0 {
		t.Error("server should receive the EOF sentinel")
	}
}

func TestServerClose(t *testing.T) {
	srv, _ := startStatusServer(t, common.StatusOK, 0)
	pool, _ := newTestPool(t, srv.Addr(), 1)
	defer pool.Close()

	if _, err := pool.Send(context.Background(), common.NewMessage(1, 5, nil)); err != nil {
		t.Fatal(err)
	}
	if n := srv.ActiveConnections(); n != 1 {
		t.Errorf("active connections = %d, want 1", n)
	}

	if err := srv.Close(); err != nil {
		t.Fatal(err)
	}
	if n := srv.ActiveConnections(); n != 0 {
		t.Errorf("active connections after close = %d, want 0", n)
	}
}

func TestPoolPrefersConnectedSlot(t *testing.T) {
	srv, _ := startStatusServer(t, common.StatusOK, 0)
	pool, connector := newTestPool(t, srv.Addr(), 3)
	defer pool.Close()

	// warm up a single connection, then interleave sends with idle pauses
	for i := 0; i < 6; i++ {
		if _, err := pool.Send(context.Background(), common.NewMessage(1, 5, []byte{byte(i)})); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if n := connector.dials.Load(); n != 1 {
		t.Errorf("expected 1 dial, got %d", n)
	}
}

func TestPoolConcurrentDialBound(t *testing.T) {
	srv, _ := startStatusServer(t, common.StatusOK, 0)
	pool, connector := newTestPool(t, srv.Addr(), 2)
	defer pool.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := pool.Send(context.Background(), common.NewMessage(1, 5, []byte{byte(i)})); err != nil {
				t.Errorf("send %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if n := connector.dials.Load(); n < 1 || n > 2 {
		t.Errorf("expected at most one dial per slot, got %d", n)
	}
}
