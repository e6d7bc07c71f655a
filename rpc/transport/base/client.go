package base

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/ValentinKolb/dMsg/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport/rpc")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to the endpoint
	Connect(endpoint string, timeout time.Duration) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.SocketConf) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// poolSlot holds at most one connection. A slot is owned by exactly one
// sender between checkout and checkin.
type poolSlot struct {
	id   int
	conn *Connection
}

// clientTransport implements a connection pool independent of the
// specific transport medium (unix, tcp, etc.)
//
// Free slots are kept on a stack. Checkout prefers a slot that holds a
// connection, so sequential sends reuse one connection instead of dialing
// every slot in turn.
type clientTransport struct {
	connector IClientConnector
	config    common.ClientConfig
	size      int

	// tokens holds one entry per free slot, receiving from it reserves a slot on the stack
	tokens chan struct{}
	mu     sync.Mutex
	free   []*poolSlot

	closeCh   chan struct{}
	closeOnce sync.Once
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector) transport.IRPCClientTransport {
	return &clientTransport{
		connector: connector,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(config common.ClientConfig) error {
	if config.Endpoint() == "" {
		return fmt.Errorf("no endpoint provided")
	}
	if t.tokens != nil {
		return fmt.Errorf("transport already connected")
	}

	t.config = config
	t.size = config.PoolSize
	if t.size < 1 {
		t.size = 1
	}

	// All slots start empty, connections are dialed on first use
	t.tokens = make(chan struct{}, t.size)
	t.free = make([]*poolSlot, 0, t.size)
	for i := 0; i < t.size; i++ {
		t.free = append(t.free, &poolSlot{id: i})
		t.tokens <- struct{}{}
	}
	t.closeCh = make(chan struct{})

	Logger.Infof("Created %s connection pool to %s with %d connections", t.connector.GetName(), config.Endpoint(), t.size)
	return nil
}

func (t *clientTransport) Send(ctx context.Context, msg *common.Message) (common.Status, error) {
	if t.tokens == nil {
		return 0, fmt.Errorf("transport not connected")
	}

	slot, err := t.checkout(ctx)
	if err != nil {
		return 0, err
	}
	defer t.checkin(slot)

	if err := t.validate(slot); err != nil {
		return 0, err
	}

	conn := slot.conn
	if err := conn.WriteRequest(msg); err != nil {
		t.destroy(slot)
		return 0, fmt.Errorf("failed to write request: %w", err)
	}

	resp, err := conn.ReadResponse()
	if err != nil {
		t.destroy(slot)
		return 0, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.ClientID != msg.ClientID || resp.Hash != msg.Hash {
		Logger.Warningf("response (clientId: %x, hash: %s) does not match request %s", resp.ClientID, resp.Hash, msg)
	}
	return resp.Status, nil
}

func (t *clientTransport) Close() error {
	if t.tokens == nil {
		return nil
	}
	t.closeOnce.Do(func() {
		close(t.closeCh)

		// collect every slot, this waits for in-flight sends
		for i := 0; i < t.size; i++ {
			<-t.tokens
		}
		for _, slot := range t.free {
			if slot.conn == nil {
				continue
			}
			if err := slot.conn.WriteEOF(); err != nil {
				Logger.Debugf("Failed to send EOF on connection %d: %v", slot.id, err)
			}
			_ = slot.conn.Close()
			slot.conn = nil
		}
		Logger.Infof("Closed %s connection pool to %s", t.connector.GetName(), t.config.Endpoint())
	})
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// checkout takes a free slot from the pool
func (t *clientTransport) checkout(ctx context.Context) (*poolSlot, error) {
	select {
	case <-t.closeCh:
		return nil, ErrPoolClosed
	default:
	}

	select {
	case <-t.tokens:
		// the pool may have been closed while waiting
		select {
		case <-t.closeCh:
			t.tokens <- struct{}{}
			return nil, ErrPoolClosed
		default:
			return t.pop(), nil
		}
	case <-t.closeCh:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// pop removes a free slot from the stack, preferring one with a connection.
// The caller must hold a token.
func (t *clientTransport) pop() *poolSlot {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := len(t.free) - 1
	for j := i; j >= 0; j-- {
		if t.free[j].conn != nil {
			i = j
			break
		}
	}
	slot := t.free[i]
	t.free = append(t.free[:i], t.free[i+1:]...)
	return slot
}

// checkin returns a slot to the pool
func (t *clientTransport) checkin(slot *poolSlot) {
	t.mu.Lock()
	t.free = append(t.free, slot)
	t.mu.Unlock()
	t.tokens <- struct{}{}
}

// validate makes sure the slot holds a usable connection, redialing if needed
func (t *clientTransport) validate(slot *poolSlot) error {
	if slot.conn != nil {
		if slot.conn.Alive() {
			return nil
		}
		Logger.Debugf("Connection %d to %s is no longer usable, reconnecting", slot.id, t.config.Endpoint())
		t.destroy(slot)
	}

	netConn, err := t.connector.Connect(t.config.Endpoint(), t.config.ConnectionTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", t.config.Endpoint(), err)
	}

	// Upgrade the connection with protocol-specific settings
	if err := t.connector.UpgradeConnection(netConn, t.config.Socket); err != nil {
		_ = netConn.Close()
		return fmt.Errorf("failed to upgrade connection to %s: %w", t.config.Endpoint(), err)
	}

	slot.conn = NewConnection(netConn, t.config.SocketTimeout)
	Logger.Debugf("Connection %d connected to %s", slot.id, t.config.Endpoint())
	return nil
}

// destroy closes the connection of a slot
func (t *clientTransport) destroy(slot *poolSlot) {
	if slot.conn != nil {
		_ = slot.conn.Close()
		slot.conn = nil
	}
}
