package transport

import (
	"context"
	"net"

	"github.com/ValentinKolb/dMsg/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that serves a single accepted connection.
// The transport closes the connection once the function returns.
type ServerHandleFunc func(conn net.Conn)

// IRPCServerTransport is the interface for the server side transport layer
type IRPCServerTransport interface {
	// RegisterHandler registers the handler called (in its own goroutine) for every accepted connection
	RegisterHandler(handler ServerHandleFunc)
	// Listen binds the endpoint of the config and starts accepting connections in the background
	Listen(config common.ServerConfig) error
	// Addr returns the bound address (nil before Listen)
	Addr() net.Addr
	// ActiveConnections returns the number of connections currently served
	ActiveConnections() int64
	// Close stops accepting, closes all open connections and waits for their handlers
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the client side transport (a connection pool)
type IRPCClientTransport interface {
	// Connect initializes the pool with the given configuration. Connections are dialed lazily.
	Connect(config common.ClientConfig) error
	// Send checks out a connection, writes the message and returns the status the server answered.
	// A connection failing with an error is closed and redialed on its next use.
	Send(ctx context.Context, msg *common.Message) (common.Status, error)
	// Close sends the EOF sentinel on every open connection and closes it
	Close() error
}
