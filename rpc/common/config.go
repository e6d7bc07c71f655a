package common

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// helper functions for the config printers
// --------------------------------------------------------------------------

type configPrinter struct {
	sb strings.Builder
}

func (p *configPrinter) section(title string) {
	p.sb.WriteString("\n")
	p.sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
}

func (p *configPrinter) field(name, value string) {
	p.sb.WriteString(fmt.Sprintf("  %-24s: %s\n", name, value))
}

// --------------------------------------------------------------------------
// Socket configuration (shared by client and server)
// --------------------------------------------------------------------------

// SocketConf holds socket level options applied by the transport connectors
type SocketConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	WriteBufferSize int
	ReadBufferSize  int
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters for the message server
type ServerConfig struct {
	// Endpoint is the address the server listens on (host:port or socket path)
	Endpoint string

	// SocketTimeout closes a connection after this much inactivity (0 disables the timeout)
	SocketTimeout time.Duration

	// HashTTL is the dedup window. Fingerprints older than this are forgotten (0 keeps them forever)
	HashTTL time.Duration

	// MaxConnections limits concurrent connections (0 is unlimited)
	MaxConnections int

	// MaxPayloadSize is the largest payload in bytes the server reads (0 is unlimited).
	// A larger frame is answered with UNKNOWN_ERROR_NO_RETRY and the connection is closed.
	MaxPayloadSize uint32

	Socket SocketConf

	// Logging configuration
	LogLevel string
}

// DefaultServerConfig returns the configuration used when no option is set
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Endpoint:       "0.0.0.0:8081",
		SocketTimeout:  60 * time.Second,
		HashTTL:        6 * time.Hour,
		MaxPayloadSize: 64 << 20,
		Socket: SocketConf{
			TCPNoDelay:      true,
			TCPKeepAliveSec: 15,
		},
		LogLevel: "info",
	}
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	p := &configPrinter{}

	p.section("Message Server")
	p.field("Endpoint", c.Endpoint)
	p.field("Socket Timeout", c.SocketTimeout.String())
	p.field("Hash TTL", c.HashTTL.String())
	p.field("Max Connections", strconv.Itoa(c.MaxConnections))
	p.field("Max Payload Size", strconv.FormatUint(uint64(c.MaxPayloadSize), 10))

	p.section("Socket")
	p.field("TCP No Delay", strconv.FormatBool(c.Socket.TCPNoDelay))
	p.field("TCP Keep Alive", fmt.Sprintf("%d sec", c.Socket.TCPKeepAliveSec))

	p.section("Logging")
	p.field("Log Level", c.LogLevel)

	return p.sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds all configuration parameters for the message sender
type ClientConfig struct {
	Host string
	Port int

	// SpoolDir is the directory undelivered messages are written to
	SpoolDir string

	// PoolSize is the number of connections (and concurrent sends)
	PoolSize int

	MemorySyncPeriod time.Duration
	DiskSyncPeriod   time.Duration

	// StorageLockExpiration is the age after which a spool lock is presumed abandoned (0 never expires)
	StorageLockExpiration time.Duration

	// MessagesLimitBytes is a soft limit, exceeding it only logs a warning
	MessagesLimitBytes int64

	// SocketTimeout is the read/write deadline of a single request
	SocketTimeout time.Duration

	// ConnectionTimeout is the dial timeout
	ConnectionTimeout time.Duration

	// RetryCount is the number of immediate retries on transport errors within one send attempt
	RetryCount int

	// Statuses holds the operator defined status codes
	Statuses StatusTable

	Socket SocketConf

	LogLevel string
}

// DefaultClientConfig returns the configuration used when no option is set
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Host:                  "localhost",
		Port:                  8081,
		SpoolDir:              "spool",
		PoolSize:              4,
		MemorySyncPeriod:      100 * time.Millisecond,
		DiskSyncPeriod:        time.Minute,
		StorageLockExpiration: time.Hour,
		MessagesLimitBytes:    128 * 1024 * 1024,
		SocketTimeout:         5 * time.Second,
		ConnectionTimeout:     30 * time.Second,
		RetryCount:            10,
		Statuses:              StatusTable{},
		Socket: SocketConf{
			TCPNoDelay: true,
		},
		LogLevel: "info",
	}
}

// Endpoint returns the address the client connects to
func (c *ClientConfig) Endpoint() string {
	if c.Port <= 0 {
		// unix sockets have no port
		return c.Host
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	p := &configPrinter{}

	p.section("Client Configuration")
	p.field("Endpoint", c.Endpoint())
	p.field("Pool Size", strconv.Itoa(c.PoolSize))
	p.field("Socket Timeout", c.SocketTimeout.String())
	p.field("Connection Timeout", c.ConnectionTimeout.String())
	p.field("Retry Count", strconv.Itoa(c.RetryCount))

	p.section("Synchronization")
	p.field("Memory Sync Period", c.MemorySyncPeriod.String())
	p.field("Disk Sync Period", c.DiskSyncPeriod.String())
	p.field("Messages Limit", fmt.Sprintf("%d bytes", c.MessagesLimitBytes))

	p.section("Storage")
	p.field("Spool Directory", c.SpoolDir)
	p.field("Lock Expiration", c.StorageLockExpiration.String())

	if len(c.Statuses) > 0 {
		p.section("Custom Statuses")
		p.field("Status Map", c.Statuses.String())
	}

	return p.sb.String()
}
