package util

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/ValentinKolb/dMsg/rpc/serializer"
	"github.com/ValentinKolb/dMsg/rpc/transport"
	"github.com/ValentinKolb/dMsg/rpc/transport/tcp"
	"github.com/ValentinKolb/dMsg/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables read by the cli
	EnvPrefix = "dmsg"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Environment
// --------------------------------------------------------------------------

// InitConfig loads .env files and binds environment variables (DMSG_<FLAG>)
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Client configuration
// --------------------------------------------------------------------------

// SetupClientFlags adds the sender flags to a command
func SetupClientFlags(cmd *cobra.Command) {
	d := common.DefaultClientConfig()

	key := "host"
	cmd.PersistentFlags().String(key, d.Host, WrapString("Host of the dMsg server (or the socket path for the unix transport)"))

	key = "port"
	cmd.PersistentFlags().Int(key, d.Port, WrapString("Port of the dMsg server (ignored for the unix transport)"))

	key = "spool-dir"
	cmd.PersistentFlags().String(key, d.SpoolDir, WrapString("Directory undelivered messages are written to"))

	key = "pool-size"
	cmd.PersistentFlags().Int(key, d.PoolSize, WrapString("Number of connections to the server, also the number of messages sent in parallel"))

	key = "memory-sync-period"
	cmd.PersistentFlags().Duration(key, d.MemorySyncPeriod, WrapString("Delay between two deliveries of the memory buffer (0 disables the background sync)"))

	key = "disk-sync-period"
	cmd.PersistentFlags().Duration(key, d.DiskSyncPeriod, WrapString("Delay between two sweeps over the spool directory (0 disables the background sync)"))

	key = "storage-lock-expiration"
	cmd.PersistentFlags().Duration(key, d.StorageLockExpiration, WrapString("Age after which the lock of a spool file is presumed abandoned (0 never expires)"))

	key = "messages-limit"
	cmd.PersistentFlags().Int64(key, d.MessagesLimitBytes, WrapString("Soft limit of the memory buffer in bytes. Exceeding it only logs a warning and reports FAILED"))

	key = "socket-timeout"
	cmd.PersistentFlags().Duration(key, d.SocketTimeout, WrapString("Read and write deadline of a single request"))

	key = "connection-timeout"
	cmd.PersistentFlags().Duration(key, d.ConnectionTimeout, WrapString("Timeout for establishing a connection"))

	key = "retries"
	cmd.PersistentFlags().Int(key, d.RetryCount, WrapString("How many times a request is retried on transport errors"))

	key = "statuses"
	cmd.PersistentFlags().String(key, "", WrapString("Custom status codes, format CODE=NAME[:noretry] separated by commas (e.g. 300=STORAGE_FULL,301=BAD_PAYLOAD:noretry)"))

	key = "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, d.Socket.TCPNoDelay, WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Int(key, d.Socket.TCPKeepAliveSec, WrapString("The keepalive interval in seconds (only for tcp)"))

	key = "write-buffer"
	cmd.PersistentFlags().Int(key, 0, WrapString("Size of the socket write buffer in KB (0 keeps the os default)"))

	key = "read-buffer"
	cmd.PersistentFlags().Int(key, 0, WrapString("Size of the socket read buffer in KB (0 keeps the os default)"))
}

// GetClientConfig reads the client configuration from viper
func GetClientConfig() (*common.ClientConfig, error) {
	statuses, err := common.ParseStatusTable(viper.GetString("statuses"))
	if err != nil {
		return nil, err
	}

	conf := &common.ClientConfig{
		Host:                  viper.GetString("host"),
		Port:                  viper.GetInt("port"),
		SpoolDir:              viper.GetString("spool-dir"),
		PoolSize:              viper.GetInt("pool-size"),
		MemorySyncPeriod:      viper.GetDuration("memory-sync-period"),
		DiskSyncPeriod:        viper.GetDuration("disk-sync-period"),
		StorageLockExpiration: viper.GetDuration("storage-lock-expiration"),
		MessagesLimitBytes:    viper.GetInt64("messages-limit"),
		SocketTimeout:         viper.GetDuration("socket-timeout"),
		ConnectionTimeout:     viper.GetDuration("connection-timeout"),
		RetryCount:            viper.GetInt("retries"),
		Statuses:              statuses,
		Socket:                getSocketConf(),
		LogLevel:              viper.GetString("log-level"),
	}

	if viper.GetString("transport") == "unix" {
		conf.Port = 0
	}

	return conf, nil
}

// --------------------------------------------------------------------------
// Server configuration
// --------------------------------------------------------------------------

// SetupServerFlags adds the server flags to a command
func SetupServerFlags(cmd *cobra.Command) {
	d := common.DefaultServerConfig()

	key := "endpoint"
	cmd.PersistentFlags().String(key, d.Endpoint, WrapString("The address on which the server will listen (e.g. 0.0.0.0:8081 or /tmp/dmsg.sock)"))

	key = "socket-timeout"
	cmd.PersistentFlags().Duration(key, d.SocketTimeout, WrapString("Close connections after this much inactivity (0 disables the timeout)"))

	key = "hash-ttl"
	cmd.PersistentFlags().Duration(key, d.HashTTL, WrapString("How long the fingerprint of a processed message is remembered for deduplication (0 keeps them forever)"))

	key = "max-connections"
	cmd.PersistentFlags().Int(key, d.MaxConnections, WrapString("Maximum number of concurrent connections (0 is unlimited)"))

	key = "max-payload-size"
	cmd.PersistentFlags().Uint32(key, d.MaxPayloadSize, WrapString("Largest accepted payload in bytes, larger messages are rejected with UNKNOWN_ERROR_NO_RETRY (0 is unlimited)"))

	key = "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, d.Socket.TCPNoDelay, WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Int(key, d.Socket.TCPKeepAliveSec, WrapString("The keepalive interval in seconds (only for tcp)"))

	key = "write-buffer"
	cmd.PersistentFlags().Int(key, 0, WrapString("Size of the socket write buffer in KB (0 keeps the os default)"))

	key = "read-buffer"
	cmd.PersistentFlags().Int(key, 0, WrapString("Size of the socket read buffer in KB (0 keeps the os default)"))
}

// GetServerConfig reads the server configuration from viper
func GetServerConfig() *common.ServerConfig {
	return &common.ServerConfig{
		Endpoint:       viper.GetString("endpoint"),
		SocketTimeout:  viper.GetDuration("socket-timeout"),
		HashTTL:        viper.GetDuration("hash-ttl"),
		MaxConnections: viper.GetInt("max-connections"),
		MaxPayloadSize: viper.GetUint32("max-payload-size"),
		Socket:         getSocketConf(),
		LogLevel:       viper.GetString("log-level"),
	}
}

func getSocketConf() common.SocketConf {
	return common.SocketConf{
		TCPNoDelay:      viper.GetBool("tcp-nodelay"),
		TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
		WriteBufferSize: viper.GetInt("write-buffer") * 1024,
		ReadBufferSize:  viper.GetInt("read-buffer") * 1024,
	}
}

// --------------------------------------------------------------------------
// Factories
// --------------------------------------------------------------------------

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IRPCSerializer, error) {
	name := viper.GetString("serializer")
	if s, ok := serializer.ByName(name); ok {
		return s, nil
	}
	return nil, fmt.Errorf("invalid serializer %s", name)
}

// GetClientTransport creates the client transport based on configuration
func GetClientTransport() (transport.IRPCClientTransport, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPClientTransport(), nil
	case "unix":
		return unix.NewUnixClientTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// GetServerTransport creates the server transport based on configuration
func GetServerTransport() (transport.IRPCServerTransport, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPServerTransport(), nil
	case "unix":
		return unix.NewUnixServerTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// ParseTypeList parses a comma separated list of message types and ranges (e.g. "1,5,10-20")
func ParseTypeList(s string) ([]uint8, error) {
	var types []uint8
	seen := make(map[uint8]bool)

	add := func(t uint64) error {
		if t > uint64(common.MaxMessageType) {
			return fmt.Errorf("message type %d out of range (max %d)", t, common.MaxMessageType)
		}
		if !seen[uint8(t)] {
			seen[uint8(t)] = true
			types = append(types, uint8(t))
		}
		return nil
	}

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		from, to, isRange := strings.Cut(part, "-")
		start, err := strconv.ParseUint(strings.TrimSpace(from), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid message type %q: %w", part, err)
		}
		end := start
		if isRange {
			if end, err = strconv.ParseUint(strings.TrimSpace(to), 10, 8); err != nil {
				return nil, fmt.Errorf("invalid message type range %q: %w", part, err)
			}
			if end < start {
				return nil, fmt.Errorf("invalid message type range %q", part)
			}
		}

		for t := start; t <= end; t++ {
			if err := add(t); err != nil {
				return nil, err
			}
		}
	}
	return types, nil
}
