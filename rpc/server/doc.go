// Package server implements the consumer side of the message delivery system.
//
// The server accepts connections through a transport (tcp or unix), reads one
// framed message at a time and dispatches it to the listener registered for its
// message type. Every message that was answered OK is remembered in a dedup store
// for the hash ttl, so a client replaying it receives ALREADY_WRITTEN without
// the listener being invoked again.
//
// Key Components:
//
//   - ListenerRegistry: maps message types (0..200) to MessageListener functions.
//
//   - RPCServer: accept loop, per connection read loop, dedup and metrics.
//
//   - TypedListener: adapts a listener for serialized objects to a MessageListener.
//
// Usage Example:
//
//	listeners := server.NewListenerRegistry()
//	_ = listeners.RegisterListener(5, func(version uint16, host string, size int, payload []byte) (common.Status, error) {
//		log.Printf("%s sent %d bytes", host, size)
//		return common.StatusOK, nil
//	})
//
//	s := server.NewRPCServer(common.DefaultServerConfig(), tcp.NewTCPServerTransport(), listeners, nil)
//	if err := s.Serve(); err != nil {
//		log.Fatalf("Server error: %v", err)
//	}
//
// Failure Handling:
//
//	A listener that returns an error (or panics) gets the response
//	UNKNOWN_ERROR_NO_RETRY and the connection is closed afterwards.
//	Unknown message types are answered with UNKNOWN_MESSAGE_TYPE and the
//	connection stays open.
//
// Thread Safety:
//
//	Each connection is served by its own goroutine. Listeners must be safe for
//	concurrent use. Start and Serve should be called only once.
package server
