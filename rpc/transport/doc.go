// Package transport defines the interfaces and abstractions for the message
// protocol transport. It provides a common contract that all transport
// implementations must fulfill, so the server handler and the client sender
// do not depend on the network medium.
//
// Key Components:
//
//   - IRPCClientTransport: client side connection pool, sends one message per
//     checked out connection and returns the raw status of the response frame.
//
//   - IRPCServerTransport: accepts connections and hands each one to the
//     registered ServerHandleFunc in a dedicated goroutine.
//
// Implementations live in the base package (medium independent logic) and in
// the tcp and unix packages (connectors).
package transport
