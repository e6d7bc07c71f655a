// Package tcp implements the TCP socket transport of the message protocol.
// It provides concrete implementations of the base package's connector
// interfaces and applies the socket options of common.SocketConf
// (TCP_NODELAY, keep-alive, kernel buffer sizes) to every connection.
//
// Key Components:
//
//   - clientConnector: dials with the configured connection timeout
//
//   - serverConnector: creates the TCP listener
//
// See the base package for the connection pool and the accept loop.
package tcp
