// Package unix implements the message protocol transport over Unix domain
// sockets, for producers running on the same machine as the server.
//
// The endpoint is the socket path. On the client side the path is taken from
// the host option with a port <= 0. An existing socket file is removed
// before listening.
//
// Key Components:
//
//   - clientConnector: Establishes connections using Unix domain sockets
//
//   - serverConnector: Creates Unix socket listeners
package unix
