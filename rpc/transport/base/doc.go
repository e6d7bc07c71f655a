// Package base provides the medium independent part of the message protocol
// transport: frame encoding, the Connection type, the server accept loop and
// the client connection pool. Protocol specific connectors (tcp, unix) plug
// into it.
//
// Key Components:
//
//   - Connection: framing primitives on one net.Conn. Reads go through a
//     bufio.Reader, request frames are written with net.Buffers so header and
//     payload leave in a single writev. Response frames carry the protocol
//     version, a mismatch closes the connection (ErrVersionMismatch).
//
//   - serverTransport: accepts connections, optionally bounded by
//     MaxConnections, and runs the registered handler in a goroutine per
//     connection. Close waits for all handlers.
//
//   - clientTransport: a pool of PoolSize slots. Each slot owns at most one
//     connection which is dialed lazily, probed before reuse and redialed
//     after any I/O error. A send holds its slot until the response is read,
//     so at most PoolSize sends are in flight. Free slots form a stack and
//     checkout prefers a slot with an open connection.
//
// Frame Layout (big endian):
//
//	request:  type u8 | version u16 | clientId u64 | md5 [16] | reserved [8] | length u32 | payload
//	response: version u8 | clientId u64 | md5 [16] | reserved [8] | status u16
//
// A request with type 0xFF consists of that single byte and ends the session.
package base
