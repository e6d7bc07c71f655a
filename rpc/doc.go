// Package rpc provides the at-least-once message delivery system. It acts as the
// communication layer between producers (clients) and consumers (servers) of
// small binary messages.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures used across the system, including the Message,
//     the wire constants, status codes, configuration structures, and logging.
//
//   - transport: Network communication abstractions with pluggable implementations
//     (TCP, Unix sockets) sharing the framing code in transport/base.
//
//   - serializer: Optional object encoding (JSON, GOB) for typed payloads.
//
//   - client: The Sender with its memory buffer, disk spool and connection pool.
//
//   - server: The listener registry, connection handling and dedup.
package rpc
