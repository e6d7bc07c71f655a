// Package common provides core data structures and utilities shared across
// the message client and server. It defines the wire protocol constants,
// status codes, configuration structures and logging.
//
// The package focuses on:
//   - Protocol constants (version, reserved block, EOF sentinel, type range)
//   - Status codes and their mapping to client visible delivery outcomes
//   - Configuration structures for client and server components
//   - Custom logging implementation integrated with Dragonboat's logger package
//
// Key Components:
//
//   - Message: Immutable unit of delivery (client id, type, md5 hash, payload).
//     NewMessage computes the content hash.
//
//   - Status / DeliveryStatus: Status is what the server writes on the wire,
//     DeliveryStatus is what the client makes of it (ok, already written,
//     retryable error, permanent error).
//
//   - StatusTable: Operator defined status codes. A code found in the table
//     is retryable unless flagged noretry. Unknown codes are always retryable.
//
//   - ServerConfig / ClientConfig: Configuration with defaults and printers.
//
//   - Logger: Custom logging implementation that plugs into Dragonboat's
//     logger factory so every package can use logger.GetLogger(name).
package common
