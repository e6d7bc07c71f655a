// Package cmd implements the command-line interface for dMsg. It provides a
// hierarchical command structure for running a server and producing messages.
//
// The package is organized into several subpackages:
//
//   - serve: Commands for starting and configuring the dMsg server
//   - send: Commands for sending messages (raw or serialized objects)
//   - spool: Commands for inspecting and flushing a spool directory
//   - perf: Benchmarks against a running server
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dmsg -help for a list of all commands.
package cmd
