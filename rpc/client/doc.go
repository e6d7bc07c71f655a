// Package client implements the producer side of the message delivery system.
// It buffers messages in memory, delivers them to the server in the background
// and spools undelivered messages to disk on shutdown.
//
// The package focuses on:
//   - Non-blocking Send: messages are only buffered, never sent inline
//   - At-least-once delivery: a message leaves the client only after the server
//     answered OK, ALREADY_WRITTEN or a no-retry status
//   - Crash tolerance: buffered messages survive a restart in the spool directory
//
// Key Components:
//
//   - Sender: owns the memory buffer, the disk spool, the connection pool and the
//     two synchronization loops (memory and disk).
//
//   - INoRetryStrategy: hook invoked once for every permanently rejected message.
//     DropStrategy (the default) logs and discards it.
//
//   - AvailabilityReport: per message type health signal (OPERATIONAL / FAILED).
//
// Usage Example:
//
//	config := common.DefaultClientConfig()
//	config.Host = "localhost"
//	config.SpoolDir = "/var/spool/dmsg"
//
//	sender, err := client.NewSender(config, tcp.NewTCPClientTransport())
//	if err != nil {
//		panic(err)
//	}
//	sender.Start()
//	defer sender.Close()
//
//	_ = sender.Send(5, []byte("abc"))
//
// Spool Layout:
//
//	<spool dir>/<client id hex>/<message type>/<md5 hex>.bin   message payload
//	<spool dir>/<client id hex>/<message type>/<md5 hex>.lock  held during delivery
//
// Thread Safety:
//
//	All Sender methods are safe for concurrent use. Send racing with Close either
//	buffers the message before the final flush or returns ErrSenderClosed.
package client
