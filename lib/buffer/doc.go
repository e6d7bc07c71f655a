// Package buffer implements the client side in-memory store of messages
// waiting for delivery.
//
// Messages are content addressed: the key is the fingerprint (message type
// plus md5 of the payload), so sending identical content twice before it is
// delivered leaves a single entry. A running byte counter (payload length
// plus a fixed per-entry overhead) backs the soft memory limit of the sender.
// The limit never blocks Put.
//
// Thread Safety:
//
//	Put, Remove and Take may be called concurrently. Take iterates a live map,
//	so a message put during iteration may or may not be returned.
package buffer
