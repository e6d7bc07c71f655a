// Package dedup implements the server side fingerprint store that makes
// re-delivery of an already processed message a no-op.
//
// A fingerprint is the tuple (message type, client id, md5 of the payload).
// The store maps it to the time it was last seen. Entries older than the
// configured ttl count as absent even before EvictOlderThan physically
// removes them. Eviction walks an expiry heap oldest first and stops at the
// first entry that is still fresh.
//
// Thread Safety:
//
//	All methods are safe for concurrent use from many connection goroutines.
//	Contains followed by Add is not atomic: two identical in-flight requests
//	may both pass Contains and both be dispatched.
package dedup
