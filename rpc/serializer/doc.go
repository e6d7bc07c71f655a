// Package serializer provides payload serialization for producers and
// listeners that exchange structured values instead of raw bytes.
//
// The message protocol itself never looks into a payload. A producer encodes
// a value with Sender.SendObject, a listener created with
// server.TypedListener decodes it again. Both sides have to agree on the
// format.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//
//   - jsonSerializerImpl: JSON encoding, human readable and the default of the CLI.
//
//   - gobSerializerImpl: Go's gob encoding, self describing and only useful
//     between Go programs.
//
// Note on deduplication: the dedup fingerprint is the md5 of the encoded
// bytes. JSON output is deterministic (map keys are sorted), so re-sending
// an equal value collapses in the client buffer and on the server. Gob
// encodes maps in iteration order, equal values containing maps may hash
// differently.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	s := serializer.NewJSONSerializer()
//	data, err := s.Serialize(event)
//	// ... send data ...
//	var received Event
//	err = s.Deserialize(data, &received)
package serializer
