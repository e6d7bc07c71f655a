package serializer

// IRPCSerializer is the interface for all payload serializers.
// The message protocol transports opaque bytes, a serializer turns
// application values into those bytes and back.
type IRPCSerializer interface {
	// Serialize serializes a value into a byte array
	// It returns the serialized byte array and an error if any
	Serialize(v any) ([]byte, error)
	// Deserialize deserializes a byte array into a value
	// It takes a byte array and a pointer to the target as parameters
	// It returns an error if any
	Deserialize(b []byte, v any) error
	// GetName returns the name of the format (e.g., "json", "gob")
	GetName() string
}

// ByName returns the serializer for a format name
func ByName(name string) (IRPCSerializer, bool) {
	switch name {
	case "json":
		return NewJSONSerializer(), true
	case "gob":
		return NewGOBSerializer(), true
	default:
		return nil, false
	}
}
