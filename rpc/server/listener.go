package server

import (
	"fmt"

	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/ValentinKolb/dMsg/rpc/serializer"
)

// TypedListener creates a MessageListener that decodes the payload with s before calling fn.
// A payload that cannot be decoded is answered with UNKNOWN_ERROR_NO_RETRY, since retrying
// the same bytes cannot succeed. This does not end the connection.
func TypedListener[T any](s serializer.IRPCSerializer, fn func(host string, v T) (common.Status, error)) MessageListener {
	return func(version uint16, host string, size int, payload []byte) (common.Status, error) {
		var v T
		if err := s.Deserialize(payload, &v); err != nil {
			Logger.Warningf("[%s] failed to decode %s payload (%d bytes): %v", host, s.GetName(), size, err)
			return common.StatusUnknownErrorNoRetry, nil
		}
		return fn(host, v)
	}
}

// LoggingListener creates a MessageListener that logs every message and accepts it
func LoggingListener(messageType uint8) MessageListener {
	return func(version uint16, host string, size int, payload []byte) (common.Status, error) {
		Logger.Infof("[%s] received message type %d (version %d, %d bytes)", host, messageType, version, size)
		return common.StatusOK, nil
	}
}

// RegisterLoggingListeners registers a LoggingListener for each type
func RegisterLoggingListeners(r *ListenerRegistry, types ...uint8) error {
	for _, t := range types {
		if err := r.RegisterListener(t, LoggingListener(t)); err != nil {
			return fmt.Errorf("failed to register listener: %w", err)
		}
	}
	return nil
}

// DecodingListener creates a MessageListener that decodes the payload with s and logs it.
// Gob streams carry a concrete type and cannot be decoded into an interface value,
// so gob payloads are decoded as objects (map[string]any).
func DecodingListener(s serializer.IRPCSerializer, messageType uint8) MessageListener {
	logDecoded := func(host string, v any) (common.Status, error) {
		Logger.Infof("[%s] type %d: %v", host, messageType, v)
		return common.StatusOK, nil
	}
	if s.GetName() == "gob" {
		return TypedListener(s, func(host string, v map[string]any) (common.Status, error) {
			return logDecoded(host, v)
		})
	}
	return TypedListener(s, logDecoded)
}

// RegisterDecodingListeners registers a DecodingListener for each type
func RegisterDecodingListeners(r *ListenerRegistry, s serializer.IRPCSerializer, types ...uint8) error {
	for _, t := range types {
		if err := r.RegisterListener(t, DecodingListener(s, t)); err != nil {
			return fmt.Errorf("failed to register listener: %w", err)
		}
	}
	return nil
}
