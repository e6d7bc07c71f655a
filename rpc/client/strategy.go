package client

import "encoding/hex"

// INoRetryStrategy receives messages the server rejected permanently.
// The message is removed from the buffer (or spool) after the call.
type INoRetryStrategy interface {
	OnNoRetry(messageType uint8, clientID uint64, payload []byte)
}

// NoRetryFunc adapts a function to INoRetryStrategy
type NoRetryFunc func(messageType uint8, clientID uint64, payload []byte)

func (f NoRetryFunc) OnNoRetry(messageType uint8, clientID uint64, payload []byte) {
	f(messageType, clientID, payload)
}

// DropStrategy logs the rejected message and drops it
type DropStrategy struct{}

func (DropStrategy) OnNoRetry(messageType uint8, clientID uint64, payload []byte) {
	Logger.Errorf("dropping message type %d from client %x rejected by the server: %s",
		messageType, clientID, hex.EncodeToString(payload))
}
