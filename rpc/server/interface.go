package server

import (
	"fmt"
	"sync"

	"github.com/ValentinKolb/dMsg/rpc/common"
)

// MessageListener processes the payload of one message type.
// It is invoked synchronously on the connection goroutine with the protocol version of the
// frame, the peer host and the payload size. The returned status is written back to the client;
// only StatusOK marks the message as processed. A returned error (or a panic) answers
// UNKNOWN_ERROR_NO_RETRY and ends the connection.
type MessageListener func(version uint16, host string, size int, payload []byte) (common.Status, error)

// ListenerRegistry collects the listeners before the server is created.
// The server takes a read-only snapshot, listeners registered afterwards are ignored.
type ListenerRegistry struct {
	mu        sync.Mutex
	listeners map[uint8]MessageListener
}

// NewListenerRegistry creates an empty registry
func NewListenerRegistry() *ListenerRegistry {
	return &ListenerRegistry{
		listeners: make(map[uint8]MessageListener),
	}
}

// RegisterListener registers the listener for a message type.
// Types above common.MaxMessageType and duplicate registrations are rejected.
func (r *ListenerRegistry) RegisterListener(messageType uint8, listener MessageListener) error {
	if !common.ValidMessageType(messageType) {
		return fmt.Errorf("message type %d is reserved (max %d)", messageType, common.MaxMessageType)
	}
	if listener == nil {
		return fmt.Errorf("listener for message type %d is nil", messageType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.listeners[messageType]; ok {
		return fmt.Errorf("listener for message type %d already registered", messageType)
	}
	r.listeners[messageType] = listener
	return nil
}

// Types returns the registered message types
func (r *ListenerRegistry) Types() []uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()

	types := make([]uint8, 0, len(r.listeners))
	for t := range r.listeners {
		types = append(types, t)
	}
	return types
}

// snapshot returns a copy of the registered listeners
func (r *ListenerRegistry) snapshot() map[uint8]MessageListener {
	r.mu.Lock()
	defer r.mu.Unlock()

	listeners := make(map[uint8]MessageListener, len(r.listeners))
	for t, l := range r.listeners {
		listeners[t] = l
	}
	return listeners
}
