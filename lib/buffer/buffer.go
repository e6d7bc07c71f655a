package buffer

import (
	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/puzpuzpuz/xsync/v3"
	"sync/atomic"
)

// EntryOverhead is the estimated in-memory cost of a buffered message besides its payload
// (map entry, message struct, slice header)
const EntryOverhead = 128

// Buffer holds the messages waiting for delivery, keyed by their fingerprint.
// Putting a message with a known fingerprint replaces the old one.
type Buffer struct {
	messages *xsync.MapOf[common.Fingerprint, *common.Message]
	size     atomic.Int64
}

// NewBuffer creates a new empty buffer
func NewBuffer() *Buffer {
	return &Buffer{
		messages: xsync.NewMapOf[common.Fingerprint, *common.Message](),
	}
}

// Size returns the estimated memory footprint of a message in the buffer
func Size(msg *common.Message) int64 {
	return int64(len(msg.Payload)) + EntryOverhead
}

// Put adds the message, replacing a message with the same fingerprint
func (b *Buffer) Put(msg *common.Message) {
	b.messages.Compute(msg.Fingerprint(), func(old *common.Message, loaded bool) (*common.Message, bool) {
		delta := Size(msg)
		if loaded {
			delta -= Size(old)
		}
		b.size.Add(delta)
		return msg, false
	})
}

// Remove deletes the message with the fingerprint of msg
func (b *Buffer) Remove(msg *common.Message) {
	if old, ok := b.messages.LoadAndDelete(msg.Fingerprint()); ok {
		b.size.Add(-Size(old))
	}
}

// Take returns up to n buffered messages without removing them.
// The order is unspecified.
func (b *Buffer) Take(n int) []*common.Message {
	if n <= 0 {
		return nil
	}
	result := make([]*common.Message, 0, n)
	b.messages.Range(func(_ common.Fingerprint, msg *common.Message) bool {
		result = append(result, msg)
		return len(result) < n
	})
	return result
}

// Len returns the number of buffered messages
func (b *Buffer) Len() int {
	return b.messages.Size()
}

// IsEmpty reports whether no message is buffered
func (b *Buffer) IsEmpty() bool {
	return b.Len() == 0
}

// Bytes returns the estimated memory footprint of all buffered messages
func (b *Buffer) Bytes() int64 {
	return b.size.Load()
}

// Clear drops all buffered messages
func (b *Buffer) Clear() {
	b.messages.Range(func(_ common.Fingerprint, msg *common.Message) bool {
		b.Remove(msg)
		return true
	})
}
