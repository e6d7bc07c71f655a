package common

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Protocol Constants
// --------------------------------------------------------------------------

const (
	// ProtocolVersion1 is the only protocol version spoken by client and server
	ProtocolVersion1 = 1

	// HashLength is the length of the content hash (md5) in bytes
	HashLength = md5.Size

	// ReservedLength is the length of the reserved block in request and response frames
	ReservedLength = 8

	// EOFMessageType terminates a connection. No further fields follow it.
	EOFMessageType uint8 = 0xFF

	// MaxMessageType is the highest message type a producer may use.
	// Everything above is reserved for the protocol.
	MaxMessageType uint8 = 200

	// RequestHeaderLength is the size of a request frame without payload:
	// type(1) + version(2) + clientId(8) + hash(16) + reserved(8) + length(4)
	RequestHeaderLength = 1 + 2 + 8 + HashLength + ReservedLength + 4

	// ResponseLength is the size of a response frame:
	// version(1) + clientId(8) + hash(16) + reserved(8) + status(2)
	ResponseLength = 1 + 8 + HashLength + ReservedLength + 2
)

// Reserved is the (currently all zero) reserved block written into every frame
var Reserved = [ReservedLength]byte{}

// --------------------------------------------------------------------------
// Status Codes (as written on the wire)
// --------------------------------------------------------------------------

// Status is the response status a server writes back for a request frame
type Status uint16

const (
	StatusOK                  Status = 0   // Message accepted
	StatusUnknownError        Status = 1   // Unexpected error, the client should retry
	StatusUnknownErrorNoRetry Status = 2   // Unexpected error during dispatch, the client must not retry
	StatusUnknownMessageType  Status = 100 // No listener registered for the type
	StatusAlreadyWritten      Status = 101 // Duplicate of an already processed message
)

// String returns the name of a built-in status
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusUnknownError:
		return "UNKNOWN_ERROR"
	case StatusUnknownErrorNoRetry:
		return "UNKNOWN_ERROR_NO_RETRY"
	case StatusUnknownMessageType:
		return "UNKNOWN_MESSAGE_TYPE"
	case StatusAlreadyWritten:
		return "ALREADY_WRITTEN"
	default:
		return "STATUS_" + strconv.Itoa(int(s))
	}
}

// --------------------------------------------------------------------------
// Delivery Status (client visible outcome of a send attempt)
// --------------------------------------------------------------------------

// DeliveryStatus is the outcome of a single send attempt as seen by the client
type DeliveryStatus uint8

const (
	DeliveryOK             DeliveryStatus = iota // Delivered
	DeliveryAlreadyWritten                       // Delivered before, treated as success
	DeliveryError                                // Transient failure, keep the message for retry
	DeliveryErrorNoRetry                         // Permanent failure, hand the message to the no-retry strategy
)

// String returns the string representation of a DeliveryStatus.
func (d DeliveryStatus) String() string {
	switch d {
	case DeliveryOK:
		return "ok"
	case DeliveryAlreadyWritten:
		return "already_written"
	case DeliveryError:
		return "error"
	case DeliveryErrorNoRetry:
		return "error_no_retry"
	default:
		return "unknown"
	}
}

// Delivered reports whether the message can be removed from the durability path
func (d DeliveryStatus) Delivered() bool {
	return d != DeliveryError
}

// --------------------------------------------------------------------------
// Status Table (operator defined extension codes)
// --------------------------------------------------------------------------

// StatusEntry describes an operator defined status code
type StatusEntry struct {
	Name    string
	NoRetry bool
}

// StatusTable maps operator defined status codes to names.
// Codes in the table are retryable unless flagged NoRetry.
type StatusTable map[Status]StatusEntry

// ParseStatusTable parses a comma-separated list in the format code=NAME[:noretry]
// e.g. "300=STORAGE_FULL,301=BAD_PAYLOAD:noretry"
func ParseStatusTable(s string) (StatusTable, error) {
	table := StatusTable{}
	if strings.TrimSpace(s) == "" {
		return table, nil
	}

	for _, part := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid status entry %q (expected code=NAME[:noretry])", part)
		}

		code, err := strconv.ParseUint(strings.TrimSpace(kv[0]), 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid status code %q: %w", kv[0], err)
		}

		entry := StatusEntry{Name: strings.TrimSpace(kv[1])}
		if name, flag, ok := strings.Cut(entry.Name, ":"); ok {
			if !strings.EqualFold(flag, "noretry") {
				return nil, fmt.Errorf("invalid status flag %q (only noretry is supported)", flag)
			}
			entry.Name = name
			entry.NoRetry = true
		}
		if entry.Name == "" {
			return nil, fmt.Errorf("status %d has no name", code)
		}

		table[Status(code)] = entry
	}

	return table, nil
}

// Classify maps a wire status to the client visible outcome
func (t StatusTable) Classify(status Status) DeliveryStatus {
	switch status {
	case StatusOK:
		return DeliveryOK
	case StatusAlreadyWritten:
		return DeliveryAlreadyWritten
	case StatusUnknownError:
		return DeliveryError
	case StatusUnknownErrorNoRetry, StatusUnknownMessageType:
		return DeliveryErrorNoRetry
	}

	if entry, ok := t[status]; ok && entry.NoRetry {
		return DeliveryErrorNoRetry
	}
	return DeliveryError
}

// StatusName returns a readable name for built-in and table statuses
func (t StatusTable) StatusName(status Status) string {
	switch status {
	case StatusOK, StatusUnknownError, StatusUnknownErrorNoRetry, StatusUnknownMessageType, StatusAlreadyWritten:
		return status.String()
	}
	if entry, ok := t[status]; ok {
		return entry.Name
	}
	return fmt.Sprintf("unknown status: %d", status)
}

// String returns the table in the same format ParseStatusTable accepts
func (t StatusTable) String() string {
	codes := make([]int, 0, len(t))
	for code := range t {
		codes = append(codes, int(code))
	}
	sort.Ints(codes)

	parts := make([]string, 0, len(codes))
	for _, code := range codes {
		entry := t[Status(code)]
		part := fmt.Sprintf("%d=%s", code, entry.Name)
		if entry.NoRetry {
			part += ":noretry"
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ",")
}

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Hash is the md5 digest of a message payload
type Hash [HashLength]byte

// String returns the hex encoding of the hash
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// ParseHash decodes a hex encoded hash
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != HashLength {
		return h, fmt.Errorf("invalid hash length %d (expected %d)", len(b), HashLength)
	}
	copy(h[:], b)
	return h, nil
}

// Fingerprint identifies a message inside the client buffer
type Fingerprint struct {
	Type uint8
	Hash Hash
}

// Message is a single unit of delivery. It must not be modified after creation.
type Message struct {
	ClientID uint64
	Type     uint8
	Hash     Hash
	Payload  []byte
}

// NewMessage creates a message and computes the content hash.
// The payload is copied so the caller may reuse its slice.
func NewMessage(clientID uint64, messageType uint8, payload []byte) *Message {
	data := make([]byte, len(payload))
	copy(data, payload)
	return &Message{
		ClientID: clientID,
		Type:     messageType,
		Hash:     md5.Sum(data),
		Payload:  data,
	}
}

// Fingerprint returns the buffer key of the message
func (m *Message) Fingerprint() Fingerprint {
	return Fingerprint{Type: m.Type, Hash: m.Hash}
}

// HexPayload returns the payload hex encoded (used when logging undeliverable messages)
func (m *Message) HexPayload() string {
	return hex.EncodeToString(m.Payload)
}

// String returns a short description of the message
func (m *Message) String() string {
	return fmt.Sprintf("{type: %d, clientId: %x, hash: %s, size: %d}", m.Type, m.ClientID, m.Hash, len(m.Payload))
}

// ValidMessageType reports whether a producer may send messages of this type
func ValidMessageType(messageType uint8) bool {
	return messageType <= MaxMessageType
}
