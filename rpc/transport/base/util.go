package base

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ValentinKolb/dMsg/rpc/common"
)

var (
	// ErrVersionMismatch is returned when a response frame carries an unexpected protocol version
	ErrVersionMismatch = errors.New("protocol version mismatch")

	// ErrPoolClosed is returned by Send after the pool was closed
	ErrPoolClosed = errors.New("connection pool closed")
)

// RequestHeader is the fixed size part of a request frame
type RequestHeader struct {
	Type     uint8
	Version  uint16
	ClientID uint64
	Hash     common.Hash
	Length   uint32
}

// IsEOF reports whether the header is the connection terminating sentinel
func (h RequestHeader) IsEOF() bool {
	return h.Type == common.EOFMessageType
}

// Response is a decoded response frame
type Response struct {
	Version  uint8
	ClientID uint64
	Hash     common.Hash
	Status   common.Status
}

// encodeRequestHeader writes the header of a request frame for msg:
// - 1 byte: message type
// - 2 bytes: protocol version (uint16, big endian)
// - 8 bytes: client id (uint64, big endian)
// - 16 bytes: md5 of the payload
// - 8 bytes: reserved
// - 4 bytes: payload length (uint32, big endian)
func encodeRequestHeader(msg *common.Message) []byte {
	header := make([]byte, common.RequestHeaderLength)
	header[0] = msg.Type
	binary.BigEndian.PutUint16(header[1:3], common.ProtocolVersion1)
	binary.BigEndian.PutUint64(header[3:11], msg.ClientID)
	copy(header[11:27], msg.Hash[:])
	copy(header[27:35], common.Reserved[:])
	binary.BigEndian.PutUint32(header[35:39], uint32(len(msg.Payload)))
	return header
}

// decodeRequestHeader parses everything after the type byte of a request header
func decodeRequestHeader(messageType uint8, buf []byte) (RequestHeader, error) {
	if len(buf) != common.RequestHeaderLength-1 {
		return RequestHeader{}, fmt.Errorf("invalid request header length %d", len(buf))
	}
	h := RequestHeader{
		Type:     messageType,
		Version:  binary.BigEndian.Uint16(buf[0:2]),
		ClientID: binary.BigEndian.Uint64(buf[2:10]),
		Length:   binary.BigEndian.Uint32(buf[34:38]),
	}
	copy(h.Hash[:], buf[10:26])
	// buf[26:34] is reserved
	return h, nil
}

// encodeResponse writes a response frame:
// - 1 byte: protocol version
// - 8 bytes: client id (uint64, big endian)
// - 16 bytes: md5 of the request payload
// - 8 bytes: reserved
// - 2 bytes: status (uint16, big endian)
func encodeResponse(clientID uint64, hash common.Hash, status common.Status) []byte {
	buf := make([]byte, common.ResponseLength)
	buf[0] = common.ProtocolVersion1
	binary.BigEndian.PutUint64(buf[1:9], clientID)
	copy(buf[9:25], hash[:])
	copy(buf[25:33], common.Reserved[:])
	binary.BigEndian.PutUint16(buf[33:35], uint16(status))
	return buf
}

// decodeResponse parses a response frame
func decodeResponse(buf []byte) (Response, error) {
	if len(buf) != common.ResponseLength {
		return Response{}, fmt.Errorf("invalid response length %d", len(buf))
	}
	r := Response{
		Version:  buf[0],
		ClientID: binary.BigEndian.Uint64(buf[1:9]),
		Status:   common.Status(binary.BigEndian.Uint16(buf[33:35])),
	}
	copy(r.Hash[:], buf[9:25])
	return r, nil
}
