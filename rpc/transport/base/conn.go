package base

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/ValentinKolb/dMsg/rpc/common"
)

const readBufferSize = 64 * 1024

// Connection is one physical link speaking the message protocol.
// The server side uses ReadRequestHeader, ReadPayload/DiscardPayload and WriteResponse,
// the client side WriteRequest, ReadResponse and WriteEOF.
// A Connection is not safe for concurrent use.
type Connection struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
	closed  bool
}

// NewConnection wraps conn. A timeout > 0 is applied as deadline to every frame.
func NewConnection(conn net.Conn, timeout time.Duration) *Connection {
	return &Connection{
		conn:    conn,
		reader:  bufio.NewReaderSize(conn, readBufferSize),
		timeout: timeout,
	}
}

// RemoteHost returns the host part of the peer address (the whole address for unix sockets)
func (c *Connection) RemoteHost() string {
	addr := c.conn.RemoteAddr()
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// Close closes the underlying connection
func (c *Connection) Close() error {
	c.closed = true
	return c.conn.Close()
}

// IsClosed reports whether Close was called
func (c *Connection) IsClosed() bool {
	return c.closed
}

// --------------------------------------------------------------------------
// Server side
// --------------------------------------------------------------------------

// ReadRequestHeader reads the next request header.
// For the EOF sentinel only the type byte is read and a header with IsEOF() == true is returned.
// The read deadline is refreshed before every frame.
func (c *Connection) ReadRequestHeader() (RequestHeader, error) {
	if err := c.setReadDeadline(); err != nil {
		return RequestHeader{}, err
	}

	messageType, err := c.reader.ReadByte()
	if err != nil {
		return RequestHeader{}, err
	}
	if messageType == common.EOFMessageType {
		return RequestHeader{Type: messageType}, nil
	}

	buf := make([]byte, common.RequestHeaderLength-1)
	if _, err := io.ReadFull(c.reader, buf); err != nil {
		return RequestHeader{}, unexpectedEOF(err)
	}
	return decodeRequestHeader(messageType, buf)
}

// ReadPayload reads the payload of length bytes following a header
func (c *Connection) ReadPayload(length uint32) ([]byte, error) {
	payload := make([]byte, length)
	if _, err := io.ReadFull(c.reader, payload); err != nil {
		return nil, unexpectedEOF(err)
	}
	return payload, nil
}

// DiscardPayload skips the payload of length bytes following a header
func (c *Connection) DiscardPayload(length uint32) error {
	if _, err := c.reader.Discard(int(length)); err != nil {
		return unexpectedEOF(err)
	}
	return nil
}

// WriteResponse writes a response frame
func (c *Connection) WriteResponse(clientID uint64, hash common.Hash, status common.Status) error {
	if err := c.setWriteDeadline(); err != nil {
		return err
	}
	_, err := c.conn.Write(encodeResponse(clientID, hash, status))
	return err
}

// --------------------------------------------------------------------------
// Client side
// --------------------------------------------------------------------------

// WriteRequest writes the request frame of msg
func (c *Connection) WriteRequest(msg *common.Message) error {
	if err := c.setWriteDeadline(); err != nil {
		return err
	}
	b := net.Buffers{encodeRequestHeader(msg), msg.Payload}
	_, err := b.WriteTo(c.conn)
	return err
}

// ReadResponse reads a response frame. A frame with an unexpected protocol
// version closes the connection and returns ErrVersionMismatch.
func (c *Connection) ReadResponse() (Response, error) {
	if err := c.setReadDeadline(); err != nil {
		return Response{}, err
	}

	buf := make([]byte, common.ResponseLength)
	if _, err := io.ReadFull(c.reader, buf); err != nil {
		return Response{}, unexpectedEOF(err)
	}
	resp, err := decodeResponse(buf)
	if err != nil {
		return Response{}, err
	}

	if resp.Version != common.ProtocolVersion1 {
		_ = c.Close()
		return Response{}, fmt.Errorf("%w: got %d, expected %d", ErrVersionMismatch, resp.Version, common.ProtocolVersion1)
	}
	return resp, nil
}

// WriteEOF writes the connection terminating sentinel
func (c *Connection) WriteEOF() error {
	if err := c.setWriteDeadline(); err != nil {
		return err
	}
	_, err := c.conn.Write([]byte{common.EOFMessageType})
	return err
}

// Alive probes an idle connection without blocking: a peer that closed the
// connection (or sent unexpected data) makes it unusable.
func (c *Connection) Alive() bool {
	if c.closed {
		return false
	}
	if c.reader.Buffered() > 0 {
		return false
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return false
	}
	defer c.conn.SetReadDeadline(time.Time{})

	_, err := c.reader.Peek(1)
	return IsTimeout(err)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (c *Connection) setReadDeadline() error {
	if c.timeout <= 0 {
		return nil
	}
	return c.conn.SetReadDeadline(time.Now().Add(c.timeout))
}

func (c *Connection) setWriteDeadline() error {
	if c.timeout <= 0 {
		return nil
	}
	return c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
}

// unexpectedEOF turns an EOF in the middle of a frame into io.ErrUnexpectedEOF
func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// IsTimeout reports whether err is a deadline error
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
