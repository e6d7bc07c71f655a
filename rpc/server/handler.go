package server

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/ValentinKolb/dMsg/rpc/transport/base"
)

// handleConnection serves one connection:
// READING_HEADER -> DISPATCHING -> WRITING_RESPONSE -> READING_HEADER ...
// until the EOF sentinel, a read timeout or an I/O error closes it.
func (s *RPCServer) handleConnection(netConn net.Conn) {
	conn := base.NewConnection(netConn, s.config.SocketTimeout)
	host := conn.RemoteHost()

	for {
		header, err := conn.ReadRequestHeader()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				Logger.Infof("[%s] connection closed by client", host)
			case base.IsTimeout(err):
				Logger.Infof("[%s] connection idle for %s, closing", host, s.config.SocketTimeout)
			case errors.Is(err, net.ErrClosed):
				Logger.Debugf("[%s] connection closed", host)
			default:
				Logger.Errorf("[%s] failed to read request: %v", host, err)
			}
			return
		}

		if header.IsEOF() {
			Logger.Debugf("[%s] end of session", host)
			return
		}

		if !s.handleFrame(conn, host, header) {
			return
		}

		s.hashes.EvictOlderThan(s.config.HashTTL)
	}
}

// handleFrame processes one request frame and reports whether the connection stays open
func (s *RPCServer) handleFrame(conn *base.Connection, host string, h base.RequestHeader) bool {
	s.counter("dmsg_server_messages_total", h.Type).Inc()

	Logger.Debugf("[%s/%x] message type: %d, version: %d, md5: %s, size: %d",
		host, h.ClientID, h.Type, h.Version, h.Hash, h.Length)

	// Case already processed: skip the payload, the listener is not invoked
	if s.hashes.Contains(h.Type, h.ClientID, h.Hash) {
		if err := conn.DiscardPayload(h.Length); err != nil {
			Logger.Errorf("[%s/%x] failed to skip payload: %v", host, h.ClientID, err)
			return false
		}
		s.counter("dmsg_server_already_written_total", h.Type).Inc()
		Logger.Warningf("[%s/%x] message (%s, %d) already written", host, h.ClientID, h.Hash, h.Length)
		return s.respond(conn, host, h, common.StatusAlreadyWritten)
	}

	// Case payload too large: the frame cannot be skipped safely, so the connection ends
	if limit := s.config.MaxPayloadSize; limit > 0 && h.Length > limit {
		s.counter("dmsg_server_oversized_total", h.Type).Inc()
		Logger.Errorf("[%s/%x] payload of %d bytes exceeds the limit of %d bytes", host, h.ClientID, h.Length, limit)
		s.respond(conn, host, h, common.StatusUnknownErrorNoRetry)
		return false
	}

	payload, err := conn.ReadPayload(h.Length)
	if err != nil {
		Logger.Errorf("[%s/%x] failed to read payload: %v", host, h.ClientID, err)
		return false
	}

	// Case no listener: remember the message so a retry short-circuits
	listener, ok := s.listeners[h.Type]
	if !ok {
		s.hashes.Add(h.Type, h.ClientID, h.Hash)
		Logger.Errorf("[%s/%x] unknown message type %d", host, h.ClientID, h.Type)
		return s.respond(conn, host, h, common.StatusUnknownMessageType)
	}

	status, err := s.dispatch(listener, host, h, payload)
	if err != nil {
		s.counter("dmsg_server_listener_errors_total", h.Type).Inc()
		Logger.Errorf("[%s/%x] listener for message type %d failed: %v", host, h.ClientID, h.Type, err)
		s.respond(conn, host, h, common.StatusUnknownErrorNoRetry)
		return false
	}

	if status == common.StatusOK {
		s.hashes.Add(h.Type, h.ClientID, h.Hash)
	} else {
		Logger.Infof("[%s/%x] message (%s, %d) answered with status %s", host, h.ClientID, h.Hash, h.Length, status)
	}
	return s.respond(conn, host, h, status)
}

// dispatch invokes the listener, turning a panic into an error
func (s *RPCServer) dispatch(listener MessageListener, host string, h base.RequestHeader, payload []byte) (status common.Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return listener(h.Version, host, int(h.Length), payload)
}

// respond writes the response frame and reports whether it succeeded
func (s *RPCServer) respond(conn *base.Connection, host string, h base.RequestHeader, status common.Status) bool {
	if err := conn.WriteResponse(h.ClientID, h.Hash, status); err != nil {
		Logger.Errorf("[%s/%x] failed to write response: %v", host, h.ClientID, err)
		return false
	}
	return true
}
