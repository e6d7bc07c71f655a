package server

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/ValentinKolb/dMsg/rpc/transport/base"
	"github.com/ValentinKolb/dMsg/rpc/transport/tcp"
	"github.com/benbjohnson/clock"
)

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func testServerConfig() common.ServerConfig {
	config := common.DefaultServerConfig()
	config.Endpoint = "127.0.0.1:0"
	config.SocketTimeout = 5 * time.Second
	return config
}

func startServer(t *testing.T, listeners *ListenerRegistry) *RPCServer {
	t.Helper()
	return startServerWith(t, testServerConfig(), listeners, nil)
}

func startServerWith(t *testing.T, config common.ServerConfig, listeners *ListenerRegistry, clk clock.Clock) *RPCServer {
	t.Helper()

	s := NewRPCServer(config, tcp.NewTCPServerTransport(), listeners, clk)
	if err := s.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func dial(t *testing.T, s *RPCServer) *base.Connection {
	t.Helper()
	netConn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	conn := base.NewConnection(netConn, 2*time.Second)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *base.Connection, msg *common.Message) common.Status {
	t.Helper()
	if err := conn.WriteRequest(msg); err != nil {
		t.Fatalf("failed to write request: %v", err)
	}
	resp, err := conn.ReadResponse()
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	if resp.ClientID != msg.ClientID || resp.Hash != msg.Hash {
		t.Errorf("response %+v does not belong to %s", resp, msg)
	}
	return resp.Status
}

// countingListener returns a listener answering status and counting its invocations
func countingListener(status common.Status, calls *atomic.Int32) MessageListener {
	return func(version uint16, host string, size int, payload []byte) (common.Status, error) {
		calls.Add(1)
		return status, nil
	}
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestRegisterListener(t *testing.T) {
	r := NewListenerRegistry()
	var calls atomic.Int32

	if err := r.RegisterListener(5, countingListener(common.StatusOK, &calls)); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := r.RegisterListener(5, countingListener(common.StatusOK, &calls)); err == nil {
		t.Error("duplicate registration should fail")
	}
	if err := r.RegisterListener(common.MaxMessageType+1, countingListener(common.StatusOK, &calls)); err == nil {
		t.Error("reserved message type should be rejected")
	}
	if err := r.RegisterListener(common.MaxMessageType, countingListener(common.StatusOK, &calls)); err != nil {
		t.Errorf("max message type should be accepted: %v", err)
	}
	if err := r.RegisterListener(6, nil); err == nil {
		t.Error("nil listener should be rejected")
	}
	if n := len(r.Types()); n != 2 {
		t.Errorf("expected 2 registered types, got %d", n)
	}
}

func TestListenerInvocation(t *testing.T) {
	r := NewListenerRegistry()
	type call struct {
		version uint16
		host    string
		size    int
		payload []byte
	}
	calls := make(chan call, 1)
	_ = r.RegisterListener(5, func(version uint16, host string, size int, payload []byte) (common.Status, error) {
		calls <- call{version, host, size, payload}
		return common.StatusOK, nil
	})

	s := startServer(t, r)
	conn := dial(t, s)

	msg := common.NewMessage(1, 5, []byte("abc"))
	if status := send(t, conn, msg); status != common.StatusOK {
		t.Fatalf("status = %s, want OK", status)
	}

	c := <-calls
	if c.version != common.ProtocolVersion1 || c.host != "127.0.0.1" || c.size != 3 || !bytes.Equal(c.payload, []byte("abc")) {
		t.Errorf("unexpected listener call %+v", c)
	}
	if !s.Hashes().Contains(5, 1, msg.Hash) {
		t.Error("delivered message should be recorded")
	}
}

func TestDedupReplay(t *testing.T) {
	r := NewListenerRegistry()
	var calls atomic.Int32
	_ = r.RegisterListener(5, countingListener(common.StatusOK, &calls))

	s := startServer(t, r)
	conn := dial(t, s)
	msg := common.NewMessage(1, 5, []byte("abc"))

	if status := send(t, conn, msg); status != common.StatusOK {
		t.Fatalf("first send: status = %s, want OK", status)
	}
	if status := send(t, conn, msg); status != common.StatusAlreadyWritten {
		t.Fatalf("replay: status = %s, want ALREADY_WRITTEN", status)
	}

	// the payload of the replay was skipped, framing is intact
	other := common.NewMessage(1, 5, []byte("other"))
	if status := send(t, conn, other); status != common.StatusOK {
		t.Fatalf("after replay: status = %s, want OK", status)
	}

	// a replay on a new connection is detected as well
	if status := send(t, dial(t, s), msg); status != common.StatusAlreadyWritten {
		t.Fatalf("replay on new connection: status = %s, want ALREADY_WRITTEN", status)
	}

	if n := calls.Load(); n != 2 {
		t.Errorf("listener should be invoked twice, got %d", n)
	}

	// same content from another client is a different message
	if status := send(t, conn, common.NewMessage(2, 5, []byte("abc"))); status != common.StatusOK {
		t.Errorf("other client: status = %s, want OK", status)
	}
}

func TestUnknownMessageType(t *testing.T) {
	s := startServer(t, NewListenerRegistry())
	conn := dial(t, s)
	msg := common.NewMessage(1, 9, []byte("abc"))

	if status := send(t, conn, msg); status != common.StatusUnknownMessageType {
		t.Fatalf("status = %s, want UNKNOWN_MESSAGE_TYPE", status)
	}
	if !s.Hashes().Contains(9, 1, msg.Hash) {
		t.Error("message of unknown type should be recorded")
	}
	if status := send(t, conn, msg); status != common.StatusAlreadyWritten {
		t.Errorf("retry: status = %s, want ALREADY_WRITTEN", status)
	}
}

func TestNonOKStatusNotRecorded(t *testing.T) {
	r := NewListenerRegistry()
	var calls atomic.Int32
	_ = r.RegisterListener(5, countingListener(common.Status(300), &calls))

	s := startServer(t, r)
	conn := dial(t, s)
	msg := common.NewMessage(1, 5, []byte("abc"))

	for i := 0; i < 2; i++ {
		if status := send(t, conn, msg); status != common.Status(300) {
			t.Fatalf("status = %d, want 300", status)
		}
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("non-OK messages must be processed again, got %d calls", n)
	}
	if s.Hashes().Contains(5, 1, msg.Hash) {
		t.Error("non-OK message must not be recorded")
	}
}

func TestListenerFailureClosesConnection(t *testing.T) {
	tests := []struct {
		name     string
		listener MessageListener
	}{
		{"error", func(uint16, string, int, []byte) (common.Status, error) {
			return common.StatusOK, errors.New("boom")
		}},
		{"panic", func(uint16, string, int, []byte) (common.Status, error) {
			panic("boom")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewListenerRegistry()
			_ = r.RegisterListener(5, tt.listener)
			s := startServer(t, r)
			conn := dial(t, s)
			msg := common.NewMessage(1, 5, []byte("abc"))

			if status := send(t, conn, msg); status != common.StatusUnknownErrorNoRetry {
				t.Fatalf("status = %s, want UNKNOWN_ERROR_NO_RETRY", status)
			}
			if s.Hashes().Contains(5, 1, msg.Hash) {
				t.Error("failed message must not be recorded")
			}

			// the server closed the connection
			if err := conn.WriteRequest(msg); err == nil {
				if _, err := conn.ReadResponse(); err == nil {
					t.Error("connection should be closed after a listener failure")
				}
			}
		})
	}
}

func TestEOFSentinel(t *testing.T) {
	s := startServer(t, NewListenerRegistry())
	conn := dial(t, s)

	if err := conn.WriteEOF(); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for s.transport.ActiveConnections() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := s.transport.ActiveConnections(); n != 0 {
		t.Errorf("connection should be closed after the EOF sentinel, %d active", n)
	}
}

func TestMetrics(t *testing.T) {
	r := NewListenerRegistry()
	var calls atomic.Int32
	_ = r.RegisterListener(5, countingListener(common.StatusOK, &calls))
	s := startServer(t, r)
	conn := dial(t, s)

	msg := common.NewMessage(1, 5, []byte("abc"))
	send(t, conn, msg)
	send(t, conn, msg)

	var buf bytes.Buffer
	s.WritePrometheus(&buf)
	out := buf.String()

	for _, want := range []string{
		`dmsg_server_messages_total{type="5"} 2`,
		`dmsg_server_already_written_total{type="5"} 1`,
		`dmsg_server_connections_active 1`,
		`dmsg_server_hash_entries 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output misses %q:\n%s", want, out)
		}
	}
}

func TestDedupWindowExpires(t *testing.T) {
	r := NewListenerRegistry()
	var calls atomic.Int32
	_ = r.RegisterListener(5, countingListener(common.StatusOK, &calls))

	config := testServerConfig()
	config.HashTTL = time.Minute
	mock := clock.NewMock()
	s := startServerWith(t, config, r, mock)
	conn := dial(t, s)
	msg := common.NewMessage(1, 5, []byte("abc"))

	if status := send(t, conn, msg); status != common.StatusOK {
		t.Fatalf("first send: status = %s, want OK", status)
	}
	mock.Add(30 * time.Second)
	if status := send(t, conn, msg); status != common.StatusAlreadyWritten {
		t.Fatalf("replay within the window: status = %s, want ALREADY_WRITTEN", status)
	}

	// the fingerprint is forgotten once the window has passed
	mock.Add(2 * time.Minute)
	if status := send(t, conn, msg); status != common.StatusOK {
		t.Fatalf("replay after the window: status = %s, want OK", status)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("listener should be invoked twice, got %d", n)
	}
}

func TestIdleConnectionClosed(t *testing.T) {
	r := NewListenerRegistry()
	var calls atomic.Int32
	_ = r.RegisterListener(5, countingListener(common.StatusOK, &calls))

	config := testServerConfig()
	config.SocketTimeout = 100 * time.Millisecond
	s := startServerWith(t, config, r, nil)
	conn := dial(t, s)

	if status := send(t, conn, common.NewMessage(1, 5, []byte("abc"))); status != common.StatusOK {
		t.Fatalf("status = %s, want OK", status)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.transport.ActiveConnections() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := s.transport.ActiveConnections(); n != 0 {
		t.Fatalf("idle connection should be closed, %d active", n)
	}

	// the client side observes the close
	if _, err := conn.ReadResponse(); err == nil {
		t.Error("read on an idle closed connection should fail")
	}
}

func TestOversizedPayloadRejected(t *testing.T) {
	r := NewListenerRegistry()
	var calls atomic.Int32
	_ = r.RegisterListener(5, countingListener(common.StatusOK, &calls))

	config := testServerConfig()
	config.MaxPayloadSize = 16
	s := startServerWith(t, config, r, nil)

	// a payload within the limit is delivered
	if status := send(t, dial(t, s), common.NewMessage(1, 5, []byte("abc"))); status != common.StatusOK {
		t.Fatalf("small payload: status = %s, want OK", status)
	}

	netConn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	conn := base.NewConnection(netConn, 2*time.Second)
	defer conn.Close()

	// only the header announcing 1 GiB is written, the server must not wait for the payload
	msg := common.NewMessage(1, 5, []byte("large"))
	header := make([]byte, common.RequestHeaderLength)
	header[0] = msg.Type
	binary.BigEndian.PutUint16(header[1:3], common.ProtocolVersion1)
	binary.BigEndian.PutUint64(header[3:11], msg.ClientID)
	copy(header[11:27], msg.Hash[:])
	binary.BigEndian.PutUint32(header[35:39], 1<<30)
	if _, err := netConn.Write(header); err != nil {
		t.Fatal(err)
	}

	resp, err := conn.ReadResponse()
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	if resp.Status != common.StatusUnknownErrorNoRetry {
		t.Errorf("status = %s, want UNKNOWN_ERROR_NO_RETRY", resp.Status)
	}
	if _, err := conn.ReadResponse(); err == nil {
		t.Error("connection should be closed after an oversized frame")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("listener must not see the oversized message, got %d calls", n)
	}
	if s.Hashes().Contains(5, 1, msg.Hash) {
		t.Error("oversized message must not be recorded")
	}
}
