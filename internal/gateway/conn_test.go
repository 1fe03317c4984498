package gateway

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/webssh/gateway/internal/codec"
	"github.com/webssh/gateway/internal/config"
	"github.com/webssh/gateway/internal/crypto"
	"github.com/webssh/gateway/internal/gwerr"
	"github.com/webssh/gateway/internal/registry"
	"github.com/webssh/gateway/internal/sshconn"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	keyRing, err := crypto.NewKeyRing("default", strings.Repeat("ab", 32))
	if err != nil {
		t.Fatalf("NewKeyRing: %v", err)
	}
	cfg := &config.Config{WSMaxMessageSize: 1 << 20, MaxUploadSize: 1 << 20}
	return NewHandler(cfg, registry.New(time.Minute), registry.NewPendingTable(time.Minute), keyRing, sshconn.NewConnector(), gwerr.NewCounters(3, time.Minute))
}

func dialSSH(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ssh"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

// TestConnectToUnreachableHostReturnsErrorEnvelope exercises the legacy
// single-step connect path end to end against a host:port nothing is
// listening on, verifying dispatch -> legacyConnect -> gwerr classification
// -> error envelope round trips over a real WebSocket connection.
func TestConnectToUnreachableHostReturnsErrorEnvelope(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dialSSH(t, srv)
	defer conn.Close()

	connectMsg, err := codec.EncodeText(codec.TextFrame{
		Type: "connect",
		Data: []byte(`{"address":"127.0.0.1","port":1,"username":"nobody","authType":"password","password":"x"}`),
	})
	if err != nil {
		t.Fatalf("encode connect: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, connectMsg); err != nil {
		t.Fatalf("write connect: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	mt, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if mt != websocket.TextMessage {
		t.Fatalf("expected a text error envelope, got message type %d", mt)
	}
	tf, err := codec.DecodeText(msg)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if tf.Type != "error" {
		t.Fatalf("response type = %q, want error", tf.Type)
	}
}

// TestPingGetsPongWithoutAnySession verifies the transport-level ping/pong
// reply works even before any connect has happened, since handlePing does
// not require a bound session.
func TestPingGetsPongWithoutAnySession(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dialSSH(t, srv)
	defer conn.Close()

	pingMsg, err := codec.EncodeText(codec.TextFrame{Type: "ping", Data: []byte(`{}`)})
	if err != nil {
		t.Fatalf("encode ping: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, pingMsg); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	mt, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if mt != websocket.BinaryMessage {
		t.Fatalf("expected a binary pong frame, got message type %d", mt)
	}
	frame, err := codec.DecodeBinary(msg)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if frame.Tag != codec.TagPong {
		t.Fatalf("frame tag = 0x%02x, want TagPong", frame.Tag)
	}
}

// TestUnsupportedMessageTypeReturnsError exercises the schema validator's
// rejection of an unknown message type, which never reaches dispatch.
func TestUnsupportedMessageTypeReturnsError(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dialSSH(t, srv)
	defer conn.Close()

	msg, err := codec.EncodeText(codec.TextFrame{Type: "not_a_real_type", Data: []byte(`{}`)})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, respRaw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	tf, err := codec.DecodeText(respRaw)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if tf.Type != "error" {
		t.Fatalf("response type = %q, want error", tf.Type)
	}
}
