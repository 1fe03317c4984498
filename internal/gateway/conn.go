package gateway

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/webssh/gateway/internal/codec"
	"github.com/webssh/gateway/internal/gwerr"
	"github.com/webssh/gateway/internal/keepalive"
	"github.com/webssh/gateway/internal/registry"
	"github.com/webssh/gateway/internal/sftpsvc"
	"github.com/webssh/gateway/internal/shellpump"
	"github.com/webssh/gateway/internal/validate"
)

// controlFrameRate and controlFrameBurst bound how many control-plane
// messages (text frames; binary shell input and resize frames are not
// counted) one connection may send per second, guarding the handshake and
// SFTP dispatch paths against a runaway or hostile client.
const (
	controlFrameRate  = 40
	controlFrameBurst = 80
)

// connContext holds everything scoped to one accepted WebSocket connection.
// A connection starts unbound (no session) and becomes bound to a
// registry.Session on a successful connect/rebind.
type connContext struct {
	h       *Handler
	ws      *websocket.Conn
	channel *Channel

	clientIP string
	limiter  *rate.Limiter

	heartbeat *keepalive.Heartbeat

	mu         sync.Mutex
	sessionID  string
	sess       *registry.Session
	pump       *shellpump.Pump
	pumpCancel context.CancelFunc
	sftp       *sftpsvc.Client
	sftpOps    *sftpsvc.OperationRegistry
}

func (h *Handler) handleSSH(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already wrote the HTTP response on failure.
	}
	conn.SetReadLimit(h.Config.WSMaxMessageSize)

	cc := &connContext{
		h:        h,
		ws:       conn,
		channel:  NewChannel(conn),
		clientIP: clientIP(r),
		limiter:  rate.NewLimiter(rate.Limit(controlFrameRate), controlFrameBurst),
		sftpOps:  sftpsvc.NewOperationRegistry(),
	}
	defer cc.teardown()

	conn.SetPongHandler(func(string) error {
		cc.heartbeat.Pong()
		return nil
	})
	cc.heartbeat = keepalive.NewHeartbeat(cc.channel.SendPing, cc.onHeartbeatTimeout)
	cc.heartbeat.Start()
	defer cc.heartbeat.Stop()

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		cc.touch()
		switch mt {
		case websocket.BinaryMessage:
			cc.handleBinaryFrame(msg)
		case websocket.TextMessage:
			if !cc.limiter.Allow() {
				log.Printf("[gateway] connection from %s exceeded control-frame rate, dropping message", cc.clientIP)
				continue
			}
			cc.handleTextFrame(msg)
		}
	}
}

func (cc *connContext) onHeartbeatTimeout() {
	log.Printf("[gateway] session %s: heartbeat timed out, closing channel", cc.boundSessionID())
	_ = cc.channel.Close()
}

func (cc *connContext) touch() {
	cc.mu.Lock()
	sess := cc.sess
	cc.mu.Unlock()
	if sess != nil {
		sess.Touch()
	}
}

func (cc *connContext) boundSessionID() string {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.sessionID
}

func (cc *connContext) handleBinaryFrame(raw []byte) {
	frame, err := codec.DecodeBinary(raw)
	if err != nil {
		log.Printf("[gateway] malformed binary frame from %s: %v", cc.clientIP, err)
		return
	}

	cc.mu.Lock()
	pump := cc.pump
	cc.mu.Unlock()

	switch frame.Tag {
	case codec.TagInput:
		if pump == nil {
			return
		}
		if _, err := pump.WriteInput(frame.Payload); err != nil {
			cc.failSession(frame.SessionID, gwerr.Wrap(gwerr.CodeSystemInternal, gwerr.KindSystem, "shell write failed", err))
		}
	case codec.TagResize:
		if pump == nil {
			return
		}
		cols, rows, err := codec.DecodeResizePayload(frame.Payload)
		if err != nil {
			return
		}
		_ = pump.Resize(cols, rows)
	default:
		log.Printf("[gateway] unexpected client binary tag 0x%02x from %s", frame.Tag, cc.clientIP)
	}
}

func (cc *connContext) handleTextFrame(raw []byte) {
	tf, err := codec.DecodeText(raw)
	if err != nil {
		cc.sendErrorEnvelope("", gwerr.New(gwerr.CodeInvalidEnvelope, gwerr.KindValidation, "invalid JSON frame"))
		return
	}

	result, gerr := validate.Validate(tf.Type, tf.Data)
	if gerr != nil {
		cc.sendErrorEnvelope(tf.RequestID, gerr)
		return
	}
	cc.dispatch(tf.Type, result.Data, tf.RequestID, tf.Version)
}

// newOperationID returns operationID if the client supplied one, otherwise
// generates one — spec §6 treats operationId as client-supplied but every
// schema that carries it leaves it optional. ssh_exec, sftp_upload,
// sftp_download and sftp_download_folder call this; the other SFTP handlers
// use the client's value as is, empty or not.
func newOperationID(operationID string) string {
	if operationID != "" {
		return operationID
	}
	return uuid.NewString()
}

// teardown runs once when the connection's read loop exits: it stops the
// pump and heartbeat, closes the SFTP subsystem if open, and detaches (not
// destroys) any bound session so the registry's configurable detach TTL
// (GATEWAY_DETACH_TTL, 10 minutes by default) applies as the reconnect
// window, per §7's "transport failure: detach, don't destroy".
func (cc *connContext) teardown() {
	cc.mu.Lock()
	sessionID := cc.sessionID
	cancel := cc.pumpCancel
	sftp := cc.sftp
	cc.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sftp != nil {
		_ = sftp.Close()
	}
	_ = cc.channel.Close()

	if sessionID != "" {
		if err := cc.h.Registry.Detach(sessionID); err != nil {
			log.Printf("[gateway] detach session %s: %v", sessionID, err)
		}
	}
}
