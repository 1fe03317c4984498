package gateway

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/webssh/gateway/internal/codec"
	"github.com/webssh/gateway/internal/gwerr"
	"github.com/webssh/gateway/internal/registry"
	"github.com/webssh/gateway/internal/shellpump"
	"github.com/webssh/gateway/internal/sshconn"
)

// handleConnect implements spec §4.4's connect dispatch: reconnection first
// (any connect carrying a known sessionId reattaches, per §4.3), then the
// two-step secure handshake (connectionId present, no prior session), then
// the legacy single-step dial.
func (cc *connContext) handleConnect(data map[string]any, requestID, version string) {
	sessionID := getString(data, "sessionId")
	connectionID := getString(data, "connectionId")

	if sessionID != "" {
		if sess, ok := cc.h.Registry.Lookup(sessionID); ok {
			if connectionID != "" {
				cc.h.Pending.Register(connectionID, sessionID)
				cc.sendConnectionIDRegistered(connectionID, "reconnected", sessionID)
			}
			cc.rebind(sess, sessionID, version)
			return
		}
	}

	if connectionID != "" {
		cc.h.Pending.Register(connectionID, sessionID)
		cc.sendConnectionIDRegistered(connectionID, "need_auth", sessionID)
		return
	}

	cc.legacyConnect(sessionID, data, requestID, version)
}

// handleAuthenticate implements the secure handshake's second step: decrypt
// the payload under keyId, parse the embedded credentials, and proceed as a
// legacy connect. The pending record is consumed on success only.
func (cc *connContext) handleAuthenticate(data map[string]any, requestID string) {
	connectionID := getString(data, "connectionId")
	encryptedPayload := getString(data, "encryptedPayload")
	keyID := getString(data, "keyId")

	pending, ok := cc.h.Pending.Lookup(connectionID)
	if !ok {
		cc.sendErrorEnvelope(requestID, gwerr.New(gwerr.CodeInvalidConnID, gwerr.KindConnection, "invalid or expired connection id"))
		return
	}

	plaintext, err := cc.h.KeyRing.Open(keyID, encryptedPayload)
	if err != nil {
		cc.sendErrorEnvelope(requestID, gwerr.Wrap(gwerr.CodeAuthPayloadDecrypt, gwerr.KindConnection, "cannot decrypt auth payload", err))
		return
	}

	var creds struct {
		Address    string `json:"address"`
		Port       int    `json:"port"`
		Username   string `json:"username"`
		AuthType   string `json:"authType"`
		Password   string `json:"password"`
		PrivateKey string `json:"privateKey"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal([]byte(plaintext), &creds); err != nil {
		cc.sendErrorEnvelope(requestID, gwerr.Wrap(gwerr.CodeAuthPayloadDecrypt, gwerr.KindConnection, "cannot decrypt auth payload", err))
		return
	}
	if creds.Port == 0 {
		creds.Port = 22
	}
	if creds.AuthType == "" {
		creds.AuthType = "password"
	}

	sessionID := pending.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	connectData := map[string]any{
		"address":      creds.Address,
		"port":         creds.Port,
		"username":     creds.Username,
		"authType":     creds.AuthType,
		"password":     creds.Password,
		"privateKey":   creds.PrivateKey,
		"passphrase":   creds.Passphrase,
		"sessionId":    sessionID,
		"connectionId": connectionID,
	}

	if ok := cc.legacyConnect(sessionID, connectData, requestID, ""); ok {
		cc.h.Pending.Consume(connectionID)
	}
}

// legacyConnect dials the backend directly from data's credential fields and
// creates a new session record on success. Returns whether the connect
// succeeded, so handleAuthenticate knows whether to consume the pending
// record.
func (cc *connContext) legacyConnect(sessionID string, data map[string]any, requestID, version string) bool {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	cfg := sshconn.Config{
		Host:       getString(data, "address"),
		Port:       getInt(data, "port"),
		User:       getString(data, "username"),
		AuthType:   getString(data, "authType"),
		Password:   getString(data, "password"),
		PrivateKey: getString(data, "privateKey"),
		Passphrase: getString(data, "passphrase"),
		Shell:      getString(data, "shell"),
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}

	ctx, cancel := context.WithTimeout(context.Background(), sshconn.DialTimeout)
	defer cancel()

	sshSess, err := cc.h.Connector.Connect(ctx, cfg)
	if err != nil {
		gerr := gwerr.ClassifySSHDial(err)
		cc.sendErrorEnvelope(requestID, gerr)
		if cc.h.Counters != nil {
			cc.h.Counters.Record(sessionID, gerr.Kind)
		}
		return false
	}

	sess, _ := cc.h.Registry.Open(sessionID)
	sess.ConnectionInfo = registry.ConnectionInfo{
		Host:         cfg.Host,
		Port:         cfg.Port,
		Username:     cfg.User,
		ConnectionID: getString(data, "connectionId"),
	}
	sess.ClientIP = cc.clientIP
	sess.ProtocolVersion = version
	sess.SetSSHConn(sshSess)
	sess.SetShellStream(sshSess)

	if _, err := cc.h.Registry.Rebind(sessionID, cc.channel); err != nil {
		log.Printf("[gateway] rebind new session %s: %v", sessionID, err)
	}

	cc.mu.Lock()
	cc.sessionID = sessionID
	cc.sess = sess
	cc.mu.Unlock()

	cc.startPump(sess, sessionID, sshSess)
	cc.sendConnected(sessionID)
	return true
}

// rebind reattaches an existing (live or detached) session to this
// connection, per §4.3's reconnection contract: clears the cleanup timer,
// replaces the client channel, and restarts the host->client pump against
// the preserved shell stream.
func (cc *connContext) rebind(sess *registry.Session, sessionID, version string) {
	if _, err := cc.h.Registry.Rebind(sessionID, cc.channel); err != nil {
		cc.sendErrorEnvelope("", gwerr.Wrap(gwerr.CodeConnectionUnknown, gwerr.KindConnection, "reconnect failed", err))
		return
	}
	if version != "" {
		sess.ProtocolVersion = version
	}

	cc.mu.Lock()
	cc.sessionID = sessionID
	cc.sess = sess
	cc.mu.Unlock()

	if stream := sess.ShellStreamRef(); stream != nil {
		cc.startPump(sess, sessionID, stream)
	}
	cc.sendConnected(sessionID)
}

// startPump launches the shell I/O pump for sess's stream against this
// connection's channel, replacing any prior pump goroutine (the previous
// connection's pump was already stopped by its own teardown before rebind).
func (cc *connContext) startPump(sess *registry.Session, sessionID string, stream registry.ShellStream) {
	ctx, cancel := context.WithCancel(context.Background())
	pump := shellpump.New(sessionID, stream, cc.channel, &sess.Backpressure)

	cc.mu.Lock()
	cc.pump = pump
	cc.pumpCancel = cancel
	cc.mu.Unlock()

	go func() {
		err := pump.Run(ctx)
		if ctx.Err() != nil {
			return // pump was cancelled by teardown/detach/rebind, not a real failure
		}
		if err != nil {
			cc.failSession(sessionID, gwerr.Wrap(gwerr.CodeSystemInternal, gwerr.KindSystem, "shell stream ended", err))
		} else {
			cc.sendClosed(sessionID, "shell stream closed")
			cc.destroySession(sessionID, "shell stream closed")
		}
	}()
}

// handleDisconnect tears the session down explicitly on client request,
// unlike a transport drop (which only detaches).
func (cc *connContext) handleDisconnect(data map[string]any, requestID string) {
	sessionID := getString(data, "sessionId")
	cc.destroySession(sessionID, "client disconnect")
	cc.sendClosed(sessionID, "client disconnect")
}

func (cc *connContext) sendConnected(sessionID string) {
	payload, _ := json.Marshal(map[string]any{"sessionId": sessionID})
	if err := cc.channel.SendBinary(codec.TagConnected, sessionID, payload); err != nil {
		log.Printf("[gateway] send connected: %v", err)
	}
}

func (cc *connContext) sendConnectionIDRegistered(connectionID, status, sessionID string) {
	data, _ := json.Marshal(map[string]any{
		"connectionId": connectionID,
		"status":       status,
		"sessionId":    sessionID,
	})
	_ = cc.channel.SendText(codec.TextFrame{Type: "connection_id_registered", Data: data, Timestamp: time.Now().UnixMilli()})
}
