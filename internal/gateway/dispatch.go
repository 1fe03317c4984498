package gateway

import (
	"encoding/json"
	"log"
	"time"

	"github.com/webssh/gateway/internal/codec"
	"github.com/webssh/gateway/internal/gwerr"
)

// dispatch routes a validated text message to its handler. result.Data is
// already sanitized and defaulted by internal/validate; unknown types never
// reach here since Validate rejects them with CodeUnsupportedType first.
func (cc *connContext) dispatch(msgType string, data map[string]any, requestID, version string) {
	switch msgType {
	case "connect":
		cc.handleConnect(data, requestID, version)
	case "authenticate":
		cc.handleAuthenticate(data, requestID)
	case "data":
		cc.handleTextData(data, requestID)
	case "resize":
		cc.handleTextResize(data, requestID)
	case "disconnect":
		cc.handleDisconnect(data, requestID)
	case "ping":
		cc.handlePing(data, requestID)
	case "ssh_exec":
		cc.handleSSHExec(data, requestID)
	case "cancel":
		cc.handleCancel(data, requestID)
	case "sftp_init":
		cc.handleSFTPInit(data, requestID)
	case "sftp_list":
		cc.handleSFTPList(data, requestID)
	case "sftp_mkdir":
		cc.handleSFTPMkdir(data, requestID)
	case "sftp_rename":
		cc.handleSFTPRename(data, requestID)
	case "sftp_chmod":
		cc.handleSFTPChmod(data, requestID)
	case "sftp_stat":
		cc.handleSFTPStat(data, requestID)
	case "sftp_delete":
		cc.handleSFTPDelete(data, requestID)
	case "sftp_fast_delete":
		cc.handleSFTPFastDelete(data, requestID)
	case "sftp_upload":
		cc.handleSFTPUpload(data, requestID)
	case "sftp_download":
		cc.handleSFTPDownload(data, requestID)
	case "sftp_download_folder":
		cc.handleSFTPDownloadFolder(data, requestID)
	case "sftp_close":
		cc.handleSFTPClose(data, requestID)
	default:
		cc.sendErrorEnvelope(requestID, gwerr.New(gwerr.CodeUnsupportedType, gwerr.KindValidation, "unsupported message type"))
	}
}

// errorEnvelope is the wire shape of spec §3's Error Envelope.
type errorEnvelope struct {
	ErrorCode    int    `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
	Timestamp    int64  `json:"timestamp"`
}

// sendErrorEnvelope renders a GatewayError as a text frame, per §7: validation
// and operation errors reply on the channel but never tear the session down
// by themselves.
func (cc *connContext) sendErrorEnvelope(requestID string, gerr *gwerr.GatewayError) {
	data, _ := json.Marshal(errorEnvelope{
		ErrorCode:    gerr.Code,
		ErrorMessage: gerr.Message,
		Timestamp:    time.Now().UnixMilli(),
	})
	f := codec.TextFrame{Type: "error", Data: data, RequestID: requestID}
	if err := cc.channel.SendText(f); err != nil {
		log.Printf("[gateway] send error envelope: %v", err)
	}

	sessionID := cc.boundSessionID()
	if sessionID != "" && cc.h.Counters != nil {
		if cc.h.Counters.Record(sessionID, gerr.Kind) && gerr.Kind == gwerr.KindConnection {
			log.Printf("[gateway] session %s: connection error retry budget exhausted", sessionID)
		}
	}
}

// failSession reports gerr to the client and transitions the session to
// Tearing, per §7: "SSH stream errors after Ready: reply with error envelope
// AND transition to Tearing." It is safe to call more than once.
func (cc *connContext) failSession(sessionID string, gerr *gwerr.GatewayError) {
	if sessionID == "" {
		sessionID = cc.boundSessionID()
	}
	cc.sendErrorEnvelope("", gerr)
	cc.destroySession(sessionID, gerr.Error())
}

// destroySession stops this connection's pump, closes the SFTP subsystem,
// destroys the registry record, and clears the connContext's bound state.
// Idempotent: calling it twice for the same session is harmless.
func (cc *connContext) destroySession(sessionID string, reason string) {
	cc.mu.Lock()
	cancel := cc.pumpCancel
	sftp := cc.sftp
	cc.pump = nil
	cc.pumpCancel = nil
	cc.sftp = nil
	cc.sessionID = ""
	cc.sess = nil
	cc.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sftp != nil {
		_ = sftp.Close()
	}
	if sessionID != "" {
		_ = cc.h.Registry.Destroy(sessionID, reason)
		if cc.h.Counters != nil {
			cc.h.Counters.Forget(sessionID)
		}
	}
}

// sendClosed notifies the client a session ended, per §6's "closed" type.
func (cc *connContext) sendClosed(sessionID, reason string) {
	data, _ := json.Marshal(map[string]any{"sessionId": sessionID, "reason": reason})
	_ = cc.channel.SendText(codec.TextFrame{Type: "closed", Data: data})
}

// --- small accessor helpers over the sanitized map[string]any ---

func getString(data map[string]any, key string) string {
	if v, ok := data[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getInt(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func getBool(data map[string]any, key string) bool {
	if v, ok := data[key].(bool); ok {
		return v
	}
	return false
}
