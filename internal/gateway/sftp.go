package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"

	"github.com/webssh/gateway/internal/codec"
	"github.com/webssh/gateway/internal/gwerr"
	"github.com/webssh/gateway/internal/sftpsvc"
	"github.com/webssh/gateway/internal/sshconn"
)

// sftpEnvelope is the binary SFTP envelope spec §4.8 requires every
// operation completion to emit, carried on codec.TagSFTP.
type sftpEnvelope struct {
	Type         string          `json:"type"`
	OperationID  string          `json:"operationId,omitempty"`
	Success      bool            `json:"success"`
	ErrorCode    int             `json:"errorCode,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

func (cc *connContext) sendSFTPEnvelope(sessionID string, env sftpEnvelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		log.Printf("[gateway] marshal sftp envelope: %v", err)
		return
	}
	if err := cc.channel.SendBinary(codec.TagSFTP, sessionID, payload); err != nil {
		log.Printf("[gateway] send sftp envelope: %v", err)
	}
}

func (cc *connContext) sftpSuccess(sessionID, operationID string, data any) {
	var raw json.RawMessage
	if data != nil {
		raw, _ = json.Marshal(data)
	}
	cc.sendSFTPEnvelope(sessionID, sftpEnvelope{Type: "sftp_success", OperationID: operationID, Success: true, Data: raw})
}

func (cc *connContext) sftpFail(sessionID, operationID string, gerr *gwerr.GatewayError) {
	cc.sendSFTPEnvelope(sessionID, sftpEnvelope{
		Type:         "sftp_error",
		OperationID:  operationID,
		Success:      false,
		ErrorCode:    gerr.Code,
		ErrorMessage: gerr.Message,
	})
}

// sftpClassify maps a raw SFTP-layer error to a GatewayError, surfacing
// "already exists" and cancellation distinctly per spec §4.8. Every other
// error, not-found or not, is reported as CodeSFTPNotFound with the generic
// message "sftp operation failed".
func sftpClassify(err error) *gwerr.GatewayError {
	if sftpsvc.IsExistsError(err) {
		return gwerr.Wrap(gwerr.CodeSFTPExists, gwerr.KindConnection, "file already exists", err)
	}
	if errors.Is(err, sftpsvc.ErrCancelled) {
		return gwerr.Wrap(gwerr.CodeOperationCancelled, gwerr.KindUnknown, "operation cancelled", err)
	}
	return gwerr.Wrap(gwerr.CodeSFTPNotFound, gwerr.KindSystem, "sftp operation failed", err)
}

// requireSFTP returns the session's open SFTP client, emitting a system
// error envelope if sftp_init hasn't run yet.
func (cc *connContext) requireSFTP(sessionID, operationID string) (*sftpsvc.Client, bool) {
	cc.mu.Lock()
	client := cc.sftp
	cc.mu.Unlock()
	if client == nil {
		cc.sftpFail(sessionID, operationID, gwerr.New(gwerr.CodeSystemInternal, gwerr.KindSystem, "sftp subsystem not initialized"))
		return nil, false
	}
	return client, true
}

// sshClient returns the SSH session backing the bound session, used by
// sftp_init and ssh_exec.
func (cc *connContext) sshClient() (*sshconn.Session, bool) {
	cc.mu.Lock()
	sess := cc.sess
	cc.mu.Unlock()
	if sess == nil {
		return nil, false
	}
	stream := sess.ShellStreamRef()
	s, ok := stream.(*sshconn.Session)
	return s, ok
}

func (cc *connContext) handleSFTPInit(data map[string]any, requestID string) {
	sessionID := getString(data, "sessionId")
	sess, ok := cc.sshClient()
	if !ok {
		cc.sendErrorEnvelope(requestID, gwerr.New(gwerr.CodeSystemInternal, gwerr.KindSystem, "no active SSH session"))
		return
	}
	client, err := sftpsvc.NewClient(sess.Client())
	if err != nil {
		cc.sendErrorEnvelope(requestID, gwerr.Wrap(gwerr.CodeSystemInternal, gwerr.KindSystem, "failed to open sftp subsystem", err))
		return
	}
	cc.mu.Lock()
	cc.sftp = client
	cc.mu.Unlock()
	cc.sendSFTPEnvelope(sessionID, sftpEnvelope{Type: "sftp_ready", Success: true})
}

func (cc *connContext) handleSFTPClose(data map[string]any, requestID string) {
	sessionID := getString(data, "sessionId")
	operationID := getString(data, "operationId")
	cc.mu.Lock()
	client := cc.sftp
	cc.sftp = nil
	cc.mu.Unlock()
	if client != nil {
		_ = client.Close()
	}
	cc.sftpSuccess(sessionID, operationID, nil)
}

func (cc *connContext) handleSFTPList(data map[string]any, requestID string) {
	sessionID, operationID, path := getString(data, "sessionId"), getString(data, "operationId"), getString(data, "path")
	client, ok := cc.requireSFTP(sessionID, operationID)
	if !ok {
		return
	}
	entries, err := client.List(path)
	if err != nil {
		cc.sftpFail(sessionID, operationID, sftpClassify(err))
		return
	}
	cc.sftpSuccess(sessionID, operationID, entries)
}

func (cc *connContext) handleSFTPMkdir(data map[string]any, requestID string) {
	sessionID, operationID, path := getString(data, "sessionId"), getString(data, "operationId"), getString(data, "path")
	client, ok := cc.requireSFTP(sessionID, operationID)
	if !ok {
		return
	}
	if err := client.Mkdir(path); err != nil {
		cc.sftpFail(sessionID, operationID, sftpClassify(err))
		return
	}
	cc.sftpSuccess(sessionID, operationID, nil)
}

func (cc *connContext) handleSFTPRename(data map[string]any, requestID string) {
	sessionID, operationID := getString(data, "sessionId"), getString(data, "operationId")
	client, ok := cc.requireSFTP(sessionID, operationID)
	if !ok {
		return
	}
	if err := client.Rename(getString(data, "oldPath"), getString(data, "newPath")); err != nil {
		cc.sftpFail(sessionID, operationID, sftpClassify(err))
		return
	}
	cc.sftpSuccess(sessionID, operationID, nil)
}

func (cc *connContext) handleSFTPChmod(data map[string]any, requestID string) {
	sessionID, operationID, path := getString(data, "sessionId"), getString(data, "operationId"), getString(data, "path")
	client, ok := cc.requireSFTP(sessionID, operationID)
	if !ok {
		return
	}
	if err := client.Chmod(path, getInt(data, "mode")); err != nil {
		cc.sftpFail(sessionID, operationID, sftpClassify(err))
		return
	}
	cc.sftpSuccess(sessionID, operationID, nil)
}

func (cc *connContext) handleSFTPStat(data map[string]any, requestID string) {
	sessionID, operationID, path := getString(data, "sessionId"), getString(data, "operationId"), getString(data, "path")
	client, ok := cc.requireSFTP(sessionID, operationID)
	if !ok {
		return
	}
	entry, err := client.Stat(path)
	if err != nil {
		cc.sftpFail(sessionID, operationID, sftpClassify(err))
		return
	}
	cc.sftpSuccess(sessionID, operationID, entry)
}

func (cc *connContext) handleSFTPDelete(data map[string]any, requestID string) {
	sessionID, operationID, path := getString(data, "sessionId"), getString(data, "operationId"), getString(data, "path")
	client, ok := cc.requireSFTP(sessionID, operationID)
	if !ok {
		return
	}
	if err := client.Delete(path, getBool(data, "isDirectory")); err != nil {
		cc.sftpFail(sessionID, operationID, sftpClassify(err))
		return
	}
	cc.sftpSuccess(sessionID, operationID, nil)
}

// handleSFTPFastDelete implements spec §4.9's fast-delete operation:
// shell rm -rf behind the safety gate, falling back to the SFTP recursive
// walk. The safety gate itself lives in internal/sftpsvc and is never
// second-guessed here.
func (cc *connContext) handleSFTPFastDelete(data map[string]any, requestID string) {
	sessionID, operationID, path := getString(data, "sessionId"), getString(data, "operationId"), getString(data, "path")
	client, ok := cc.requireSFTP(sessionID, operationID)
	if !ok {
		return
	}
	ctx := cc.sftpOps.Begin(context.Background(), operationID)
	defer cc.sftpOps.End(operationID)

	if err := client.FastDelete(ctx, path); err != nil {
		cc.sftpFail(sessionID, operationID, sftpClassify(err))
		return
	}
	cc.sftpSuccess(sessionID, operationID, nil)
}

func (cc *connContext) sendSFTPProgress(sessionID, operationID string, processed, total int64) {
	data, _ := json.Marshal(map[string]any{
		"progress":  sftpsvc.ProgressPercent(processed, total),
		"processed": processed,
		"total":     total,
	})
	cc.sendSFTPEnvelope(sessionID, sftpEnvelope{Type: "sftp_progress", OperationID: operationID, Success: true, Data: data})
}

func (cc *connContext) handleSFTPUpload(data map[string]any, requestID string) {
	sessionID := getString(data, "sessionId")
	operationID := newOperationID(getString(data, "operationId"))
	path := getString(data, "path")
	filename := getString(data, "filename")
	content := getString(data, "content")

	client, ok := cc.requireSFTP(sessionID, operationID)
	if !ok {
		return
	}
	if content == "" {
		cc.sftpFail(sessionID, operationID, gwerr.New(gwerr.CodeSchemaViolation, gwerr.KindValidation, "upload requires content"))
		return
	}
	raw, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		cc.sftpFail(sessionID, operationID, gwerr.Wrap(gwerr.CodeSchemaViolation, gwerr.KindValidation, "content is not valid base64", err))
		return
	}
	if int64(len(raw)) > cc.h.Config.MaxUploadSize {
		cc.sftpFail(sessionID, operationID, gwerr.New(gwerr.CodeMessageTooLarge, gwerr.KindValidation, "upload exceeds configured size cap"))
		return
	}

	remotePath := joinRemotePath(path, filename)
	ctx := cc.sftpOps.Begin(context.Background(), operationID)
	defer cc.sftpOps.End(operationID)

	total := int64(len(raw))
	err = client.Upload(ctx, remotePath, bytes.NewReader(raw), total, func(processed, total int64) {
		cc.sendSFTPProgress(sessionID, operationID, processed, total)
	})
	if err != nil {
		cc.sftpFail(sessionID, operationID, sftpClassify(err))
		return
	}
	cc.sftpSuccess(sessionID, operationID, nil)
}

func joinRemotePath(dir, filename string) string {
	if dir == "" {
		return filename
	}
	if dir[len(dir)-1] == '/' {
		return dir + filename
	}
	return dir + "/" + filename
}

func (cc *connContext) handleSFTPDownload(data map[string]any, requestID string) {
	sessionID := getString(data, "sessionId")
	operationID := newOperationID(getString(data, "operationId"))
	path := getString(data, "path")

	client, ok := cc.requireSFTP(sessionID, operationID)
	if !ok {
		return
	}

	stat, err := client.Stat(path)
	if err != nil {
		cc.sftpFail(sessionID, operationID, sftpClassify(err))
		return
	}
	if stat.IsDirectory {
		cc.sftpFail(sessionID, operationID, gwerr.New(gwerr.CodeSchemaViolation, gwerr.KindValidation, "path is a directory, use download_folder"))
		return
	}

	if stat.Size > sftpsvc.DownloadConfirmThreshold && !cc.sftpOps.Cancel(confirmKey(operationID)) {
		// First request for a large file: ask the client to confirm before
		// streaming. Cancel() doubles as a "was this already registered"
		// probe since a confirm token has no other use.
		data, _ := json.Marshal(map[string]any{"path": path, "size": stat.Size})
		cc.sendSFTPEnvelope(sessionID, sftpEnvelope{Type: "sftp_confirm", OperationID: operationID, Success: true, Data: data})
		cc.sftpOps.Begin(context.Background(), confirmKey(operationID))
		return
	}

	cc.sftpOps.End(confirmKey(operationID))

	ctx := cc.sftpOps.Begin(context.Background(), operationID)
	defer cc.sftpOps.End(operationID)

	var buf bytes.Buffer
	_, err = client.Download(ctx, path, &buf, func(processed, total int64) {
		cc.sendSFTPProgress(sessionID, operationID, processed, total)
	})
	if err != nil {
		cc.sftpFail(sessionID, operationID, sftpClassify(err))
		return
	}

	payload, _ := json.Marshal(map[string]any{
		"path":    path,
		"content": base64.StdEncoding.EncodeToString(buf.Bytes()),
	})
	cc.sendSFTPEnvelope(sessionID, sftpEnvelope{Type: "sftp_file", OperationID: operationID, Success: true, Data: payload})
}

// confirmKey derives the bookkeeping key used to remember that a large
// download's confirm round-trip already happened for operationID.
func confirmKey(operationID string) string { return operationID + ":confirmed" }

func (cc *connContext) handleSFTPDownloadFolder(data map[string]any, requestID string) {
	sessionID := getString(data, "sessionId")
	operationID := newOperationID(getString(data, "operationId"))
	path := getString(data, "path")

	client, ok := cc.requireSFTP(sessionID, operationID)
	if !ok {
		return
	}

	ctx := cc.sftpOps.Begin(context.Background(), operationID)
	defer cc.sftpOps.End(operationID)

	var buf bytes.Buffer
	skipped, total, err := client.DownloadFolder(ctx, path, &buf, func(bytesTransferred, estimatedSize int64, phase string) {
		data, _ := json.Marshal(map[string]any{
			"bytesTransferred": bytesTransferred,
			"estimatedSize":    estimatedSize,
			"phase":            phase,
		})
		cc.sendSFTPEnvelope(sessionID, sftpEnvelope{Type: "sftp_progress", OperationID: operationID, Success: true, Data: data})
	})
	if err != nil {
		cc.sftpFail(sessionID, operationID, sftpClassify(err))
		return
	}

	payload, _ := json.Marshal(map[string]any{
		"path":       path,
		"totalBytes": total,
		"skipped":    skipped,
		"content":    base64.StdEncoding.EncodeToString(buf.Bytes()),
	})
	cc.sendSFTPEnvelope(sessionID, sftpEnvelope{Type: "sftp_file", OperationID: operationID, Success: true, Data: payload})
}

// handleCancel cancels a long-running SFTP operation (or a pending download
// confirm). The operation's own goroutine detects the cancellation and
// emits the terminal "operation cancelled" envelope; this handler only
// triggers it.
func (cc *connContext) handleCancel(data map[string]any, requestID string) {
	operationID := getString(data, "operationId")
	if !cc.sftpOps.Cancel(operationID) {
		cc.sftpOps.Cancel(confirmKey(operationID))
	}
}
