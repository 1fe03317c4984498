package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/webssh/gateway/internal/codec"
	"github.com/webssh/gateway/internal/gwerr"
	"github.com/webssh/gateway/internal/keepalive"
	"github.com/webssh/gateway/internal/registry"
	"github.com/webssh/gateway/internal/sshconn"
)

// handleTextData implements the text-frame variant of client->host input
// (spec §6 lists "data" in both directions; inbound it carries UTF-8 shell
// input as an alternative to the binary tag 0x01 path).
func (cc *connContext) handleTextData(data map[string]any, requestID string) {
	cc.mu.Lock()
	pump := cc.pump
	cc.mu.Unlock()
	if pump == nil {
		return
	}
	if _, err := pump.WriteInput([]byte(getString(data, "data"))); err != nil {
		cc.failSession(getString(data, "sessionId"), gwerr.Wrap(gwerr.CodeSystemInternal, gwerr.KindSystem, "shell write failed", err))
	}
}

// handleTextResize implements the text-frame variant of a PTY resize,
// alongside the binary tag 0x03 path handled in conn.go.
func (cc *connContext) handleTextResize(data map[string]any, requestID string) {
	cc.mu.Lock()
	pump := cc.pump
	cc.mu.Unlock()
	if pump == nil {
		return
	}
	_ = pump.Resize(uint32(getInt(data, "cols")), uint32(getInt(data, "rows")))
}

// handlePing implements spec component C7's composite latency measurement:
// pong is emitted synchronously before the parallel client-leg/host-leg
// measurement begins, satisfying the §5 ordering guarantee.
func (cc *connContext) handlePing(data map[string]any, requestID string) {
	sessionID := getString(data, "sessionId")

	pongPayload, _ := json.Marshal(map[string]any{"sessionId": sessionID})
	if err := cc.channel.SendBinary(codec.TagPong, sessionID, pongPayload); err != nil {
		log.Printf("[gateway] send pong: %v", err)
	}

	if !getBool(data, "measureLatency") {
		return
	}

	cc.mu.Lock()
	sess := cc.sess
	hb := cc.heartbeat
	cc.mu.Unlock()

	hostAddr := ""
	if sess != nil {
		hostAddr = fmt.Sprintf("%s:%d", sess.ConnectionInfo.Host, sess.ConnectionInfo.Port)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var clientProbe keepalive.ClientLegProbe
		if hb != nil {
			clientProbe = func(context.Context) (time.Duration, error) { return hb.LastRTT(), nil }
		}

		var result keepalive.CompositeResult
		if hostAddr != "" {
			result = keepalive.MeasureComposite(ctx, clientProbe, hostAddr)
		} else if clientProbe != nil {
			d, _ := clientProbe(ctx)
			result = keepalive.CompositeResult{ClientLatencyMs: int(d.Milliseconds()), TotalLatencyMs: int(d.Milliseconds())}
		}

		if sess != nil {
			sess.LastLatency.Store(&registry.Latency{
				ClientLegMs: result.ClientLatencyMs,
				HostLegMs:   result.ServerLatencyMs,
				Method:      "parallel",
				MeasuredAt:  time.Now(),
			})
		}

		payload, _ := json.Marshal(map[string]any{
			"clientLatency": result.ClientLatencyMs,
			"serverLatency": result.ServerLatencyMs,
			"totalLatency":  result.TotalLatencyMs,
		})
		if err := cc.channel.SendBinary(codec.TagNetworkLatency, sessionID, payload); err != nil {
			log.Printf("[gateway] send network_latency: %v", err)
		}
	}()
}

// handleSSHExec implements the ssh_exec wire message: a one-shot command
// run over the session's existing SSH connection, with output delivered on
// the same binary channel as interactive shell output.
func (cc *connContext) handleSSHExec(data map[string]any, requestID string) {
	sessionID := getString(data, "sessionId")
	operationID := newOperationID(getString(data, "operationId"))
	command := getString(data, "command")

	sess, ok := cc.sshClient()
	if !ok {
		cc.sendErrorEnvelope(requestID, gwerr.New(gwerr.CodeSystemInternal, gwerr.KindSystem, "no active SSH session"))
		return
	}

	ctx := cc.sftpOps.Begin(context.Background(), operationID)
	defer cc.sftpOps.End(operationID)

	out, err := sshconn.Exec(ctx, sess.Client(), command)
	if err != nil {
		cc.sendErrorEnvelope(requestID, gwerr.Wrap(gwerr.CodeSystemInternal, gwerr.KindSystem, "command execution failed", err))
		return
	}
	if err := cc.channel.SendBinary(codec.TagOutput, sessionID, out); err != nil {
		log.Printf("[gateway] send ssh_exec output: %v", err)
	}
}
