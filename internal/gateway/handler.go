package gateway

import (
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/webssh/gateway/internal/config"
	"github.com/webssh/gateway/internal/crypto"
	"github.com/webssh/gateway/internal/gwerr"
	"github.com/webssh/gateway/internal/registry"
	"github.com/webssh/gateway/internal/sshconn"
)

// upgrader accepts connections from any origin; this gateway has no notion
// of a same-origin browser session to check against, matching the teacher's
// wsUpgrader default.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler is the gateway's upgrade endpoint: it owns the shared registry,
// pending-connection table, key ring, SSH connector, and error counters, and
// dispatches each accepted connection to its own connContext.
type Handler struct {
	Config    *config.Config
	Registry  *registry.Registry
	Pending   *registry.PendingTable
	KeyRing   *crypto.KeyRing
	Connector *sshconn.Connector
	Counters  *gwerr.Counters
}

// NewHandler wires the shared dependencies into a Handler.
func NewHandler(cfg *config.Config, reg *registry.Registry, pending *registry.PendingTable, keyRing *crypto.KeyRing, connector *sshconn.Connector, counters *gwerr.Counters) *Handler {
	return &Handler{
		Config:    cfg,
		Registry:  reg,
		Pending:   pending,
		KeyRing:   keyRing,
		Connector: connector,
		Counters:  counters,
	}
}

// ServeHTTP routes an upgrade request by path, per spec §6: only /ssh is
// implemented here; /monitor, /monitor-client, and /ai are out-of-scope
// subchannels handled by an external collaborator, and any other path gets
// its underlying socket destroyed.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/ssh" {
		h.handleSSH(w, r)
		return
	}
	destroySocket(w)
}

// destroySocket hijacks and closes the raw connection without writing any
// HTTP response, matching spec §6's "destroy the underlying socket" for
// unrecognized or unimplemented upgrade paths.
func destroySocket(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	_ = conn.Close()
}

// clientIP extracts the source address per spec §6: X-Forwarded-For first
// hop, then X-Real-IP, then the transport peer address, unwrapping an
// IPv4-mapped IPv6 address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
		if first != "" {
			return unwrapIPv4Mapped(first)
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return unwrapIPv4Mapped(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return unwrapIPv4Mapped(r.RemoteAddr)
	}
	return unwrapIPv4Mapped(host)
}

func unwrapIPv4Mapped(addr string) string {
	return strings.TrimPrefix(addr, "::ffff:")
}
