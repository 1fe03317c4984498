// Package sshconn implements the gateway's SSH connector (spec component
// C5): dialing a backend host with an explicit algorithm preference list,
// a server keepalive, and classified connection errors.
//
// Adapted from the teacher's internal/terminal/ssh.go (dial-with-context
// goroutine+select, newSSHSession, authMethodFromConfig), generalized with
// the algorithm lists spec §4.5 requires and the keepalive spec §4.5/§5
// requires (15s interval, drop after 3 misses) — the keepalive loop shape
// is the same ticker idiom the teacher uses for its reverse-tunnel
// keepalive in internal/tunnel/server.go, applied to an outbound client
// connection instead of an inbound server one.
package sshconn

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/webssh/gateway/internal/gwerr"
	cryptossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	// DialTimeout is the outer hard cap on establishing the TCP+SSH handshake.
	DialTimeout = 25 * time.Second
	// readyTimeout bounds session/PTY setup once the transport is up.
	readyTimeout = 20 * time.Second

	keepAliveInterval  = 15 * time.Second
	keepAliveMaxMisses = 3
)

// Algorithm preference lists, strongest-first, per spec §4.5. Grounded on
// gravitational-teleport/lib/defaults's FIPS cipher/KEX/MAC ordering
// convention, extended with the exact algorithms spec §4.5 names.
var (
	PreferredKeyExchanges = []string{
		"curve25519-sha256",
		"curve25519-sha256@libssh.org",
		"ecdh-sha2-nistp256",
		"ecdh-sha2-nistp384",
		"ecdh-sha2-nistp521",
		"diffie-hellman-group14-sha256",
	}
	PreferredCiphers = []string{
		"aes256-gcm@openssh.com",
		"aes128-gcm@openssh.com",
		"aes256-ctr",
		"aes192-ctr",
		"aes128-ctr",
	}
	PreferredMACs = []string{
		"hmac-sha2-256-etm@openssh.com",
		"hmac-sha2-512-etm@openssh.com",
		"hmac-sha2-256",
		"hmac-sha2-512",
	}
)

// Config carries everything needed to open one backend SSH connection.
type Config struct {
	Host     string
	Port     int
	User     string
	AuthType string // "password" | "private_key"
	Password string
	PrivateKey string
	Passphrase string
	Shell    string
}

// Session wraps an SSH client connection plus its interactive shell stream.
// It implements registry.ShellStream (Read/Write/Close/Resize) and also
// exposes itself as the owned io.Closer the registry stores as SSHConn.
type Session struct {
	client  *cryptossh.Client
	session *cryptossh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	mu      sync.Mutex

	keepAliveStop chan struct{}
	closeOnce     sync.Once
}

// Connector dials backend hosts. HostKeyCallback, when nil, falls back to
// InsecureIgnoreHostKey (matching the teacher's default); set it to a
// knownhosts-backed callback via WithKnownHosts for strict verification.
type Connector struct {
	HostKeyCallback cryptossh.HostKeyCallback
}

// NewConnector builds a Connector with the teacher's permissive default.
func NewConnector() *Connector {
	return &Connector{HostKeyCallback: cryptossh.InsecureIgnoreHostKey()}
}

// WithKnownHosts resolves a strict HostKeyCallback from the first known_hosts
// file found among the candidate paths, falling back to the insecure default
// if none parse. Grounded on the teacher's resolveHostKeyCallback, which
// checks APPOS_SSH_KNOWN_HOSTS, ~/.ssh/known_hosts, then
// /etc/ssh/ssh_known_hosts.
func (c *Connector) WithKnownHosts(paths ...string) *Connector {
	home, _ := os.UserHomeDir()
	candidates := append([]string{}, paths...)
	if home != "" {
		candidates = append(candidates, filepath.Join(home, ".ssh", "known_hosts"))
	}
	candidates = append(candidates, "/etc/ssh/ssh_known_hosts")

	for _, p := range candidates {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}
		cb, err := knownhosts.New(p)
		if err != nil {
			log.Printf("[sshconn] known_hosts %s failed to parse: %v", p, err)
			continue
		}
		c.HostKeyCallback = cb
		return c
	}
	log.Printf("[sshconn] no known_hosts file found; falling back to insecure host key verification")
	return c
}

// Connect dials the backend and starts an interactive shell. Honors ctx
// cancellation during the dial. On success the caller owns the returned
// Session and must Close it.
func (c *Connector) Connect(ctx context.Context, cfg Config) (*Session, error) {
	authMethod, err := authMethodFromConfig(cfg)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.CodeCredentialRejected, gwerr.KindConnection, "invalid auth config", err)
	}

	clientCfg := &cryptossh.ClientConfig{
		User:            cfg.User,
		Auth:            []cryptossh.AuthMethod{authMethod},
		HostKeyCallback: c.hostKeyCallback(),
		Timeout:         DialTimeout,
		Config: cryptossh.Config{
			KeyExchanges: PreferredKeyExchanges,
			Ciphers:      PreferredCiphers,
			MACs:         PreferredMACs,
		},
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	type dialResult struct {
		client *cryptossh.Client
		err    error
	}
	ch := make(chan dialResult, 1)
	go func() {
		cl, err := cryptossh.Dial("tcp", addr, clientCfg)
		ch <- dialResult{cl, err}
	}()

	select {
	case <-ctx.Done():
		return nil, gwerr.Wrap(gwerr.CodeNetworkTimeout, gwerr.KindTimeout, "dial cancelled", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, gwerr.ClassifySSHDial(fmt.Errorf("dial %s: %w", addr, r.err))
		}
		sess, err := newSession(r.client, cfg.Shell)
		if err != nil {
			return nil, gwerr.ClassifySSHDial(err)
		}
		return sess, nil
	}
}

func (c *Connector) hostKeyCallback() cryptossh.HostKeyCallback {
	if c.HostKeyCallback != nil {
		return c.HostKeyCallback
	}
	return cryptossh.InsecureIgnoreHostKey()
}

func newSession(client *cryptossh.Client, shell string) (*Session, error) {
	timer := time.AfterFunc(readyTimeout, func() { _ = client.Close() })
	defer timer.Stop()

	sess, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ssh: new session: %w", err)
	}

	modes := cryptossh.TerminalModes{
		cryptossh.ECHO:          1,
		cryptossh.TTY_OP_ISPEED: 14400,
		cryptossh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("xterm-color", 24, 80, modes); err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("ssh: request pty: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("ssh: stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("ssh: stdout pipe: %w", err)
	}

	if shell != "" {
		if err := sess.Start(shell); err != nil {
			if err2 := sess.Shell(); err2 != nil {
				sess.Close()
				client.Close()
				return nil, fmt.Errorf("ssh: start shell %q (fallback also failed: %v): %w", shell, err2, err)
			}
		}
	} else if err := sess.Shell(); err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("ssh: start login shell: %w", err)
	}

	s := &Session{
		client:        client,
		session:       sess,
		stdin:         stdin,
		stdout:        stdout,
		keepAliveStop: make(chan struct{}),
	}
	s.startKeepAlive()
	return s, nil
}

// startKeepAlive sends an SSH keepalive global request every keepAliveInterval;
// after keepAliveMaxMisses consecutive failures it closes the session.
func (s *Session) startKeepAlive() {
	go func() {
		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()
		misses := 0
		for {
			select {
			case <-s.keepAliveStop:
				return
			case <-ticker.C:
				_, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil)
				if err != nil {
					misses++
					if misses >= keepAliveMaxMisses {
						log.Printf("[sshconn] keepalive failed %d times, closing connection", misses)
						_ = s.Close()
						return
					}
					continue
				}
				misses = 0
			}
		}
	}()
}

func (s *Session) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stdin.Write(p)
}

func (s *Session) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *Session) Resize(cols, rows uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.WindowChange(int(rows), int(cols))
}

func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.keepAliveStop) })
	_ = s.stdin.Close()
	_ = s.session.Close()
	return s.client.Close()
}

// Client exposes the underlying SSH client for callers that need to open
// additional channels (e.g. an SFTP subsystem or a one-shot exec) sharing
// this session's connection.
func (s *Session) Client() *cryptossh.Client {
	return s.client
}

func authMethodFromConfig(cfg Config) (cryptossh.AuthMethod, error) {
	switch cfg.AuthType {
	case "private_key":
		var signer cryptossh.Signer
		var err error
		if cfg.Passphrase != "" {
			signer, err = cryptossh.ParsePrivateKeyWithPassphrase([]byte(cfg.PrivateKey), []byte(cfg.Passphrase))
		} else {
			signer, err = cryptossh.ParsePrivateKey([]byte(cfg.PrivateKey))
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return cryptossh.PublicKeys(signer), nil
	case "password", "":
		return cryptossh.Password(cfg.Password), nil
	default:
		return nil, fmt.Errorf("unsupported auth_type: %q", cfg.AuthType)
	}
}

// Exec runs command as a one-shot SSH exec (the ssh_exec wire message, spec
// §6), returning combined stdout/stderr and honoring ctx for cancellation.
// Grounded on the teacher's executeSSHCommand helper in routes/terminal.go.
func Exec(ctx context.Context, client *cryptossh.Client, command string) ([]byte, error) {
	sess, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("ssh: exec new session: %w", err)
	}
	defer sess.Close()

	type result struct {
		out []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		out, err := sess.CombinedOutput(command)
		ch <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		_ = sess.Signal(cryptossh.SIGKILL)
		return nil, ctx.Err()
	case r := <-ch:
		return r.out, r.err
	}
}
