// Package keepalive implements spec component C7: the transport-level
// heartbeat that terminates dead client channels, and the composite
// latency measurement triggered by an application-level ping frame.
//
// No teacher code measures latency at all; the heartbeat loop shape
// (ticker + miss counter + close-on-threshold) is grounded on the same
// idiom used for the teacher's SSH keepalive (internal/sshconn, itself
// grounded on internal/tunnel/server.go's keepalive goroutine).
package keepalive

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// PingInterval is how often the gateway pings an open client channel.
	PingInterval = 15 * time.Second
	// PongTimeout is how long the gateway waits for a pong before closing
	// the channel.
	PongTimeout = 45 * time.Second
	// SlowLatencyThreshold logs once per channel when exceeded.
	SlowLatencyThreshold = 500 * time.Millisecond

	hostLegDialTimeout = 3 * time.Second
)

// Heartbeat drives the transport-level ping/pong supervision for one client
// channel. ping is invoked on each tick; onTimeout fires once, on the first
// tick that finds more than PongTimeout elapsed since the last Pong call.
type Heartbeat struct {
	ping      func() error
	onTimeout func()

	connectionTime time.Time
	lastPing       atomic.Int64
	lastPong       atomic.Int64
	lastRTT        atomic.Int64
	isAlive        atomic.Bool
	loggedSlow     atomic.Bool

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewHeartbeat builds a Heartbeat. Call Start to begin ticking.
func NewHeartbeat(ping func() error, onTimeout func()) *Heartbeat {
	h := &Heartbeat{
		ping:           ping,
		onTimeout:      onTimeout,
		connectionTime: time.Now(),
		stopCh:         make(chan struct{}),
	}
	h.isAlive.Store(true)
	now := time.Now().UnixNano()
	h.lastPing.Store(now)
	h.lastPong.Store(now)
	return h
}

// Start begins the ping/pong supervision loop.
func (h *Heartbeat) Start() {
	go func() {
		ticker := time.NewTicker(PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-h.stopCh:
				return
			case <-ticker.C:
				h.tick()
			}
		}
	}()
}

func (h *Heartbeat) tick() {
	sinceLastPong := time.Since(time.Unix(0, h.lastPong.Load()))
	if sinceLastPong > PongTimeout {
		h.isAlive.Store(false)
		if h.onTimeout != nil {
			h.onTimeout()
		}
		h.Stop()
		return
	}

	start := time.Now()
	h.lastPing.Store(start.UnixNano())
	if err := h.ping(); err != nil {
		log.Printf("[keepalive] ping failed: %v", err)
	}
}

// Pong records a pong observation and its measured round-trip latency,
// logging once per channel if it exceeds SlowLatencyThreshold.
func (h *Heartbeat) Pong() {
	now := time.Now()
	h.lastPong.Store(now.UnixNano())

	rtt := now.Sub(time.Unix(0, h.lastPing.Load()))
	h.lastRTT.Store(int64(rtt))
	if rtt > SlowLatencyThreshold && h.loggedSlow.CompareAndSwap(false, true) {
		log.Printf("[keepalive] slow channel latency observed: %s", rtt)
	}
}

// LastRTT returns the most recently observed transport-heartbeat round trip
// time, reused by the composite latency ping (§4.7) as the gateway's own
// measurement of the gateway<->client leg instead of issuing a fresh probe.
func (h *Heartbeat) LastRTT() time.Duration {
	return time.Duration(h.lastRTT.Load())
}

// IsAlive reports the channel's last-known liveness.
func (h *Heartbeat) IsAlive() bool { return h.isAlive.Load() }

// ConnectionTime reports when this Heartbeat was started.
func (h *Heartbeat) ConnectionTime() time.Time { return h.connectionTime }

// Stop halts the ping loop.
func (h *Heartbeat) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

// MeasureHostLeg times a TCP connect to addr as a proxy for gateway->host
// latency. Spec §4.7 allows an ICMP probe with TCP fallback; this gateway
// uses the TCP-timing method unconditionally (see DESIGN.md: shelling out
// to ping(8) has no precedent anywhere in the retrieval pack).
func MeasureHostLeg(ctx context.Context, addr string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, hostLegDialTimeout)
	defer cancel()

	start := time.Now()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("keepalive: host leg probe to %s: %w", addr, err)
	}
	elapsed := time.Since(start)
	_ = conn.Close()
	return elapsed, nil
}

// ClientLegProbe measures the gateway<->client leg, typically by sending a
// transport-level ping and timing the pong.
type ClientLegProbe func(ctx context.Context) (time.Duration, error)

// CompositeResult is the {clientLatency, serverLatency, totalLatency}
// envelope spec §4.7 reports, in whole milliseconds.
type CompositeResult struct {
	ClientLatencyMs int
	ServerLatencyMs int
	TotalLatencyMs  int
}

// MeasureComposite runs the client-leg and host-leg probes in parallel and
// combines them. It must never block the caller's emission of the
// immediate pong — callers should invoke this from a separate goroutine
// after sending pong, per spec §4.7's ordering guarantee.
func MeasureComposite(ctx context.Context, clientProbe ClientLegProbe, hostAddr string) CompositeResult {
	var clientMs, hostMs int
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		if clientProbe == nil {
			return
		}
		d, err := clientProbe(ctx)
		if err != nil {
			log.Printf("[keepalive] client leg probe failed: %v", err)
			return
		}
		clientMs = int(d.Milliseconds())
	}()

	go func() {
		defer wg.Done()
		d, err := MeasureHostLeg(ctx, hostAddr)
		if err != nil {
			log.Printf("[keepalive] host leg probe failed: %v", err)
			return
		}
		hostMs = int(d.Milliseconds())
	}()

	wg.Wait()
	return CompositeResult{
		ClientLatencyMs: clientMs,
		ServerLatencyMs: hostMs,
		TotalLatencyMs:  clientMs + hostMs,
	}
}
