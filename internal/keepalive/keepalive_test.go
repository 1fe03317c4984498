package keepalive

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

func TestHeartbeatTimesOutWithoutPong(t *testing.T) {
	var pings atomic.Int32
	var timedOut atomic.Bool

	h := &Heartbeat{
		ping:      func() error { pings.Add(1); return nil },
		onTimeout: func() { timedOut.Store(true) },
		stopCh:    make(chan struct{}),
	}
	h.isAlive.Store(true)
	// Simulate a pong long ago, beyond PongTimeout.
	h.lastPong.Store(time.Now().Add(-2 * PongTimeout).UnixNano())
	h.lastPing.Store(time.Now().UnixNano())

	h.tick()

	if !timedOut.Load() {
		t.Fatal("expected onTimeout to fire when pong is overdue")
	}
	if h.IsAlive() {
		t.Fatal("expected IsAlive=false after timeout")
	}
}

func TestHeartbeatPongKeepsAlive(t *testing.T) {
	var pings atomic.Int32
	h := &Heartbeat{
		ping:   func() error { pings.Add(1); return nil },
		stopCh: make(chan struct{}),
	}
	h.isAlive.Store(true)
	now := time.Now()
	h.lastPing.Store(now.UnixNano())
	h.lastPong.Store(now.UnixNano())

	h.tick()

	if !h.IsAlive() {
		t.Fatal("expected IsAlive=true when pong is recent")
	}
	if pings.Load() != 1 {
		t.Fatalf("expected exactly 1 ping sent, got %d", pings.Load())
	}
}

func TestMeasureHostLegSucceedsAgainstLocalListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	d, err := MeasureHostLeg(context.Background(), ln.Addr().String())
	if err != nil {
		t.Fatalf("MeasureHostLeg: %v", err)
	}
	if d < 0 {
		t.Fatalf("expected non-negative duration, got %s", d)
	}
}

func TestMeasureHostLegFailsAgainstClosedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close() // nothing listening now

	if _, err := MeasureHostLeg(context.Background(), addr); err == nil {
		t.Fatal("expected error connecting to closed port")
	}
}

func TestMeasureCompositeNonNegativeAndSummed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	clientProbe := func(ctx context.Context) (time.Duration, error) {
		return 5 * time.Millisecond, nil
	}

	result := MeasureComposite(context.Background(), clientProbe, ln.Addr().String())
	if result.ClientLatencyMs < 0 || result.ServerLatencyMs < 0 {
		t.Fatalf("expected non-negative legs, got %+v", result)
	}
	if result.TotalLatencyMs != result.ClientLatencyMs+result.ServerLatencyMs {
		t.Fatalf("expected total to equal sum of legs, got %+v", result)
	}
}
