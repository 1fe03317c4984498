package registry

import (
	"sync"
	"time"
)

// PendingConnection is the C4 record created when a client begins the
// secure two-step handshake with a connectionId but no credentials yet.
type PendingConnection struct {
	ConnectionID string
	SessionID    string
	CreatedAt    time.Time
}

// PendingTable holds in-flight secure handshakes, keyed by connectionId.
// Entries are deleted on successful authenticate or by Sweep after ttl.
type PendingTable struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]*PendingConnection

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewPendingTable builds a table with the given entry TTL.
func NewPendingTable(ttl time.Duration) *PendingTable {
	return &PendingTable{
		ttl:     ttl,
		entries: make(map[string]*PendingConnection),
		stopCh:  make(chan struct{}),
	}
}

// Register creates (or replaces) the pending record for connectionID.
func (t *PendingTable) Register(connectionID, sessionID string) *PendingConnection {
	pc := &PendingConnection{
		ConnectionID: connectionID,
		SessionID:    sessionID,
		CreatedAt:    time.Now(),
	}
	t.mu.Lock()
	t.entries[connectionID] = pc
	t.mu.Unlock()
	return pc
}

// Lookup returns the pending record without consuming it.
func (t *PendingTable) Lookup(connectionID string) (*PendingConnection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pc, ok := t.entries[connectionID]
	return pc, ok
}

// Consume returns and deletes the pending record for connectionID, used
// when authenticate succeeds.
func (t *PendingTable) Consume(connectionID string) (*PendingConnection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pc, ok := t.entries[connectionID]
	if ok {
		delete(t.entries, connectionID)
	}
	return pc, ok
}

// Sweep drops any entry older than ttl.
func (t *PendingTable) Sweep() {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, pc := range t.entries {
		if now.Sub(pc.CreatedAt) >= t.ttl {
			delete(t.entries, id)
		}
	}
}

// StartSweeper runs Sweep on interval until Stop is called.
func (t *PendingTable) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.stopCh:
				return
			case <-ticker.C:
				t.Sweep()
			}
		}
	}()
}

// Stop halts the sweeper goroutine.
func (t *PendingTable) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}
