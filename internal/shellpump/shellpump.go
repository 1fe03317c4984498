// Package shellpump implements the gateway's shell I/O pump (spec
// component C6): a byte-accurate bidirectional bridge between an SSH shell
// stream and a client channel, with backpressure against the channel's
// outbound buffer.
//
// Grounded on the teacher's internal/routes/terminal.go handleSSHTerminal,
// which relays PTY output to a WebSocket in a dedicated goroutine with an
// atomic.Int64 byte counter; this package generalizes that relay with the
// pause/resume backpressure gate spec §4.6 requires and uses
// golang.org/x/sync/errgroup (a teacher indirect dependency, exercised here
// directly for the first time) to run the host->client relay and return its
// read error. Client->host input is written synchronously by WriteInput on
// the caller's goroutine.
package shellpump

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/webssh/gateway/internal/codec"
	"github.com/webssh/gateway/internal/registry"
	"golang.org/x/sync/errgroup"
)

const (
	// HighWaterMark pauses the SSH stream reader once the client channel's
	// outbound buffer exceeds this many bytes.
	HighWaterMark = 4 << 20
	// LowWaterMark resumes the SSH stream reader once the buffer drops below this.
	LowWaterMark = 2 << 20

	pollInterval   = 100 * time.Millisecond
	readChunkSize  = 32 * 1024
	throughputTick = 30 * time.Second
)

// OutputSink is the client-channel surface the pump writes host output to.
// BufferedBytes reports the channel's current outbound queue depth, the
// basis for the backpressure gate.
type OutputSink interface {
	SendBinary(tag byte, sessionID string, payload []byte) error
	BufferedBytes() int64
}

// Pump bridges one session's shell stream and client channel.
type Pump struct {
	sessionID string
	stream    registry.ShellStream
	sink      OutputSink
	bp        *registry.Backpressure

	paused bool
}

// New builds a Pump for one session. bp is the session's own Backpressure
// counters (shared with the registry record so observers can read them).
func New(sessionID string, stream registry.ShellStream, sink OutputSink, bp *registry.Backpressure) *Pump {
	return &Pump{sessionID: sessionID, stream: stream, sink: sink, bp: bp}
}

// WriteInput writes client-supplied bytes verbatim to the shell stdin, per
// spec §4.6's "client -> host" contract.
func (p *Pump) WriteInput(data []byte) (int, error) {
	return p.stream.Write(data)
}

// Resize forwards a PTY window-size change to the shell stream.
func (p *Pump) Resize(cols, rows uint32) error {
	return p.stream.Resize(cols, rows)
}

// Run relays host output to the client channel until the stream or context
// ends, applying the backpressure gate on every chunk. It blocks until the
// shell stream returns EOF/error or ctx is cancelled, and returns the first
// error encountered (io.EOF is treated as clean shutdown, not reported).
func (p *Pump) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.hostToClient(ctx)
	})

	return g.Wait()
}

func (p *Pump) hostToClient(ctx context.Context) error {
	buf := make([]byte, readChunkSize)
	var sampleBytes int64
	lastSample := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := p.stream.Read(buf)
		if n > 0 {
			p.waitForCapacity(ctx)

			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if sendErr := p.sink.SendBinary(codec.TagOutput, p.sessionID, chunk); sendErr != nil {
				// Channel not open: drop the chunk, per spec §4.6. Teardown
				// will be detected on the next write attempt elsewhere.
				log.Printf("[shellpump] session %s: dropping %d bytes, channel unavailable: %v", p.sessionID, n, sendErr)
			}
			p.bp.TotalBytes.Add(int64(n))

			sampleBytes += int64(n)
			if time.Since(lastSample) >= throughputTick {
				log.Printf("[shellpump] session %s: %d bytes/%.0fs", p.sessionID, sampleBytes, throughputTick.Seconds())
				sampleBytes = 0
				lastSample = time.Now()
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// waitForCapacity implements the pause/resume gate: once the channel's
// buffered bytes exceed HighWaterMark, poll every 100ms until it drops
// below LowWaterMark before sending the next chunk.
func (p *Pump) waitForCapacity(ctx context.Context) {
	buffered := p.sink.BufferedBytes()
	if buffered <= HighWaterMark {
		return
	}

	if !p.paused {
		p.paused = true
		p.bp.Paused.Store(true)
		p.bp.PauseCount.Add(1)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.sink.BufferedBytes() < LowWaterMark {
				if p.paused {
					p.paused = false
					p.bp.Paused.Store(false)
					p.bp.ResumeCount.Add(1)
				}
				return
			}
		}
	}
}
