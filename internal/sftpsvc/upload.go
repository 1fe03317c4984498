package sftpsvc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// UploadChunkSize is the per-write chunk size spec §4.8 mandates.
const UploadChunkSize = 64 * 1024

// ErrCancelled is returned when an operation's context is cancelled via the
// OperationRegistry, corresponding to spec §4.8's "operation cancelled"
// terminal envelope.
var ErrCancelled = errors.New("sftpsvc: operation cancelled")

// ProgressFunc reports processed/total bytes for a long-running transfer.
// Implementations should treat calls as strictly monotonic in processed,
// per spec §5's ordering guarantee.
type ProgressFunc func(processed, total int64)

// Upload streams r to remotePath in UploadChunkSize chunks, reporting
// progress after each write and honoring cancellation via ctx. total is the
// expected byte count (used only for progress percentage); if <= 0, percent
// reporting is skipped but byte progress still fires.
func (c *Client) Upload(ctx context.Context, remotePath string, r io.Reader, total int64, onProgress ProgressFunc) error {
	f, err := c.sftp.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("sftpsvc: open %s for write: %w", remotePath, err)
	}

	var processed int64
	buf := make([]byte, UploadChunkSize)
	for {
		select {
		case <-ctx.Done():
			_ = f.Close()
			_ = c.sftp.Remove(remotePath)
			return ErrCancelled
		default:
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			if _, writeErr := f.Write(buf[:n]); writeErr != nil {
				_ = f.Close()
				return fmt.Errorf("sftpsvc: write %s: %w", remotePath, writeErr)
			}
			processed += int64(n)
			if onProgress != nil {
				onProgress(processed, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			_ = f.Close()
			return fmt.Errorf("sftpsvc: read upload source: %w", readErr)
		}
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("sftpsvc: close %s after upload: %w", remotePath, err)
	}
	return nil
}

// ProgressPercent computes the integer-rounded percentage spec §4.8 reports
// in progress envelopes.
func ProgressPercent(processed, total int64) int {
	if total <= 0 {
		return 0
	}
	return int((processed*100 + total/2) / total)
}
