package sftpsvc

import (
	"context"
	"fmt"
	"io"
)

// DownloadChunkSize is the per-read chunk size used when streaming a
// download, matching the upload chunking rule of spec §4.8.
const DownloadChunkSize = 64 * 1024

// DownloadConfirmThreshold is the size above which a download requires an
// explicit confirm round-trip before transfer begins (spec §4.8).
const DownloadConfirmThreshold = 50 << 20 // 50 MB

// Download streams remotePath to w in DownloadChunkSize reads, reporting
// progress and honoring cancellation via ctx.
func (c *Client) Download(ctx context.Context, remotePath string, w io.Writer, onProgress ProgressFunc) (int64, error) {
	f, err := c.sftp.Open(remotePath)
	if err != nil {
		return 0, fmt.Errorf("sftpsvc: open %s for read: %w", remotePath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("sftpsvc: stat %s: %w", remotePath, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("sftpsvc: %s is a directory, use download_folder", remotePath)
	}
	total := info.Size()

	var processed int64
	buf := make([]byte, DownloadChunkSize)
	for {
		select {
		case <-ctx.Done():
			return processed, ErrCancelled
		default:
		}

		n, readErr := f.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return processed, fmt.Errorf("sftpsvc: write download output: %w", writeErr)
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
			return processed, fmt.Errorf("sftpsvc: read %s: %w", remotePath, readErr)
		}
	}

	return processed, nil
}
