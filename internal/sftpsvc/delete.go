package sftpsvc

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/webssh/gateway/internal/sshconn"
)

// dangerPaths is the hardcoded set of absolute paths the shell fast path
// must never delete, per spec §4.9.
var dangerPaths = map[string]bool{
	"/": true, "/root": true, "/home": true, "/etc": true, "/usr": true,
	"/var": true, "/bin": true, "/sbin": true, "/lib": true, "/lib64": true,
	"/opt": true, "/srv": true, "/proc": true, "/sys": true, "/dev": true,
	"/boot": true, "/run": true, "/mnt": true, "/media": true, "/snap": true,
}

// canonicalize collapses duplicate slashes and strips a trailing slash,
// without resolving "." or ".." segments — those are rejected outright
// below rather than silently resolved, since a caller-supplied ".." is
// exactly the kind of path the safety gate exists to catch.
func canonicalize(path string) string {
	if path == "" {
		return path
	}
	segments := strings.Split(path, "/")
	var cleaned []string
	for _, s := range segments {
		if s == "" {
			continue
		}
		cleaned = append(cleaned, s)
	}
	return "/" + strings.Join(cleaned, "/")
}

// isSafeForShellFastPath implements spec §4.9's safety gate: absolute,
// canonicalized, depth >= 2, not in the danger set, and free of ".." or
// control characters. It is intentionally conservative — the shell fast
// path MUST refuse any path this rejects, even if the caller asserts the
// path is safe.
func isSafeForShellFastPath(path string) bool {
	if !strings.HasPrefix(path, "/") {
		return false
	}
	for _, r := range path {
		if r == '\n' || r == '\r' || r == '\t' {
			return false
		}
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return false
		}
	}

	clean := canonicalize(path)
	if dangerPaths[clean] {
		return false
	}

	depth := 0
	for _, seg := range strings.Split(clean, "/") {
		if seg != "" {
			depth++
		}
	}
	return depth >= 2
}

// shellQuote single-quote escapes value for inclusion in a POSIX shell
// command line, matching the teacher's routes/terminal.go shellQuote.
func shellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}

// FastDelete implements spec component C9: it attempts the shell `rm -rf`
// fast path when the safety gate allows it, falling back to the SFTP
// recursive walk delete on refusal or failure.
func (c *Client) FastDelete(ctx context.Context, path string) error {
	if isSafeForShellFastPath(path) {
		cmd := "/bin/rm -rf -- " + shellQuote(path)
		if _, err := sshconn.Exec(ctx, c.ssh, cmd); err == nil {
			return nil
		}
		// Fall through to the SFTP tier on any shell failure.
	}
	return c.recursiveDelete(path)
}

// Delete implements the plain (non-fast) delete operation: unlink a file,
// or recursively remove a directory tree via SFTP only — never the shell.
func (c *Client) Delete(path string, isDirectory bool) error {
	if !isDirectory {
		if err := c.sftp.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("sftpsvc: delete %s: %w", path, err)
		}
		return nil
	}
	return c.recursiveDelete(path)
}

// recursiveDelete is SFTP tier 2: stat, then unlink (file) or recurse into
// children in parallel and rmdir (directory). A NOT-FOUND at any node is
// treated as success (concurrent deletion is tolerated); the first failing
// child's error is reported with its path attached.
func (c *Client) recursiveDelete(path string) error {
	info, err := c.sftp.Lstat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("sftpsvc: stat %s: %w", path, err)
	}

	if !info.IsDir() {
		if err := c.sftp.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("sftpsvc: remove %s: %w", path, err)
		}
		return nil
	}

	entries, err := c.sftp.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("sftpsvc: readdir %s: %w", path, err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, entry := range entries {
		name := entry.Name()
		if name == "." || name == ".." {
			continue
		}
		child := strings.TrimSuffix(path, "/") + "/" + name
		wg.Add(1)
		go func(childPath string) {
			defer wg.Done()
			if err := c.recursiveDelete(childPath); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("%s: %w", childPath, err)
				}
				mu.Unlock()
			}
		}(child)
	}
	wg.Wait()
	if firstErr != nil {
		return firstErr
	}

	if err := c.sftp.RemoveDirectory(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("sftpsvc: rmdir %s: %w", path, err)
	}
	return nil
}
