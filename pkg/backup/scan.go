package backup

import (
	"context"
	"path"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jasonzli-DEV/D-Drive-sub001/internal/logger"
)

const (
	// prescanTimeout bounds the remote-exec fast path; past it the scan
	// falls back to a directory walk.
	prescanTimeout = 5 * time.Second

	// scanWidth is how many directories the fallback walk lists at once.
	scanWidth = 10
)

// scanStats is what the pre-scan learns about the source tree.
type scanStats struct {
	Files int64
	Bytes int64
}

// excluded reports whether a remote path matches any exclude entry.
// Matching is case-insensitive on whole path segments: "logs" excludes any
// directory or file named logs at any depth, "cache/tmp" excludes that
// consecutive segment pair.
func excluded(excludes []string, remotePath string) bool {
	if len(excludes) == 0 {
		return false
	}
	segs := splitSegments(remotePath)
	for _, ex := range excludes {
		want := splitSegments(ex)
		if len(want) == 0 || len(want) > len(segs) {
			continue
		}
		for i := 0; i+len(want) <= len(segs); i++ {
			match := true
			for j := range want {
				if !strings.EqualFold(segs[i+j], want[j]) {
					match = false
					break
				}
			}
			if match {
				return true
			}
		}
	}
	return false
}

func splitSegments(p string) []string {
	var segs []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// prescan sizes the source tree before transferring, to log progress against
// a known total. When the connection supports command execution and no
// excludes are set, one remote find beats walking the tree; any failure
// falls back to the walk.
func prescan(ctx context.Context, conn *sftpConn, fs remoteFS, root string, excludes []string) (scanStats, error) {
	if conn != nil && len(excludes) == 0 {
		execCtx, cancel := context.WithTimeout(ctx, prescanTimeout)
		out, err := conn.exec(execCtx, "find "+shellQuote(root)+" -type f -printf '%s\\n'")
		cancel()
		if err == nil {
			if stats, ok := parseSizes(out); ok {
				return stats, nil
			}
		} else {
			logger.Debug("remote find unavailable, walking instead", "error", err)
		}
	}
	return walkCount(ctx, fs, root, excludes)
}

func parseSizes(out string) (scanStats, bool) {
	var stats scanStats
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
		if err != nil {
			return scanStats{}, false
		}
		stats.Files++
		stats.Bytes += n
	}
	return stats, true
}

// walkCount walks the tree listing up to scanWidth directories concurrently.
func walkCount(ctx context.Context, fs remoteFS, root string, excludes []string) (scanStats, error) {
	var files, bytes atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanWidth)

	var scan func(dir string) error
	scan = func(dir string) error {
		if err := gctx.Err(); err != nil {
			return err
		}
		entries, err := fs.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, fi := range entries {
			p := path.Join(dir, fi.Name())
			if excluded(excludes, p) {
				continue
			}
			if fi.IsDir() {
				// TryGo avoids deadlocking when every slot is already a
				// walker; full slots recurse inline instead.
				sub := p
				if !g.TryGo(func() error { return scan(sub) }) {
					if err := scan(sub); err != nil {
						return err
					}
				}
				continue
			}
			files.Add(1)
			bytes.Add(fi.Size())
		}
		return nil
	}

	g.Go(func() error { return scan(root) })
	if err := g.Wait(); err != nil {
		return scanStats{}, err
	}
	return scanStats{Files: files.Load(), Bytes: bytes.Load()}, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
