package backup

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/jasonzli-DEV/D-Drive-sub001/internal/logger"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/store"
)

const (
	// archiveMemoryLimit is how much archive output is buffered in memory
	// before spilling to the run's temp directory.
	archiveMemoryLimit = 2 << 20

	// tempDirPrefix names the per-run scratch directory.
	tempDirPrefix = "ddrive-task-"
)

// spool is a write buffer that stays in memory up to a limit and spills to a
// file beyond it, then replays as a reader.
type spool struct {
	dir   string
	limit int64
	buf   []byte
	file  *os.File
	size  int64
}

func newSpool(dir string, limit int64) *spool {
	return &spool{dir: dir, limit: limit}
}

func (s *spool) Write(p []byte) (int, error) {
	if s.file == nil && s.size+int64(len(p)) > s.limit {
		f, err := os.CreateTemp(s.dir, "spool-*")
		if err != nil {
			return 0, err
		}
		if _, err := f.Write(s.buf); err != nil {
			f.Close()
			return 0, err
		}
		s.file = f
		s.buf = nil
	}

	if s.file != nil {
		n, err := s.file.Write(p)
		s.size += int64(n)
		return n, err
	}
	s.buf = append(s.buf, p...)
	s.size += int64(len(p))
	return len(p), nil
}

// Size returns the bytes written so far.
func (s *spool) Size() int64 { return s.size }

// InMemory reports whether the spool never spilled. Test helper.
func (s *spool) InMemory() bool { return s.file == nil }

// Reader rewinds the spool for reading. Write must not be called after.
func (s *spool) Reader() (io.Reader, error) {
	if s.file != nil {
		if _, err := s.file.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return s.file, nil
	}
	return &sliceReader{data: s.buf}, nil
}

// Close removes the spill file if one was created.
func (s *spool) Close() error {
	if s.file == nil {
		return nil
	}
	name := s.file.Name()
	_ = s.file.Close()
	return os.Remove(name)
}

type sliceReader struct {
	data []byte
	off  int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.off >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.off:])
	r.off += n
	return n, nil
}

// walkFiles visits every non-excluded file under root depth-first in listing
// order, with paths relative to root.
func walkFiles(ctx context.Context, fs remoteFS, root string, excludes []string, fn func(remotePath, rel string, fi os.FileInfo) error) error {
	var walk func(dir, rel string) error
	walk = func(dir, rel string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, err := fs.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, fi := range entries {
			p := path.Join(dir, fi.Name())
			childRel := fi.Name()
			if rel != "" {
				childRel = rel + "/" + fi.Name()
			}
			if excluded(excludes, p) {
				continue
			}
			if fi.IsDir() {
				if err := walk(p, childRel); err != nil {
					return err
				}
				continue
			}
			if err := fn(p, childRel, fi); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(root, "")
}

// writeArchive streams the source tree into out as one archive.
func writeArchive(ctx context.Context, fs remoteFS, root string, excludes []string, format store.Compression, out io.Writer, onFile func(rel string, size int64)) error {
	switch format {
	case store.CompressionZip:
		return writeZip(ctx, fs, root, excludes, out, onFile)
	case store.CompressionTarGz:
		return writeTarGz(ctx, fs, root, excludes, out, onFile)
	default:
		return fmt.Errorf("unsupported archive format %q", format)
	}
}

func writeZip(ctx context.Context, fs remoteFS, root string, excludes []string, out io.Writer, onFile func(string, int64)) error {
	zw := zip.NewWriter(out)
	err := walkFiles(ctx, fs, root, excludes, func(remotePath, rel string, fi os.FileInfo) error {
		// Open before the entry header so a skipped file leaves no trace
		// in the archive.
		rc, err := fs.Open(remotePath)
		if err != nil {
			if isConnError(err) {
				return err
			}
			logger.Warn("skipping unreadable source file", "path", remotePath, "error", err)
			return nil
		}
		hdr := &zip.FileHeader{Name: rel, Method: zip.Deflate, Modified: fi.ModTime()}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			rc.Close()
			return err
		}
		n, err := io.Copy(w, rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("failed to archive %s: %w", remotePath, err)
		}
		if onFile != nil {
			onFile(rel, n)
		}
		return nil
	})
	if err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func writeTarGz(ctx context.Context, fs remoteFS, root string, excludes []string, out io.Writer, onFile func(string, int64)) error {
	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	err := walkFiles(ctx, fs, root, excludes, func(remotePath, rel string, fi os.FileInfo) error {
		// Open before the entry header so a skipped file leaves no trace
		// in the archive.
		rc, err := fs.Open(remotePath)
		if err != nil {
			if isConnError(err) {
				return err
			}
			logger.Warn("skipping unreadable source file", "path", remotePath, "error", err)
			return nil
		}
		hdr, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			rc.Close()
			return err
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			rc.Close()
			return err
		}
		// The tar header fixed the size; never write more than promised.
		_, err = io.CopyN(tw, rc, fi.Size())
		rc.Close()
		if err != nil {
			return fmt.Errorf("failed to archive %s: %w", remotePath, err)
		}
		if onFile != nil {
			onFile(rel, fi.Size())
		}
		return nil
	})
	if err != nil {
		tw.Close()
		gz.Close()
		return err
	}
	if err := tw.Close(); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}
