package backup

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path"

	"github.com/pkg/sftp"

	"github.com/jasonzli-DEV/D-Drive-sub001/internal/bytesize"
	"github.com/jasonzli-DEV/D-Drive-sub001/internal/logger"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/chunks"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/namespace"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/store"
)

const (
	// maxReconnects is the per-run budget for re-dialing a dropped source
	// connection.
	maxReconnects = 10

	// Progress is logged every batchFiles files or batchDirs directories.
	batchFiles = 100
	batchDirs  = 5
)

// ErrEmptyArchive is returned when the source walk produced no archive
// entries; an empty archive is never uploaded.
var ErrEmptyArchive = errors.New("backup source produced an empty archive")

// sourceError marks a failure reading the backup source. The mirror walk
// skips the affected item instead of aborting the run.
type sourceError struct{ err error }

func (e *sourceError) Error() string { return e.err.Error() }
func (e *sourceError) Unwrap() error { return e.err }

// transfer moves one task's source tree into the drive.
type transfer struct {
	engine   *chunks.Engine
	ns       *namespace.Manager
	task     *store.Task
	fs       remoteFS
	excludes []string
	tempDir  string

	// reconnect re-dials the source; nil when the source cannot drop
	// (tests).
	reconnect      func() error
	reconnectsLeft int

	prog *tracker
}

// run dispatches on the task's compression mode and returns the node rooted
// at the new backup.
func (tr *transfer) run(ctx context.Context, destParentID *string, rootName string) (*store.Node, error) {
	tr.reconnectsLeft = maxReconnects
	if tr.prog == nil {
		tr.prog = newTracker(tr.task.ID)
	}
	if tr.task.Compress == store.CompressionNone {
		return tr.mirror(ctx, destParentID, rootName)
	}
	return tr.archiveUpload(ctx, destParentID, rootName)
}

// mirror recreates the source tree as drive directories and files. A file
// the source cannot serve is skipped and logged; destination failures abort
// the run.
func (tr *transfer) mirror(ctx context.Context, destParentID *string, rootName string) (*store.Node, error) {
	tr.prog.setPhase(PhaseDownloading)
	root := &store.Node{
		UserID:   tr.task.UserID,
		ParentID: destParentID,
		Name:     rootName,
		Type:     store.NodeTypeDirectory,
	}
	if err := tr.ns.CreateNode(ctx, root); err != nil {
		return nil, err
	}

	var walk func(remoteDir, parentID string) error
	walk = func(remoteDir, parentID string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		tr.prog.enterDir(remoteDir)
		var entries []os.FileInfo
		err := tr.withReconnect(ctx, func() error {
			var rerr error
			entries, rerr = tr.fs.ReadDir(remoteDir)
			return rerr
		})
		if err != nil {
			return err
		}
		tr.logProgress()

		for _, fi := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			p := path.Join(remoteDir, fi.Name())
			if excluded(tr.excludes, p) {
				continue
			}

			if fi.IsDir() {
				dir := &store.Node{
					UserID:   tr.task.UserID,
					ParentID: &parentID,
					Name:     fi.Name(),
					Type:     store.NodeTypeDirectory,
				}
				if err := tr.ns.CreateNode(ctx, dir); err != nil {
					return err
				}
				if err := walk(p, dir.ID); err != nil {
					return err
				}
				continue
			}

			if err := tr.uploadFile(ctx, p, fi.Name(), parentID); err != nil {
				if ctx.Err() != nil {
					return err
				}
				var srcErr *sourceError
				if !errors.As(err, &srcErr) {
					return err
				}
				tr.prog.fileSkipped()
				logger.Warn("skipping unreadable source file",
					"task", tr.task.ID, "path", p, "error", err)
				continue
			}
			tr.logProgress()
		}
		return nil
	}

	if err := walk(tr.task.SFTPPath, root.ID); err != nil {
		return nil, err
	}
	return root, nil
}

// uploadFile streams one remote file into the chunk store. A dropped
// connection rolls the file back, reconnects and retries it whole; a source
// that cannot serve the file surfaces as a sourceError for the caller to
// skip.
func (tr *transfer) uploadFile(ctx context.Context, remotePath, name, parentID string) error {
	return tr.withReconnect(ctx, func() error {
		rc, err := tr.fs.Open(remotePath)
		if err != nil {
			return &sourceError{err: err}
		}
		defer rc.Close()

		node, err := tr.engine.StoreFile(ctx, chunks.StoreRequest{
			UserID:   tr.task.UserID,
			ParentID: &parentID,
			Name:     name,
			Encrypt:  tr.task.Encrypt,
		}, rc)
		if err != nil {
			return err
		}
		tr.prog.fileDone(int64(node.Size))
		return nil
	})
}

// archiveUpload packs the source tree into one zip or tar.gz and stores it
// as a single drive file. A dropped connection restarts the archive; an
// archive with no entries aborts the run.
func (tr *transfer) archiveUpload(ctx context.Context, destParentID *string, rootName string) (*store.Node, error) {
	tr.prog.setPhase(PhaseArchiving)
	name := rootName + archiveExt(tr.task.Compress)

	var sp *spool
	var archived int64
	err := tr.withReconnect(ctx, func() error {
		if sp != nil {
			_ = sp.Close()
		}
		sp = newSpool(tr.tempDir, archiveMemoryLimit)
		archived = 0
		tr.prog.restart()
		return writeArchive(ctx, tr.fs, tr.task.SFTPPath, tr.excludes, tr.task.Compress, sp, func(rel string, size int64) {
			archived++
			tr.prog.fileDone(size)
			tr.logProgress()
		})
	})
	if err != nil {
		if sp != nil {
			_ = sp.Close()
		}
		return nil, err
	}
	defer sp.Close()

	if archived == 0 {
		return nil, ErrEmptyArchive
	}

	tr.prog.setPhase(PhaseUploading)
	reader, err := sp.Reader()
	if err != nil {
		return nil, err
	}
	node, err := tr.engine.StoreFile(ctx, chunks.StoreRequest{
		UserID:   tr.task.UserID,
		ParentID: destParentID,
		Name:     name,
		Encrypt:  tr.task.Encrypt,
	}, reader)
	if err != nil {
		return nil, err
	}
	return node, nil
}

func archiveExt(c store.Compression) string {
	if c == store.CompressionTarGz {
		return ".tar.gz"
	}
	return ".zip"
}

// withReconnect runs fn, re-dialing the source and retrying on connection
// loss until the per-run reconnect budget is spent.
func (tr *transfer) withReconnect(ctx context.Context, fn func() error) error {
	for {
		err := fn()
		if err == nil || ctx.Err() != nil {
			return err
		}
		if !isConnError(err) || tr.reconnect == nil || tr.reconnectsLeft == 0 {
			return err
		}
		tr.reconnectsLeft--
		if rerr := tr.reconnect(); rerr != nil {
			return rerr
		}
		tr.prog.reconnected()
	}
}

// isConnError reports whether an error looks like a dropped SFTP connection
// rather than a data or destination failure.
func isConnError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, sftp.ErrSSHFxConnectionLost) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (tr *transfer) logProgress() {
	p, dirs := tr.prog.stats()
	if p.FilesProcessed%batchFiles == 0 && p.FilesProcessed > 0 || dirs%batchDirs == 0 && dirs > 0 {
		logger.Info("backup progress",
			"task", tr.task.ID,
			"files", p.FilesProcessed,
			"dirs", dirs,
			"total_files", p.TotalFiles,
			"copied", bytesize.ByteSize(p.BytesCopied).String(),
			"total", bytesize.ByteSize(p.EstimatedTotalBytes).String())
	}
}
