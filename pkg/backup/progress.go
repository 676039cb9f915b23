package backup

import (
	"sync"
	"time"
)

// Phase identifies where a running task currently is.
type Phase string

const (
	PhaseConnecting  Phase = "connecting"
	PhaseScanning    Phase = "scanning"
	PhaseDownloading Phase = "downloading"
	PhaseArchiving   Phase = "archiving"
	PhaseUploading   Phase = "uploading"
	PhaseComplete    Phase = "complete"
)

// Progress is a point-in-time snapshot of a task run.
type Progress struct {
	TaskID              string    `json:"task_id"`
	Phase               Phase     `json:"phase"`
	FilesProcessed      int64     `json:"files_processed"`
	FilesSkipped        int64     `json:"files_skipped"`
	TotalFiles          int64     `json:"total_files"`
	BytesCopied         int64     `json:"bytes_copied"`
	EstimatedTotalBytes int64     `json:"estimated_total_bytes"`
	Reconnects          int       `json:"reconnects"`
	StartTime           time.Time `json:"start_time"`
	CurrentDir          string    `json:"current_dir"`
}

// tracker is the mutable state behind Progress snapshots. The worker writes
// it while API reads race against those writes, so every access locks.
type tracker struct {
	mu   sync.Mutex
	prog Progress
	dirs int64
}

func newTracker(taskID string) *tracker {
	return &tracker{prog: Progress{
		TaskID:    taskID,
		Phase:     PhaseConnecting,
		StartTime: time.Now(),
	}}
}

func (t *tracker) setPhase(p Phase) {
	t.mu.Lock()
	t.prog.Phase = p
	t.mu.Unlock()
}

func (t *tracker) setTotals(s scanStats) {
	t.mu.Lock()
	t.prog.TotalFiles = s.Files
	t.prog.EstimatedTotalBytes = s.Bytes
	t.mu.Unlock()
}

func (t *tracker) enterDir(dir string) {
	t.mu.Lock()
	t.dirs++
	t.prog.CurrentDir = dir
	t.mu.Unlock()
}

func (t *tracker) fileDone(bytes int64) {
	t.mu.Lock()
	t.prog.FilesProcessed++
	t.prog.BytesCopied += bytes
	t.mu.Unlock()
}

func (t *tracker) fileSkipped() {
	t.mu.Lock()
	t.prog.FilesSkipped++
	t.mu.Unlock()
}

func (t *tracker) reconnected() {
	t.mu.Lock()
	t.prog.Reconnects++
	t.mu.Unlock()
}

// restart clears the per-file counters when an archive walk starts over
// after a reconnect.
func (t *tracker) restart() {
	t.mu.Lock()
	t.prog.FilesProcessed = 0
	t.prog.FilesSkipped = 0
	t.prog.BytesCopied = 0
	t.mu.Unlock()
}

func (t *tracker) snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prog
}

func (t *tracker) stats() (Progress, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prog, t.dirs
}
