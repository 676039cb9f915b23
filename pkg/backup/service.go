// Package backup runs scheduled SFTP backup tasks. Every run flows through
// one serialized worker: cron fires and manual triggers only enqueue, the
// queue orders by priority then arrival, and a watchdog repairs task state
// left behind by interrupted runs.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jasonzli-DEV/D-Drive-sub001/internal/logger"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/chunks"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/metrics"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/namespace"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/store"
)

// watchdogInterval is how often interrupted-run repair scans the tasks.
const watchdogInterval = 30 * time.Second

// ErrTaskRunning is returned when a wait is requested for a task that is
// already mid-run.
var ErrTaskRunning = errors.New("task is already running")

// Service owns the backup queue, the cron schedules and the single worker.
type Service struct {
	store  *store.Store
	engine *chunks.Engine
	ns     *namespace.Manager

	queue   *queue
	cron    *cron.Cron
	entries map[string]cron.EntryID

	mu      sync.Mutex
	running map[string]*run

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// run is the in-memory state of a task mid-run.
type run struct {
	cancel context.CancelFunc
	prog   *tracker
}

// NewService creates the backup service. Start must be called before tasks
// run.
func NewService(st *store.Store, engine *chunks.Engine, ns *namespace.Manager) *Service {
	return &Service{
		store:   st,
		engine:  engine,
		ns:      ns,
		queue:   newQueue(),
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
		running: make(map[string]*run),
	}
}

// Start repairs state from any interrupted previous process and launches
// the worker and watchdog. With scheduling enabled it also loads the cron
// entries and starts the scheduler; without it, only manual runs execute.
func (s *Service) Start(ctx context.Context, scheduling bool) error {
	if scheduling {
		if err := s.ReloadSchedules(ctx); err != nil {
			return err
		}
	}
	s.repairInterrupted(ctx)

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	if scheduling {
		s.cron.Start()
	}

	s.wg.Add(2)
	go s.worker(runCtx)
	go s.watchdog(runCtx)
	return nil
}

// Stop halts scheduling, cancels queued and running work and waits for the
// worker to exit.
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
	s.queue.drain()

	s.mu.Lock()
	for _, r := range s.running {
		r.cancel()
	}
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// ReloadSchedules rebuilds the cron entries from the enabled tasks. Called
// at startup and whenever task definitions change.
func (s *Service) ReloadSchedules(ctx context.Context) error {
	tasks, err := s.store.ListEnabledTasks(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.entries {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}
	for _, task := range tasks {
		taskID := task.ID
		entry, err := s.cron.AddFunc(task.Cron, func() {
			if _, err := s.Enqueue(context.Background(), taskID); err != nil {
				logger.Error("failed to enqueue scheduled task", "task", taskID, "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression for task %s: %w", task.ID, err)
		}
		s.entries[task.ID] = entry
	}
	logger.Info("backup schedules loaded", "tasks", len(tasks))
	return nil
}

// Enqueue queues a run of the task. Queuing a task that is already queued
// or running is a no-op; returns whether a new run was queued.
func (s *Service) Enqueue(ctx context.Context, taskID string) (bool, error) {
	if s.isRunning(taskID) {
		return false, nil
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	_, queued := s.queue.push(task)
	if queued {
		logger.Info("task queued", "task", taskID, "priority", task.Priority)
	}
	return queued, nil
}

// RunAndWait queues the task (or attaches to its queued run) and blocks
// until it finishes.
func (s *Service) RunAndWait(ctx context.Context, taskID string) error {
	if s.isRunning(taskID) {
		return ErrTaskRunning
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	it, _ := s.queue.push(task)

	select {
	case <-it.done:
		return it.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops a queued or running run. Returns false when the task is
// neither queued nor running.
func (s *Service) Cancel(taskID string) bool {
	if s.queue.remove(taskID) {
		logger.Info("queued task cancelled", "task", taskID)
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.running[taskID]; ok {
		r.cancel()
		return true
	}
	return false
}

// Progress returns a snapshot of the task's in-flight run; ok is false when
// the task is not currently running.
func (s *Service) Progress(taskID string) (Progress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.running[taskID]
	if !ok {
		return Progress{}, false
	}
	return r.prog.snapshot(), true
}

func (s *Service) isRunning(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[taskID]
	return ok
}

func (s *Service) isActive(taskID string) bool {
	return s.isRunning(taskID) || s.queue.has(taskID)
}

// worker drains the queue one run at a time.
func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		it := s.queue.pop()
		if it == nil {
			select {
			case <-s.queue.wake:
				continue
			case <-ctx.Done():
				return
			}
		}

		runCtx, cancel := context.WithCancel(ctx)
		prog := newTracker(it.task.ID)
		s.mu.Lock()
		s.running[it.task.ID] = &run{cancel: cancel, prog: prog}
		s.mu.Unlock()

		err := s.runTask(runCtx, it.task, prog)
		cancel()

		s.mu.Lock()
		delete(s.running, it.task.ID)
		s.mu.Unlock()

		it.finish(err)
	}
}

// runTask performs one full run: connect, pre-scan, transfer, retention.
// Bookkeeping writes use a fresh context so a cancelled run still records
// its state.
func (s *Service) runTask(ctx context.Context, task *store.Task, prog *tracker) error {
	start := time.Now()
	bg := context.Background()

	if err := s.store.MarkTaskStarted(bg, task.ID, start); err != nil {
		return err
	}
	s.log(task.UserID, "task_started", fmt.Sprintf("backup %q started", task.Name))
	logger.Info("task run started", "task", task.ID, "name", task.Name, "host", task.Host)

	err := s.transferTask(ctx, task, prog)
	switch {
	case err == nil:
		prog.setPhase(PhaseComplete)
		end := time.Now()
		if merr := s.store.MarkTaskFinished(bg, task.ID, end, end.Sub(start)); merr != nil {
			logger.Error("failed to record task completion", "task", task.ID, "error", merr)
		}
		s.log(task.UserID, "task_finished", fmt.Sprintf("backup %q finished in %s", task.Name, end.Sub(start).Round(time.Second)))
		metrics.ObserveTaskRun("success", end.Sub(start))
		logger.Info("task run finished", "task", task.ID, "runtime", end.Sub(start))
		return nil

	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		if merr := s.store.MarkTaskStopped(bg, task.ID, time.Now()); merr != nil {
			logger.Error("failed to record task stop", "task", task.ID, "error", merr)
		}
		s.log(task.UserID, "task_cancelled", fmt.Sprintf("backup %q cancelled", task.Name))
		metrics.ObserveTaskRun("cancelled", time.Since(start))
		logger.Warn("task run cancelled", "task", task.ID)
		return ErrRunCancelled

	default:
		if merr := s.store.MarkTaskStopped(bg, task.ID, time.Now()); merr != nil {
			logger.Error("failed to record task stop", "task", task.ID, "error", merr)
		}
		s.log(task.UserID, "task_failed", fmt.Sprintf("backup %q failed: %v", task.Name, err))
		metrics.ObserveTaskRun("failed", time.Since(start))
		logger.Error("task run failed", "task", task.ID, "error", err)
		return err
	}
}

func (s *Service) transferTask(ctx context.Context, task *store.Task, prog *tracker) error {
	conn, err := dialSFTP(task)
	if err != nil {
		return err
	}
	defer conn.Close()

	tempDir, err := os.MkdirTemp("", tempDirPrefix)
	if err != nil {
		return err
	}
	defer os.RemoveAll(tempDir)

	excludes, err := task.GetExcludePaths()
	if err != nil {
		return fmt.Errorf("invalid exclude list: %w", err)
	}

	if !task.SkipPrescan {
		prog.setPhase(PhaseScanning)
		stats, err := prescan(ctx, conn, conn, task.SFTPPath, excludes)
		if err != nil {
			return fmt.Errorf("pre-scan failed: %w", err)
		}
		prog.setTotals(stats)
		logger.Info("pre-scan complete", "task", task.ID, "files", stats.Files, "bytes", stats.Bytes)
	}

	destParentID, err := s.resolveDestination(ctx, task)
	if err != nil {
		return err
	}

	tr := &transfer{
		engine:    s.engine,
		ns:        s.ns,
		task:      task,
		fs:        conn,
		excludes:  excludes,
		tempDir:   tempDir,
		reconnect: conn.reconnect,
		prog:      prog,
	}
	if _, err := tr.run(ctx, destParentID, backupName(task)); err != nil {
		return err
	}

	return s.applyRetention(ctx, task, destParentID)
}

// resolveDestination returns the parent directory id for the new backup:
// the configured directory node, a path that is created on demand, or the
// root.
func (s *Service) resolveDestination(ctx context.Context, task *store.Task) (*string, error) {
	if task.DestinationID != nil {
		dest, err := s.store.GetLiveNode(ctx, *task.DestinationID)
		if err != nil {
			return nil, fmt.Errorf("backup destination missing: %w", err)
		}
		if dest.UserID != task.UserID || !dest.IsDir() {
			return nil, fmt.Errorf("backup destination %s is not a directory of the task owner", dest.ID)
		}
		return &dest.ID, nil
	}

	var parentID *string
	for _, seg := range splitSegments(task.DestinationPath) {
		parentPath, err := s.ns.ResolveParent(ctx, task.UserID, parentID)
		if err != nil {
			return nil, err
		}
		existing, err := s.store.FindByPath(ctx, task.UserID, namespace.JoinPath(parentPath, seg))
		if err == nil {
			if !existing.IsDir() {
				return nil, fmt.Errorf("backup destination %s is a file", existing.Path)
			}
			parentID = &existing.ID
			continue
		}
		if !errors.Is(err, store.ErrNodeNotFound) {
			return nil, err
		}

		dir := &store.Node{UserID: task.UserID, ParentID: parentID, Name: seg, Type: store.NodeTypeDirectory}
		if err := s.ns.CreateNode(ctx, dir); err != nil {
			return nil, err
		}
		parentID = &dir.ID
	}
	return parentID, nil
}

// backupName names the backup's root node (or archive, before the
// extension).
func backupName(task *store.Task) string {
	name := task.Name
	if name == "" {
		name = path.Base(task.SFTPPath)
	}
	if task.TimestampNames {
		name += "_" + time.Now().Format("2006-01-02_15-04-05")
	}
	return name
}

// applyRetention prunes the oldest backups in the destination beyond the
// task's MaxFiles.
func (s *Service) applyRetention(ctx context.Context, task *store.Task, destParentID *string) error {
	if task.MaxFiles <= 0 {
		return nil
	}
	children, err := s.store.ListChildrenByAge(ctx, task.UserID, destParentID)
	if err != nil {
		return err
	}
	if len(children) <= task.MaxFiles {
		return nil
	}

	for _, old := range children[:len(children)-task.MaxFiles] {
		if err := s.ns.PermanentDelete(ctx, task.UserID, old.ID); err != nil {
			return fmt.Errorf("failed to prune old backup %s: %w", old.Path, err)
		}
		logger.Info("pruned old backup", "task", task.ID, "path", old.Path)
	}
	return nil
}

// watchdog periodically repairs tasks whose last run never completed, which
// happens when the process dies mid-run.
func (s *Service) watchdog(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.repairInterrupted(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) repairInterrupted(ctx context.Context) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		logger.Error("watchdog task scan failed", "error", err)
		return
	}
	for _, task := range tasks {
		if task.LastStarted == nil {
			continue
		}
		if task.LastRun != nil && !task.LastStarted.After(*task.LastRun) {
			continue
		}
		if s.isActive(task.ID) {
			continue
		}

		if err := s.store.MarkTaskStopped(ctx, task.ID, time.Now()); err != nil {
			logger.Error("failed to repair interrupted task", "task", task.ID, "error", err)
			continue
		}
		s.log(task.UserID, "task_interrupted", fmt.Sprintf("backup %q was interrupted and marked stopped", task.Name))
		logger.Warn("repaired interrupted task", "task", task.ID)
	}
}

func (s *Service) log(userID, kind, message string) {
	if err := s.store.AppendLog(context.Background(), &store.LogEntry{
		UserID:  userID,
		Kind:    kind,
		Message: message,
	}); err != nil {
		logger.Error("failed to append audit log", "kind", kind, "error", err)
	}
}
