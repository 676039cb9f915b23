package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/robfig/cron/v3"

	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/backup"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/store"
)

// TaskHandler manages backup tasks: CRUD over the store plus run controls on
// the backup service. The service may be nil when backups are disabled, in
// which case run and cancel are rejected but task editing still works.
type TaskHandler struct {
	store   *store.Store
	service *backup.Service
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(st *store.Store, service *backup.Service) *TaskHandler {
	return &TaskHandler{store: st, service: service}
}

// TaskRequest is the request body for creating or updating a task. The
// credential fields are write-only: task responses never carry them back.
type TaskRequest struct {
	Name    string `json:"name"`
	Cron    string `json:"cron"`
	Enabled *bool  `json:"enabled,omitempty"`

	Host       string `json:"host"`
	Port       int    `json:"port,omitempty"`
	Username   string `json:"username"`
	Password   string `json:"password,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
	SFTPPath   string `json:"sftp_path"`

	DestinationID   *string `json:"destination_id,omitempty"`
	DestinationPath string  `json:"destination_path,omitempty"`

	ExcludePaths   []string `json:"exclude_paths,omitempty"`
	Compress       string   `json:"compress,omitempty"`
	TimestampNames bool     `json:"timestamp_names,omitempty"`
	Encrypt        bool     `json:"encrypt,omitempty"`
	MaxFiles       int      `json:"max_files,omitempty"`
	SkipPrescan    bool     `json:"skip_prescan,omitempty"`
	Priority       int      `json:"priority,omitempty"`
}

// validate checks the fields that would otherwise only fail deep inside a
// run: the cron expression, the source coordinates and the compression mode.
func (req *TaskRequest) validate() string {
	if req.Name == "" && req.SFTPPath == "" {
		return "Either name or sftp_path is required"
	}
	if req.Cron != "" {
		if _, err := cron.ParseStandard(req.Cron); err != nil {
			return "Invalid cron expression"
		}
	}
	if req.Host == "" {
		return "Host is required"
	}
	if req.Username == "" {
		return "Username is required"
	}
	if req.Password == "" && req.PrivateKey == "" {
		return "Either password or private_key is required"
	}
	if req.SFTPPath == "" {
		return "sftp_path is required"
	}
	switch store.Compression(req.Compress) {
	case "", store.CompressionNone, store.CompressionZip, store.CompressionTarGz:
	default:
		return "compress must be NONE, ZIP or TAR_GZ"
	}
	return ""
}

// apply copies the request onto a task row. Empty credentials leave the
// stored ones untouched so updates do not have to resend secrets.
func (req *TaskRequest) apply(task *store.Task) {
	task.Name = req.Name
	task.Cron = req.Cron
	if req.Enabled != nil {
		task.Enabled = *req.Enabled
	}
	task.Host = req.Host
	if req.Port > 0 {
		task.Port = req.Port
	}
	task.Username = req.Username
	if req.Password != "" {
		task.Password = req.Password
	}
	if req.PrivateKey != "" {
		task.PrivateKey = req.PrivateKey
	}
	task.SFTPPath = req.SFTPPath
	task.DestinationID = req.DestinationID
	task.DestinationPath = req.DestinationPath
	task.SetExcludePaths(req.ExcludePaths)
	if req.Compress != "" {
		task.Compress = store.Compression(req.Compress)
	}
	task.TimestampNames = req.TimestampNames
	task.Encrypt = req.Encrypt
	task.MaxFiles = req.MaxFiles
	task.SkipPrescan = req.SkipPrescan
	task.Priority = req.Priority
}

// reload refreshes the cron schedules after a task change. Best-effort: a
// broken expression in another task must not fail this request.
func (h *TaskHandler) reload(r *http.Request) {
	if h.service != nil {
		_ = h.service.ReloadSchedules(r.Context())
	}
}

// getOwnTask loads a task and checks it belongs to the requesting user.
func (h *TaskHandler) getOwnTask(w http.ResponseWriter, r *http.Request) (*store.Task, bool) {
	user := UserFromContext(r.Context())
	task, err := h.store.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDriveError(w, err)
		return nil, false
	}
	if task.UserID != user.ID {
		NotFound(w, "task not found")
		return nil, false
	}
	return task, true
}

// List handles GET /api/v1/tasks.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	tasks, err := h.store.ListTasks(r.Context())
	if err != nil {
		writeDriveError(w, err)
		return
	}

	own := make([]*store.Task, 0, len(tasks))
	for _, task := range tasks {
		if task.UserID == user.ID {
			own = append(own, task)
		}
	}
	WriteJSONOK(w, own)
}

// Create handles POST /api/v1/tasks.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		BadRequest(w, msg)
		return
	}

	user := UserFromContext(r.Context())
	task := &store.Task{UserID: user.ID, Enabled: true}
	req.apply(task)

	if _, err := h.store.CreateTask(r.Context(), task); err != nil {
		writeDriveError(w, err)
		return
	}
	h.reload(r)
	WriteJSONCreated(w, task)
}

// Get handles GET /api/v1/tasks/{id}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	task, ok := h.getOwnTask(w, r)
	if !ok {
		return
	}
	WriteJSONOK(w, task)
}

// Update handles PUT /api/v1/tasks/{id}.
func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	task, ok := h.getOwnTask(w, r)
	if !ok {
		return
	}

	var req TaskRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	// Stored credentials satisfy the requirement on update.
	if req.Password == "" && req.PrivateKey == "" && (task.Password != "" || task.PrivateKey != "") {
		req.Password = task.Password
		req.PrivateKey = task.PrivateKey
	}
	if msg := req.validate(); msg != "" {
		BadRequest(w, msg)
		return
	}

	req.apply(task)
	if err := h.store.UpdateTask(r.Context(), task); err != nil {
		writeDriveError(w, err)
		return
	}
	h.reload(r)
	WriteJSONOK(w, task)
}

// Delete handles DELETE /api/v1/tasks/{id}.
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	task, ok := h.getOwnTask(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteTask(r.Context(), task.ID); err != nil {
		writeDriveError(w, err)
		return
	}
	h.reload(r)
	WriteNoContent(w)
}

// Run handles POST /api/v1/tasks/{id}/run: enqueue the task and return
// immediately. The run itself is observed through the task row and the logs.
func (h *TaskHandler) Run(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		WriteProblem(w, http.StatusServiceUnavailable, "Service Unavailable", "backup service is disabled")
		return
	}
	task, ok := h.getOwnTask(w, r)
	if !ok {
		return
	}

	queued, err := h.service.Enqueue(r.Context(), task.ID)
	if err != nil {
		writeDriveError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]bool{"queued": queued})
}

// Progress handles GET /api/v1/tasks/{id}/progress: a snapshot of the
// in-flight run's phase and counters.
func (h *TaskHandler) Progress(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		WriteProblem(w, http.StatusServiceUnavailable, "Service Unavailable", "backup service is disabled")
		return
	}
	task, ok := h.getOwnTask(w, r)
	if !ok {
		return
	}
	p, running := h.service.Progress(task.ID)
	if !running {
		NotFound(w, "task is not running")
		return
	}
	WriteJSONOK(w, p)
}

// Cancel handles POST /api/v1/tasks/{id}/cancel.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		WriteProblem(w, http.StatusServiceUnavailable, "Service Unavailable", "backup service is disabled")
		return
	}
	task, ok := h.getOwnTask(w, r)
	if !ok {
		return
	}
	WriteJSONOK(w, map[string]bool{"cancelled": h.service.Cancel(task.ID)})
}

// Logs handles GET /api/v1/logs.
func (h *TaskHandler) Logs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	user := UserFromContext(r.Context())
	logs, err := h.store.ListLogs(r.Context(), user.ID, limit)
	if err != nil {
		writeDriveError(w, err)
		return
	}
	WriteJSONOK(w, logs)
}
