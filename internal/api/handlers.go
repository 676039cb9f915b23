package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/chunks"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/drive"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/namespace"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/store"
)

// Handler holds the façade the routes call into.
type Handler struct {
	drive *drive.Drive
}

// NewHandler creates a Handler over the drive façade.
func NewHandler(d *drive.Drive) *Handler {
	return &Handler{drive: d}
}

// decodeJSONBody decodes a JSON request body into the provided pointer.
// Returns false after writing a 400 when decoding fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, "Invalid request body")
		return false
	}
	return true
}

// writeDriveError maps façade errors to HTTP problem responses.
func writeDriveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, drive.ErrPermissionDenied):
		Forbidden(w, "You do not have access to this file")
	case errors.Is(err, drive.ErrSharingDisabled):
		Forbidden(w, "Recipient does not accept shared files")
	case errors.Is(err, drive.ErrLinkExpired):
		Gone(w, "This link has expired")
	case errors.Is(err, store.ErrNodeNotFound),
		errors.Is(err, store.ErrUserNotFound),
		errors.Is(err, store.ErrShareNotFound),
		errors.Is(err, store.ErrLinkNotFound),
		errors.Is(err, store.ErrTaskNotFound):
		NotFound(w, err.Error())
	case errors.Is(err, namespace.ErrNameConflict),
		errors.Is(err, namespace.ErrCycle),
		errors.Is(err, namespace.ErrNamespaceRace):
		Conflict(w, err.Error())
	case errors.Is(err, namespace.ErrNotDirectory):
		BadRequest(w, err.Error())
	case errors.Is(err, chunks.ErrDecrypt):
		InternalServerError(w, "Failed to decrypt")
	default:
		InternalServerError(w, "Internal error")
	}
}

// optionalParent reads the optional parent query parameter; nil means root.
func optionalParent(r *http.Request) *string {
	if p := r.URL.Query().Get("parent"); p != "" {
		return &p
	}
	return nil
}

// ListChildren handles GET /api/v1/files.
func (h *Handler) ListChildren(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	nodes, err := h.drive.ListChildren(r.Context(), user.ID, optionalParent(r))
	if err != nil {
		writeDriveError(w, err)
		return
	}
	WriteJSONOK(w, nodes)
}

// Stat handles GET /api/v1/files/{id}.
func (h *Handler) Stat(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	node, err := h.drive.Stat(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeDriveError(w, err)
		return
	}
	WriteJSONOK(w, node)
}

// CreateDirRequest is the request body for POST /api/v1/dirs.
type CreateDirRequest struct {
	ParentID *string `json:"parent_id,omitempty"`
	Name     string  `json:"name"`
}

// CreateDir handles POST /api/v1/dirs.
func (h *Handler) CreateDir(w http.ResponseWriter, r *http.Request) {
	var req CreateDirRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		BadRequest(w, "Name is required")
		return
	}

	user := UserFromContext(r.Context())
	node, err := h.drive.CreateDir(r.Context(), user.ID, req.ParentID, req.Name)
	if err != nil {
		writeDriveError(w, err)
		return
	}
	WriteJSONCreated(w, node)
}

// Upload handles POST /api/v1/files. The file content is the request body;
// name, parent and the encryption override travel as query parameters so the
// body can be streamed straight into the chunk engine.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		BadRequest(w, "name query parameter is required")
		return
	}

	req := drive.UploadRequest{
		ParentID: optionalParent(r),
		Name:     name,
		MimeType: r.Header.Get("Content-Type"),
	}
	if v := r.URL.Query().Get("encrypt"); v != "" {
		encrypt, err := strconv.ParseBool(v)
		if err != nil {
			BadRequest(w, "encrypt must be a boolean")
			return
		}
		req.Encrypt = &encrypt
	}

	user := UserFromContext(r.Context())
	node, err := h.drive.Upload(r.Context(), user.ID, req, r.Body)
	if err != nil {
		writeDriveError(w, err)
		return
	}
	WriteJSONCreated(w, node)
}

// contentDisposition renders the file as an attachment unless the request
// asked for inline display through the inline query flag.
func contentDisposition(r *http.Request, name string) string {
	kind := "attachment"
	if v, err := strconv.ParseBool(r.URL.Query().Get("inline")); err == nil && v {
		kind = "inline"
	}
	return fmt.Sprintf("%s; filename=%q", kind, name)
}

// contentRangeUnsatisfied formats the Content-Range header for a 416.
func contentRangeUnsatisfied(size uint64) string {
	return fmt.Sprintf("bytes */%d", size)
}

// parseRangeHeader parses a single-range "bytes=" header against the file
// size. Returns ok=false when the header is absent or not a single byte
// range, in which case the caller serves the whole file.
func parseRangeHeader(header string, size uint64) (start, end int64, ok bool, err error) {
	const prefix = "bytes="
	if header == "" || !strings.HasPrefix(header, prefix) {
		return 0, 0, false, nil
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		// Multi-range requests fall back to the full file.
		return 0, 0, false, nil
	}

	dash := strings.Index(spec, "-")
	if dash < 0 {
		return 0, 0, false, fmt.Errorf("malformed range %q", spec)
	}
	first, last := strings.TrimSpace(spec[:dash]), strings.TrimSpace(spec[dash+1:])

	if first == "" {
		// Suffix range: last N bytes.
		n, perr := strconv.ParseInt(last, 10, 64)
		if perr != nil || n <= 0 {
			return 0, 0, false, fmt.Errorf("malformed suffix range %q", spec)
		}
		if uint64(n) >= size {
			return 0, int64(size) - 1, true, nil
		}
		return int64(size) - n, int64(size) - 1, true, nil
	}

	start, err = strconv.ParseInt(first, 10, 64)
	if err != nil {
		return 0, 0, false, fmt.Errorf("malformed range %q", spec)
	}
	if last == "" {
		return start, int64(size) - 1, true, nil
	}
	end, err = strconv.ParseInt(last, 10, 64)
	if err != nil {
		return 0, 0, false, fmt.Errorf("malformed range %q", spec)
	}
	return start, end, true, nil
}

// Download handles GET /api/v1/files/{id}/content, honoring single-range
// Range headers with 206 responses.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	fileID := chi.URLParam(r, "id")

	node, err := h.drive.Stat(r.Context(), user.ID, fileID)
	if err != nil {
		writeDriveError(w, err)
		return
	}
	if node.IsDir() {
		BadRequest(w, "Cannot download a directory")
		return
	}

	start, end, ranged, err := parseRangeHeader(r.Header.Get("Range"), node.Size)
	if err != nil {
		RangeNotSatisfiable(w, node.Size)
		return
	}

	w.Header().Set("Accept-Ranges", "bytes")
	mime := node.MimeType
	if mime == "" {
		mime = chunks.DefaultMimeType
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Disposition", contentDisposition(r, node.Name))

	if !ranged {
		w.Header().Set("Content-Length", strconv.FormatUint(node.Size, 10))
		w.WriteHeader(http.StatusOK)
		if _, err := h.drive.Download(r.Context(), user.ID, fileID, w); err != nil {
			// Headers are gone; all we can do is log via the request logger.
			return
		}
		return
	}

	_, data, rng, err := h.drive.DownloadRange(r.Context(), user.ID, fileID, start, end)
	if errors.Is(err, chunks.ErrRangeUnsatisfiable) {
		RangeNotSatisfiable(w, node.Size)
		return
	}
	if err != nil {
		writeDriveError(w, err)
		return
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.Start, rng.End, rng.Size))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusPartialContent)
	_, _ = w.Write(data)
}

// RenameRequest is the request body for PATCH /api/v1/files/{id}/rename.
type RenameRequest struct {
	Name string `json:"name"`
}

// Rename handles PATCH /api/v1/files/{id}/rename.
func (h *Handler) Rename(w http.ResponseWriter, r *http.Request) {
	var req RenameRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		BadRequest(w, "Name is required")
		return
	}

	user := UserFromContext(r.Context())
	node, err := h.drive.Rename(r.Context(), user.ID, chi.URLParam(r, "id"), req.Name)
	if err != nil {
		writeDriveError(w, err)
		return
	}
	WriteJSONOK(w, node)
}

// MoveRequest is the request body for PATCH /api/v1/files/{id}/move. A nil
// parent moves the node to the root.
type MoveRequest struct {
	ParentID *string `json:"parent_id"`
}

// Move handles PATCH /api/v1/files/{id}/move.
func (h *Handler) Move(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	user := UserFromContext(r.Context())
	node, err := h.drive.Move(r.Context(), user.ID, chi.URLParam(r, "id"), req.ParentID)
	if err != nil {
		writeDriveError(w, err)
		return
	}
	WriteJSONOK(w, node)
}

// SoftDelete handles DELETE /api/v1/files/{id}.
func (h *Handler) SoftDelete(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if err := h.drive.SoftDelete(r.Context(), user.ID, chi.URLParam(r, "id")); err != nil {
		writeDriveError(w, err)
		return
	}
	WriteNoContent(w)
}

// Restore handles POST /api/v1/files/{id}/restore.
func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	node, err := h.drive.Restore(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeDriveError(w, err)
		return
	}
	WriteJSONOK(w, node)
}

// PermanentDelete handles DELETE /api/v1/files/{id}/permanent.
func (h *Handler) PermanentDelete(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if err := h.drive.PermanentDelete(r.Context(), user.ID, chi.URLParam(r, "id")); err != nil {
		writeDriveError(w, err)
		return
	}
	WriteNoContent(w)
}

// CopyRequest is the request body for POST /api/v1/files/{id}/copy.
type CopyRequest struct {
	ParentID *string `json:"parent_id,omitempty"`
}

// Copy handles POST /api/v1/files/{id}/copy.
func (h *Handler) Copy(w http.ResponseWriter, r *http.Request) {
	var req CopyRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	user := UserFromContext(r.Context())
	node, err := h.drive.Copy(r.Context(), user.ID, chi.URLParam(r, "id"), req.ParentID)
	if err != nil {
		writeDriveError(w, err)
		return
	}
	WriteJSONCreated(w, node)
}

// ToggleStar handles POST /api/v1/files/{id}/star.
func (h *Handler) ToggleStar(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	starred, err := h.drive.ToggleStar(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeDriveError(w, err)
		return
	}
	WriteJSONOK(w, map[string]bool{"starred": starred})
}

// ListStarred handles GET /api/v1/starred.
func (h *Handler) ListStarred(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	nodes, err := h.drive.ListStarred(r.Context(), user.ID)
	if err != nil {
		writeDriveError(w, err)
		return
	}
	WriteJSONOK(w, nodes)
}

// ListTrash handles GET /api/v1/trash.
func (h *Handler) ListTrash(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	nodes, err := h.drive.ListTrash(r.Context(), user.ID)
	if err != nil {
		writeDriveError(w, err)
		return
	}
	WriteJSONOK(w, nodes)
}

// EmptyTrash handles DELETE /api/v1/trash.
func (h *Handler) EmptyTrash(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	n, err := h.drive.EmptyTrash(r.Context(), user.ID)
	if err != nil {
		writeDriveError(w, err)
		return
	}
	WriteJSONOK(w, map[string]int{"removed": n})
}

// ShareRequest is the request body for POST /api/v1/files/{id}/shares.
type ShareRequest struct {
	RecipientID string `json:"recipient_id"`
	Permission  string `json:"permission"`
}

// Share handles POST /api/v1/files/{id}/shares.
func (h *Handler) Share(w http.ResponseWriter, r *http.Request) {
	var req ShareRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.RecipientID == "" {
		BadRequest(w, "recipient_id is required")
		return
	}

	permission := store.SharePermission(strings.ToUpper(req.Permission))
	if permission != store.PermissionView && permission != store.PermissionEdit {
		BadRequest(w, "permission must be VIEW or EDIT")
		return
	}

	user := UserFromContext(r.Context())
	share, err := h.drive.Share(r.Context(), user.ID, chi.URLParam(r, "id"), req.RecipientID, permission)
	if err != nil {
		writeDriveError(w, err)
		return
	}
	WriteJSONCreated(w, share)
}

// RevokeShare handles DELETE /api/v1/files/{id}/shares/{recipient}.
func (h *Handler) RevokeShare(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	err := h.drive.RevokeShare(r.Context(), user.ID, chi.URLParam(r, "id"), chi.URLParam(r, "recipient"))
	if err != nil {
		writeDriveError(w, err)
		return
	}
	WriteNoContent(w)
}

// ListSharedWithMe handles GET /api/v1/shared-with-me.
func (h *Handler) ListSharedWithMe(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	entries, err := h.drive.ListSharedWithMe(r.Context(), user.ID)
	if err != nil {
		writeDriveError(w, err)
		return
	}
	WriteJSONOK(w, entries)
}

// CreateLinkRequest is the request body for POST /api/v1/files/{id}/links.
type CreateLinkRequest struct {
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CreateLink handles POST /api/v1/files/{id}/links.
func (h *Handler) CreateLink(w http.ResponseWriter, r *http.Request) {
	var req CreateLinkRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	user := UserFromContext(r.Context())
	link, err := h.drive.CreatePublicLink(r.Context(), user.ID, chi.URLParam(r, "id"), req.ExpiresAt)
	if err != nil {
		writeDriveError(w, err)
		return
	}
	WriteJSONCreated(w, link)
}

// ListLinks handles GET /api/v1/links.
func (h *Handler) ListLinks(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	links, err := h.drive.ListPublicLinks(r.Context(), user.ID)
	if err != nil {
		writeDriveError(w, err)
		return
	}
	WriteJSONOK(w, links)
}

// RevokeLink handles DELETE /api/v1/links/{id}.
func (h *Handler) RevokeLink(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if err := h.drive.RevokePublicLink(r.Context(), user.ID, chi.URLParam(r, "id")); err != nil {
		writeDriveError(w, err)
		return
	}
	WriteNoContent(w)
}

// PublicDownload handles GET /public/{slug} without authentication.
func (h *Handler) PublicDownload(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	node, err := h.drive.ResolvePublicLink(r.Context(), slug)
	if err != nil {
		writeDriveError(w, err)
		return
	}
	if node.IsDir() {
		NotFound(w, "public link not found")
		return
	}

	mime := node.MimeType
	if mime == "" {
		mime = chunks.DefaultMimeType
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Disposition", contentDisposition(r, node.Name))
	w.Header().Set("Content-Length", strconv.FormatUint(node.Size, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = h.drive.DownloadPublic(r.Context(), slug, w)
}
