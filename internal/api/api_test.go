package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/blob"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/chunks"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/config"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/drive"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/namespace"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/store"
)

const (
	testSecret = "0123456789abcdef0123456789abcdef"
	testIssuer = "ddrive-test"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ns := namespace.New(st)
	engine := chunks.New(st, blob.NewMemory(), ns)

	return NewRouter(Deps{
		Drive: drive.New(st, ns, engine),
		Store: st,
		Auth:  config.AuthConfig{JWTSecret: testSecret, Issuer: testIssuer},
	})
}

func signToken(t *testing.T, subject, name string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func doRequest(t *testing.T, router http.Handler, method, path, token string, body io.Reader, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeNode(t *testing.T, rec *httptest.ResponseRecorder) *store.Node {
	t.Helper()
	var node store.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &node))
	return &node
}

func uploadFile(t *testing.T, router http.Handler, token, name, content string) *store.Node {
	t.Helper()
	rec := doRequest(t, router, http.MethodPost, "/api/v1/files?name="+name, token,
		bytes.NewReader([]byte(content)), http.Header{"Content-Type": []string{"text/plain"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeNode(t, rec)
}

func TestAuthRequired(t *testing.T) {
	router := newTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/files", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/v1/files", "not-a-token", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWrongIssuerRejected(t *testing.T) {
	router := newTestRouter(t)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "someone",
		Issuer:    "elsewhere",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/files", signed, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t)
	rec := doRequest(t, router, http.MethodGet, "/healthz", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUploadListDownload(t *testing.T) {
	router := newTestRouter(t)
	token := signToken(t, "alice", "Alice")

	node := uploadFile(t, router, token, "hello.txt", "hello world")
	assert.Equal(t, "hello.txt", node.Name)
	assert.Equal(t, uint64(11), node.Size)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/files", token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []*store.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)

	rec = doRequest(t, router, http.MethodGet, "/api/v1/files/"+node.ID+"/content", token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello world", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
}

func TestRangeRequests(t *testing.T) {
	router := newTestRouter(t)
	token := signToken(t, "alice", "Alice")
	node := uploadFile(t, router, token, "hello.txt", "hello world")
	path := "/api/v1/files/" + node.ID + "/content"

	// Explicit range.
	rec := doRequest(t, router, http.MethodGet, path, token, nil, http.Header{"Range": []string{"bytes=6-10"}})
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "world", rec.Body.String())
	assert.Equal(t, "bytes 6-10/11", rec.Header().Get("Content-Range"))

	// Suffix range.
	rec = doRequest(t, router, http.MethodGet, path, token, nil, http.Header{"Range": []string{"bytes=-5"}})
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "world", rec.Body.String())

	// Open-ended range clamps to the file end.
	rec = doRequest(t, router, http.MethodGet, path, token, nil, http.Header{"Range": []string{"bytes=6-"}})
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "world", rec.Body.String())

	// Start past the end is unsatisfiable.
	rec = doRequest(t, router, http.MethodGet, path, token, nil, http.Header{"Range": []string{"bytes=100-"}})
	require.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	assert.Equal(t, "bytes */11", rec.Header().Get("Content-Range"))
}

func TestForeignNodeIsForbidden(t *testing.T) {
	router := newTestRouter(t)
	alice := signToken(t, "alice", "Alice")
	bob := signToken(t, "bob", "Bob")

	node := uploadFile(t, router, alice, "private.txt", "secret")

	rec := doRequest(t, router, http.MethodGet, "/api/v1/files/"+node.ID, bob, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRenameConflict(t *testing.T) {
	router := newTestRouter(t)
	token := signToken(t, "alice", "Alice")

	uploadFile(t, router, token, "a.txt", "x")
	b := uploadFile(t, router, token, "b.txt", "y")

	body := bytes.NewReader([]byte(`{"name":"a.txt"}`))
	rec := doRequest(t, router, http.MethodPatch, "/api/v1/files/"+b.ID+"/rename", token, body, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPublicLinkDownload(t *testing.T) {
	router := newTestRouter(t)
	token := signToken(t, "alice", "Alice")
	node := uploadFile(t, router, token, "pub.txt", "published")

	rec := doRequest(t, router, http.MethodPost, "/api/v1/files/"+node.ID+"/links", token,
		bytes.NewReader([]byte(`{}`)), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var link store.PublicLink
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &link))

	// No Authorization header at all.
	rec = doRequest(t, router, http.MethodGet, "/public/"+link.Slug, "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "published", rec.Body.String())

	rec = doRequest(t, router, http.MethodGet, "/public/does-not-exist", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTaskLifecycle(t *testing.T) {
	router := newTestRouter(t)
	token := signToken(t, "alice", "Alice")

	payload := `{
		"name": "nightly",
		"cron": "0 3 * * *",
		"host": "files.example.com",
		"username": "backup",
		"password": "hunter2",
		"sftp_path": "/srv/data"
	}`
	rec := doRequest(t, router, http.MethodPost, "/api/v1/tasks", token, bytes.NewReader([]byte(payload)), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Credentials never leave the server.
	assert.NotContains(t, rec.Body.String(), "hunter2")

	var task store.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	assert.Equal(t, "nightly", task.Name)

	rec = doRequest(t, router, http.MethodGet, "/api/v1/tasks", token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tasks []*store.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	require.Len(t, tasks, 1)

	// Another user sees nothing.
	bob := signToken(t, "bob", "Bob")
	rec = doRequest(t, router, http.MethodGet, "/api/v1/tasks/"+task.ID, bob, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Run and progress are rejected while the backup service is disabled.
	rec = doRequest(t, router, http.MethodPost, fmt.Sprintf("/api/v1/tasks/%s/run", task.ID), token, nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = doRequest(t, router, http.MethodGet, fmt.Sprintf("/api/v1/tasks/%s/progress", task.ID), token, nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doRequest(t, router, http.MethodDelete, "/api/v1/tasks/"+task.ID, token, nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestTaskValidation(t *testing.T) {
	router := newTestRouter(t)
	token := signToken(t, "alice", "Alice")

	rec := doRequest(t, router, http.MethodPost, "/api/v1/tasks", token,
		bytes.NewReader([]byte(`{"name":"bad","cron":"not a cron","host":"h","username":"u","password":"p","sftp_path":"/x"}`)), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/v1/tasks", token,
		bytes.NewReader([]byte(`{"name":"bad","host":"h","username":"u","sftp_path":"/x"}`)), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownloadDisposition(t *testing.T) {
	router := newTestRouter(t)
	token := signToken(t, "alice", "Alice")
	node := uploadFile(t, router, token, "view.txt", "look at me")
	path := "/api/v1/files/" + node.ID + "/content"

	rec := doRequest(t, router, http.MethodGet, path, token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="view.txt"`, rec.Header().Get("Content-Disposition"))

	rec = doRequest(t, router, http.MethodGet, path+"?inline=true", token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `inline; filename="view.txt"`, rec.Header().Get("Content-Disposition"))
}

func TestWriteDriveErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		detail string
	}{
		{drive.ErrPermissionDenied, http.StatusForbidden, "access"},
		{store.ErrNodeNotFound, http.StatusNotFound, "not found"},
		{namespace.ErrNameConflict, http.StatusConflict, "name"},
		{chunks.ErrDecrypt, http.StatusInternalServerError, "Failed to decrypt"},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError, "Internal error"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeDriveError(rec, tc.err)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
		assert.Contains(t, rec.Body.String(), tc.detail, tc.err.Error())
	}
}

func TestNewServerRequiresJWTSecret(t *testing.T) {
	_, err := NewServer(config.APIConfig{Port: 8080}, Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")

	srv, err := NewServer(config.APIConfig{Port: 8080}, Deps{
		Auth: config.AuthConfig{JWTSecret: testSecret},
	})
	require.NoError(t, err)
	assert.NotNil(t, srv)
}

func TestParseRangeHeader(t *testing.T) {
	cases := []struct {
		header     string
		size       uint64
		start, end int64
		ok         bool
		wantErr    bool
	}{
		{"", 100, 0, 0, false, false},
		{"bytes=0-49", 100, 0, 49, true, false},
		{"bytes=50-", 100, 50, 99, true, false},
		{"bytes=-10", 100, 90, 99, true, false},
		{"bytes=-200", 100, 0, 99, true, false},
		{"bytes=0-10,20-30", 100, 0, 0, false, false},
		{"bytes=abc", 100, 0, 0, false, true},
	}
	for _, tc := range cases {
		start, end, ok, err := parseRangeHeader(tc.header, tc.size)
		if tc.wantErr {
			assert.Error(t, err, tc.header)
			continue
		}
		require.NoError(t, err, tc.header)
		assert.Equal(t, tc.ok, ok, tc.header)
		if ok {
			assert.Equal(t, tc.start, start, tc.header)
			assert.Equal(t, tc.end, end, tc.header)
		}
	}
}
