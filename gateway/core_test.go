package gateway_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/OrchardMediaLabs/orchard/broker"
	"github.com/OrchardMediaLabs/orchard/config"
	"github.com/OrchardMediaLabs/orchard/gateway"
	"github.com/OrchardMediaLabs/orchard/models"
	"github.com/OrchardMediaLabs/orchard/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRemote counts every provider call so tests can assert that
// rejected requests never reach the provider at all.
type mockRemote struct {
	mu    sync.Mutex
	calls map[string]int

	assets          []models.Asset
	folders         []models.Folder
	pingErr         error
	listAssetsErr   error
	deleteFolderErr error
	uploadErr       map[string]error
	deletedCount    int
}

func newMockRemote() *mockRemote {
	return &mockRemote{
		calls:     make(map[string]int),
		uploadErr: make(map[string]error),
	}
}

func (m *mockRemote) count(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
}

func (m *mockRemote) callCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *mockRemote) totalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

func (m *mockRemote) Ping(_ context.Context, _ remote.Credentials) error {
	m.count("ping")
	return m.pingErr
}

func (m *mockRemote) ListAssets(_ context.Context, _ remote.Credentials, _ string) ([]models.Asset, error) {
	m.count("list assets")
	return m.assets, m.listAssetsErr
}

func (m *mockRemote) ListFolders(_ context.Context, _ remote.Credentials, _ string) ([]models.Folder, error) {
	m.count("list folders")
	return m.folders, nil
}

func (m *mockRemote) CreateFolder(_ context.Context, _ remote.Credentials, path string) (models.Folder, error) {
	m.count("create folder")
	return models.Folder{Name: path, Path: path}, nil
}

func (m *mockRemote) RenameFolder(_ context.Context, _ remote.Credentials, _, _ string) error {
	m.count("rename folder")
	return nil
}

func (m *mockRemote) DeleteFolder(_ context.Context, _ remote.Credentials, _ string) error {
	m.count("delete folder")
	return m.deleteFolderErr
}

func (m *mockRemote) Upload(_ context.Context, _ remote.Credentials, folder, filename string, r io.Reader) (models.Asset, error) {
	m.count("upload")
	if _, err := io.Copy(io.Discard, r); err != nil {
		return models.Asset{}, err
	}
	m.mu.Lock()
	err := m.uploadErr[filename]
	m.mu.Unlock()
	if err != nil {
		return models.Asset{}, err
	}
	return models.Asset{
		PublicID:  folder + "/" + filename,
		SecureURL: "https://cdn.example.com/" + folder + "/" + filename,
		Format:    "png",
	}, nil
}

func (m *mockRemote) RenameAsset(_ context.Context, _ remote.Credentials, _, to string) (models.Asset, error) {
	m.count("rename asset")
	return models.Asset{PublicID: to}, nil
}

func (m *mockRemote) DeleteAsset(_ context.Context, _ remote.Credentials, _ string) error {
	m.count("delete asset")
	return nil
}

func (m *mockRemote) DeleteAssets(_ context.Context, _ remote.Credentials, publicIDs []string) (int, error) {
	m.count("batch delete assets")
	if m.deletedCount > 0 {
		return m.deletedCount, nil
	}
	return len(publicIDs), nil
}

func newTestCore(t *testing.T, mock *mockRemote, mutate func(cfg *config.Config)) (http.Handler, *broker.MemStore) {
	t.Helper()

	cfg := config.GenerateConfig()
	if mutate != nil {
		mutate(cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := broker.New(logger, cfg.Sessions.TTL, cfg.Sessions.MaxEntries)
	t.Cleanup(sessions.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	core := gateway.New(ctx, logger, cfg, sessions, mock)
	return core.Handler(), sessions
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func mintSession(t *testing.T, handler http.Handler) string {
	t.Helper()

	rec := postJSON(t, handler, "/media/api/v1/sessions", models.CreateSessionRequest{
		CloudName: "demo",
		APIKey:    "key-abc",
		APISecret: "secret-xyz",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeResponse[models.CreateSessionResponse](t, rec)
	require.NotEmpty(t, resp.SessionID)
	return resp.SessionID
}

func TestCreateSessionResponseIsOpaque(t *testing.T) {
	mock := newMockRemote()
	handler, _ := newTestCore(t, mock, nil)

	rec := postJSON(t, handler, "/media/api/v1/sessions", models.CreateSessionRequest{
		CloudName: "demo",
		APIKey:    "key-abc",
		APISecret: "secret-xyz",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.NotContains(t, body, "secret-xyz")
	assert.NotContains(t, body, "key-abc")
	assert.NotContains(t, body, "demo")

	// Lazy validation by default: minting must not touch the provider.
	assert.Equal(t, 0, mock.totalCalls())
}

func TestCreateSessionMissingCredentials(t *testing.T) {
	mock := newMockRemote()
	handler, sessions := newTestCore(t, mock, nil)

	rec := postJSON(t, handler, "/media/api/v1/sessions", models.CreateSessionRequest{
		CloudName: "demo",
		APIKey:    "key-abc",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decodeResponse[models.ErrorResponse](t, rec)
	assert.Equal(t, models.ErrorTypeMissingCredentials, resp.ErrorType)
	assert.Equal(t, 0, sessions.Len())
}

func TestCreateSessionEagerValidation(t *testing.T) {
	mock := newMockRemote()
	mock.pingErr = &remote.ErrOperationFailed{Op: "ping", StatusCode: 401, Message: "invalid credentials"}

	handler, sessions := newTestCore(t, mock, func(cfg *config.Config) {
		cfg.Sessions.ValidateOnCreate = true
	})

	rec := postJSON(t, handler, "/media/api/v1/sessions", models.CreateSessionRequest{
		CloudName: "demo",
		APIKey:    "key-abc",
		APISecret: "bad-secret",
	})
	require.Equal(t, http.StatusBadGateway, rec.Code)

	resp := decodeResponse[models.ErrorResponse](t, rec)
	assert.Equal(t, models.ErrorTypeRemoteOperationFailed, resp.ErrorType)
	assert.Equal(t, 1, mock.callCount("ping"))
	assert.Equal(t, 0, sessions.Len())
}

func TestInvalidSessionNeverReachesProvider(t *testing.T) {
	mock := newMockRemote()
	handler, _ := newTestCore(t, mock, nil)

	paths := map[string]any{
		"/media/api/v1/assets/list":   models.ListAssetsRequest{SessionID: "bogus"},
		"/media/api/v1/folders/list":  models.ListFoldersRequest{SessionID: "bogus"},
		"/media/api/v1/assets/delete": models.DeleteAssetRequest{SessionID: "bogus", PublicID: "x"},
		"/media/api/v1/folders":       models.CreateFolderRequest{SessionID: "bogus", FolderPath: "x"},
	}

	for path, payload := range paths {
		rec := postJSON(t, handler, path, payload)
		require.Equal(t, http.StatusUnauthorized, rec.Code, path)
		resp := decodeResponse[models.ErrorResponse](t, rec)
		assert.Equal(t, models.ErrorTypeInvalidSession, resp.ErrorType, path)
	}

	assert.Equal(t, 0, mock.totalCalls())
}

func TestMissingParameterShortCircuits(t *testing.T) {
	mock := newMockRemote()
	handler, _ := newTestCore(t, mock, nil)

	// Parameter validation runs before session resolution; an invalid
	// session with missing parameters must yield the parameter error.
	cases := []struct {
		path    string
		payload any
	}{
		{"/media/api/v1/assets/rename", models.RenameAssetRequest{SessionID: "bogus", CurrentPublicID: "a"}},
		{"/media/api/v1/assets/delete", models.DeleteAssetRequest{SessionID: "bogus"}},
		{"/media/api/v1/assets/delete-batch", models.BatchDeleteAssetsRequest{SessionID: "bogus", PublicIDs: []string{}}},
		{"/media/api/v1/folders", models.CreateFolderRequest{SessionID: "bogus"}},
		{"/media/api/v1/folders/rename", models.RenameFolderRequest{SessionID: "bogus", NewFolderPath: "b"}},
		{"/media/api/v1/folders/delete", models.DeleteFolderRequest{SessionID: "bogus"}},
	}

	for _, tc := range cases {
		rec := postJSON(t, handler, tc.path, tc.payload)
		require.Equal(t, http.StatusBadRequest, rec.Code, tc.path)
		resp := decodeResponse[models.ErrorResponse](t, rec)
		assert.Equal(t, models.ErrorTypeMissingParameter, resp.ErrorType, tc.path)
	}

	assert.Equal(t, 0, mock.totalCalls())
}

func TestListAssetsRootExcludesFolderedAssets(t *testing.T) {
	mock := newMockRemote()
	mock.assets = []models.Asset{
		{PublicID: "loose-one"},
		{PublicID: "holiday/beach"},
		{PublicID: "loose-two"},
		{PublicID: "holiday/2024/sunset"},
	}
	handler, _ := newTestCore(t, mock, nil)
	sessionID := mintSession(t, handler)

	rec := postJSON(t, handler, "/media/api/v1/assets/list", models.ListAssetsRequest{SessionID: sessionID})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse[models.ListAssetsResponse](t, rec)
	require.Len(t, resp.Assets, 2)
	assert.Equal(t, "loose-one", resp.Assets[0].PublicID)
	assert.Equal(t, "loose-two", resp.Assets[1].PublicID)
}

func TestListAssetsFolderScoping(t *testing.T) {
	mock := newMockRemote()
	mock.assets = []models.Asset{
		{PublicID: "holiday/beach"},
		{PublicID: "holiday/2024/sunset"},
		{PublicID: "holidays-other/thing"},
	}
	handler, _ := newTestCore(t, mock, nil)
	sessionID := mintSession(t, handler)

	rec := postJSON(t, handler, "/media/api/v1/assets/list", models.ListAssetsRequest{
		SessionID: sessionID,
		Folder:    "holiday",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse[models.ListAssetsResponse](t, rec)
	require.Len(t, resp.Assets, 2)
	for _, asset := range resp.Assets {
		assert.Contains(t, asset.PublicID, "holiday/")
	}
}

func TestRevokedSessionStopsWorking(t *testing.T) {
	mock := newMockRemote()
	handler, _ := newTestCore(t, mock, nil)
	sessionID := mintSession(t, handler)

	rec := postJSON(t, handler, "/media/api/v1/sessions/revoke", models.RevokeSessionRequest{SessionID: sessionID})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, handler, "/media/api/v1/assets/list", models.ListAssetsRequest{SessionID: sessionID})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, mock.callCount("list assets"))
}

func TestDeleteFolderFailurePassesThrough(t *testing.T) {
	mock := newMockRemote()
	mock.deleteFolderErr = &remote.ErrOperationFailed{
		Op:         "delete folder",
		StatusCode: 400,
		Message:    "folder is not empty",
	}
	handler, _ := newTestCore(t, mock, nil)
	sessionID := mintSession(t, handler)

	rec := postJSON(t, handler, "/media/api/v1/folders/delete", models.DeleteFolderRequest{
		SessionID:  sessionID,
		FolderPath: "holiday",
	})
	require.Equal(t, http.StatusBadGateway, rec.Code)

	resp := decodeResponse[models.ErrorResponse](t, rec)
	assert.Equal(t, models.ErrorTypeRemoteOperationFailed, resp.ErrorType)
	assert.Equal(t, "folder is not empty", resp.Error)
}

func TestRemoteTimeoutMapping(t *testing.T) {
	mock := newMockRemote()
	mock.listAssetsErr = &remote.ErrTimeout{Op: "list assets"}
	handler, _ := newTestCore(t, mock, nil)
	sessionID := mintSession(t, handler)

	rec := postJSON(t, handler, "/media/api/v1/assets/list", models.ListAssetsRequest{SessionID: sessionID})
	require.Equal(t, http.StatusGatewayTimeout, rec.Code)

	resp := decodeResponse[models.ErrorResponse](t, rec)
	assert.Equal(t, models.ErrorTypeRemoteTimeout, resp.ErrorType)
}

func TestTransportFailureHidesDetail(t *testing.T) {
	mock := newMockRemote()
	mock.listAssetsErr = &remote.ErrTransport{Op: "list assets", Err: fmt.Errorf("dial tcp 10.0.0.1:443: connect: connection refused")}
	handler, _ := newTestCore(t, mock, nil)
	sessionID := mintSession(t, handler)

	rec := postJSON(t, handler, "/media/api/v1/assets/list", models.ListAssetsRequest{SessionID: sessionID})
	require.Equal(t, http.StatusBadGateway, rec.Code)

	resp := decodeResponse[models.ErrorResponse](t, rec)
	assert.Equal(t, models.ErrorTypeTransportFailure, resp.ErrorType)
	assert.NotContains(t, resp.Error, "10.0.0.1")
}

func uploadRequest(t *testing.T, sessionID, folder string, files map[string][]byte) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("sessionId", sessionID))
	if folder != "" {
		require.NoError(t, writer.WriteField("folder", folder))
	}
	for name, content := range files {
		part, err := writer.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/media/api/v1/assets/upload", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestUploadFansOutPerFile(t *testing.T) {
	mock := newMockRemote()
	handler, _ := newTestCore(t, mock, nil)
	sessionID := mintSession(t, handler)

	req := uploadRequest(t, sessionID, "holiday", map[string][]byte{
		"a.png": []byte("aaa"),
		"b.png": []byte("bbb"),
		"c.png": []byte("ccc"),
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeResponse[models.UploadResponse](t, rec)
	assert.True(t, resp.Success)
	require.Len(t, resp.Files, 3)
	for _, result := range resp.Files {
		assert.True(t, result.Success, result.Name)
		assert.NotEmpty(t, result.PublicID)
	}
	assert.Equal(t, 3, mock.callCount("upload"))
}

func TestUploadPartialFailureReportsEveryFile(t *testing.T) {
	mock := newMockRemote()
	mock.uploadErr["bad.png"] = &remote.ErrOperationFailed{Op: "upload", StatusCode: 400, Message: "unsupported format"}
	handler, _ := newTestCore(t, mock, nil)
	sessionID := mintSession(t, handler)

	req := uploadRequest(t, sessionID, "", map[string][]byte{
		"good.png": []byte("good"),
		"bad.png":  []byte("bad"),
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse[models.UploadResponse](t, rec)
	assert.False(t, resp.Success)
	require.Len(t, resp.Files, 2)

	byName := make(map[string]models.UploadFileResult)
	for _, result := range resp.Files {
		byName[result.Name] = result
	}
	assert.True(t, byName["good.png"].Success)
	assert.False(t, byName["bad.png"].Success)
	assert.Contains(t, byName["bad.png"].Error, "unsupported format")
}

func TestUploadCapsEnforcedBeforeProvider(t *testing.T) {
	mock := newMockRemote()
	handler, _ := newTestCore(t, mock, func(cfg *config.Config) {
		cfg.Upload.MaxFiles = 2
		cfg.Upload.MaxFileBytes = 8
	})
	sessionID := mintSession(t, handler)

	t.Run("too many files", func(t *testing.T) {
		req := uploadRequest(t, sessionID, "", map[string][]byte{
			"a.png": []byte("a"),
			"b.png": []byte("b"),
			"c.png": []byte("c"),
		})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, 0, mock.callCount("upload"))
	})

	t.Run("file too large", func(t *testing.T) {
		req := uploadRequest(t, sessionID, "", map[string][]byte{
			"big.png": bytes.Repeat([]byte("x"), 64),
		})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, 0, mock.callCount("upload"))
	})
}

func TestUploadDefaultFolder(t *testing.T) {
	mock := newMockRemote()
	handler, _ := newTestCore(t, mock, func(cfg *config.Config) {
		cfg.Upload.DefaultFolder = "inbox"
	})
	sessionID := mintSession(t, handler)

	req := uploadRequest(t, sessionID, "", map[string][]byte{"a.png": []byte("a")})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse[models.UploadResponse](t, rec)
	require.Len(t, resp.Files, 1)
	assert.Equal(t, "inbox/a.png", resp.Files[0].PublicID)
}

func TestBatchDelete(t *testing.T) {
	mock := newMockRemote()
	mock.deletedCount = 2
	handler, _ := newTestCore(t, mock, nil)
	sessionID := mintSession(t, handler)

	rec := postJSON(t, handler, "/media/api/v1/assets/delete-batch", models.BatchDeleteAssetsRequest{
		SessionID: sessionID,
		PublicIDs: []string{"a", "b", "gone-already"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse[models.BatchDeleteAssetsResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.Deleted)
	assert.Equal(t, 1, mock.callCount("batch delete assets"))
}

func TestPing(t *testing.T) {
	mock := newMockRemote()
	handler, _ := newTestCore(t, mock, nil)

	req := httptest.NewRequest(http.MethodGet, "/media/api/v1/ping", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse[map[string]string](t, rec)
	assert.Equal(t, "ok", resp["status"])
}
