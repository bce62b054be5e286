package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/OrchardMediaLabs/orchard/client"
	"github.com/OrchardMediaLabs/orchard/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *client.Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cli, err := client.NewClient(&client.Config{
		Address: srv.URL,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return cli
}

func TestNewClientValidation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := client.NewClient(&client.Config{Address: "", Logger: logger})
	require.Error(t, err)

	_, err = client.NewClient(&client.Config{Address: "ftp://example.com", Logger: logger})
	require.Error(t, err)
}

func TestCreateSession(t *testing.T) {
	cli := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/media/api/v1/sessions", r.URL.Path)

		var req models.CreateSessionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "demo", req.CloudName)
		assert.Equal(t, "key-abc", req.APIKey)
		assert.Equal(t, "secret-xyz", req.APISecret)

		json.NewEncoder(w).Encode(models.CreateSessionResponse{SessionID: "session-1"})
	}))

	sessionID, err := cli.CreateSession(context.Background(), "demo", "key-abc", "secret-xyz")
	require.NoError(t, err)
	assert.Equal(t, "session-1", sessionID)
}

func TestCreateSessionRequiresTriple(t *testing.T) {
	cli := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("server must not be reached with an incomplete triple")
	}))

	_, err := cli.CreateSession(context.Background(), "demo", "", "secret")
	require.Error(t, err)
}

func TestInvalidSessionSentinel(t *testing.T) {
	cli := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(models.ErrorResponse{
			Error:     "invalid or expired session",
			ErrorType: models.ErrorTypeInvalidSession,
		})
	}))

	_, err := cli.ListAssets(context.Background(), "stale", "")
	require.ErrorIs(t, err, client.ErrInvalidSession)
}

func TestAPIErrorCarriesTaxonomy(t *testing.T) {
	cli := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(models.ErrorResponse{
			Error:     "folder is not empty",
			ErrorType: models.ErrorTypeRemoteOperationFailed,
		})
	}))

	err := cli.DeleteFolder(context.Background(), "session-1", "holiday")
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, models.ErrorTypeRemoteOperationFailed, apiErr.ErrorType)
	assert.Equal(t, "folder is not empty", apiErr.Message)
}

func TestRenameAssetPayload(t *testing.T) {
	cli := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/media/api/v1/assets/rename", r.URL.Path)

		var req models.RenameAssetRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "session-1", req.SessionID)
		assert.Equal(t, "old", req.CurrentPublicID)
		assert.Equal(t, "new", req.NewPublicID)

		json.NewEncoder(w).Encode(models.RenameAssetResponse{
			Success: true,
			Asset:   models.Asset{PublicID: "new"},
		})
	}))

	asset, err := cli.RenameAsset(context.Background(), "session-1", "old", "new")
	require.NoError(t, err)
	assert.Equal(t, "new", asset.PublicID)
}

func TestBatchDelete(t *testing.T) {
	cli := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/media/api/v1/assets/delete-batch", r.URL.Path)

		var req models.BatchDeleteAssetsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"a", "b"}, req.PublicIDs)

		json.NewEncoder(w).Encode(models.BatchDeleteAssetsResponse{Success: true, Deleted: 2})
	}))

	deleted, err := cli.DeleteAssets(context.Background(), "session-1", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
}

func TestUploadMultipart(t *testing.T) {
	cli := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/media/api/v1/assets/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "session-1", r.FormValue("sessionId"))
		assert.Equal(t, "holiday", r.FormValue("folder"))

		files := r.MultipartForm.File["files"]
		require.Len(t, files, 2)
		assert.Equal(t, "a.png", files[0].Filename)
		assert.Equal(t, "b.png", files[1].Filename)

		json.NewEncoder(w).Encode(models.UploadResponse{
			Success: true,
			Files: []models.UploadFileResult{
				{Name: "a.png", Success: true, PublicID: "holiday/a"},
				{Name: "b.png", Success: true, PublicID: "holiday/b"},
			},
		})
	}))

	resp, err := cli.Upload(context.Background(), "session-1", "holiday", []client.UploadFile{
		{Name: "a.png", Reader: strings.NewReader("aaa")},
		{Name: "b.png", Reader: strings.NewReader("bbb")},
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	require.Len(t, resp.Files, 2)
}

func TestListFolders(t *testing.T) {
	cli := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/media/api/v1/folders/list", r.URL.Path)
		json.NewEncoder(w).Encode(models.ListFoldersResponse{
			Folders: []models.Folder{{Name: "holiday", Path: "holiday"}},
		})
	}))

	folders, err := cli.ListFolders(context.Background(), "session-1")
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, "holiday", folders[0].Path)
}

func TestPing(t *testing.T) {
	cli := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/media/api/v1/ping", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))

	resp, err := cli.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp["status"])
}
