/*
Package client is the Go API client for the orchard proxy. It speaks the
proxy surface only: the credential triple is sent once to mint a session
and every media call afterwards carries just the opaque session id.
*/
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/OrchardMediaLabs/orchard/models"
	"github.com/gorilla/websocket"
)

const (
	defaultTimeout = 60 * time.Second
	apiPrefix      = "media/api/v1"
)

var (
	ErrInvalidSession = errors.New("invalid or expired session")
)

// APIError is a non-2xx answer from the proxy, carrying the wire
// taxonomy so callers can branch on ErrorType.
type APIError struct {
	StatusCode int
	ErrorType  string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error (status %d): %s - %s", e.StatusCode, e.ErrorType, e.Message)
}

type Config struct {
	// Address of the proxy, e.g. "https://media.example.com:7440".
	Address    string
	SkipVerify bool
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Client is the API client for the orchard proxy service.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(cfg *Config) (*Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("address cannot be empty")
	}

	clientLogger := cfg.Logger.WithGroup("orchard_client")

	baseURL, err := url.Parse(cfg.Address)
	if err != nil {
		clientLogger.Error("Failed to parse base URL", "url", cfg.Address, "error", err)
		return nil, fmt.Errorf("failed to parse base URL '%s': %w", cfg.Address, err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("address must be an http or https URL, got '%s'", cfg.Address)
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.SkipVerify,
		},
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		logger: clientLogger,
	}, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, target any) error {
	reqURL := c.baseURL.JoinPath(path)

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "method", method, "url", reqURL.String(), "error", err)
		return fmt.Errorf("failed to execute request for %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.asAPIError(resp, method, path)
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("failed to decode response body for %s %s: %w", method, path, err)
		}
	}
	c.logger.Debug("Request successful", "method", method, "path", path, "status_code", resp.StatusCode)
	return nil
}

func (c *Client) asAPIError(resp *http.Response, method, path string) error {
	c.logger.Warn("Received non-2xx status code", "method", method, "path", path, "status_code", resp.StatusCode)

	var errorResp models.ErrorResponse
	bodyBytes, readErr := io.ReadAll(resp.Body)
	if readErr == nil && json.Unmarshal(bodyBytes, &errorResp) == nil && errorResp.Error != "" {
		if errorResp.ErrorType == models.ErrorTypeInvalidSession {
			return ErrInvalidSession
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			ErrorType:  errorResp.ErrorType,
			Message:    errorResp.Error,
		}
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(bodyBytes)),
	}
}

// --- Session Operations ---

// CreateSession exchanges the credential triple for an opaque session id.
// The credentials are not retained by the client.
func (c *Client) CreateSession(ctx context.Context, cloudName, apiKey, apiSecret string) (string, error) {
	if cloudName == "" || apiKey == "" || apiSecret == "" {
		return "", fmt.Errorf("cloudName, apiKey, and apiSecret are all required")
	}
	payload := models.CreateSessionRequest{
		CloudName: cloudName,
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	var response models.CreateSessionResponse
	if err := c.doRequest(ctx, http.MethodPost, apiPrefix+"/sessions", payload, &response); err != nil {
		return "", err
	}
	return response.SessionID, nil
}

func (c *Client) RevokeSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("sessionId cannot be empty")
	}
	payload := models.RevokeSessionRequest{SessionID: sessionID}
	return c.doRequest(ctx, http.MethodPost, apiPrefix+"/sessions/revoke", payload, nil)
}

// --- Asset Operations ---

func (c *Client) ListAssets(ctx context.Context, sessionID, folder string) ([]models.Asset, error) {
	payload := models.ListAssetsRequest{SessionID: sessionID, Folder: folder}
	var response models.ListAssetsResponse
	if err := c.doRequest(ctx, http.MethodPost, apiPrefix+"/assets/list", payload, &response); err != nil {
		return nil, err
	}
	return response.Assets, nil
}

func (c *Client) RenameAsset(ctx context.Context, sessionID, fromPublicID, toPublicID string) (*models.Asset, error) {
	payload := models.RenameAssetRequest{
		SessionID:       sessionID,
		CurrentPublicID: fromPublicID,
		NewPublicID:     toPublicID,
	}
	var response models.RenameAssetResponse
	if err := c.doRequest(ctx, http.MethodPost, apiPrefix+"/assets/rename", payload, &response); err != nil {
		return nil, err
	}
	return &response.Asset, nil
}

func (c *Client) DeleteAsset(ctx context.Context, sessionID, publicID string) error {
	payload := models.DeleteAssetRequest{SessionID: sessionID, PublicID: publicID}
	return c.doRequest(ctx, http.MethodPost, apiPrefix+"/assets/delete", payload, nil)
}

// DeleteAssets removes a batch of assets and reports how many the
// provider acknowledged as deleted.
func (c *Client) DeleteAssets(ctx context.Context, sessionID string, publicIDs []string) (int, error) {
	payload := models.BatchDeleteAssetsRequest{SessionID: sessionID, PublicIDs: publicIDs}
	var response models.BatchDeleteAssetsResponse
	if err := c.doRequest(ctx, http.MethodPost, apiPrefix+"/assets/delete-batch", payload, &response); err != nil {
		return 0, err
	}
	return response.Deleted, nil
}

// UploadFile is one named stream handed to Upload.
type UploadFile struct {
	Name   string
	Reader io.Reader
}

// Upload streams the given files to the proxy in one multipart request.
// The response carries a per-file outcome; Success is only true when
// every file made it.
func (c *Client) Upload(ctx context.Context, sessionID, folder string, files []UploadFile) (*models.UploadResponse, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("at least one file is required")
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("sessionId", sessionID); err != nil {
		return nil, fmt.Errorf("failed to write sessionId field: %w", err)
	}
	if folder != "" {
		if err := writer.WriteField("folder", folder); err != nil {
			return nil, fmt.Errorf("failed to write folder field: %w", err)
		}
	}
	for _, file := range files {
		part, err := writer.CreateFormFile("files", file.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to create form file for %s: %w", file.Name, err)
		}
		if _, err := io.Copy(part, file.Reader); err != nil {
			return nil, fmt.Errorf("failed to copy file %s: %w", file.Name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	reqURL := c.baseURL.JoinPath(apiPrefix + "/assets/upload")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.asAPIError(resp, http.MethodPost, apiPrefix+"/assets/upload")
	}

	var response models.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	return &response, nil
}

// --- Folder Operations ---

func (c *Client) ListFolders(ctx context.Context, sessionID string) ([]models.Folder, error) {
	payload := models.ListFoldersRequest{SessionID: sessionID}
	var response models.ListFoldersResponse
	if err := c.doRequest(ctx, http.MethodPost, apiPrefix+"/folders/list", payload, &response); err != nil {
		return nil, err
	}
	return response.Folders, nil
}

func (c *Client) CreateFolder(ctx context.Context, sessionID, folderPath string) (*models.Folder, error) {
	payload := models.CreateFolderRequest{SessionID: sessionID, FolderPath: folderPath}
	var response models.CreateFolderResponse
	if err := c.doRequest(ctx, http.MethodPost, apiPrefix+"/folders", payload, &response); err != nil {
		return nil, err
	}
	return &response.Folder, nil
}

func (c *Client) RenameFolder(ctx context.Context, sessionID, fromPath, toPath string) error {
	payload := models.RenameFolderRequest{
		SessionID:         sessionID,
		CurrentFolderPath: fromPath,
		NewFolderPath:     toPath,
	}
	return c.doRequest(ctx, http.MethodPost, apiPrefix+"/folders/rename", payload, nil)
}

func (c *Client) DeleteFolder(ctx context.Context, sessionID, folderPath string) error {
	payload := models.DeleteFolderRequest{SessionID: sessionID, FolderPath: folderPath}
	return c.doRequest(ctx, http.MethodPost, apiPrefix+"/folders/delete", payload, nil)
}

// --- Liveness ---

func (c *Client) Ping(ctx context.Context) (map[string]string, error) {
	var response map[string]string
	if err := c.doRequest(ctx, http.MethodGet, apiPrefix+"/ping", nil, &response); err != nil {
		return nil, err
	}
	return response, nil
}

// --- Events ---

// SubscribeToEvents connects to the audit-event feed for a topic and
// invokes onEvent for each event until the context is cancelled or the
// connection drops.
func (c *Client) SubscribeToEvents(ctx context.Context, sessionID, topic string, onEvent func(event models.Event)) error {
	if sessionID == "" {
		return fmt.Errorf("sessionId cannot be empty")
	}
	if topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}

	wsURL := *c.baseURL
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = "/" + apiPrefix + "/events/subscribe"
	query := wsURL.Query()
	query.Set("sessionId", sessionID)
	query.Set("topic", topic)
	wsURL.RawQuery = query.Encode()

	dialer := websocket.Dialer{
		TLSClientConfig: c.httpClient.Transport.(*http.Transport).TLSClientConfig,
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return fmt.Errorf("failed to connect to event feed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to connect to event feed: %w", err)
	}
	defer conn.Close()

	c.logger.Info("Subscribed to event feed", "topic", topic)

	// Unblock ReadMessage when the caller cancels.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("Event feed closed", "topic", topic)
				return nil
			}
			return fmt.Errorf("event feed read error: %w", err)
		}

		var event models.Event
		if err := json.Unmarshal(message, &event); err != nil {
			c.logger.Warn("Could not decode event, skipping", "topic", topic, "error", err)
			continue
		}
		onEvent(event)
	}
}
