package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/OrchardMediaLabs/orchard/models"
	"github.com/pkg/errors"
)

const (
	defaultAPIBase = "https://api.cloudinary.com"
	defaultTimeout = 30 * time.Second

	listMaxResults = "500"
)

type Config struct {
	// APIBase overrides the provider endpoint, mainly for tests.
	APIBase string
	Timeout time.Duration
	Logger  *slog.Logger
}

// HTTPGateway talks to the provider's REST surface. All calls
// authenticate with the per-call credential triple via basic auth; the
// gateway itself holds no account state.
type HTTPGateway struct {
	base       *url.URL
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Gateway = &HTTPGateway{}

func NewHTTPGateway(cfg Config) (*HTTPGateway, error) {
	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	base, err := url.Parse(apiBase)
	if err != nil {
		return nil, fmt.Errorf("failed to parse provider base URL '%s': %w", apiBase, err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPGateway{
		base: base,
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger.WithGroup("remote"),
	}, nil
}

// providerError is the provider's error body shape.
type providerError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (g *HTTPGateway) accountPath(creds Credentials, parts ...string) string {
	segs := append([]string{"v1_1", creds.CloudName}, parts...)
	return "/" + strings.Join(segs, "/")
}

// doRequest executes one provider call and decodes the JSON response
// into target. Errors are folded into the package taxonomy: deadline
// expiry becomes *ErrTimeout, anything below HTTP becomes
// *ErrTransport, and a provider-reported failure becomes
// *ErrOperationFailed carrying the provider's message.
func (g *HTTPGateway) doRequest(ctx context.Context, creds Credentials, op, method, path string, query url.Values, form url.Values, target any) error {
	reqURL := g.base.ResolveReference(&url.URL{Path: path})
	if len(query) > 0 {
		reqURL.RawQuery = query.Encode()
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), body)
	if err != nil {
		return &ErrTransport{Op: op, Err: err}
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.SetBasicAuth(creds.APIKey, creds.APISecret)

	g.logger.Debug("provider request", "op", op, "method", method, "path", path)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &ErrTimeout{Op: op}
		}
		return &ErrTransport{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		var perr providerError
		message := strings.TrimSpace(string(bodyBytes))
		if jsonErr := json.Unmarshal(bodyBytes, &perr); jsonErr == nil && perr.Error.Message != "" {
			message = perr.Error.Message
		}
		g.logger.Warn("provider returned non-2xx", "op", op, "status_code", resp.StatusCode, "message", message)
		return &ErrOperationFailed{Op: op, StatusCode: resp.StatusCode, Message: message}
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return &ErrTransport{Op: op, Err: fmt.Errorf("failed to decode response body: %w", err)}
		}
	}
	return nil
}

func (g *HTTPGateway) Ping(ctx context.Context, creds Credentials) error {
	var rsp struct {
		Status string `json:"status"`
	}
	if err := g.doRequest(ctx, creds, "ping", http.MethodGet, g.accountPath(creds, "ping"), nil, nil, &rsp); err != nil {
		return err
	}
	if rsp.Status != "ok" {
		return &ErrOperationFailed{Op: "ping", StatusCode: http.StatusOK, Message: fmt.Sprintf("unexpected ping status: %s", rsp.Status)}
	}
	return nil
}

func (g *HTTPGateway) ListAssets(ctx context.Context, creds Credentials, prefix string) ([]models.Asset, error) {
	query := url.Values{}
	query.Set("max_results", listMaxResults)
	if prefix != "" {
		query.Set("prefix", prefix)
	}

	var rsp struct {
		Resources []models.Asset `json:"resources"`
	}
	err := g.doRequest(ctx, creds, "list assets", http.MethodGet,
		g.accountPath(creds, "resources", "image", "upload"), query, nil, &rsp)
	if err != nil {
		return nil, err
	}
	return rsp.Resources, nil
}

func (g *HTTPGateway) ListFolders(ctx context.Context, creds Credentials, folder string) ([]models.Folder, error) {
	path := g.accountPath(creds, "folders")
	if folder != "" {
		path = g.accountPath(creds, "folders", folder)
	}

	var rsp struct {
		Folders []models.Folder `json:"folders"`
	}
	if err := g.doRequest(ctx, creds, "list folders", http.MethodGet, path, nil, nil, &rsp); err != nil {
		return nil, err
	}
	return rsp.Folders, nil
}

func (g *HTTPGateway) CreateFolder(ctx context.Context, creds Credentials, path string) (models.Folder, error) {
	var rsp struct {
		Success bool   `json:"success"`
		Name    string `json:"name"`
		Path    string `json:"path"`
	}
	err := g.doRequest(ctx, creds, "create folder", http.MethodPost,
		g.accountPath(creds, "folders", path), nil, nil, &rsp)
	if err != nil {
		return models.Folder{}, err
	}
	return models.Folder{Name: rsp.Name, Path: rsp.Path}, nil
}

func (g *HTTPGateway) RenameFolder(ctx context.Context, creds Credentials, from, to string) error {
	form := url.Values{}
	form.Set("to_folder", to)
	return g.doRequest(ctx, creds, "rename folder", http.MethodPut,
		g.accountPath(creds, "folders", from), nil, form, nil)
}

func (g *HTTPGateway) DeleteFolder(ctx context.Context, creds Credentials, path string) error {
	return g.doRequest(ctx, creds, "delete folder", http.MethodDelete,
		g.accountPath(creds, "folders", path), nil, nil, nil)
}

// Upload streams the file through a multipart body; the file never
// lands on the proxy's disk.
func (g *HTTPGateway) Upload(ctx context.Context, creds Credentials, folder, filename string, r io.Reader) (models.Asset, error) {
	const op = "upload"

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, r); err != nil {
			pw.CloseWithError(err)
			return
		}
		if folder != "" {
			if err := mw.WriteField("folder", folder); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		pw.CloseWithError(mw.Close())
	}()

	reqURL := g.base.ResolveReference(&url.URL{Path: g.accountPath(creds, "auto", "upload")})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL.String(), pr)
	if err != nil {
		return models.Asset{}, &ErrTransport{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.SetBasicAuth(creds.APIKey, creds.APISecret)

	g.logger.Debug("provider upload", "filename", filename, "folder", folder)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return models.Asset{}, &ErrTimeout{Op: op}
		}
		return models.Asset{}, &ErrTransport{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		var perr providerError
		message := strings.TrimSpace(string(bodyBytes))
		if jsonErr := json.Unmarshal(bodyBytes, &perr); jsonErr == nil && perr.Error.Message != "" {
			message = perr.Error.Message
		}
		return models.Asset{}, &ErrOperationFailed{Op: op, StatusCode: resp.StatusCode, Message: message}
	}

	var asset models.Asset
	if err := json.NewDecoder(resp.Body).Decode(&asset); err != nil {
		return models.Asset{}, &ErrTransport{Op: op, Err: fmt.Errorf("failed to decode upload response: %w", err)}
	}
	return asset, nil
}

func (g *HTTPGateway) RenameAsset(ctx context.Context, creds Credentials, from, to string) (models.Asset, error) {
	form := url.Values{}
	form.Set("from_public_id", from)
	form.Set("to_public_id", to)

	var asset models.Asset
	err := g.doRequest(ctx, creds, "rename asset", http.MethodPost,
		g.accountPath(creds, "image", "rename"), nil, form, &asset)
	if err != nil {
		return models.Asset{}, err
	}
	return asset, nil
}

func (g *HTTPGateway) DeleteAsset(ctx context.Context, creds Credentials, publicID string) error {
	const op = "delete asset"

	form := url.Values{}
	form.Set("public_id", publicID)

	var rsp struct {
		Result string `json:"result"`
	}
	err := g.doRequest(ctx, creds, op, http.MethodPost,
		g.accountPath(creds, "image", "destroy"), nil, form, &rsp)
	if err != nil {
		return err
	}

	// The provider answers 200 with a non-ok result for unknown ids.
	// That is an operation failure, not a transport one.
	if rsp.Result != "ok" {
		return &ErrOperationFailed{Op: op, StatusCode: http.StatusOK, Message: fmt.Sprintf("destroy result: %s", rsp.Result)}
	}
	return nil
}

func (g *HTTPGateway) DeleteAssets(ctx context.Context, creds Credentials, publicIDs []string) (int, error) {
	query := url.Values{}
	for _, id := range publicIDs {
		query.Add("public_ids[]", id)
	}

	var rsp struct {
		Deleted map[string]string `json:"deleted"`
	}
	err := g.doRequest(ctx, creds, "batch delete assets", http.MethodDelete,
		g.accountPath(creds, "resources", "image", "upload"), query, nil, &rsp)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, result := range rsp.Deleted {
		if result == "deleted" {
			deleted++
		}
	}
	return deleted, nil
}
