package gateway

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"sync"

	"github.com/OrchardMediaLabs/orchard/models"
	"github.com/OrchardMediaLabs/orchard/remote"
)

// Multipart parse ceiling; individual files above this spill to disk
// while being read, they are never stored by the proxy.
const uploadParseMemory = 32 << 20

func (c *Core) uploadHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(uploadParseMemory); err != nil {
		c.logger.Error("Could not parse multipart form", "error", err)
		c.writeError(w, http.StatusBadRequest, models.ErrorTypeMissingParameter, "could not parse multipart form: "+err.Error())
		return
	}

	sessionID := r.FormValue("sessionId")
	folder := r.FormValue("folder")
	if folder == "" {
		folder = c.cfg.Upload.DefaultFolder
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		c.writeError(w, http.StatusBadRequest, models.ErrorTypeMissingParameter, "at least one file is required")
		return
	}

	// Both caps are enforced before anything reaches the provider.
	if len(files) > c.cfg.Upload.MaxFiles {
		c.writeError(w, http.StatusBadRequest, models.ErrorTypeMissingParameter,
			fmt.Sprintf("too many files: %d exceeds the limit of %d", len(files), c.cfg.Upload.MaxFiles))
		return
	}
	for _, fh := range files {
		if fh.Size > c.cfg.Upload.MaxFileBytes {
			c.writeError(w, http.StatusBadRequest, models.ErrorTypeMissingParameter,
				fmt.Sprintf("file %s is too large: %d bytes exceeds the limit of %d", fh.Filename, fh.Size, c.cfg.Upload.MaxFileBytes))
			return
		}
	}

	session, ok := c.resolveSession(w, sessionID)
	if !ok {
		return
	}

	ctx, cancel := c.remoteCtx(r)
	defer cancel()

	c.logger.Debug("UploadHandler", "file_count", len(files), "folder", folder)

	// Fan out one upload per file and collect every file's outcome.
	// One bad file must not hide what happened to the others.
	results := make([]models.UploadFileResult, len(files))
	var wg sync.WaitGroup

	for i, fh := range files {
		wg.Add(1)
		go func(i int, fh *multipart.FileHeader) {
			defer wg.Done()
			results[i] = c.uploadOne(ctx, session.Credentials(), folder, fh)
		}(i, fh)
	}

	wg.Wait()

	allOK := true
	for _, result := range results {
		if !result.Success {
			allOK = false
			break
		}
	}

	if allOK {
		c.publish(models.TopicAssets, "uploaded", map[string]int{"count": len(files)})
	}

	c.writeJSON(w, models.UploadResponse{Success: allOK, Files: results})
}

func (c *Core) uploadOne(ctx context.Context, creds remote.Credentials, folder string, fh *multipart.FileHeader) models.UploadFileResult {
	file, err := fh.Open()
	if err != nil {
		c.logger.Error("Could not open uploaded file", "filename", fh.Filename, "error", err)
		return models.UploadFileResult{Name: fh.Filename, Error: "could not read uploaded file"}
	}
	defer file.Close()

	asset, err := c.remote.Upload(ctx, creds, folder, fh.Filename, file)
	if err != nil {
		c.logger.Warn("Upload failed", "filename", fh.Filename, "error", err)
		return models.UploadFileResult{Name: fh.Filename, Error: err.Error()}
	}

	return models.UploadFileResult{
		Name:      fh.Filename,
		Success:   true,
		PublicID:  asset.PublicID,
		SecureURL: asset.SecureURL,
		Format:    asset.Format,
		Width:     asset.Width,
		Height:    asset.Height,
		Bytes:     asset.Bytes,
	}
}
