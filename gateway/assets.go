package gateway

import (
	"net/http"
	"strings"

	"github.com/OrchardMediaLabs/orchard/models"
)

func (c *Core) listAssetsHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ListAssetsRequest
	if !c.decodeBody(w, r, &req) {
		return
	}

	session, ok := c.resolveSession(w, req.SessionID)
	if !ok {
		return
	}

	c.logger.Debug("ListAssetsHandler", "folder", req.Folder)

	ctx, cancel := c.remoteCtx(r)
	defer cancel()

	prefix := ""
	if req.Folder != "" {
		prefix = req.Folder + "/"
	}

	assets, err := c.remote.ListAssets(ctx, session.Credentials(), prefix)
	if err != nil {
		c.writeRemoteError(w, "list assets", err)
		return
	}

	// The namespace is flat; "root" and "folder" are projections over
	// `/`-delimited public ids, so filter here rather than relying on
	// a native root-only query.
	filtered := make([]models.Asset, 0, len(assets))
	for _, asset := range assets {
		if req.Folder == "" {
			if !strings.Contains(asset.PublicID, "/") {
				filtered = append(filtered, asset)
			}
			continue
		}
		if strings.HasPrefix(asset.PublicID, prefix) {
			filtered = append(filtered, asset)
		}
	}

	c.writeJSON(w, models.ListAssetsResponse{Assets: filtered})
}

func (c *Core) renameAssetHandler(w http.ResponseWriter, r *http.Request) {
	var req models.RenameAssetRequest
	if !c.decodeBody(w, r, &req) {
		return
	}
	if req.CurrentPublicID == "" || req.NewPublicID == "" {
		c.writeError(w, http.StatusBadRequest, models.ErrorTypeMissingParameter, "currentPublicId and newPublicId are required")
		return
	}

	session, ok := c.resolveSession(w, req.SessionID)
	if !ok {
		return
	}

	ctx, cancel := c.remoteCtx(r)
	defer cancel()

	asset, err := c.remote.RenameAsset(ctx, session.Credentials(), req.CurrentPublicID, req.NewPublicID)
	if err != nil {
		c.writeRemoteError(w, "rename asset", err)
		return
	}

	c.publish(models.TopicAssets, "renamed", map[string]string{
		"from": req.CurrentPublicID,
		"to":   req.NewPublicID,
	})

	c.writeJSON(w, models.RenameAssetResponse{Success: true, Asset: asset})
}

func (c *Core) deleteAssetHandler(w http.ResponseWriter, r *http.Request) {
	var req models.DeleteAssetRequest
	if !c.decodeBody(w, r, &req) {
		return
	}
	if req.PublicID == "" {
		c.writeError(w, http.StatusBadRequest, models.ErrorTypeMissingParameter, "publicId is required")
		return
	}

	session, ok := c.resolveSession(w, req.SessionID)
	if !ok {
		return
	}

	ctx, cancel := c.remoteCtx(r)
	defer cancel()

	if err := c.remote.DeleteAsset(ctx, session.Credentials(), req.PublicID); err != nil {
		c.writeRemoteError(w, "delete asset", err)
		return
	}

	c.publish(models.TopicAssets, "deleted", map[string]string{"publicId": req.PublicID})

	c.writeJSON(w, models.SuccessResponse{Success: true})
}

func (c *Core) batchDeleteAssetsHandler(w http.ResponseWriter, r *http.Request) {
	var req models.BatchDeleteAssetsRequest
	if !c.decodeBody(w, r, &req) {
		return
	}
	if len(req.PublicIDs) == 0 {
		c.writeError(w, http.StatusBadRequest, models.ErrorTypeMissingParameter, "publicIds must be a non-empty array")
		return
	}

	session, ok := c.resolveSession(w, req.SessionID)
	if !ok {
		return
	}

	ctx, cancel := c.remoteCtx(r)
	defer cancel()

	deleted, err := c.remote.DeleteAssets(ctx, session.Credentials(), req.PublicIDs)
	if err != nil {
		c.writeRemoteError(w, "batch delete assets", err)
		return
	}

	c.publish(models.TopicAssets, "batch-deleted", map[string]int{"count": deleted})

	c.writeJSON(w, models.BatchDeleteAssetsResponse{Success: true, Deleted: deleted})
}
