package gateway

import (
	"net/http"

	"github.com/OrchardMediaLabs/orchard/models"
)

func (c *Core) listFoldersHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ListFoldersRequest
	if !c.decodeBody(w, r, &req) {
		return
	}

	session, ok := c.resolveSession(w, req.SessionID)
	if !ok {
		return
	}

	c.logger.Debug("ListFoldersHandler", "folder", req.Folder)

	ctx, cancel := c.remoteCtx(r)
	defer cancel()

	folders, err := c.remote.ListFolders(ctx, session.Credentials(), req.Folder)
	if err != nil {
		c.writeRemoteError(w, "list folders", err)
		return
	}

	c.writeJSON(w, models.ListFoldersResponse{Folders: folders})
}

func (c *Core) createFolderHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateFolderRequest
	if !c.decodeBody(w, r, &req) {
		return
	}
	if req.FolderPath == "" {
		c.writeError(w, http.StatusBadRequest, models.ErrorTypeMissingParameter, "folderPath is required")
		return
	}

	session, ok := c.resolveSession(w, req.SessionID)
	if !ok {
		return
	}

	ctx, cancel := c.remoteCtx(r)
	defer cancel()

	folder, err := c.remote.CreateFolder(ctx, session.Credentials(), req.FolderPath)
	if err != nil {
		c.writeRemoteError(w, "create folder", err)
		return
	}

	c.publish(models.TopicFolders, "created", map[string]string{"path": req.FolderPath})

	c.writeJSON(w, models.CreateFolderResponse{Success: true, Folder: folder})
}

func (c *Core) renameFolderHandler(w http.ResponseWriter, r *http.Request) {
	var req models.RenameFolderRequest
	if !c.decodeBody(w, r, &req) {
		return
	}
	if req.CurrentFolderPath == "" || req.NewFolderPath == "" {
		c.writeError(w, http.StatusBadRequest, models.ErrorTypeMissingParameter, "currentFolderPath and newFolderPath are required")
		return
	}

	session, ok := c.resolveSession(w, req.SessionID)
	if !ok {
		return
	}

	ctx, cancel := c.remoteCtx(r)
	defer cancel()

	if err := c.remote.RenameFolder(ctx, session.Credentials(), req.CurrentFolderPath, req.NewFolderPath); err != nil {
		c.writeRemoteError(w, "rename folder", err)
		return
	}

	c.publish(models.TopicFolders, "renamed", map[string]string{
		"from": req.CurrentFolderPath,
		"to":   req.NewFolderPath,
	})

	c.writeJSON(w, models.SuccessResponse{Success: true})
}

func (c *Core) deleteFolderHandler(w http.ResponseWriter, r *http.Request) {
	var req models.DeleteFolderRequest
	if !c.decodeBody(w, r, &req) {
		return
	}
	if req.FolderPath == "" {
		c.writeError(w, http.StatusBadRequest, models.ErrorTypeMissingParameter, "folderPath is required")
		return
	}

	session, ok := c.resolveSession(w, req.SessionID)
	if !ok {
		return
	}

	ctx, cancel := c.remoteCtx(r)
	defer cancel()

	// A non-empty folder is rejected by the provider; that rejection
	// passes through as a remote operation failure.
	if err := c.remote.DeleteFolder(ctx, session.Credentials(), req.FolderPath); err != nil {
		c.writeRemoteError(w, "delete folder", err)
		return
	}

	c.publish(models.TopicFolders, "deleted", map[string]string{"path": req.FolderPath})

	c.writeJSON(w, models.SuccessResponse{Success: true})
}
