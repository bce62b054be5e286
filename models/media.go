package models

/*
	Payloads for the proxied media operations. Every request carries the
	session id minted by the broker; the remote provider's namespace is
	a flat set of `/`-delimited public ids, so "folders" are path
	prefixes over that namespace.
*/

// Asset is the projection of a remote asset surfaced to callers.
type Asset struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	Format    string `json:"format"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bytes     int64  `json:"bytes"`
}

// Folder is a named path prefix in the remote namespace.
type Folder struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type ListAssetsRequest struct {
	SessionID string `json:"sessionId"`
	Folder    string `json:"folder,omitempty"`
}

type ListAssetsResponse struct {
	Assets []Asset `json:"assets"`
}

type ListFoldersRequest struct {
	SessionID string `json:"sessionId"`
	Folder    string `json:"folder,omitempty"`
}

type ListFoldersResponse struct {
	Folders []Folder `json:"folders"`
}

type CreateFolderRequest struct {
	SessionID  string `json:"sessionId"`
	FolderPath string `json:"folderPath"`
}

type CreateFolderResponse struct {
	Success bool   `json:"success"`
	Folder  Folder `json:"folder"`
}

type RenameFolderRequest struct {
	SessionID         string `json:"sessionId"`
	CurrentFolderPath string `json:"currentFolderPath"`
	NewFolderPath     string `json:"newFolderPath"`
}

type DeleteFolderRequest struct {
	SessionID  string `json:"sessionId"`
	FolderPath string `json:"folderPath"`
}

type RenameAssetRequest struct {
	SessionID       string `json:"sessionId"`
	CurrentPublicID string `json:"currentPublicId"`
	NewPublicID     string `json:"newPublicId"`
}

type RenameAssetResponse struct {
	Success bool  `json:"success"`
	Asset   Asset `json:"asset"`
}

type DeleteAssetRequest struct {
	SessionID string `json:"sessionId"`
	PublicID  string `json:"publicId"`
}

type BatchDeleteAssetsRequest struct {
	SessionID string   `json:"sessionId"`
	PublicIDs []string `json:"publicIds"`
}

type BatchDeleteAssetsResponse struct {
	Success bool `json:"success"`
	Deleted int  `json:"deleted"`
}

// UploadFileResult is the per-file outcome of an upload batch. Files are
// uploaded concurrently; the batch reports every file's result rather
// than discarding the survivors when one upload fails.
type UploadFileResult struct {
	Name      string `json:"name"`
	Success   bool   `json:"success"`
	PublicID  string `json:"public_id,omitempty"`
	SecureURL string `json:"secure_url,omitempty"`
	Format    string `json:"format,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Bytes     int64  `json:"bytes,omitempty"`
	Error     string `json:"error,omitempty"`
}

// UploadResponse reports the whole batch. Success is true only when
// every file in the request uploaded cleanly.
type UploadResponse struct {
	Success bool               `json:"success"`
	Files   []UploadFileResult `json:"files"`
}
