/*
Package remote is the client for the media-hosting provider. Every
operation takes the credential triple as an explicit argument: there is
no shared client configuration to mutate, so concurrent calls against
different accounts are isolated by construction.
*/
package remote

import (
	"context"
	"io"

	"github.com/OrchardMediaLabs/orchard/models"
)

// Credentials identifies one remote hosting account for the duration
// of a single call.
type Credentials struct {
	CloudName string
	APIKey    string
	APISecret string
}

// Gateway is the set of provider operations the proxy depends on.
type Gateway interface {
	// Ping verifies the credentials can reach the provider at all.
	Ping(ctx context.Context, creds Credentials) error

	// ListAssets lists assets whose public id starts with the given
	// prefix. An empty prefix lists the whole namespace.
	ListAssets(ctx context.Context, creds Credentials, prefix string) ([]models.Asset, error)

	// ListFolders lists root folders when folder is empty, otherwise
	// the direct subfolders of the given folder.
	ListFolders(ctx context.Context, creds Credentials, folder string) ([]models.Folder, error)

	CreateFolder(ctx context.Context, creds Credentials, path string) (models.Folder, error)
	RenameFolder(ctx context.Context, creds Credentials, from, to string) error

	// DeleteFolder removes an empty folder. The provider rejects the
	// call for a non-empty folder and that rejection is surfaced as an
	// *ErrOperationFailed.
	DeleteFolder(ctx context.Context, creds Credentials, path string) error

	// Upload streams one file into the given folder with automatic
	// resource-type detection.
	Upload(ctx context.Context, creds Credentials, folder, filename string, r io.Reader) (models.Asset, error)

	RenameAsset(ctx context.Context, creds Credentials, from, to string) (models.Asset, error)
	DeleteAsset(ctx context.Context, creds Credentials, publicID string) error
	DeleteAssets(ctx context.Context, creds Credentials, publicIDs []string) (int, error)
}
