// Package backend wires backend type strings to their client
// implementations.
package backend

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fruitsalade/deployer/internal/backend/azure"
	"github.com/fruitsalade/deployer/internal/backend/dropbox"
	ftpbackend "github.com/fruitsalade/deployer/internal/backend/ftp"
	"github.com/fruitsalade/deployer/internal/backend/local"
	s3backend "github.com/fruitsalade/deployer/internal/backend/s3"
	sftpbackend "github.com/fruitsalade/deployer/internal/backend/sftp"
	slackbackend "github.com/fruitsalade/deployer/internal/backend/slack"
	"github.com/fruitsalade/deployer/internal/client"
)

// Connect creates and connects a client from a backend type string and
// JSON config.
func Connect(ctx context.Context, backendType string, config json.RawMessage) (client.Client, error) {
	switch backendType {
	case "ftp":
		return ftpbackend.ConnectFromJSON(ctx, config)
	case "sftp":
		return sftpbackend.ConnectFromJSON(ctx, config)
	case "s3":
		return s3backend.ConnectFromJSON(ctx, config)
	case "azure":
		return azure.ConnectFromJSON(ctx, config)
	case "dropbox":
		return dropbox.ConnectFromJSON(ctx, config)
	case "slack":
		return slackbackend.ConnectFromJSON(ctx, config)
	case "local":
		return local.Connect(ctx, config)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", backendType)
	}
}
