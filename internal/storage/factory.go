package storage

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"reel/internal/adapters/storage/gdrive"
	"reel/internal/adapters/storage/localfs"
	"reel/internal/adapters/storage/s3"
	"reel/internal/config"
	"reel/internal/pkg/errors"
)

// NewProvider builds the provider named by cfg.Provider.
func NewProvider(ctx context.Context, cfg config.StorageConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "localfs":
		if cfg.LocalRoot == "" {
			return nil, errors.ValidationField("STORAGE_LOCAL_ROOT", "STORAGE_LOCAL_ROOT is required for the localfs storage provider")
		}
		return localfs.New(cfg.LocalRoot), nil

	case "gdrive":
		return newGDriveProvider(ctx, cfg.GDrive)

	case "s3":
		client, err := s3.New(ctx, s3.Options{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			PublicURL:       cfg.S3.PublicURL,
		})
		if err != nil {
			return nil, err
		}
		return client, nil

	default:
		return nil, errors.ValidationField("STORAGE_PROVIDER", fmt.Sprintf("unknown storage provider %q", cfg.Provider))
	}
}

// DriveOAuthConfig is shared with the gdrive-auth command that mints the
// refresh token.
func DriveOAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
	}
}

func newGDriveProvider(ctx context.Context, cfg config.GDriveConfig) (Provider, error) {
	for env, v := range map[string]string{
		"GDRIVE_CLIENT_ID":     cfg.ClientID,
		"GDRIVE_CLIENT_SECRET": cfg.ClientSecret,
		"GDRIVE_REFRESH_TOKEN": cfg.RefreshToken,
	} {
		if v == "" {
			return nil, errors.ValidationField(env, env+" is required for the gdrive storage provider")
		}
	}

	conf := DriveOAuthConfig(cfg.ClientID, cfg.ClientSecret)
	// The token source outlives ctx; it refreshes for the life of the process.
	httpClient := conf.Client(context.Background(), &oauth2.Token{RefreshToken: cfg.RefreshToken})

	srv, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "storage.gdrive", "create drive service")
	}
	return gdrive.NewClient(srv, cfg.FolderID), nil
}
