package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// ExternalDriveBackend publishes files to a Google Drive folder using a
// service account. Drive hands back opaque file IDs with no direct
// byte-serving URL, so downloads are always proxied.
type ExternalDriveBackend struct {
	svc      *drive.Service
	folderID string
}

// NewExternalDriveBackend initializes a Drive client from service-account credentials
func NewExternalDriveBackend(ctx context.Context, credentialsFile, folderID string) (*ExternalDriveBackend, error) {
	svc, err := drive.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(drive.DriveScope),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google Drive client: %w", err)
	}

	return &ExternalDriveBackend{svc: svc, folderID: folderID}, nil
}

func (b *ExternalDriveBackend) Kind() Kind {
	return KindExternalDrive
}

// AvailableSpace reports the account quota minus current usage.
func (b *ExternalDriveBackend) AvailableSpace(ctx context.Context) (int64, error) {
	about, err := b.svc.About.Get().Fields("storageQuota").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to query storage quota: %w", err)
	}

	quota := about.StorageQuota
	if quota.Limit == 0 {
		// Unlimited accounts report no limit.
		return math.MaxInt64, nil
	}
	return quota.Limit - quota.Usage, nil
}

// Put uploads the merged file with tracing
func (b *ExternalDriveBackend) Put(ctx context.Context, localPath, fileName, mimeType string) (*Location, error) {
	ctx, span := tracer.Start(ctx, "drive.put",
		trace.WithAttributes(
			attribute.String("file_name", fileName),
			attribute.String("mime_type", mimeType),
		),
	)
	defer span.End()

	f, err := os.Open(localPath)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to open merged file: %w", err)
	}
	defer f.Close()

	meta := &drive.File{Name: fileName}
	if b.folderID != "" {
		meta.Parents = []string{b.folderID}
	}

	created, err := b.svc.Files.Create(meta).
		Media(f, googleapi.ContentType(mimeType)).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to upload to Google Drive: %w", err)
	}

	span.SetAttributes(
		attribute.String("drive_file_id", created.Id),
		attribute.Bool("upload_success", true),
	)

	// No direct URL for Drive files; downloads go through Get.
	return &Location{Kind: KindExternalDrive, ExternalID: created.Id}, nil
}

// Delete removes a Drive file with tracing; an already-absent file is success
func (b *ExternalDriveBackend) Delete(ctx context.Context, loc *Location) error {
	ctx, span := tracer.Start(ctx, "drive.delete",
		trace.WithAttributes(
			attribute.String("drive_file_id", loc.ExternalID),
		),
	)
	defer span.End()

	err := b.svc.Files.Delete(loc.ExternalID).Context(ctx).Do()
	if err != nil {
		if gerr, ok := err.(*googleapi.Error); ok && gerr.Code == 404 {
			log.Printf("Drive file %s already absent, treating delete as success", loc.ExternalID)
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("failed to delete from Google Drive: %w", err)
	}

	return nil
}

// Get retrieves the full file content with tracing
func (b *ExternalDriveBackend) Get(ctx context.Context, loc *Location) (io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, "drive.get",
		trace.WithAttributes(
			attribute.String("drive_file_id", loc.ExternalID),
		),
	)
	defer span.End()

	resp, err := b.svc.Files.Get(loc.ExternalID).Context(ctx).Download()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to download from Google Drive: %w", err)
	}

	return resp.Body, nil
}

// SignedURL is unsupported; Drive objects are served by proxying their bytes.
func (b *ExternalDriveBackend) SignedURL(ctx context.Context, loc *Location, ttl time.Duration) (string, error) {
	return "", ErrNoSignedURL
}
