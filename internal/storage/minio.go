package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ObjectStoreBackend publishes files to a MinIO bucket. MinIO exposes no
// free-space API, so capacity is a configured ceiling.
type ObjectStoreBackend struct {
	client     *minio.Client
	bucketName string
	maxBytes   int64
}

// NewObjectStoreBackend initializes a MinIO-backed object store
func NewObjectStoreBackend(endpoint, accessKey, secretKey, bucketName string, useSSL bool, maxBytes int64) (*ObjectStoreBackend, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	b := &ObjectStoreBackend{
		client:     client,
		bucketName: bucketName,
		maxBytes:   maxBytes,
	}

	// Ensure bucket exists
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		log.Printf("Creating bucket: %s", bucketName)
		err = client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		log.Printf("Bucket %s created successfully", bucketName)
	}

	return b, nil
}

func (b *ObjectStoreBackend) Kind() Kind {
	return KindObjectStore
}

// AvailableSpace reports the configured capacity ceiling; in-flight
// reservations are accounted for by the space ledger, not here.
func (b *ObjectStoreBackend) AvailableSpace(ctx context.Context) (int64, error) {
	return b.maxBytes, nil
}

// Put uploads the merged file with tracing
func (b *ObjectStoreBackend) Put(ctx context.Context, localPath, fileName, mimeType string) (*Location, error) {
	objectKey := "uploads/" + fileName

	ctx, span := tracer.Start(ctx, "minio.put",
		trace.WithAttributes(
			attribute.String("object_key", objectKey),
			attribute.String("mime_type", mimeType),
		),
	)
	defer span.End()

	info, err := b.client.FPutObject(ctx, b.bucketName, objectKey, localPath, minio.PutObjectOptions{
		ContentType: mimeType,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to upload object: %w", err)
	}

	span.SetAttributes(
		attribute.Int64("size_bytes", info.Size),
		attribute.Bool("upload_success", true),
	)

	return &Location{
		Kind:      KindObjectStore,
		ObjectKey: objectKey,
		URL:       fmt.Sprintf("%s/%s/%s", b.client.EndpointURL(), b.bucketName, objectKey),
	}, nil
}

// Delete removes an object with tracing; an already-absent object is success
func (b *ObjectStoreBackend) Delete(ctx context.Context, loc *Location) error {
	ctx, span := tracer.Start(ctx, "minio.delete",
		trace.WithAttributes(
			attribute.String("object_key", loc.ObjectKey),
		),
	)
	defer span.End()

	err := b.client.RemoveObject(ctx, b.bucketName, loc.ObjectKey, minio.RemoveObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			log.Printf("Object %s already absent, treating delete as success", loc.ObjectKey)
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("failed to delete object: %w", err)
	}

	return nil
}

// Get retrieves the full object content with tracing
func (b *ObjectStoreBackend) Get(ctx context.Context, loc *Location) (io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, "minio.get",
		trace.WithAttributes(
			attribute.String("object_key", loc.ObjectKey),
		),
	)
	defer span.End()

	object, err := b.client.GetObject(ctx, b.bucketName, loc.ObjectKey, minio.GetObjectOptions{})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get object: %w", err)
	}

	// GetObject is lazy; surface missing objects here instead of on first read.
	if _, err := object.Stat(); err != nil {
		object.Close()
		span.RecordError(err)
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}

	return object, nil
}

// SignedURL mints a presigned GET URL for direct download
func (b *ObjectStoreBackend) SignedURL(ctx context.Context, loc *Location, ttl time.Duration) (string, error) {
	u, err := b.client.PresignedGetObject(ctx, b.bucketName, loc.ObjectKey, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("failed to presign object URL: %w", err)
	}
	return u.String(), nil
}
