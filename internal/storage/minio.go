package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/your-org/facewatch/internal/config"
)

// Archive keeps registration photos and submitted recognition frames in
// MinIO. Photos live under persons/<id>/, frames under frames/<job id>;
// frames are transient and swept once they age past the retention
// window.
type Archive struct {
	client *minio.Client
	bucket string
}

const (
	personPhotoPrefix = "persons/"
	framePrefix       = "frames/"
)

func PersonPhotoKey(personID int64) string {
	return fmt.Sprintf("%s%d/%s.jpg", personPhotoPrefix, personID, uuid.New())
}

func FrameKey(jobID uuid.UUID) string {
	return fmt.Sprintf("%s%s.jpg", framePrefix, jobID)
}

// PersonPhotoObjectKey rebuilds the object key for one named photo of
// a person; name is the file part of a key from ListPersonPhotos.
func PersonPhotoObjectKey(personID int64, name string) string {
	return fmt.Sprintf("%s%d/%s", personPhotoPrefix, personID, name)
}

func NewArchive(cfg config.MinIOConfig) (*Archive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Archive{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (a *Archive) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

// Put uploads data under the given key.
func (a *Archive) Put(ctx context.Context, key string, data []byte, contentType string) error {
	reader := bytes.NewReader(data)
	_, err := a.client.PutObject(ctx, a.bucket, key, reader, int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// Get retrieves an archived object by key.
func (a *Archive) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := a.client.GetObject(ctx, a.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

// ListPersonPhotos returns the archived photo keys for one person.
func (a *Archive) ListPersonPhotos(ctx context.Context, personID int64) ([]string, error) {
	prefix := fmt.Sprintf("%s%d/", personPhotoPrefix, personID)
	var keys []string
	for obj := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list photos %s: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// DeletePersonPhotos removes every archived photo for one person,
// called when the person is deleted from the registry.
func (a *Archive) DeletePersonPhotos(ctx context.Context, personID int64) error {
	keys, err := a.ListPersonPhotos(ctx, personID)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return a.removeBatch(ctx, keys)
}

// SweepFrames deletes archived recognition frames older than the
// retention window and reports how many went.
func (a *Archive) SweepFrames(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	var stale []string
	for obj := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{
		Prefix:    framePrefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return 0, fmt.Errorf("list frames: %w", obj.Err)
		}
		if obj.LastModified.Before(cutoff) {
			stale = append(stale, obj.Key)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := a.removeBatch(ctx, stale); err != nil {
		return 0, err
	}
	return len(stale), nil
}

func (a *Archive) removeBatch(ctx context.Context, keys []string) error {
	objectsCh := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objectsCh <- minio.ObjectInfo{Key: key}
	}
	close(objectsCh)
	for result := range a.client.RemoveObjects(ctx, a.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if result.Err != nil {
			return fmt.Errorf("delete object %s: %w", result.ObjectName, result.Err)
		}
	}
	return nil
}

// Ping checks MinIO connectivity.
func (a *Archive) Ping(ctx context.Context) error {
	_, err := a.client.BucketExists(ctx, a.bucket)
	return err
}
