package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// PathSources is the bucket prefix for archived knowledge source files.
const PathSources = "sources"

// ObjectStorage archives raw knowledge source uploads so a sync can be
// audited or replayed later.
type ObjectStorage interface {
	UploadBytes(ctx context.Context, data []byte, objectPath, contentType string) (string, error)
	Download(ctx context.Context, objectPath string) ([]byte, error)
	GenerateSignedURL(ctx context.Context, objectPath string, expiry time.Duration) (string, error)
	Exists(ctx context.Context, objectPath string) (bool, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Health(ctx context.Context) error
}

// ObjectInfo is the subset of object metadata the API exposes.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
	ETag         string
}

// MinIOConfig holds MinIO connection settings.
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UseSSL          bool
	Region          string
}

// MinIOStorage implements ObjectStorage over the MinIO SDK. It also
// works against any S3-compatible endpoint.
type MinIOStorage struct {
	client *minio.Client
	bucket string
	region string
}

// NewMinIOStorage creates the client. The connection is not probed
// here; InitBucket or Health does that.
func NewMinIOStorage(cfg MinIOConfig) (*MinIOStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object storage client: %w", err)
	}
	return &MinIOStorage{client: client, bucket: cfg.BucketName, region: cfg.Region}, nil
}

// InitBucket creates the bucket when it does not exist yet.
func (s *MinIOStorage) InitBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %q: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("creating bucket %q: %w", s.bucket, err)
	}
	return nil
}

func (s *MinIOStorage) Health(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

// UploadBytes stores data under objectPath and returns the stored key.
// An empty contentType is sniffed from the payload.
func (s *MinIOStorage) UploadBytes(ctx context.Context, data []byte, objectPath, contentType string) (string, error) {
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	info, err := s.client.PutObject(ctx, s.bucket, objectPath, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("uploading %q: %w", objectPath, err)
	}
	return info.Key, nil
}

func (s *MinIOStorage) Download(ctx context.Context, objectPath string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetching %q: %w", objectPath, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", objectPath, err)
	}
	return data, nil
}

// GenerateSignedURL returns a presigned download URL valid for expiry.
func (s *MinIOStorage) GenerateSignedURL(ctx context.Context, objectPath string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectPath, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("signing URL for %q: %w", objectPath, err)
	}
	return u.String(), nil
}

func (s *MinIOStorage) Exists(ctx context.Context, objectPath string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, objectPath, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("checking %q: %w", objectPath, err)
	}
	return true, nil
}

func (s *MinIOStorage) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("listing %q: %w", prefix, obj.Err)
		}
		objects = append(objects, ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
			ContentType:  obj.ContentType,
			ETag:         obj.ETag,
		})
	}
	return objects, nil
}

// BuildSourcePath places an uploaded source file under a timestamped
// folder so successive syncs never overwrite each other.
func BuildSourcePath(syncedAt time.Time, filename string) string {
	return path.Join(PathSources, syncedAt.UTC().Format("20060102T150405Z"), filename)
}
