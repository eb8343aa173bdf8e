package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	metaPrefix    = "X-Amz-Meta-"
	metaSheetID   = "Sheet-Id"
	metaCategory  = "Category"
	metaFileName  = "File-Name"
	metaHash      = "Hash"
	metaCreatedBy = "Created-By"
	metaCreatedAt = "Created-At"
	metaTagPrefix = "Tag-"
)

// MinIOConfig holds connection settings for an S3-compatible object store.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinIOBlobStore keeps each blob as one object named by its ID. Metadata
// travels as user metadata on the object itself.
type MinIOBlobStore struct {
	client *minio.Client
	bucket string
}

// NewMinIOBlobStore connects to the endpoint and creates the bucket if it does
// not exist yet.
func NewMinIOBlobStore(ctx context.Context, cfg MinIOConfig) (*MinIOBlobStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &MinIOBlobStore{client: client, bucket: cfg.Bucket}, nil
}

// Ping reports whether the bucket is reachable.
func (s *MinIOBlobStore) Ping(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}

func (s *MinIOBlobStore) Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	meta, data, err := prepareUpload(meta, content, time.Now())
	if err != nil {
		return nil, err
	}

	_, err = s.client.PutObject(ctx, s.bucket, meta.ID, bytes.NewReader(data), meta.Size, minio.PutObjectOptions{
		ContentType:  meta.ContentType,
		UserMetadata: userMetadata(meta),
	})
	if err != nil {
		return nil, fmt.Errorf("upload object: %w", err)
	}
	return &meta, nil
}

func (s *MinIOBlobStore) Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	meta, err := s.GetMetadata(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, id, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("get object: %w", err)
	}
	return obj, meta, nil
}

func (s *MinIOBlobStore) Delete(ctx context.Context, id string) error {
	if _, err := s.GetMetadata(ctx, id); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, id, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

func (s *MinIOBlobStore) GetMetadata(ctx context.Context, id string) (*BlobMetadata, error) {
	info, err := s.client.StatObject(ctx, s.bucket, id, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("stat object: %w", err)
	}
	return metadataFromObject(info), nil
}

// Search walks the bucket and stats each object. Export volume per bucket is
// small enough that this stays cheap.
func (s *MinIOBlobStore) Search(ctx context.Context, params SearchParams) ([]*BlobMetadata, int, error) {
	var matched []*BlobMetadata
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, 0, fmt.Errorf("list objects: %w", obj.Err)
		}
		meta, err := s.GetMetadata(ctx, obj.Key)
		if err != nil {
			return nil, 0, err
		}
		if matchesSearch(meta, params) {
			matched = append(matched, meta)
		}
	}

	sortNewestFirst(matched)
	items, total := paginate(matched, params.Limit, params.Offset)
	return items, total, nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

func userMetadata(meta BlobMetadata) map[string]string {
	um := map[string]string{
		metaSheetID:   meta.SheetID,
		metaCategory:  meta.Category,
		metaFileName:  meta.FileName,
		metaHash:      meta.Hash,
		metaCreatedBy: meta.CreatedBy,
		metaCreatedAt: meta.CreatedAt.Format(time.RFC3339Nano),
	}
	for k, v := range meta.Tags {
		um[metaTagPrefix+k] = v
	}
	return um
}

func metadataFromObject(info minio.ObjectInfo) *BlobMetadata {
	return metadataFromHeader(info.Key, info.ContentType, info.Size, info.Metadata)
}

func metadataFromHeader(id, contentType string, size int64, h http.Header) *BlobMetadata {
	meta := &BlobMetadata{
		ID:          id,
		ContentType: contentType,
		Size:        size,
		SheetID:     h.Get(metaPrefix + metaSheetID),
		Category:    h.Get(metaPrefix + metaCategory),
		FileName:    h.Get(metaPrefix + metaFileName),
		Hash:        h.Get(metaPrefix + metaHash),
		CreatedBy:   h.Get(metaPrefix + metaCreatedBy),
		Tags:        make(map[string]string),
	}
	if ts, err := time.Parse(time.RFC3339Nano, h.Get(metaPrefix+metaCreatedAt)); err == nil {
		meta.CreatedAt = ts
	}
	if meta.Size == 0 {
		if n, err := strconv.ParseInt(h.Get("Content-Length"), 10, 64); err == nil {
			meta.Size = n
		}
	}

	tagPrefix := http.CanonicalHeaderKey(metaPrefix + metaTagPrefix)
	for k := range h {
		ck := http.CanonicalHeaderKey(k)
		if strings.HasPrefix(ck, tagPrefix) {
			meta.Tags[strings.ToLower(strings.TrimPrefix(ck, tagPrefix))] = h.Get(k)
		}
	}
	return meta
}
