package remote

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

const (
	containerMarker = ".container"
	presignTTL      = 15 * time.Minute
)

// CloudObjectBackend stores all containers inside one physical MinIO bucket,
// using the container identifier as a key prefix. File identifiers are
// backend-assigned UUIDs, so no collision handling is needed.
type CloudObjectBackend struct {
	client *minio.Client
	bucket string
}

// NewCloudObjectBackend ensures the physical bucket exists and returns the backend.
func NewCloudObjectBackend(ctx context.Context, client *minio.Client, bucket, region string) (*CloudObjectBackend, error) {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", bucket, err)
		}
	}
	return &CloudObjectBackend{client: client, bucket: bucket}, nil
}

func objectKey(containerID, fileID string) string {
	return containerID + "/" + fileID
}

// CreateContainer writes a marker object under the container prefix.
func (b *CloudObjectBackend) CreateContainer(ctx context.Context, containerID string) error {
	marker := objectKey(containerID, containerMarker)

	_, err := b.client.StatObject(ctx, b.bucket, marker, minio.StatObjectOptions{})
	if err == nil {
		return ErrContainerExists
	}
	if resp := minio.ToErrorResponse(err); resp.Code != "NoSuchKey" {
		return fmt.Errorf("stat container marker: %w", err)
	}

	_, err = b.client.PutObject(ctx, b.bucket, marker, nil, 0, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("create container marker: %w", err)
	}
	return nil
}

// RemoveContainer deletes every object under the container prefix.
func (b *CloudObjectBackend) RemoveContainer(ctx context.Context, containerID string) error {
	objects := b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
		Prefix:    containerID + "/",
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			return fmt.Errorf("list container objects: %w", obj.Err)
		}
		if err := b.client.RemoveObject(ctx, b.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove object %s: %w", obj.Key, err)
		}
	}
	return nil
}

// Upload streams the payload into the bucket, gzip-compressing compressible
// types through a pipe. A failed put removes any partial object.
func (b *CloudObjectBackend) Upload(ctx context.Context, containerID, name, contentType string, body io.Reader) (UploadResult, error) {
	fileID := uuid.NewString()
	key := objectKey(containerID, fileID)

	counter := &countingReader{r: body}
	encoded := Compressible(contentType)

	opts := minio.PutObjectOptions{ContentType: contentType}
	var source io.Reader = counter
	if encoded {
		opts.ContentEncoding = "gzip"
		pr, pw := io.Pipe()
		go func() {
			gz := gzip.NewWriter(pw)
			if _, err := io.Copy(gz, counter); err != nil {
				pw.CloseWithError(err)
				return
			}
			pw.CloseWithError(gz.Close())
		}()
		source = pr
	}

	if _, err := b.client.PutObject(ctx, b.bucket, key, source, -1, opts); err != nil {
		_ = b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{})
		return UploadResult{}, fmt.Errorf("store object: %w", err)
	}

	publicURL, err := b.FileURL(ctx, containerID, fileID, true)
	if err != nil {
		return UploadResult{}, err
	}

	return UploadResult{
		FileID:  fileID,
		URL:     publicURL,
		Size:    counter.n,
		Encoded: encoded,
	}, nil
}

// Open returns the stored bytes as written (compressed if stored compressed).
func (b *CloudObjectBackend) Open(ctx context.Context, containerID, fileID string) (io.ReadCloser, error) {
	key := objectKey(containerID, fileID)

	if _, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{}); err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat object: %w", err)
	}

	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetch object: %w", err)
	}
	return obj, nil
}

// Remove deletes the object. Missing objects are swallowed.
func (b *CloudObjectBackend) Remove(ctx context.Context, containerID, fileID string) error {
	err := b.client.RemoveObject(ctx, b.bucket, objectKey(containerID, fileID), minio.RemoveObjectOptions{})
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return nil
		}
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

// FileURL returns the public object URL for public files and a presigned GET
// for private ones.
func (b *CloudObjectBackend) FileURL(ctx context.Context, containerID, fileID string, public bool) (string, error) {
	key := objectKey(containerID, fileID)
	if public {
		return fmt.Sprintf("%s/%s/%s", b.client.EndpointURL(), b.bucket, key), nil
	}
	signed, err := b.client.PresignedGetObject(ctx, b.bucket, key, presignTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign object url: %w", err)
	}
	return signed.String(), nil
}

// Ping verifies the physical bucket is reachable.
func (b *CloudObjectBackend) Ping(ctx context.Context) error {
	if _, err := b.client.BucketExists(ctx, b.bucket); err != nil {
		return err
	}
	return nil
}
