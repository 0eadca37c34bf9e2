// Package remote abstracts the physical storage layer behind the volume API.
package remote

import (
	"context"
	"errors"
	"io"
	"strings"
)

var (
	// ErrContainerExists indicates the physical container already exists.
	ErrContainerExists = errors.New("container already exists")
	// ErrNotFound signals a missing physical object.
	ErrNotFound = errors.New("object not found")
)

// UploadResult describes a stored object.
type UploadResult struct {
	// FileID is the backend-assigned identifier of the stored object.
	FileID string
	// URL is the canonical download location for the object.
	URL string
	// Size counts the bytes received from the caller, before compression.
	Size int64
	// Encoded is set when the payload was stored gzip-compressed.
	Encoded bool
}

// Backend performs physical create/delete of containers and file payloads.
//
// RemoveContainer and Remove are idempotent: a missing target is not an
// error. Upload must not leave a partial object behind on failure.
type Backend interface {
	CreateContainer(ctx context.Context, containerID string) error
	RemoveContainer(ctx context.Context, containerID string) error
	Upload(ctx context.Context, containerID, name, contentType string, body io.Reader) (UploadResult, error)
	Open(ctx context.Context, containerID, fileID string) (io.ReadCloser, error)
	Remove(ctx context.Context, containerID, fileID string) error
	FileURL(ctx context.Context, containerID, fileID string, public bool) (string, error)
	Ping(ctx context.Context) error
}

// Compressible reports whether payloads of the given content type benefit
// from transparent gzip compression.
func Compressible(contentType string) bool {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if strings.HasPrefix(contentType, "text/") {
		return true
	}
	switch contentType {
	case "application/json", "application/javascript", "application/xml", "image/svg+xml":
		return true
	}
	return false
}

// countingReader tallies bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
