package remote

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalDiskBackend stores containers as directories under a root path.
// File identifiers are the stored filenames, so uploads resolve name
// collisions by appending a numeric suffix.
type LocalDiskBackend struct {
	root      string
	publicURL string
}

// NewLocalDiskBackend creates the root directory if needed.
func NewLocalDiskBackend(root, publicURL string) (*LocalDiskBackend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalDiskBackend{root: root, publicURL: strings.TrimRight(publicURL, "/")}, nil
}

func (b *LocalDiskBackend) containerPath(containerID string) string {
	return filepath.Join(b.root, filepath.Base(containerID))
}

func (b *LocalDiskBackend) filePath(containerID, fileID string) string {
	return filepath.Join(b.containerPath(containerID), filepath.Base(fileID))
}

// CreateContainer makes the container directory.
func (b *LocalDiskBackend) CreateContainer(ctx context.Context, containerID string) error {
	err := os.Mkdir(b.containerPath(containerID), 0o755)
	if errors.Is(err, fs.ErrExist) {
		return ErrContainerExists
	}
	if err != nil {
		return fmt.Errorf("create container dir: %w", err)
	}
	return nil
}

// RemoveContainer deletes the container directory and anything left in it.
func (b *LocalDiskBackend) RemoveContainer(ctx context.Context, containerID string) error {
	if err := os.RemoveAll(b.containerPath(containerID)); err != nil {
		return fmt.Errorf("remove container dir: %w", err)
	}
	return nil
}

// Upload streams the payload to disk, gzip-compressing compressible types.
// A failed write removes the partial file before returning.
func (b *LocalDiskBackend) Upload(ctx context.Context, containerID, name, contentType string, body io.Reader) (UploadResult, error) {
	if _, err := os.Stat(b.containerPath(containerID)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return UploadResult{}, ErrNotFound
		}
		return UploadResult{}, fmt.Errorf("stat container dir: %w", err)
	}

	fileID, out, err := b.createUnique(containerID, name)
	if err != nil {
		return UploadResult{}, err
	}

	counter := &countingReader{r: body}
	encoded := Compressible(contentType)

	var writeErr error
	if encoded {
		gz := gzip.NewWriter(out)
		_, writeErr = io.Copy(gz, counter)
		if err := gz.Close(); writeErr == nil {
			writeErr = err
		}
	} else {
		_, writeErr = io.Copy(out, counter)
	}
	if err := out.Close(); writeErr == nil {
		writeErr = err
	}

	if writeErr != nil {
		_ = os.Remove(b.filePath(containerID, fileID))
		return UploadResult{}, fmt.Errorf("write object: %w", writeErr)
	}

	url, _ := b.FileURL(ctx, containerID, fileID, true)
	return UploadResult{
		FileID:  fileID,
		URL:     url,
		Size:    counter.n,
		Encoded: encoded,
	}, nil
}

// createUnique opens a new file under the container, renaming on collision
// by appending an incrementing suffix before the extension.
func (b *LocalDiskBackend) createUnique(containerID, name string) (string, *os.File, error) {
	base := sanitizeName(name)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for i := 0; ; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s%d%s", stem, i, ext)
		}
		f, err := os.OpenFile(b.filePath(containerID, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("create object file: %w", err)
		}
		return candidate, f, nil
	}
}

// Open returns the raw stored bytes (compressed if stored compressed).
func (b *LocalDiskBackend) Open(ctx context.Context, containerID, fileID string) (io.ReadCloser, error) {
	f, err := os.Open(b.filePath(containerID, fileID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open object: %w", err)
	}
	return f, nil
}

// Remove deletes the stored file. A missing file is not an error.
func (b *LocalDiskBackend) Remove(ctx context.Context, containerID, fileID string) error {
	err := os.Remove(b.filePath(containerID, fileID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

// FileURL composes the download URL served by this API.
func (b *LocalDiskBackend) FileURL(ctx context.Context, containerID, fileID string, public bool) (string, error) {
	return fmt.Sprintf("%s/volumes/%s/files/%s/download", b.publicURL, containerID, fileID), nil
}

// Ping verifies the storage root is reachable.
func (b *LocalDiskBackend) Ping(ctx context.Context) error {
	_, err := os.Stat(b.root)
	return err
}

func sanitizeName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "upload"
	}
	return name
}
