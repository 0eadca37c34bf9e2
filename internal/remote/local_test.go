package remote

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func newTestBackend(t *testing.T) *LocalDiskBackend {
	t.Helper()
	b, err := NewLocalDiskBackend(t.TempDir(), "http://localhost:8080/v1")
	if err != nil {
		t.Fatalf("NewLocalDiskBackend: %v", err)
	}
	if err := b.CreateContainer(context.Background(), "c1"); err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}
	return b
}

func TestCreateContainerTwiceReportsExists(t *testing.T) {
	b := newTestBackend(t)
	if err := b.CreateContainer(context.Background(), "c1"); !errors.Is(err, ErrContainerExists) {
		t.Fatalf("expected ErrContainerExists, got %v", err)
	}
}

func TestUploadCollisionRenamesWithSuffix(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	first, err := b.Upload(ctx, "c1", "small-image.png", "image/png", strings.NewReader("one"))
	if err != nil {
		t.Fatalf("first upload: %v", err)
	}
	second, err := b.Upload(ctx, "c1", "small-image.png", "image/png", strings.NewReader("two"))
	if err != nil {
		t.Fatalf("second upload: %v", err)
	}

	if first.FileID != "small-image.png" {
		t.Fatalf("unexpected first file id %q", first.FileID)
	}
	if second.FileID != "small-image1.png" {
		t.Fatalf("unexpected second file id %q", second.FileID)
	}

	for _, id := range []string{first.FileID, second.FileID} {
		rc, err := b.Open(ctx, "c1", id)
		if err != nil {
			t.Fatalf("open %s: %v", id, err)
		}
		rc.Close()
	}
}

func TestUploadCompressesCompressibleTypes(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	payload := strings.Repeat("compress me ", 100)

	res, err := b.Upload(ctx, "c1", "notes.txt", "text/plain", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !res.Encoded {
		t.Fatalf("expected text/plain upload to be stored encoded")
	}
	if res.Size != int64(len(payload)) {
		t.Fatalf("expected raw size %d, got %d", len(payload), res.Size)
	}

	rc, err := b.Open(ctx, "c1", res.FileID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()

	gz, err := gzip.NewReader(rc)
	if err != nil {
		t.Fatalf("stored bytes are not gzip: %v", err)
	}
	decoded, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if string(decoded) != payload {
		t.Fatalf("round-trip mismatch")
	}
}

func TestUploadLeavesBinaryTypesRaw(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	res, err := b.Upload(ctx, "c1", "blob.bin", "application/octet-stream", strings.NewReader("raw bytes"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.Encoded {
		t.Fatalf("expected octet-stream upload to be stored raw")
	}

	rc, err := b.Open(ctx, "c1", res.FileID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "raw bytes" {
		t.Fatalf("stored bytes altered: %q", data)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	res, err := b.Upload(ctx, "c1", "gone.txt", "text/plain", strings.NewReader("bye"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if err := b.Remove(ctx, "c1", res.FileID); err != nil {
		t.Fatalf("first remove: %v", err)
	}
	if err := b.Remove(ctx, "c1", res.FileID); err != nil {
		t.Fatalf("second remove should be a no-op, got %v", err)
	}
	if err := b.RemoveContainer(ctx, "c1"); err != nil {
		t.Fatalf("remove container: %v", err)
	}
	if err := b.RemoveContainer(ctx, "c1"); err != nil {
		t.Fatalf("second remove container should be a no-op, got %v", err)
	}
}

func TestCompressible(t *testing.T) {
	cases := map[string]bool{
		"text/plain":               true,
		"text/plain; charset=utf8": true,
		"application/json":         true,
		"image/svg+xml":            true,
		"image/png":                false,
		"application/octet-stream": false,
	}
	for ct, want := range cases {
		if got := Compressible(ct); got != want {
			t.Errorf("Compressible(%q) = %v, want %v", ct, got, want)
		}
	}
}
