package file

import (
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"strings"
)

// negotiateEncoding adapts a stored stream to the client's Accept-Encoding.
//
// Three-way matrix: a gzip-stored object is passed through untouched when
// the client accepts gzip; transcoded to deflate when it accepts deflate;
// otherwise decompressed to identity. A raw-stored object is deflated when
// the client accepts deflate and passed through otherwise.
func negotiateEncoding(stored io.ReadCloser, storedGzip bool, acceptEncoding string) (io.ReadCloser, string, error) {
	wantsGzip := acceptsEncoding(acceptEncoding, "gzip")
	wantsDeflate := acceptsEncoding(acceptEncoding, "deflate")

	if storedGzip {
		switch {
		case wantsGzip:
			return stored, "gzip", nil
		case wantsDeflate:
			raw, err := gunzip(stored)
			if err != nil {
				return nil, "", err
			}
			return deflate(raw), "deflate", nil
		default:
			raw, err := gunzip(stored)
			if err != nil {
				return nil, "", err
			}
			return raw, "", nil
		}
	}

	if wantsDeflate {
		return deflate(stored), "deflate", nil
	}
	return stored, "", nil
}

func acceptsEncoding(header, coding string) bool {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if i := strings.IndexByte(part, ';'); i >= 0 {
			part = strings.TrimSpace(part[:i])
		}
		if strings.EqualFold(part, coding) {
			return true
		}
	}
	return false
}

// chained closes an inner closer after the primary one.
type chained struct {
	io.Reader
	closers []io.Closer
}

func (c *chained) Close() error {
	var first error
	for _, cl := range c.closers {
		if err := cl.Close(); first == nil {
			first = err
		}
	}
	return first
}

func gunzip(stored io.ReadCloser) (io.ReadCloser, error) {
	gz, err := gzip.NewReader(stored)
	if err != nil {
		return nil, fmt.Errorf("open stored gzip stream: %w", err)
	}
	return &chained{Reader: gz, closers: []io.Closer{gz, stored}}, nil
}

// deflate re-compresses a raw stream through a pipe.
func deflate(raw io.ReadCloser) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		defer raw.Close()
		fw, err := flate.NewWriter(pw, flate.DefaultCompression)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(fw, raw); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(fw.Close())
	}()
	return pr
}
