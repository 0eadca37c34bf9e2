// Package upload coordinates streamed multipart uploads against the quota
// ledger, the remote backend, and the accounting stores.
package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/avetrin/govault/internal/container"
	"github.com/avetrin/govault/internal/event"
	"github.com/avetrin/govault/internal/file"
	"github.com/avetrin/govault/internal/metrics"
	"github.com/avetrin/govault/internal/quota"
	"github.com/avetrin/govault/internal/remote"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxMetaBytes = 1 << 20

// fileContentTypes is the allow-list for parts carrying a filename.
var fileContentTypes = map[string]struct{}{
	"image/png":                {},
	"image/jpeg":               {},
	"image/gif":                {},
	"text/plain":               {},
	"application/octet-stream": {},
}

// fieldContentTypes is the narrower allow-list for filename-less parts that
// are still uploaded as files.
var fieldContentTypes = map[string]struct{}{
	"text/plain":               {},
	"application/octet-stream": {},
}

// Token reports the outcome of a single part.
type Token struct {
	Field     string `json:"field"`
	Filename  string `json:"filename,omitempty"`
	File      string `json:"file,omitempty"`
	URL       string `json:"url,omitempty"`
	Error     bool   `json:"error"`
	ErrorMsg  string `json:"errorMsg,omitempty"`
	Extension string `json:"extension,omitempty"`
}

// Result is the upload response. It is always returned with HTTP 200;
// callers must inspect the token array to learn which files succeeded.
type Result struct {
	Message string  `json:"message"`
	Error   bool    `json:"error"`
	Tokens  []Token `json:"tokens"`
}

// Options tune one upload request.
type Options struct {
	// ParentID links every file of the request to an existing file.
	ParentID *uuid.UUID
}

type fileService interface {
	Create(ctx context.Context, rec file.Record) (file.Record, error)
	SetMeta(ctx context.Context, ownerID, fileID uuid.UUID, meta json.RawMessage) error
	Delete(ctx context.Context, ownerID, fileID uuid.UUID) ([]uuid.UUID, error)
}

type containerUsage interface {
	IncrementUsage(ctx context.Context, containerID uuid.UUID, deltaBytes int64) error
}

type quotaLedger interface {
	CheckAndReserve(ctx context.Context, ownerID uuid.UUID, additionalBytes int64) (quota.Record, error)
	Commit(ctx context.Context, ownerID uuid.UUID, bytesDelta, callsDelta int64) error
}

// Coordinator runs the per-request upload state machine.
type Coordinator struct {
	backend    remote.Backend
	files      fileService
	containers containerUsage
	quotas     quotaLedger
	events     event.Sink
	log        *zap.Logger
}

// NewCoordinator wires the upload pipeline.
func NewCoordinator(backend remote.Backend, files fileService, containers containerUsage, quotas quotaLedger, events event.Sink, log *zap.Logger) *Coordinator {
	return &Coordinator{
		backend:    backend,
		files:      files,
		containers: containers,
		quotas:     quotas,
		events:     events,
		log:        log,
	}
}

// partOutcome collects what a finished part produced.
type partOutcome struct {
	token  Token
	record file.Record
	stored bool
}

// Process consumes the multipart stream part by part. Each file part runs
// its pipeline on its own goroutine fed through a pipe, so the physical
// upload and the post-upload bookkeeping overlap with reading the next
// part. The request completes only when the stream has ended and every
// part has reached a terminal state.
func (c *Coordinator) Process(ctx context.Context, ownerID uuid.UUID, target container.Container, mr *multipart.Reader, opts Options) Result {
	var (
		mu       sync.Mutex
		outcomes []partOutcome
		wg       sync.WaitGroup

		metaSeen     bool
		metaPoisoned bool
		metaRaw      json.RawMessage
		streamErr    error
	)

	collect := func(o partOutcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// client aborted or the stream is corrupt; in-flight parts
			// settle on their own via the closed pipes
			streamErr = err
			break
		}

		contentType := normalizeContentType(part.Header.Get("Content-Type"))
		filename := part.FileName()
		field := part.FormName()

		switch {
		case filename != "":
			if _, ok := fileContentTypes[contentType]; !ok {
				drain(part)
				metrics.UploadPartsRejected.WithLabelValues("content-type").Inc()
				collect(partOutcome{token: Token{
					Field:    field,
					Filename: filename,
					Error:    true,
					ErrorMsg: fmt.Sprintf("unsupported content type %q", contentType),
				}})
				continue
			}
			c.startPart(ctx, &wg, collect, ownerID, target, opts, field, filename, contentType, part)

		case field == "meta":
			metaSeen = true
			raw, err := io.ReadAll(io.LimitReader(part, maxMetaBytes))
			if err != nil || !json.Valid(raw) {
				metaPoisoned = true
				continue
			}
			metaRaw = raw

		default:
			if _, ok := fieldContentTypes[contentType]; ok {
				// second-class file-like part: the field name doubles as
				// the stored filename
				c.startPart(ctx, &wg, collect, ownerID, target, opts, field, field, contentType, part)
				continue
			}
			drain(part)
		}
	}

	wg.Wait()

	return c.finalize(ctx, ownerID, outcomes, metaSeen, metaPoisoned, metaRaw, streamErr)
}

// startPart feeds the part body through a pipe into the upload pipeline.
// The copy into the pipe keeps the multipart reader sequential while the
// consumer goroutine streams to the backend.
func (c *Coordinator) startPart(ctx context.Context, wg *sync.WaitGroup, collect func(partOutcome), ownerID uuid.UUID, target container.Container, opts Options, field, filename, contentType string, part *multipart.Part) {
	declared := declaredSize(part)
	pr, pw := io.Pipe()

	wg.Add(1)
	go func() {
		defer wg.Done()
		outcome := c.uploadPart(ctx, ownerID, target, opts, field, filename, contentType, declared, pr)
		// unblock the producer if the pipeline stopped before EOF
		io.Copy(io.Discard, pr)
		collect(outcome)
	}()

	_, copyErr := io.Copy(pw, part)
	pw.CloseWithError(copyErr)
}

// uploadPart runs one file part through reserve, upload, insert, and the
// two accounting increments. Failures settle the token, never the request.
func (c *Coordinator) uploadPart(ctx context.Context, ownerID uuid.UUID, target container.Container, opts Options, field, filename, contentType string, declared int64, body io.Reader) partOutcome {
	token := Token{
		Field:     field,
		Filename:  filename,
		Extension: strings.TrimPrefix(filepath.Ext(filename), "."),
	}

	if _, err := c.quotas.CheckAndReserve(ctx, ownerID, declared); err != nil {
		metrics.UploadPartsRejected.WithLabelValues("quota").Inc()
		token.Error = true
		if quota.IsExceeded(err) {
			token.ErrorMsg = err.Error()
		} else {
			token.ErrorMsg = "quota check failed"
			c.log.Warn("quota check failed", zap.Error(err))
		}
		return partOutcome{token: token}
	}

	res, err := c.backend.Upload(ctx, target.ID.String(), filename, contentType, body)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		c.log.Warn("remote upload failed",
			zap.String("container", target.ID.String()),
			zap.String("filename", filename),
			zap.Error(err))
		token.Error = true
		token.ErrorMsg = "upload failed"
		return partOutcome{token: token}
	}

	rec := file.Record{
		ID:            uuid.New(),
		OwnerID:       ownerID,
		ContainerID:   target.ID,
		ContainerName: target.Name,
		ParentID:      opts.ParentID,
		Name:          filename,
		RemoteID:      res.FileID,
		SizeBytes:     res.Size,
		MimeType:      contentType,
		PublicURL:     res.URL,
		Encoded:       res.Encoded,
	}

	stored, err := c.files.Create(ctx, rec)
	if err != nil {
		// remote object is already durable; take it back out before
		// reporting the part failed
		if rmErr := c.backend.Remove(ctx, target.ID.String(), res.FileID); rmErr != nil {
			c.log.Error("orphaned remote object after failed insert",
				zap.String("container", target.ID.String()),
				zap.String("remote_id", res.FileID),
				zap.Error(rmErr))
		}
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		token.Error = true
		token.ErrorMsg = "failed to record file"
		return partOutcome{token: token}
	}

	if err := c.containers.IncrementUsage(ctx, target.ID, stored.SizeBytes); err != nil {
		c.log.Warn("container usage increment failed",
			zap.String("file", stored.ID.String()), zap.Error(err))
	}
	if err := c.quotas.Commit(ctx, ownerID, stored.SizeBytes, 1); err != nil {
		c.log.Warn("quota commit failed",
			zap.String("file", stored.ID.String()), zap.Error(err))
	}

	metrics.UploadsTotal.WithLabelValues("ok").Inc()
	metrics.UploadBytesTotal.Add(float64(stored.SizeBytes))

	token.File = stored.ID.String()
	token.URL = stored.PublicURL
	return partOutcome{token: token, record: stored, stored: true}
}

// finalize applies request-level semantics: meta poisoning discards every
// file uploaded in this request, a parsed meta attaches to each of them,
// and one event fires per retained file.
func (c *Coordinator) finalize(ctx context.Context, ownerID uuid.UUID, outcomes []partOutcome, metaSeen, metaPoisoned bool, metaRaw json.RawMessage, streamErr error) Result {
	tokens := make([]Token, 0, len(outcomes))
	var stored []file.Record
	anyError := streamErr != nil

	for _, o := range outcomes {
		tokens = append(tokens, o.token)
		if o.token.Error {
			anyError = true
		}
		if o.stored {
			stored = append(stored, o.record)
		}
	}

	if metaSeen && metaPoisoned {
		for _, rec := range stored {
			if _, err := c.files.Delete(ctx, ownerID, rec.ID); err != nil {
				c.log.Error("meta rollback failed to delete file",
					zap.String("file", rec.ID.String()), zap.Error(err))
			}
		}
		return Result{
			Message: "invalid meta; uploaded files were discarded",
			Error:   true,
			Tokens:  tokens,
		}
	}

	if len(metaRaw) > 0 {
		for _, rec := range stored {
			if err := c.files.SetMeta(ctx, ownerID, rec.ID, metaRaw); err != nil {
				c.log.Warn("failed to attach meta",
					zap.String("file", rec.ID.String()), zap.Error(err))
			}
		}
	}

	for _, rec := range stored {
		c.events.Notify(event.TypeFileUploaded, rec, ownerID)
	}

	message := fmt.Sprintf("uploaded %d file(s)", len(stored))
	if anyError {
		message = "there was a problem with some of your files"
	}

	return Result{
		Message: message,
		Error:   streamErr != nil,
		Tokens:  tokens,
	}
}

func drain(part *multipart.Part) {
	io.Copy(io.Discard, part)
	part.Close()
}

func declaredSize(part *multipart.Part) int64 {
	if v := part.Header.Get("Content-Length"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			return n
		}
	}
	return 0
}

func normalizeContentType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}
