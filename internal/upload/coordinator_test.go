package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/avetrin/govault/internal/container"
	"github.com/avetrin/govault/internal/file"
	"github.com/avetrin/govault/internal/quota"
	"github.com/avetrin/govault/internal/remote"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// --- fakes ---

type fakeBackend struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads int
	removes int
	failAll bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{objects: make(map[string][]byte)}
}

func (f *fakeBackend) CreateContainer(ctx context.Context, containerID string) error { return nil }
func (f *fakeBackend) RemoveContainer(ctx context.Context, containerID string) error { return nil }

func (f *fakeBackend) Upload(ctx context.Context, containerID, name, contentType string, body io.Reader) (remote.UploadResult, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return remote.UploadResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return remote.UploadResult{}, fmt.Errorf("backend unavailable")
	}
	id := uuid.NewString()
	f.objects[containerID+"/"+id] = data
	f.uploads++
	return remote.UploadResult{FileID: id, URL: "http://remote/" + id, Size: int64(len(data))}, nil
}

func (f *fakeBackend) Open(ctx context.Context, containerID, fileID string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[containerID+"/"+fileID]
	if !ok {
		return nil, remote.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeBackend) Remove(ctx context.Context, containerID, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, containerID+"/"+fileID)
	f.removes++
	return nil
}

func (f *fakeBackend) FileURL(ctx context.Context, containerID, fileID string, public bool) (string, error) {
	return "http://remote/" + fileID, nil
}

func (f *fakeBackend) Ping(ctx context.Context) error { return nil }

type fakeFiles struct {
	mu       sync.Mutex
	records  map[uuid.UUID]file.Record
	metas    map[uuid.UUID]json.RawMessage
	deleted  []uuid.UUID
	failNext bool
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{
		records: make(map[uuid.UUID]file.Record),
		metas:   make(map[uuid.UUID]json.RawMessage),
	}
}

func (f *fakeFiles) Create(ctx context.Context, rec file.Record) (file.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return file.Record{}, fmt.Errorf("insert failed")
	}
	f.records[rec.ID] = rec
	return rec, nil
}

func (f *fakeFiles) SetMeta(ctx context.Context, ownerID, fileID uuid.UUID, meta json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[fileID]; !ok {
		return file.ErrFileNotFound
	}
	f.metas[fileID] = meta
	return nil
}

func (f *fakeFiles) Delete(ctx context.Context, ownerID, fileID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[fileID]; !ok {
		return nil, file.ErrFileNotFound
	}
	delete(f.records, fileID)
	f.deleted = append(f.deleted, fileID)
	return []uuid.UUID{fileID}, nil
}

type fakeUsage struct {
	mu    sync.Mutex
	delta int64
}

func (f *fakeUsage) IncrementUsage(ctx context.Context, containerID uuid.UUID, deltaBytes int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delta += deltaBytes
	return nil
}

// fakeQuota mirrors the ledger admission rule: refuse when the declared
// size would reach or pass the allocation.
type fakeQuota struct {
	mu         sync.Mutex
	record     quota.Record
	bytesDelta int64
	callsDelta int64
	reserves   int
}

func (f *fakeQuota) CheckAndReserve(ctx context.Context, ownerID uuid.UUID, additionalBytes int64) (quota.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserves++
	if f.record.MemoryUsed+additionalBytes >= f.record.MemoryAllocated {
		return quota.Record{}, &quota.ExceededError{Reason: quota.ReasonMemory}
	}
	if f.record.APICallsUsed >= f.record.APICallsAllocated {
		return quota.Record{}, &quota.ExceededError{Reason: quota.ReasonAPICalls}
	}
	return f.record, nil
}

func (f *fakeQuota) Commit(ctx context.Context, ownerID uuid.UUID, bytesDelta, callsDelta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bytesDelta += bytesDelta
	f.callsDelta += callsDelta
	f.record.MemoryUsed += bytesDelta
	f.record.APICallsUsed += callsDelta
	return nil
}

type captureSink struct {
	mu     sync.Mutex
	events []string
}

func (s *captureSink) Notify(eventType string, payload interface{}, ownerID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, eventType)
}

// --- request builder ---

type request struct {
	buf *bytes.Buffer
	w   *multipart.Writer
}

func newRequest() *request {
	buf := &bytes.Buffer{}
	return &request{buf: buf, w: multipart.NewWriter(buf)}
}

func (r *request) filePart(t *testing.T, field, filename, contentType string, body []byte) {
	t.Helper()
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", fmt.Sprintf("%d", len(body)))
	part, err := r.w.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	part.Write(body)
}

func (r *request) fieldPart(t *testing.T, field, contentType string, body []byte) {
	t.Helper()
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q`, field))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := r.w.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	part.Write(body)
}

func (r *request) reader(t *testing.T) *multipart.Reader {
	t.Helper()
	if err := r.w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return multipart.NewReader(r.buf, r.w.Boundary())
}

type world struct {
	coordinator *Coordinator
	backend     *fakeBackend
	files       *fakeFiles
	usage       *fakeUsage
	quotas      *fakeQuota
	sink        *captureSink
	ownerID     uuid.UUID
	target      container.Container
}

func newWorld() *world {
	backend := newFakeBackend()
	files := newFakeFiles()
	usage := &fakeUsage{}
	quotas := &fakeQuota{record: quota.Record{
		MemoryAllocated:   500_000_000,
		APICallsAllocated: 10_000,
	}}
	sink := &captureSink{}
	ownerID := uuid.New()
	return &world{
		coordinator: NewCoordinator(backend, files, usage, quotas, sink, zap.NewNop()),
		backend:     backend,
		files:       files,
		usage:       usage,
		quotas:      quotas,
		sink:        sink,
		ownerID:     ownerID,
		target:      container.Container{ID: uuid.New(), OwnerID: ownerID, Name: "dinosaurs"},
	}
}

// --- tests ---

func TestProcessStoresFileAndAccounts(t *testing.T) {
	w := newWorld()
	payload := make([]byte, 226)

	req := newRequest()
	req.filePart(t, "file", "small-image.png", "image/png", payload)

	res := w.coordinator.Process(context.Background(), w.ownerID, w.target, req.reader(t), Options{})

	if res.Error {
		t.Fatalf("request-level error on clean upload: %+v", res)
	}
	if res.Message != "uploaded 1 file(s)" {
		t.Fatalf("unexpected message %q", res.Message)
	}
	if len(res.Tokens) != 1 {
		t.Fatalf("expected 1 token, got %d", len(res.Tokens))
	}
	tok := res.Tokens[0]
	if tok.Error {
		t.Fatalf("token errored: %q", tok.ErrorMsg)
	}
	if tok.Filename != "small-image.png" || tok.Extension != "png" {
		t.Fatalf("unexpected token name fields: %+v", tok)
	}
	if tok.File == "" || tok.URL == "" {
		t.Fatalf("token missing file id or url: %+v", tok)
	}

	if len(w.files.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(w.files.records))
	}
	for _, rec := range w.files.records {
		if rec.SizeBytes != 226 {
			t.Fatalf("expected size 226, got %d", rec.SizeBytes)
		}
		if rec.ContainerName != "dinosaurs" {
			t.Fatalf("container name not carried: %+v", rec)
		}
	}
	if w.usage.delta != 226 {
		t.Fatalf("container usage delta = %d, want 226", w.usage.delta)
	}
	if w.quotas.bytesDelta != 226 || w.quotas.callsDelta != 1 {
		t.Fatalf("quota commit = (%d, %d), want (226, 1)", w.quotas.bytesDelta, w.quotas.callsDelta)
	}
	if len(w.sink.events) != 1 || w.sink.events[0] != "file:uploaded" {
		t.Fatalf("expected one file:uploaded event, got %v", w.sink.events)
	}
}

func TestProcessRefusesOverQuotaBeforeUpload(t *testing.T) {
	w := newWorld()
	w.quotas.record.MemoryAllocated = 1000
	w.quotas.record.MemoryUsed = 900

	req := newRequest()
	req.filePart(t, "file", "big.png", "image/png", make([]byte, 200))

	res := w.coordinator.Process(context.Background(), w.ownerID, w.target, req.reader(t), Options{})

	if len(res.Tokens) != 1 {
		t.Fatalf("expected 1 token, got %d", len(res.Tokens))
	}
	tok := res.Tokens[0]
	if !tok.Error || tok.ErrorMsg != "memory limit exceeded" {
		t.Fatalf("expected memory refusal, got %+v", tok)
	}
	if w.backend.uploads != 0 {
		t.Fatalf("backend must not be touched on refusal, saw %d uploads", w.backend.uploads)
	}
	if len(w.files.records) != 0 {
		t.Fatalf("no record should exist, got %d", len(w.files.records))
	}
	if w.quotas.bytesDelta != 0 || w.quotas.callsDelta != 0 {
		t.Fatalf("usage must not move on refusal, got (%d, %d)", w.quotas.bytesDelta, w.quotas.callsDelta)
	}
	if res.Message != "there was a problem with some of your files" {
		t.Fatalf("unexpected message %q", res.Message)
	}
	if res.Error {
		t.Fatalf("a part refusal is not a request-level error")
	}
}

func TestProcessExactFitIsRefused(t *testing.T) {
	w := newWorld()
	w.quotas.record.MemoryAllocated = 1000
	w.quotas.record.MemoryUsed = 800

	req := newRequest()
	req.filePart(t, "file", "fit.png", "image/png", make([]byte, 200))

	res := w.coordinator.Process(context.Background(), w.ownerID, w.target, req.reader(t), Options{})
	if !res.Tokens[0].Error {
		t.Fatalf("reaching the allocation exactly must refuse, got %+v", res.Tokens[0])
	}
}

func TestProcessRejectsUnsupportedContentType(t *testing.T) {
	w := newWorld()

	req := newRequest()
	req.filePart(t, "doc", "report.pdf", "application/pdf", []byte("%PDF-1.4"))
	req.filePart(t, "pic", "ok.png", "image/png", []byte{1, 2, 3})

	res := w.coordinator.Process(context.Background(), w.ownerID, w.target, req.reader(t), Options{})

	if len(res.Tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(res.Tokens))
	}
	var rejected, stored int
	for _, tok := range res.Tokens {
		if tok.Error {
			rejected++
			if !strings.Contains(tok.ErrorMsg, "application/pdf") {
				t.Fatalf("rejection should name the content type: %q", tok.ErrorMsg)
			}
		} else {
			stored++
		}
	}
	if rejected != 1 || stored != 1 {
		t.Fatalf("expected 1 rejected and 1 stored, got %d/%d", rejected, stored)
	}
	if res.Message != "there was a problem with some of your files" {
		t.Fatalf("unexpected message %q", res.Message)
	}
	if res.Error {
		t.Fatalf("per-part rejection must not fail the request")
	}
	if len(w.files.records) != 1 {
		t.Fatalf("only the png should be recorded, got %d", len(w.files.records))
	}
}

func TestProcessInvalidMetaDiscardsUploads(t *testing.T) {
	w := newWorld()

	req := newRequest()
	req.filePart(t, "a", "a.png", "image/png", []byte("aaaa"))
	req.filePart(t, "b", "b.png", "image/png", []byte("bbbb"))
	req.fieldPart(t, "meta", "application/json", []byte(`{"broken`))

	res := w.coordinator.Process(context.Background(), w.ownerID, w.target, req.reader(t), Options{})

	if !res.Error {
		t.Fatalf("poisoned meta must fail the request")
	}
	if res.Message != "invalid meta; uploaded files were discarded" {
		t.Fatalf("unexpected message %q", res.Message)
	}
	if len(w.files.records) != 0 {
		t.Fatalf("all uploads must be rolled back, %d remain", len(w.files.records))
	}
	if len(w.files.deleted) != 2 {
		t.Fatalf("expected 2 rollback deletes, got %d", len(w.files.deleted))
	}
	// tokens still describe what happened before the rollback
	if len(res.Tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(res.Tokens))
	}
}

func TestProcessAttachesMetaToEveryFile(t *testing.T) {
	w := newWorld()
	meta := `{"album":"cretaceous"}`

	req := newRequest()
	req.filePart(t, "a", "a.png", "image/png", []byte("aaaa"))
	req.fieldPart(t, "meta", "application/json", []byte(meta))
	req.filePart(t, "b", "b.png", "image/png", []byte("bbbb"))

	res := w.coordinator.Process(context.Background(), w.ownerID, w.target, req.reader(t), Options{})

	if res.Error {
		t.Fatalf("clean upload errored: %+v", res)
	}
	if len(w.files.metas) != 2 {
		t.Fatalf("meta should attach to both files, got %d", len(w.files.metas))
	}
	for id, raw := range w.files.metas {
		if string(raw) != meta {
			t.Fatalf("file %s got meta %q", id, raw)
		}
	}
}

func TestProcessUploadsTextFieldUnderFieldName(t *testing.T) {
	w := newWorld()

	req := newRequest()
	req.fieldPart(t, "notes", "text/plain", []byte("hello"))
	req.fieldPart(t, "ignored", "application/json", []byte(`{"x":1}`))

	res := w.coordinator.Process(context.Background(), w.ownerID, w.target, req.reader(t), Options{})

	if len(res.Tokens) != 1 {
		t.Fatalf("only the text/plain field should produce a token, got %d", len(res.Tokens))
	}
	if res.Tokens[0].Filename != "notes" {
		t.Fatalf("field name should double as filename, got %q", res.Tokens[0].Filename)
	}
	if len(w.files.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(w.files.records))
	}
}

func TestProcessInsertFailureRemovesRemoteObject(t *testing.T) {
	w := newWorld()
	w.files.failNext = true

	req := newRequest()
	req.filePart(t, "file", "orphan.png", "image/png", []byte("data"))

	res := w.coordinator.Process(context.Background(), w.ownerID, w.target, req.reader(t), Options{})

	if !res.Tokens[0].Error {
		t.Fatalf("insert failure must error the token")
	}
	if len(w.backend.objects) != 0 {
		t.Fatalf("remote object must be cleaned up, %d remain", len(w.backend.objects))
	}
	if w.backend.removes != 1 {
		t.Fatalf("expected 1 remote remove, got %d", w.backend.removes)
	}
	if w.quotas.callsDelta != 0 {
		t.Fatalf("no usage commit after failed insert, got %d calls", w.quotas.callsDelta)
	}
}

func TestProcessSetsParentOnEveryFile(t *testing.T) {
	w := newWorld()
	parentID := uuid.New()

	req := newRequest()
	req.filePart(t, "file", "child.png", "image/png", []byte("data"))

	res := w.coordinator.Process(context.Background(), w.ownerID, w.target, req.reader(t), Options{ParentID: &parentID})
	if res.Tokens[0].Error {
		t.Fatalf("upload failed: %q", res.Tokens[0].ErrorMsg)
	}
	for _, rec := range w.files.records {
		if rec.ParentID == nil || *rec.ParentID != parentID {
			t.Fatalf("parent id not carried onto record: %+v", rec)
		}
	}
}
