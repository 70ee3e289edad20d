package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"studybuddy/internal/apptypes"
	"studybuddy/internal/config"
	"studybuddy/internal/models"
	"studybuddy/internal/storage"
)

var errInjected = errors.New("injected store failure")

// faultyStore wraps a ProfileStore and fails updates for chosen profile IDs.
type faultyStore struct {
	storage.ProfileStore
	mu         sync.Mutex
	failUpdate map[string]bool
	updates    []string
}

func newFaultyStore(inner storage.ProfileStore) *faultyStore {
	return &faultyStore{ProfileStore: inner, failUpdate: map[string]bool{}}
}

func (f *faultyStore) failUpdatesFor(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.failUpdate[id] = true
	}
}

func (f *faultyStore) Update(ctx context.Context, id string, patch models.ProfilePatch) (*models.UserProfile, error) {
	f.mu.Lock()
	fail := f.failUpdate[id]
	f.updates = append(f.updates, id)
	f.mu.Unlock()
	if fail {
		return nil, errInjected
	}
	return f.ProfileStore.Update(ctx, id, patch)
}

func (f *faultyStore) updatedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := append([]string(nil), f.updates...)
	sort.Strings(ids)
	return ids
}

func newTestStore(t *testing.T) *faultyStore {
	t.Helper()
	inner, err := storage.OpenBadgerProfileStore(storage.BadgerOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = inner.Close() })
	return newFaultyStore(inner)
}

// seed creates profiles by ID with the username equal to the ID.
func seed(t *testing.T, store storage.ProfileStore, profiles ...*models.UserProfile) {
	t.Helper()
	for _, p := range profiles {
		if p.Username == "" {
			p.Username = p.ID
		}
		require.NoError(t, store.Create(context.Background(), p))
	}
}

func profile(id string) *models.UserProfile {
	return &models.UserProfile{BaseModel: models.BaseModel{ID: id}}
}

func mustGet(t *testing.T, store storage.ProfileStore, id string) *models.UserProfile {
	t.Helper()
	p, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	return p
}

func testRepairConfig() config.RepairConfig {
	return config.RepairConfig{ScanPageSize: 2, UpdateConcurrency: 3}
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []apptypes.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event apptypes.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) types() []apptypes.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]apptypes.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// memoryBlobs is an in-memory BlobStore.
type memoryBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemoryBlobs() *memoryBlobs {
	return &memoryBlobs{blobs: map[string][]byte{}}
}

func (m *memoryBlobs) Upload(_ context.Context, path string, r io.Reader, _ int64, contentType string) (*apptypes.FileInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[path] = data
	return &apptypes.FileInfo{Path: path, Size: int64(len(data)), MimeType: contentType}, nil
}

func (m *memoryBlobs) SignedURL(_ context.Context, path string) (string, error) {
	return "https://blobs.test/" + path, nil
}

func (m *memoryBlobs) Remove(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, path)
	return nil
}

func (m *memoryBlobs) has(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[path]
	return ok
}

func (m *memoryBlobs) count(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.blobs {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n
}

func pngUpload(name string) Upload {
	data := []byte("\x89PNG fake image")
	return Upload{Reader: bytes.NewReader(data), Size: int64(len(data)), Filename: name, ContentType: "image/png"}
}

// memoryTasks is an in-memory TaskRepository.
type memoryTasks struct {
	mu    sync.Mutex
	tasks map[string]*models.Task
}

func newMemoryTasks() *memoryTasks {
	return &memoryTasks{tasks: map[string]*models.Task{}}
}

func (m *memoryTasks) Create(_ context.Context, task *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task.EnsureID()
	task.Touch(time.Now())
	cp := *task
	m.tasks[task.ID] = &cp
	return nil
}

func (m *memoryTasks) GetByID(_ context.Context, id string) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, storage.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memoryTasks) FindByReceiver(_ context.Context, receiverID string) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.ReceiverID == receiverID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memoryTasks) SetProof(_ context.Context, id string, proof *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return storage.ErrTaskNotFound
	}
	t.ImgProof = proof
	return nil
}

func (m *memoryTasks) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return storage.ErrTaskNotFound
	}
	delete(m.tasks, id)
	return nil
}

// memoryReports is an in-memory ReportRepository with the same optimistic
// amt check as the gorm implementation.
type memoryReports struct {
	mu      sync.Mutex
	reports map[string]*models.Report
	// beforeSave runs once, before the next Save, to simulate a racing writer.
	beforeSave func()
}

func newMemoryReports() *memoryReports {
	return &memoryReports{reports: map[string]*models.Report{}}
}

func cloneReport(r *models.Report) *models.Report {
	cp := *r
	cp.ReporterUsername = append([]string(nil), r.ReporterUsername...)
	cp.Reason = append([]string(nil), r.Reason...)
	cp.ReportedAt = append([]string(nil), r.ReportedAt...)
	return &cp
}

func (m *memoryReports) Get(_ context.Context, id string) (*models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, nil
	}
	return cloneReport(r), nil
}

func (m *memoryReports) Create(_ context.Context, report *models.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[report.ReportedUserID]; ok {
		return storage.ErrReportConflict
	}
	m.reports[report.ReportedUserID] = cloneReport(report)
	return nil
}

func (m *memoryReports) Save(_ context.Context, report *models.Report, prevAmt int) error {
	if hook := m.beforeSave; hook != nil {
		m.beforeSave = nil
		hook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.reports[report.ReportedUserID]
	if !ok || current.Amt != prevAmt {
		return storage.ErrReportConflict
	}
	m.reports[report.ReportedUserID] = cloneReport(report)
	return nil
}

func (m *memoryReports) List(_ context.Context, limit, offset int) ([]*models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Report, 0, len(m.reports))
	for _, r := range m.reports {
		out = append(out, cloneReport(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Amt > out[j].Amt })
	if offset >= len(out) {
		return []*models.Report{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}
