package object

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/modelvault/service/internal/auth"
	"github.com/modelvault/service/internal/storage"
)

var (
	alice = auth.Identity{UserID: 1, Username: "alice"}
	bob   = auth.Identity{UserID: 2, Username: "bob"}
)

// memRecords is an in-memory Records with a clock that advances on every write.
type memRecords struct {
	mu         sync.Mutex
	nextID     int64
	rows       map[int64]*Object
	clock      time.Time
	failInsert error
}

func newMemRecords() *memRecords {
	return &memRecords{
		rows:  map[int64]*Object{},
		clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memRecords) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func cloneObject(o *Object) *Object {
	c := *o
	c.RelatedFiles = append([]RelatedFile(nil), o.RelatedFiles...)
	if o.Description != nil {
		d := *o.Description
		c.Description = &d
	}
	return &c
}

func (m *memRecords) Insert(_ context.Context, obj *Object) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsert != nil {
		return m.failInsert
	}
	m.nextID++
	obj.ID = m.nextID
	obj.CreatedAt = m.tick()
	obj.UpdatedAt = obj.CreatedAt
	m.rows[obj.ID] = cloneObject(obj)
	return nil
}

func (m *memRecords) GetByID(_ context.Context, id int64) (*Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.rows[id]; ok {
		return cloneObject(o), nil
	}
	return nil, ErrNotFound
}

func (m *memRecords) GetOwned(ctx context.Context, id, ownerID int64) (*Object, error) {
	o, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return o, nil
}

func (m *memRecords) ListByOwner(_ context.Context, ownerID int64, search string) ([]*Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	needle := strings.ToLower(search)
	out := make([]*Object, 0)
	for _, o := range m.rows {
		if o.OwnerID != ownerID {
			continue
		}
		if needle != "" {
			desc := ""
			if o.Description != nil {
				desc = *o.Description
			}
			if !strings.Contains(strings.ToLower(o.Title), needle) && !strings.Contains(strings.ToLower(desc), needle) {
				continue
			}
		}
		out = append(out, cloneObject(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *memRecords) StatsByOwner(ctx context.Context, ownerID int64) (Stats, error) {
	objs, err := m.ListByOwner(ctx, ownerID, "")
	if err != nil {
		return Stats{}, err
	}
	var s Stats
	for _, o := range objs {
		s.ObjectCount++
		s.TotalBytes += o.FileSize
	}
	return s, nil
}

func (m *memRecords) Update(_ context.Context, id, ownerID int64, in UpdateInput) (*Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.rows[id]
	if !ok || o.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	if in.Title != nil {
		o.Title = *in.Title
	}
	if in.Description != nil {
		d := *in.Description
		o.Description = &d
	}
	o.UpdatedAt = m.tick()
	return cloneObject(o), nil
}

func (m *memRecords) Delete(_ context.Context, id, ownerID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.rows[id]
	if !ok || o.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memRecords) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// flakyBackend wraps a backend and fails the n-th Put (1-based) when failOn > 0.
type flakyBackend struct {
	storage.Backend
	mu     sync.Mutex
	puts   int
	failOn int
}

func (f *flakyBackend) Put(ctx context.Context, name string, r io.Reader, size int64) (storage.Blob, error) {
	f.mu.Lock()
	f.puts++
	n := f.puts
	f.mu.Unlock()
	if f.failOn > 0 && n == f.failOn {
		return storage.Blob{}, &storage.Error{Op: "put", Ref: name, Err: storage.ErrUploadFailed}
	}
	return f.Backend.Put(ctx, name, r, size)
}

type testEnv struct {
	svc     *Service
	records *memRecords
	local   *storage.LocalStorage
	flaky   *flakyBackend
}

const testMaxFileSize = 1 << 20

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	local, err := storage.NewLocalStorage(t.TempDir(), "http://localhost:8080/uploads")
	require.NoError(t, err)
	flaky := &flakyBackend{Backend: local}
	records := newMemRecords()
	return &testEnv{
		svc:     NewService(records, storage.NewRouter(flaky, nil), testMaxFileSize),
		records: records,
		local:   local,
		flaky:   flaky,
	}
}

// files lists the blob names currently on disk.
func (e *testEnv) files(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(e.local.Root())
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, en := range entries {
		names = append(names, en.Name())
	}
	return names
}

func (e *testEnv) blobSize(t *testing.T, ref string) int64 {
	t.Helper()
	fi, err := os.Stat(filepath.Join(e.local.Root(), ref))
	require.NoError(t, err)
	return fi.Size()
}

func upload(name, content string) *Upload {
	return &Upload{Filename: name, Size: int64(len(content)), Body: strings.NewReader(content)}
}

func validInput() CreateInput {
	return CreateInput{
		Title:       "Teapot",
		Description: "Utah teapot",
		FileKind:    "obj",
		Primary:     upload("teapot.obj", "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 3\n"),
	}
}

var errDatabaseDown = errors.New("database down")

func anonymous() auth.Identity { return auth.Identity{} }
