package services

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/jewelryportal/internal/common"
	"github.com/dmitrijs2005/jewelryportal/internal/dbx"
	"github.com/dmitrijs2005/jewelryportal/internal/logging"
	"github.com/dmitrijs2005/jewelryportal/internal/server/models"
	"github.com/dmitrijs2005/jewelryportal/internal/server/repositories/designs"
	"github.com/dmitrijs2005/jewelryportal/internal/server/repositories/files"
	"github.com/dmitrijs2005/jewelryportal/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/jewelryportal/internal/server/repositories/users"
	"github.com/google/uuid"
)

var errBoom = errors.New("boom")

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func discardLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// ---- users ----

type fakeUsersRepo struct {
	mu                sync.Mutex
	byID              map[string]*models.User
	err               error
	updatePasswordErr error
	calls             map[string]int
}

func newFakeUsersRepo() *fakeUsersRepo {
	return &fakeUsersRepo{byID: map[string]*models.User{}, calls: map[string]int{}}
}

func (f *fakeUsersRepo) add(u *models.User) *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	cp := *u
	f.byID[u.ID] = &cp
	return u
}

func (f *fakeUsersRepo) get(id string) *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byID[id]; ok {
		cp := *u
		return &cp
	}
	return nil
}

func (f *fakeUsersRepo) Create(ctx context.Context, u *models.User) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Create"]++
	if f.err != nil {
		return nil, f.err
	}
	for _, x := range f.byID {
		if x.Email == u.Email {
			return nil, common.ErrorAlreadyExists
		}
	}
	u.ID = uuid.NewString()
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	f.byID[u.ID] = &cp
	return u, nil
}

func (f *fakeUsersRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	if u := f.get(id); u != nil {
		return u, nil
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, u := range f.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[fmt.Sprintf("List:%d:%d", limit, offset)]++
	out := make([]*models.User, 0)
	for _, u := range f.byID {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (f *fakeUsersRepo) Update(ctx context.Context, u *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[u.ID]; !ok {
		return common.ErrorNotFound
	}
	for id, x := range f.byID {
		if id != u.ID && x.Email == u.Email {
			return common.ErrorAlreadyExists
		}
	}
	cp := *u
	f.byID[u.ID] = &cp
	return nil
}

func (f *fakeUsersRepo) UpdatePassword(ctx context.Context, id, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["UpdatePassword"]++
	if f.updatePasswordErr != nil {
		return f.updatePasswordErr
	}
	u, ok := f.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (f *fakeUsersRepo) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return common.ErrorNotFound
	}
	delete(f.byID, id)
	return nil
}

// ---- refresh tokens ----

type fakeRefreshRepo struct {
	mu     sync.Mutex
	tokens map[string]*models.RefreshToken

	takeErr   error
	createErr error
}

func newFakeRefreshRepo() *fakeRefreshRepo {
	return &fakeRefreshRepo{tokens: map[string]*models.RefreshToken{}}
}

func (f *fakeRefreshRepo) Create(ctx context.Context, userID, token string, validity time.Duration) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[token] = &models.RefreshToken{UserID: userID, Token: token, Expires: time.Now().Add(validity)}
	return nil
}

func (f *fakeRefreshRepo) Take(ctx context.Context, token string) (*models.RefreshToken, error) {
	if f.takeErr != nil {
		return nil, f.takeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	delete(f.tokens, token)
	return t, nil
}

func (f *fakeRefreshRepo) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, t := range f.tokens {
		if t.UserID == userID {
			delete(f.tokens, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeRefreshRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tokens)
}

// ---- designs ----

type fakeDesignsRepo struct {
	mu         sync.Mutex
	byID       map[string]*models.Design
	lastFilter models.DesignFilter
	err        error
}

func newFakeDesignsRepo() *fakeDesignsRepo {
	return &fakeDesignsRepo{byID: map[string]*models.Design{}}
}

func (f *fakeDesignsRepo) add(d *models.Design) *models.Design {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	cp := *d
	f.byID[d.ID] = &cp
	return d
}

func (f *fakeDesignsRepo) Create(ctx context.Context, d *models.Design) (*models.Design, error) {
	if f.err != nil {
		return nil, f.err
	}
	d.ID = ""
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	return f.add(d), nil
}

func (f *fakeDesignsRepo) Get(ctx context.Context, id string) (*models.Design, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.byID[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, common.ErrorNotFound
}

func (f *fakeDesignsRepo) GetForUpdate(ctx context.Context, id string) (*models.Design, error) {
	return f.Get(ctx, id)
}

func (f *fakeDesignsRepo) List(ctx context.Context, flt models.DesignFilter) ([]*models.Design, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilter = flt
	var all []*models.Design
	for _, d := range f.byID {
		if flt.UserID != "" && d.UserID != flt.UserID {
			continue
		}
		if flt.Status != "" && d.Status != flt.Status {
			continue
		}
		cp := *d
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if flt.Offset >= len(all) {
		return []*models.Design{}, nil
	}
	all = all[flt.Offset:]
	if len(all) > flt.Limit {
		all = all[:flt.Limit]
	}
	return all, nil
}

func (f *fakeDesignsRepo) Update(ctx context.Context, d *models.Design) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[d.ID]; !ok {
		return common.ErrorNotFound
	}
	d.UpdatedAt = time.Now()
	cp := *d
	f.byID[d.ID] = &cp
	return nil
}

func (f *fakeDesignsRepo) UpdateStatus(ctx context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	d.Status = status
	return nil
}

func (f *fakeDesignsRepo) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return common.ErrorNotFound
	}
	delete(f.byID, id)
	return nil
}

// ---- files ----

type fakeFilesRepo struct {
	mu        sync.Mutex
	byID      map[string]*models.DesignFile
	designs   *fakeDesignsRepo
	createErr error
}

func newFakeFilesRepo() *fakeFilesRepo {
	return &fakeFilesRepo{byID: map[string]*models.DesignFile{}}
}

func (f *fakeFilesRepo) Create(ctx context.Context, file *models.DesignFile) (*models.DesignFile, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	file.ID = uuid.NewString()
	file.CreatedAt = time.Now()
	cp := *file
	f.byID[file.ID] = &cp
	return file, nil
}

func (f *fakeFilesRepo) Get(ctx context.Context, designID, fileID string) (*models.DesignFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if x, ok := f.byID[fileID]; ok && x.DesignID == designID {
		cp := *x
		return &cp, nil
	}
	return nil, common.ErrorNotFound
}

func (f *fakeFilesRepo) ListByDesign(ctx context.Context, designID string) ([]*models.DesignFile, error) {
	m, err := f.ListByDesigns(ctx, []string{designID})
	if err != nil {
		return nil, err
	}
	if m[designID] == nil {
		return []*models.DesignFile{}, nil
	}
	return m[designID], nil
}

func (f *fakeFilesRepo) ListByDesigns(ctx context.Context, ids []string) (map[string][]*models.DesignFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	out := map[string][]*models.DesignFile{}
	for _, x := range f.byID {
		if want[x.DesignID] {
			cp := *x
			out[x.DesignID] = append(out[x.DesignID], &cp)
		}
	}
	return out, nil
}

func (f *fakeFilesRepo) ListByOwner(ctx context.Context, userID string) ([]*models.DesignFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.DesignFile, 0)
	for _, x := range f.byID {
		if d, err := f.designs.Get(ctx, x.DesignID); err == nil && d.UserID == userID {
			cp := *x
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StorageKey < out[j].StorageKey })
	return out, nil
}

func (f *fakeFilesRepo) Delete(ctx context.Context, designID, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if x, ok := f.byID[fileID]; ok && x.DesignID == designID {
		delete(f.byID, fileID)
		return nil
	}
	return common.ErrorNotFound
}

// ---- manager ----

type fakeRepoManager struct {
	u *fakeUsersRepo
	r *fakeRefreshRepo
	d *fakeDesignsRepo
	f *fakeFilesRepo
}

func newFakeRepoManager() *fakeRepoManager {
	m := &fakeRepoManager{
		u: newFakeUsersRepo(),
		r: newFakeRefreshRepo(),
		d: newFakeDesignsRepo(),
		f: newFakeFilesRepo(),
	}
	m.f.designs = m.d
	return m
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error       { return nil }
func (m *fakeRepoManager) Users(db dbx.DBTX) users.Repository                 { return m.u }
func (m *fakeRepoManager) RefreshTokens(db dbx.DBTX) refreshtokens.Repository { return m.r }
func (m *fakeRepoManager) Designs(db dbx.DBTX) designs.Repository             { return m.d }
func (m *fakeRepoManager) Files(db dbx.DBTX) files.Repository                 { return m.f }

// ---- blob store ----

type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	putErr  error
	delErr  error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (b *fakeBlobStore) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) error {
	if b.putErr != nil {
		return b.putErr
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return err
	}
	if int64(buf.Len()) != size {
		return fmt.Errorf("size mismatch: %d != %d", buf.Len(), size)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = buf.Bytes()
	b.types[key] = contentType
	return nil
}

func (b *fakeBlobStore) PresignGet(ctx context.Context, key, fileName string) (string, error) {
	return "https://blobs.local/" + key + "?name=" + fileName, nil
}

func (b *fakeBlobStore) Delete(ctx context.Context, key string) error {
	if b.delErr != nil {
		return b.delErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *fakeBlobStore) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}
