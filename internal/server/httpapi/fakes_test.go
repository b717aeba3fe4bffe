package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/jewelryportal/internal/common"
	"github.com/dmitrijs2005/jewelryportal/internal/logging"
	"github.com/dmitrijs2005/jewelryportal/internal/server/auth"
	"github.com/dmitrijs2005/jewelryportal/internal/server/metrics"
	"github.com/dmitrijs2005/jewelryportal/internal/server/models"
	"github.com/dmitrijs2005/jewelryportal/internal/server/services"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

// ---- users ----

type fakeUsers struct {
	user    *models.User
	users   []*models.User
	tokens  *services.TokenPair
	err     error
	lastArg []string

	resetRequested string
}

func (f *fakeUsers) record(args ...string) { f.lastArg = args }

func (f *fakeUsers) Register(ctx context.Context, name, email, password string) (*models.User, error) {
	f.record(name, email, password)
	return f.user, f.err
}
func (f *fakeUsers) Create(ctx context.Context, name, email, password, role string) (*models.User, error) {
	f.record(name, email, password, role)
	return f.user, f.err
}
func (f *fakeUsers) Login(ctx context.Context, email, password string) (*services.TokenPair, error) {
	f.record(email, password)
	return f.tokens, f.err
}
func (f *fakeUsers) RefreshToken(ctx context.Context, refreshToken string) (*services.TokenPair, error) {
	f.record(refreshToken)
	return f.tokens, f.err
}
func (f *fakeUsers) Get(ctx context.Context, id string) (*models.User, error) {
	f.record(id)
	return f.user, f.err
}
func (f *fakeUsers) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	f.record(strconv.Itoa(limit), strconv.Itoa(offset))
	return f.users, f.err
}
func (f *fakeUsers) Update(ctx context.Context, id string, in services.UserUpdate) (*models.User, error) {
	f.record(id, in.Name, in.Email, in.Role)
	return f.user, f.err
}
func (f *fakeUsers) Delete(ctx context.Context, actorID, id string) error {
	f.record(actorID, id)
	return f.err
}
func (f *fakeUsers) ChangePassword(ctx context.Context, id, current, newPassword string) error {
	f.record(id, current, newPassword)
	return f.err
}
func (f *fakeUsers) RequestPasswordReset(ctx context.Context, email string) {
	f.resetRequested = email
}
func (f *fakeUsers) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	f.record(email, code, newPassword)
	return f.err
}

// ---- designs ----

type fakeDesigns struct {
	design *models.Design
	list   []*models.Design
	file   *models.DesignFile
	url    string
	err    error

	lastPrincipal auth.Principal
	lastID        string
	lastFilter    models.DesignFilter
	lastSpec      models.DesignSpec
	lastStatus    string
	lastUpload    services.FileUpload
	uploadBody    []byte
}

func (f *fakeDesigns) Create(ctx context.Context, p auth.Principal, spec models.DesignSpec) (*models.Design, error) {
	f.lastPrincipal, f.lastSpec = p, spec
	return f.design, f.err
}
func (f *fakeDesigns) Get(ctx context.Context, p auth.Principal, id string) (*models.Design, error) {
	f.lastPrincipal, f.lastID = p, id
	return f.design, f.err
}
func (f *fakeDesigns) List(ctx context.Context, p auth.Principal, flt models.DesignFilter) ([]*models.Design, error) {
	f.lastPrincipal, f.lastFilter = p, flt
	return f.list, f.err
}
func (f *fakeDesigns) ListAll(ctx context.Context, p auth.Principal, flt models.DesignFilter) ([]*models.Design, error) {
	f.lastPrincipal, f.lastFilter = p, flt
	return f.list, f.err
}
func (f *fakeDesigns) Update(ctx context.Context, p auth.Principal, id string, spec models.DesignSpec) (*models.Design, error) {
	f.lastPrincipal, f.lastID, f.lastSpec = p, id, spec
	return f.design, f.err
}
func (f *fakeDesigns) SetStatus(ctx context.Context, p auth.Principal, id, status string) (*models.Design, error) {
	f.lastPrincipal, f.lastID, f.lastStatus = p, id, status
	return f.design, f.err
}
func (f *fakeDesigns) Delete(ctx context.Context, p auth.Principal, id string) error {
	f.lastPrincipal, f.lastID = p, id
	return f.err
}
func (f *fakeDesigns) AttachFile(ctx context.Context, p auth.Principal, designID string, in services.FileUpload) (*models.DesignFile, error) {
	f.lastPrincipal, f.lastID, f.lastUpload = p, designID, in
	if in.Body != nil {
		b, err := io.ReadAll(in.Body)
		if err != nil {
			return nil, err
		}
		f.uploadBody = b
	}
	return f.file, f.err
}
func (f *fakeDesigns) FileURL(ctx context.Context, p auth.Principal, designID, fileID string) (string, error) {
	f.lastPrincipal, f.lastID = p, designID+"/"+fileID
	return f.url, f.err
}
func (f *fakeDesigns) DeleteFile(ctx context.Context, p auth.Principal, designID, fileID string) error {
	f.lastPrincipal, f.lastID = p, designID+"/"+fileID
	return f.err
}

// ---- helpers ----

type testEnv struct {
	srv     *Server
	handler http.Handler
	users   *fakeUsers
	designs *fakeDesigns
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	us, ds := &fakeUsers{}, &fakeDesigns{}
	l := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := NewServer(Options{SecretKey: testSecret, MaxUploadBytes: 1024}, l, us, ds, metrics.New())
	return &testEnv{srv: srv, handler: srv.Handler(), users: us, designs: ds}
}

func tokenFor(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := auth.IssueToken(userID, role, []byte(testSecret), time.Hour)
	require.NoError(t, err)
	return tok
}

func customerToken(t *testing.T) string { return tokenFor(t, "cust-1", common.RoleCustomer) }
func adminToken(t *testing.T) string { return tokenFor(t, "admin-1", common.RoleAdmin) }

// do sends a request with an optional bearer token and JSON body.
func (e *testEnv) do(t *testing.T, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}
