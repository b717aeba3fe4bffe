package services

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/jewelryportal/internal/common"
	"github.com/dmitrijs2005/jewelryportal/internal/server/auth"
	"github.com/dmitrijs2005/jewelryportal/internal/server/config"
	"github.com/dmitrijs2005/jewelryportal/internal/server/metrics"
	"github.com/dmitrijs2005/jewelryportal/internal/server/models"
	"github.com/stretchr/testify/require"
)

const testIterations = 1000

type captureSender struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func (c *captureSender) SendResetCode(ctx context.Context, email, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.codes == nil {
		c.codes = map[string]string{}
	}
	c.codes[email] = code
	return c.err
}

func testConfig() *config.Config {
	return &config.Config{
		SecretKey:                    "k",
		AccessTokenValidityDuration:  time.Hour,
		RefreshTokenValidityDuration: 2 * time.Hour,
		PasswordIterations:           testIterations,
	}
}

func newUserService(t *testing.T, db *sql.DB, rm *fakeRepoManager, sender CodeSender) *UserService {
	t.Helper()
	if sender == nil {
		sender = &captureSender{}
	}
	otp := auth.NewOTPStore(10*time.Minute, 6)
	return NewUserService(db, rm, testConfig(), otp, sender, newFakeBlobStore(), discardLogger(), metrics.New())
}

func seedUser(t *testing.T, rm *fakeRepoManager, email, password, role string) *models.User {
	t.Helper()
	h, err := auth.HashPassword(password, testIterations)
	require.NoError(t, err)
	return rm.u.add(&models.User{Name: "Seed", Email: email, PasswordHash: h, Role: role})
}

func TestRegister_Success(t *testing.T) {
	db, _ := newSQLMockDB(t)
	rm := newFakeRepoManager()
	s := newUserService(t, db, rm, nil)

	u, err := s.Register(context.Background(), "  Alice ", "Alice@Example.com", "password1")
	require.NoError(t, err)
	require.NotEmpty(t, u.ID)
	require.Equal(t, "Alice", u.Name)
	require.Equal(t, "alice@example.com", u.Email)
	require.Equal(t, common.RoleCustomer, u.Role)

	ok, err := auth.VerifyPassword("password1", rm.u.get(u.ID).PasswordHash)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRegister_Validation(t *testing.T) {
	db, _ := newSQLMockDB(t)
	s := newUserService(t, db, newFakeRepoManager(), nil)

	_, err := s.Register(context.Background(), "", "not-an-email", "short")
	require.ErrorIs(t, err, common.ErrorValidation)

	var ve *common.ValidationError
	require.True(t, errors.As(err, &ve))
	require.Len(t, ve.Fields, 3)
}

func TestRegister_Duplicate(t *testing.T) {
	db, _ := newSQLMockDB(t)
	rm := newFakeRepoManager()
	seedUser(t, rm, "bob@example.com", "password1", common.RoleCustomer)
	s := newUserService(t, db, rm, nil)

	_, err := s.Register(context.Background(), "Bob", "BOB@example.com", "password1")
	require.ErrorIs(t, err, common.ErrorAlreadyExists)
}

func TestRegister_RepoError(t *testing.T) {
	db, _ := newSQLMockDB(t)
	rm := newFakeRepoManager()
	rm.u.err = errBoom
	s := newUserService(t, db, rm, nil)

	_, err := s.Register(context.Background(), "Bob", "bob@example.com", "password1")
	require.Error(t, err)
	require.Regexp(t, regexp.MustCompile(`error creating user: .*boom`), err.Error())
}

func TestCreate_RejectsUnknownRole(t *testing.T) {
	db, _ := newSQLMockDB(t)
	s := newUserService(t, db, newFakeRepoManager(), nil)

	_, err := s.Create(context.Background(), "Root", "root@example.com", "password1", "root")
	require.ErrorIs(t, err, common.ErrorValidation)

	u, err := s.Create(context.Background(), "Root", "root@example.com", "password1", common.RoleAdmin)
	require.NoError(t, err)
	require.Equal(t, common.RoleAdmin, u.Role)
}

func TestLogin_Flows(t *testing.T) {
	db, _ := newSQLMockDB(t)
	rm := newFakeRepoManager()
	user := seedUser(t, rm, "carol@example.com", "password1", common.RoleAdmin)
	s := newUserService(t, db, rm, nil)

	pair, err := s.Login(context.Background(), " Carol@Example.com", "password1")
	require.NoError(t, err)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, int64(3600), pair.ExpiresIn)
	require.Equal(t, 1, rm.r.count())

	claims, err := auth.VerifyToken(pair.AccessToken, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, user.ID, claims.UserID)
	require.Equal(t, common.RoleAdmin, claims.Role)

	_, err = s.Login(context.Background(), "carol@example.com", "wrong-password")
	require.ErrorIs(t, err, common.ErrorUnauthorized)

	_, err = s.Login(context.Background(), "ghost@example.com", "password1")
	require.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestLogin_RepoError(t *testing.T) {
	db, _ := newSQLMockDB(t)
	rm := newFakeRepoManager()
	rm.u.err = errBoom
	s := newUserService(t, db, rm, nil)

	_, err := s.Login(context.Background(), "a@example.com", "password1")
	require.ErrorIs(t, err, errBoom)
	require.NotErrorIs(t, err, common.ErrorUnauthorized)
}

func TestLogin_RehashesWeakHash(t *testing.T) {
	db, _ := newSQLMockDB(t)
	rm := newFakeRepoManager()
	user := seedUser(t, rm, "dan@example.com", "password1", common.RoleCustomer)

	cfg := testConfig()
	cfg.PasswordIterations = testIterations * 2
	s := NewUserService(db, rm, cfg, auth.NewOTPStore(time.Minute, 6), &captureSender{}, newFakeBlobStore(), discardLogger(), nil)

	_, err := s.Login(context.Background(), "dan@example.com", "password1")
	require.NoError(t, err)
	require.Equal(t, 1, rm.u.calls["UpdatePassword"])
	require.False(t, auth.NeedsRehash(rm.u.get(user.ID).PasswordHash, testIterations*2))
}

func TestRefreshToken_Rotates(t *testing.T) {
	db, mock := newSQLMockDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectRollback()

	rm := newFakeRepoManager()
	seedUser(t, rm, "erin@example.com", "password1", common.RoleCustomer)
	s := newUserService(t, db, rm, nil)

	first, err := s.Login(context.Background(), "erin@example.com", "password1")
	require.NoError(t, err)

	second, err := s.RefreshToken(context.Background(), first.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)
	require.Equal(t, 1, rm.r.count())

	_, err = s.RefreshToken(context.Background(), first.RefreshToken)
	require.ErrorIs(t, err, common.ErrInvalidToken)
	require.Equal(t, 1, rm.r.count())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshToken_ConcurrentReuseRedeemsOnce(t *testing.T) {
	db, mock := newSQLMockDB(t)
	mock.MatchExpectationsInOrder(false)
	mock.ExpectBegin()
	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectRollback()

	rm := newFakeRepoManager()
	seedUser(t, rm, "ivy@example.com", "password1", common.RoleCustomer)
	s := newUserService(t, db, rm, nil)

	first, err := s.Login(context.Background(), "ivy@example.com", "password1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.RefreshToken(context.Background(), first.RefreshToken)
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, common.ErrInvalidToken)
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, rm.r.count())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshToken_Expired(t *testing.T) {
	db, mock := newSQLMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	rm := newFakeRepoManager()
	rm.r.tokens["old"] = &models.RefreshToken{UserID: "u1", Token: "old", Expires: time.Now().Add(-time.Minute)}
	s := newUserService(t, db, rm, nil)

	_, err := s.RefreshToken(context.Background(), "old")
	require.ErrorIs(t, err, common.ErrRefreshTokenExpired)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshToken_TakeErrRollsBack(t *testing.T) {
	db, mock := newSQLMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	rm := newFakeRepoManager()
	rm.r.takeErr = errBoom
	s := newUserService(t, db, rm, nil)

	_, err := s.RefreshToken(context.Background(), "r")
	require.Error(t, err)
	require.Regexp(t, regexp.MustCompile(`error taking refresh token: .*boom`), err.Error())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUser(t *testing.T) {
	db, _ := newSQLMockDB(t)
	rm := newFakeRepoManager()
	u := seedUser(t, rm, "f@example.com", "password1", common.RoleCustomer)
	seedUser(t, rm, "taken@example.com", "password1", common.RoleCustomer)
	s := newUserService(t, db, rm, nil)

	got, err := s.Update(context.Background(), u.ID, UserUpdate{Name: "Frank", Role: common.RoleAdmin})
	require.NoError(t, err)
	require.Equal(t, "Frank", got.Name)
	require.Equal(t, "f@example.com", got.Email)
	require.Equal(t, common.RoleAdmin, got.Role)

	_, err = s.Update(context.Background(), u.ID, UserUpdate{Email: "TAKEN@example.com"})
	require.ErrorIs(t, err, common.ErrorAlreadyExists)

	_, err = s.Update(context.Background(), u.ID, UserUpdate{Role: "owner"})
	require.ErrorIs(t, err, common.ErrorValidation)

	_, err = s.Update(context.Background(), "not-a-uuid", UserUpdate{Name: "x"})
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestDeleteUser(t *testing.T) {
	db, mock := newSQLMockDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectRollback()

	rm := newFakeRepoManager()
	admin := seedUser(t, rm, "admin@example.com", "password1", common.RoleAdmin)
	victim := seedUser(t, rm, "v@example.com", "password1", common.RoleCustomer)
	s := newUserService(t, db, rm, nil)

	require.ErrorIs(t, s.Delete(context.Background(), admin.ID, admin.ID), common.ErrorConflict)
	require.NoError(t, s.Delete(context.Background(), admin.ID, victim.ID))
	require.ErrorIs(t, s.Delete(context.Background(), admin.ID, victim.ID), common.ErrorNotFound)
	require.ErrorIs(t, s.Delete(context.Background(), admin.ID, "nope"), common.ErrorNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUser_RemovesDesignBlobs(t *testing.T) {
	db, mock := newSQLMockDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	rm := newFakeRepoManager()
	admin := seedUser(t, rm, "admin@example.com", "password1", common.RoleAdmin)
	victim := seedUser(t, rm, "v@example.com", "password1", common.RoleCustomer)

	blobs := newFakeBlobStore()
	for owner, key := range map[string]string{victim.ID: "designs/victim", admin.ID: "designs/admin"} {
		d := rm.d.add(&models.Design{UserID: owner, Status: models.StatusSubmitted})
		_, err := rm.f.Create(context.Background(), &models.DesignFile{DesignID: d.ID, StorageKey: key})
		require.NoError(t, err)
		blobs.objects[key] = []byte("x")
	}

	s := NewUserService(db, rm, testConfig(), auth.NewOTPStore(time.Minute, 6), &captureSender{}, blobs, discardLogger(), nil)
	require.NoError(t, s.Delete(context.Background(), admin.ID, victim.ID))

	require.NotContains(t, blobs.objects, "designs/victim")
	require.Contains(t, blobs.objects, "designs/admin")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListUsers_ClampsPaging(t *testing.T) {
	db, _ := newSQLMockDB(t)
	rm := newFakeRepoManager()
	s := newUserService(t, db, rm, nil)

	_, err := s.List(context.Background(), 0, -5)
	require.NoError(t, err)
	_, err = s.List(context.Background(), 1000, 10)
	require.NoError(t, err)

	require.Equal(t, 1, rm.u.calls["List:50:0"])
	require.Equal(t, 1, rm.u.calls["List:200:10"])
}

func TestChangePassword(t *testing.T) {
	db, _ := newSQLMockDB(t)
	rm := newFakeRepoManager()
	u := seedUser(t, rm, "g@example.com", "password1", common.RoleCustomer)
	s := newUserService(t, db, rm, nil)

	err := s.ChangePassword(context.Background(), u.ID, "wrong", "password2")
	require.ErrorIs(t, err, common.ErrorValidation)

	err = s.ChangePassword(context.Background(), u.ID, "password1", "short")
	require.ErrorIs(t, err, common.ErrorValidation)

	require.NoError(t, s.ChangePassword(context.Background(), u.ID, "password1", "password2"))
	_, err = s.Login(context.Background(), "g@example.com", "password2")
	require.NoError(t, err)
}

func TestPasswordResetFlow(t *testing.T) {
	db, mock := newSQLMockDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	rm := newFakeRepoManager()
	seedUser(t, rm, "h@example.com", "password1", common.RoleCustomer)
	sender := &captureSender{}
	s := newUserService(t, db, rm, sender)

	_, err := s.Login(context.Background(), "h@example.com", "password1")
	require.NoError(t, err)
	require.Equal(t, 1, rm.r.count())

	s.RequestPasswordReset(context.Background(), " H@example.com ")
	code := sender.codes["h@example.com"]
	require.Len(t, code, 6)

	require.ErrorIs(t, s.ResetPassword(context.Background(), "h@example.com", code, "short"), common.ErrorValidation)

	require.NoError(t, s.ResetPassword(context.Background(), "h@example.com", code, "password2"))
	require.Equal(t, 0, rm.r.count(), "refresh tokens must be revoked")

	_, err = s.Login(context.Background(), "h@example.com", "password2")
	require.NoError(t, err)

	require.ErrorIs(t, s.ResetPassword(context.Background(), "h@example.com", code, "password3"), common.ErrOTPInvalid)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResetPassword_FailedWriteKeepsCode(t *testing.T) {
	db, mock := newSQLMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	rm := newFakeRepoManager()
	seedUser(t, rm, "jo@example.com", "password1", common.RoleCustomer)
	sender := &captureSender{}
	s := newUserService(t, db, rm, sender)

	s.RequestPasswordReset(context.Background(), "jo@example.com")
	code := sender.codes["jo@example.com"]

	rm.u.updatePasswordErr = errBoom
	err := s.ResetPassword(context.Background(), "jo@example.com", code, "password2")
	require.Error(t, err)
	require.Regexp(t, regexp.MustCompile(`error resetting password: .*boom`), err.Error())

	rm.u.updatePasswordErr = nil
	require.NoError(t, s.ResetPassword(context.Background(), "jo@example.com", code, "password2"))
	require.ErrorIs(t, s.ResetPassword(context.Background(), "jo@example.com", code, "password3"), common.ErrOTPInvalid)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestPasswordReset_UnknownEmailIsSilent(t *testing.T) {
	db, _ := newSQLMockDB(t)
	sender := &captureSender{}
	s := newUserService(t, db, newFakeRepoManager(), sender)

	s.RequestPasswordReset(context.Background(), "ghost@example.com")
	require.Empty(t, sender.codes)

	err := s.ResetPassword(context.Background(), "ghost@example.com", "123456", "password2")
	require.ErrorIs(t, err, common.ErrOTPInvalid)
}

func TestRequestPasswordReset_SenderErrorIsSwallowed(t *testing.T) {
	db, _ := newSQLMockDB(t)
	rm := newFakeRepoManager()
	seedUser(t, rm, "i@example.com", "password1", common.RoleCustomer)
	sender := &captureSender{err: errBoom}
	s := newUserService(t, db, rm, sender)

	require.NotPanics(t, func() { s.RequestPasswordReset(context.Background(), "i@example.com") })
	require.Len(t, sender.codes["i@example.com"], 6)
}

func TestEnsureAdmin(t *testing.T) {
	db, _ := newSQLMockDB(t)
	rm := newFakeRepoManager()
	s := newUserService(t, db, rm, nil)

	created, err := s.EnsureAdmin(context.Background(), "Admin@Example.com", "Admin", "password1")
	require.NoError(t, err)
	require.True(t, created)

	created, err = s.EnsureAdmin(context.Background(), "admin@example.com", "Admin", "password1")
	require.NoError(t, err)
	require.False(t, created)

	u, err := rm.u.GetByEmail(context.Background(), "admin@example.com")
	require.NoError(t, err)
	require.Equal(t, common.RoleAdmin, u.Role)

	_, err = s.EnsureAdmin(context.Background(), "x@example.com", "X", "short")
	require.ErrorIs(t, err, common.ErrorValidation)
}

func TestLogCodeSender(t *testing.T) {
	require.NoError(t, LogCodeSender{Logger: discardLogger()}.SendResetCode(context.Background(), "a@example.com", "123456"))
}
