// Package services contains the portal's business logic. This file
// implements UserService: accounts, login, refresh-token rotation and the
// one-time-code password reset flow.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dmitrijs2005/jewelryportal/internal/common"
	"github.com/dmitrijs2005/jewelryportal/internal/dbx"
	"github.com/dmitrijs2005/jewelryportal/internal/logging"
	"github.com/dmitrijs2005/jewelryportal/internal/server/auth"
	"github.com/dmitrijs2005/jewelryportal/internal/server/config"
	"github.com/dmitrijs2005/jewelryportal/internal/server/metrics"
	"github.com/dmitrijs2005/jewelryportal/internal/server/models"
	"github.com/dmitrijs2005/jewelryportal/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const (
	MinPasswordLength = 8
	maxNameLength     = 200

	defaultUserListLimit = 50
	maxUserListLimit     = 200
)

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// CodeSender delivers password reset codes to the account owner.
type CodeSender interface {
	SendResetCode(ctx context.Context, email, code string) error
}

// LogCodeSender writes codes to the log. It stands in for a mail gateway.
type LogCodeSender struct {
	Logger logging.Logger
}

func (s LogCodeSender) SendResetCode(ctx context.Context, email, code string) error {
	s.Logger.Info(ctx, "password reset code issued", "email", email, "code", code)
	return nil
}

// UserUpdate carries the admin-editable account fields. Empty strings keep
// the current value.
type UserUpdate struct {
	Name  string
	Email string
	Role  string
}

type UserService struct {
	db                           *sql.DB
	repomanager                  repomanager.RepositoryManager
	jwtSecret                    []byte
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration
	passwordIterations           int
	otp                          *auth.OTPStore
	sender                       CodeSender
	blobs                        BlobStore
	logger                       logging.Logger
	metrics                      *metrics.Metrics

	dummyOnce sync.Once
	dummyHash string
}

// NewUserService wires a UserService. m may be nil.
func NewUserService(db *sql.DB, rm repomanager.RepositoryManager, cfg *config.Config,
	otp *auth.OTPStore, sender CodeSender, blobs BlobStore, logger logging.Logger, m *metrics.Metrics) *UserService {
	return &UserService{
		db:                           db,
		repomanager:                  rm,
		jwtSecret:                    []byte(cfg.SecretKey),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
		passwordIterations:           cfg.PasswordIterations,
		otp:                          otp,
		sender:                       sender,
		blobs:                        blobs,
		logger:                       logger.With("module", "user_service"),
		metrics:                      m,
	}
}

// Register creates a customer account.
func (s *UserService) Register(ctx context.Context, name, email, password string) (*models.User, error) {
	return s.create(ctx, name, email, password, common.RoleCustomer)
}

// Create is the admin variant of Register that can choose the role.
func (s *UserService) Create(ctx context.Context, name, email, password, role string) (*models.User, error) {
	return s.create(ctx, name, email, password, role)
}

func (s *UserService) create(ctx context.Context, name, email, password, role string) (*models.User, error) {
	name = strings.TrimSpace(name)
	email = common.NormalizeEmail(email)

	v := &common.ValidationError{}
	validateName(v, name)
	validateEmail(v, email)
	validatePassword(v, "password", password)
	if !common.IsValidRole(role) {
		v.Add("role", "must be customer or admin")
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(password, s.passwordIterations)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{Name: name, Email: email, PasswordHash: hash, Role: role}
	u, err := s.repomanager.Users(s.db).Create(ctx, user)
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, fmt.Errorf("email %s: %w", email, common.ErrorAlreadyExists)
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	s.logger.Info(ctx, "user created", "user_id", u.ID, "role", u.Role)
	return u, nil
}

// Login verifies the credentials and, on success, returns a new TokenPair.
// Unknown emails and wrong passwords are indistinguishable to the caller.
func (s *UserService) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	repo := s.repomanager.Users(s.db)
	user, err := repo.GetByEmail(ctx, common.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// burn comparable time so response latency does not reveal the miss
			_, _ = auth.VerifyPassword(password, s.getDummyHash())
			s.metrics.ObserveLogin(metrics.LoginFailure)
			return nil, common.ErrorUnauthorized
		}
		s.metrics.ObserveLogin(metrics.LoginError)
		return nil, fmt.Errorf("error searching user: %w", err)
	}

	ok, err := auth.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		s.metrics.ObserveLogin(metrics.LoginError)
		return nil, fmt.Errorf("verify password of %s: %w", user.ID, err)
	}
	if !ok {
		s.metrics.ObserveLogin(metrics.LoginFailure)
		return nil, common.ErrorUnauthorized
	}

	if auth.NeedsRehash(user.PasswordHash, s.passwordIterations) {
		if hash, err := auth.HashPassword(password, s.passwordIterations); err == nil {
			if err := repo.UpdatePassword(ctx, user.ID, hash); err != nil {
				s.logger.Warn(ctx, "password rehash failed", "user_id", user.ID, "error", err)
			}
		}
	}

	s.metrics.ObserveLogin(metrics.LoginSuccess)
	return s.generateTokenPair(ctx, user, s.db)
}

// RefreshToken redeems a refresh token and returns a fresh TokenPair. The
// old token is removed in the same transaction that stores the new one, so a
// token can be redeemed once. Expired tokens yield ErrRefreshTokenExpired.
func (s *UserService) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	var pair *TokenPair
	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		token, err := s.repomanager.RefreshTokens(tx).Take(ctx, refreshToken)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrInvalidToken
			}
			return fmt.Errorf("error taking refresh token: %w", err)
		}
		if token.Expires.Before(time.Now()) {
			return common.ErrRefreshTokenExpired
		}
		user, err := s.repomanager.Users(tx).GetByID(ctx, token.UserID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrInvalidToken
			}
			return fmt.Errorf("error loading user: %w", err)
		}
		var genErr error
		pair, genErr = s.generateTokenPair(ctx, user, tx)
		return genErr
	}); err != nil {
		return nil, err
	}
	return pair, nil
}

func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, common.ErrorNotFound
	}
	u, err := s.repomanager.Users(s.db).GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// List pages through accounts. limit defaults to 50 and is capped at 200.
func (s *UserService) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	if limit <= 0 {
		limit = defaultUserListLimit
	}
	if limit > maxUserListLimit {
		limit = maxUserListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repomanager.Users(s.db).List(ctx, limit, offset)
}

// Update changes name, email and role of an account.
func (s *UserService) Update(ctx context.Context, id string, in UserUpdate) (*models.User, error) {
	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	v := &common.ValidationError{}
	if in.Name != "" {
		user.Name = strings.TrimSpace(in.Name)
		validateName(v, user.Name)
	}
	if in.Email != "" {
		user.Email = common.NormalizeEmail(in.Email)
		validateEmail(v, user.Email)
	}
	if in.Role != "" {
		if !common.IsValidRole(in.Role) {
			v.Add("role", "must be customer or admin")
		}
		user.Role = in.Role
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	if err := s.repomanager.Users(s.db).Update(ctx, user); err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, fmt.Errorf("email %s: %w", user.Email, common.ErrorAlreadyExists)
		}
		return nil, err
	}
	return user, nil
}

// Delete removes an account with its designs and the blobs of their files.
// actorID may not delete itself.
func (s *UserService) Delete(ctx context.Context, actorID, id string) error {
	if actorID == id {
		return fmt.Errorf("cannot delete own account: %w", common.ErrorConflict)
	}
	if _, err := uuid.Parse(id); err != nil {
		return common.ErrorNotFound
	}

	var keys []string
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		files, err := s.repomanager.Files(tx).ListByOwner(ctx, id)
		if err != nil {
			return err
		}
		for _, f := range files {
			keys = append(keys, f.StorageKey)
		}
		return s.repomanager.Users(tx).Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	for _, k := range keys {
		if err := s.blobs.Delete(ctx, k); err != nil {
			s.logger.Warn(ctx, "orphaned blob", "key", k, "error", err)
		}
	}
	s.logger.Info(ctx, "user deleted", "user_id", id, "by", actorID, "files", len(keys))
	return nil
}

// ChangePassword replaces the password after checking the current one.
func (s *UserService) ChangePassword(ctx context.Context, id, current, newPassword string) error {
	user, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	ok, err := auth.VerifyPassword(current, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify password of %s: %w", user.ID, err)
	}
	v := &common.ValidationError{}
	if !ok {
		v.Add("current_password", "is incorrect")
	}
	validatePassword(v, "new_password", newPassword)
	if err := v.Err(); err != nil {
		return err
	}

	hash, err := auth.HashPassword(newPassword, s.passwordIterations)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.repomanager.Users(s.db).UpdatePassword(ctx, user.ID, hash)
}

// RequestPasswordReset issues a one-time code when the account exists. It
// never reports whether it does; failures are logged.
func (s *UserService) RequestPasswordReset(ctx context.Context, email string) {
	email = common.NormalizeEmail(email)

	user, err := s.repomanager.Users(s.db).GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) {
			s.logger.Error(ctx, "password reset lookup failed", "error", err)
		}
		return
	}

	code, err := s.otp.Issue(user.Email)
	if err != nil {
		s.logger.Error(ctx, "password reset code generation failed", "error", err)
		return
	}
	s.metrics.ObserveOTPIssued()

	if err := s.sender.SendResetCode(ctx, user.Email, code); err != nil {
		s.logger.Error(ctx, "password reset code delivery failed", "user_id", user.ID, "error", err)
	}
}

// ResetPassword checks the one-time code, stores the new password, revokes
// every refresh token of the account and then consumes the code.
func (s *UserService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	v := &common.ValidationError{}
	validatePassword(v, "new_password", newPassword)
	if err := v.Err(); err != nil {
		return err
	}

	email = common.NormalizeEmail(email)
	user, err := s.repomanager.Users(s.db).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrOTPInvalid
		}
		return fmt.Errorf("error searching user: %w", err)
	}

	if err := s.otp.Verify(email, code); err != nil {
		return err
	}

	hash, err := auth.HashPassword(newPassword, s.passwordIterations)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	var revoked int64
	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Users(tx).UpdatePassword(ctx, user.ID, hash); err != nil {
			return err
		}
		n, err := s.repomanager.RefreshTokens(tx).DeleteByUser(ctx, user.ID)
		if err != nil {
			return err
		}
		revoked = n
		// Last step: a failed write above leaves the code usable.
		return s.otp.Consume(email, code)
	}); err != nil {
		if errors.Is(err, common.ErrOTPInvalid) || errors.Is(err, common.ErrOTPExpired) {
			return err
		}
		return fmt.Errorf("error resetting password: %w", err)
	}

	s.logger.Info(ctx, "password reset", "user_id", user.ID, "revoked_tokens", revoked)
	return nil
}

// EnsureAdmin creates an admin account unless email is already registered.
// It reports whether an account was created.
func (s *UserService) EnsureAdmin(ctx context.Context, email, name, password string) (bool, error) {
	email = common.NormalizeEmail(email)

	existing, err := s.repomanager.Users(s.db).GetByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.Role != common.RoleAdmin {
			s.logger.Warn(ctx, "bootstrap admin email belongs to a non-admin account", "user_id", existing.ID)
		}
		return false, nil
	case !errors.Is(err, common.ErrorNotFound):
		return false, fmt.Errorf("error searching user: %w", err)
	}

	if _, err := s.create(ctx, name, email, password, common.RoleAdmin); err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// --- helpers below ---

func (s *UserService) getDummyHash() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = auth.HashPassword(string(common.GenerateRandByteArray(16)), s.passwordIterations)
	})
	return s.dummyHash
}

func (s *UserService) generateRefreshToken() (string, error) {
	return common.MakeRandHexString(32)
}

func (s *UserService) generateTokenPair(ctx context.Context, user *models.User, tx dbx.DBTX) (*TokenPair, error) {
	access, err := auth.IssueToken(user.ID, user.Role, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return nil, fmt.Errorf("error generating token pair: %w", err)
	}
	refresh, err := s.generateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("error generating token pair: %w", err)
	}
	if err := s.repomanager.RefreshTokens(tx).Create(ctx, user.ID, refresh, s.refreshTokenValidityDuration); err != nil {
		return nil, fmt.Errorf("error generating token pair: %w", err)
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.accessTokenValidityDuration / time.Second),
	}, nil
}

func validateName(v *common.ValidationError, name string) {
	switch {
	case name == "":
		v.Add("name", "is required")
	case utf8.RuneCountInString(name) > maxNameLength:
		v.Add("name", fmt.Sprintf("must be at most %d characters", maxNameLength))
	}
}

func validateEmail(v *common.ValidationError, email string) {
	if !common.IsValidEmail(email) {
		v.Add("email", "must be a valid email address")
	}
}

func validatePassword(v *common.ValidationError, field, password string) {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		v.Add(field, fmt.Sprintf("must be at least %d characters", MinPasswordLength))
	}
}
