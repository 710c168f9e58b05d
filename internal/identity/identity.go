// Package identity resolves acting principals from bearer credentials and
// manages the accounts and sessions behind them. Opaque session tokens are
// stored as SHA-256 digests; the raw token leaves the process exactly once,
// in the issue response.
package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/example/coaching-marketplace/internal/application"
	"github.com/example/coaching-marketplace/internal/persistence"
)

// AccountStore exposes the account operations the identity service needs.
type AccountStore interface {
	CreateAccount(ctx context.Context, account persistence.Account) error
	GetAccount(ctx context.Context, id string) (persistence.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (persistence.Account, error)
}

// SessionStore exposes the session operations the identity service needs.
// Sessions are keyed by token digest, never by the raw token.
type SessionStore interface {
	CreateSession(ctx context.Context, session persistence.Session) (persistence.Session, error)
	GetSession(ctx context.Context, tokenHash string) (persistence.Session, error)
	RevokeSession(ctx context.Context, tokenHash string, revokedAt time.Time) (persistence.Session, error)
	DeleteExpiredSessions(ctx context.Context, reference time.Time) error
}

// Service manages accounts and first-party sessions.
type Service struct {
	accounts       AccountStore
	sessions       SessionStore
	hashPassword   func(password string) (string, error)
	verifyPassword func(hashedPassword, password string) error
	idGenerator    func() string
	tokenGenerator func() (string, error)
	now            func() time.Time
	sessionTTL     time.Duration
	logger         *slog.Logger
}

// NewService constructs a Service with the provided stores.
func NewService(accounts AccountStore, sessions SessionStore, idGenerator func() string, now func() time.Time, sessionTTL time.Duration) *Service {
	return NewServiceWithLogger(accounts, sessions, idGenerator, now, sessionTTL, nil)
}

// NewServiceWithLogger constructs a Service with a specified logger.
func NewServiceWithLogger(accounts AccountStore, sessions SessionStore, idGenerator func() string, now func() time.Time, sessionTTL time.Duration, logger *slog.Logger) *Service {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		accounts: accounts,
		sessions: sessions,
		hashPassword: func(password string) (string, error) {
			return CreatePasswordHash(password, DefaultArgon2idParams)
		},
		verifyPassword: VerifyPassword,
		idGenerator:    idGenerator,
		tokenGenerator: newOpaqueToken,
		now:            now,
		sessionTTL:     sessionTTL,
		logger:         logger,
	}
}

func (s *Service) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	logger := s.logger
	if logger == nil {
		logger = slog.Default()
	}
	pairs := append([]any{"service", "IdentityService", "operation", operation}, attrs...)
	return logger.With(pairs...)
}

// newOpaqueToken returns 256 bits of randomness as hex.
func newOpaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// TokenDigest returns the stored form of an opaque session token.
func TokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// CreateAccountParams captures a registration request.
type CreateAccountParams struct {
	Email       string
	DisplayName string
	Password    string
	IsCoach     bool
}

// IssueSessionParams captures a login request.
type IssueSessionParams struct {
	Email       string
	Password    string
	Fingerprint string
}

// RotateSessionParams exchanges a valid session token for a fresh one.
type RotateSessionParams struct {
	Token       string
	Fingerprint string
}

// SessionResult carries an issued session. Token is the raw bearer value;
// it is not recoverable afterwards.
type SessionResult struct {
	Account persistence.Account
	Session persistence.Session
	Token   string
}

// CreateAccount registers a new account with an argon2id password hash.
func (s *Service) CreateAccount(ctx context.Context, params CreateAccountParams) (result persistence.Account, err error) {
	if s == nil {
		err = fmt.Errorf("identity Service is nil")
		return
	}
	if s.accounts == nil {
		err = fmt.Errorf("account store not configured")
		return
	}

	email := strings.TrimSpace(strings.ToLower(params.Email))
	displayName := strings.TrimSpace(params.DisplayName)

	logger := s.loggerWith(ctx, "CreateAccount", "email", email, "is_coach", params.IsCoach)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "account creation failed", "error", err, "error_kind", errorKind(err))
			return
		}
		logger.With("account_id", result.ID).InfoContext(ctx, "account created")
	}()

	fieldErrors := map[string]string{}
	if email == "" {
		fieldErrors["email"] = "email is required"
	} else if _, mailErr := mail.ParseAddress(email); mailErr != nil {
		fieldErrors["email"] = "email is not a valid address"
	}
	if displayName == "" {
		fieldErrors["display_name"] = "display name is required"
	}
	if len(params.Password) < 8 {
		fieldErrors["password"] = "password must be at least 8 characters"
	}
	if len(fieldErrors) > 0 {
		err = &application.ValidationError{FieldErrors: fieldErrors}
		return
	}

	hash, err := s.hashPassword(params.Password)
	if err != nil {
		return
	}

	now := s.now()
	account := persistence.Account{
		ID:           s.idGenerator(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: hash,
		IsCoach:      params.IsCoach,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err = s.accounts.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			err = application.ErrAlreadyExists
		}
		return
	}

	account.PasswordHash = ""
	result = account
	return
}

// GetAccount returns one account without its password hash.
func (s *Service) GetAccount(ctx context.Context, id string) (persistence.Account, error) {
	if s == nil {
		return persistence.Account{}, fmt.Errorf("identity Service is nil")
	}
	if s.accounts == nil {
		return persistence.Account{}, fmt.Errorf("account store not configured")
	}
	account, err := s.accounts.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return persistence.Account{}, application.ErrNotFound
		}
		return persistence.Account{}, err
	}
	account.PasswordHash = ""
	return account, nil
}

// IssueSession verifies an email and password pair and mints an opaque
// session token. Lookup misses and password mismatches are
// indistinguishable to the caller.
func (s *Service) IssueSession(ctx context.Context, params IssueSessionParams) (result SessionResult, err error) {
	if s == nil {
		err = fmt.Errorf("identity Service is nil")
		return
	}
	if s.accounts == nil {
		err = fmt.Errorf("account store not configured")
		return
	}
	if s.sessions == nil {
		err = fmt.Errorf("session store not configured")
		return
	}

	email := strings.TrimSpace(strings.ToLower(params.Email))

	logger := s.loggerWith(ctx, "IssueSession", "email", email)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "session issue failed", "error", err, "error_kind", errorKind(err))
			return
		}
		logger.With(
			"account_id", result.Account.ID,
			"session_id", result.Session.ID,
		).InfoContext(ctx, "session issued")
	}()

	if email == "" || params.Password == "" {
		err = ErrInvalidCredentials
		return
	}

	account, err := s.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			err = ErrInvalidCredentials
		}
		return
	}
	if err = s.verifyPassword(account.PasswordHash, params.Password); err != nil {
		err = ErrInvalidCredentials
		return
	}

	now := s.now()
	if pruneErr := s.sessions.DeleteExpiredSessions(ctx, now); pruneErr != nil {
		logger.WarnContext(ctx, "failed to prune expired sessions", "error", pruneErr)
	}

	result, err = s.mintSession(ctx, account, strings.TrimSpace(params.Fingerprint), now)
	return
}

// RotateSession revokes the presented token and issues a replacement with
// a fresh validity window.
func (s *Service) RotateSession(ctx context.Context, params RotateSessionParams) (result SessionResult, err error) {
	if s == nil {
		err = fmt.Errorf("identity Service is nil")
		return
	}
	if s.sessions == nil {
		err = fmt.Errorf("session store not configured")
		return
	}
	if s.accounts == nil {
		err = fmt.Errorf("account store not configured")
		return
	}

	token := strings.TrimSpace(params.Token)
	logger := s.loggerWith(ctx, "RotateSession", "token_provided", token != "")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "session rotation failed", "error", err, "error_kind", errorKind(err))
			return
		}
		logger.With(
			"account_id", result.Account.ID,
			"session_id", result.Session.ID,
		).InfoContext(ctx, "session rotated")
	}()

	if token == "" {
		err = ErrInvalidCredentials
		return
	}

	session, err := s.activeSession(ctx, token)
	if err != nil {
		return
	}

	account, err := s.accounts.GetAccount(ctx, session.AccountID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			err = ErrInvalidCredentials
		}
		return
	}

	now := s.now()
	if _, err = s.sessions.RevokeSession(ctx, session.TokenHash, now); err != nil {
		return
	}

	fingerprint := strings.TrimSpace(params.Fingerprint)
	if fingerprint == "" {
		fingerprint = session.Fingerprint
	}
	result, err = s.mintSession(ctx, account, fingerprint, now)
	return
}

// RevokeSession invalidates the presented token.
func (s *Service) RevokeSession(ctx context.Context, token string) error {
	if s == nil {
		return fmt.Errorf("identity Service is nil")
	}
	if s.sessions == nil {
		return fmt.Errorf("session store not configured")
	}

	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return ErrInvalidCredentials
	}

	logger := s.loggerWith(ctx, "RevokeSession")

	now := s.now()
	if _, err := s.sessions.RevokeSession(ctx, TokenDigest(trimmed), now); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			logger.ErrorContext(ctx, "failed to revoke session", "error", ErrInvalidCredentials)
			return ErrInvalidCredentials
		}
		logger.ErrorContext(ctx, "failed to revoke session", "error", err)
		return err
	}

	if err := s.sessions.DeleteExpiredSessions(ctx, now); err != nil {
		logger.WarnContext(ctx, "failed to prune expired sessions", "error", err)
	}
	logger.InfoContext(ctx, "session revoked")
	return nil
}

// Resolve maps an opaque bearer token to its acting principal. It
// implements Resolver.
func (s *Service) Resolve(ctx context.Context, bearer string) (application.Principal, error) {
	if s == nil {
		return application.Principal{}, fmt.Errorf("identity Service is nil")
	}
	if s.sessions == nil || s.accounts == nil {
		return application.Principal{}, fmt.Errorf("identity stores not configured")
	}

	trimmed := strings.TrimSpace(bearer)
	if trimmed == "" {
		return application.Principal{}, ErrInvalidCredentials
	}

	session, err := s.activeSession(ctx, trimmed)
	if err != nil {
		return application.Principal{}, err
	}

	account, err := s.accounts.GetAccount(ctx, session.AccountID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return application.Principal{}, ErrInvalidCredentials
		}
		return application.Principal{}, err
	}

	return application.Principal{UserID: account.ID, IsCoach: account.IsCoach}, nil
}

// activeSession fetches the session behind a raw token and enforces its
// revocation and expiry state.
func (s *Service) activeSession(ctx context.Context, token string) (persistence.Session, error) {
	session, err := s.sessions.GetSession(ctx, TokenDigest(token))
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return persistence.Session{}, ErrInvalidCredentials
		}
		return persistence.Session{}, err
	}
	if session.RevokedAt != nil && !session.RevokedAt.IsZero() {
		return persistence.Session{}, ErrSessionRevoked
	}
	if !session.ExpiresAt.IsZero() && !session.ExpiresAt.After(s.now()) {
		return persistence.Session{}, ErrSessionExpired
	}
	return session, nil
}

func (s *Service) mintSession(ctx context.Context, account persistence.Account, fingerprint string, now time.Time) (SessionResult, error) {
	token, err := s.tokenGenerator()
	if err != nil {
		return SessionResult{}, err
	}

	session := persistence.Session{
		ID:          s.idGenerator(),
		AccountID:   account.ID,
		TokenHash:   TokenDigest(token),
		Fingerprint: fingerprint,
		ExpiresAt:   now.Add(s.sessionTTL),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	persisted, err := s.sessions.CreateSession(ctx, session)
	if err != nil {
		return SessionResult{}, err
	}

	account.PasswordHash = ""
	return SessionResult{Account: account, Session: persisted, Token: token}, nil
}
