package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tink/internal/db"
	"tink/internal/models"
)

const refreshTokenBytes = 40

var (
	ErrEmailTaken            = errors.New("email already registered")
	ErrInvalidCredentials    = errors.New("invalid email or password")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired refresh token")
	ErrUserNotFound          = errors.New("user not found")
)

type CredentialConfig struct {
	RefreshTokenTTL time.Duration
	QueryTimeout    time.Duration
}

// CredentialService issues and rotates the access/refresh token pair of a
// user session.
type CredentialService struct {
	database *db.DB
	users    *db.UserRepository
	tokens   *db.RefreshTokenRepository
	jwt      *JWTService
	hasher   *PasswordHasher
	cfg      CredentialConfig
	now      func() time.Time
}

type IssuedRefreshToken struct {
	Token     string
	ExpiresAt time.Time
}

// Session is the result of register, login and refresh.
type Session struct {
	User               *models.User
	AccessToken        string
	RefreshToken       string
	RefreshTokenExpiry time.Time
}

func NewCredentialService(database *db.DB, jwtService *JWTService, hasher *PasswordHasher, cfg CredentialConfig) *CredentialService {
	return &CredentialService{
		database: database,
		users:    db.NewUserRepository(database.Handle()),
		tokens:   db.NewRefreshTokenRepository(database.Handle()),
		jwt:      jwtService,
		hasher:   hasher,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (s *CredentialService) Register(ctx context.Context, email, password, name string) (*Session, error) {
	email = normalizeEmail(email)

	hash, err := s.hasher.Hash(password)
	if errors.Is(err, ErrPasswordTooLong) {
		return nil, ErrPasswordTooLong
	}
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	qctx, cancel := s.queryContext(ctx)
	user, err := s.users.Create(qctx, email, hash, strings.TrimSpace(name))
	cancel()
	if errors.Is(err, db.ErrDuplicate) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	return s.openSession(ctx, user)
}

func (s *CredentialService) Login(ctx context.Context, email, password string) (*Session, error) {
	qctx, cancel := s.queryContext(ctx)
	user, err := s.users.FindByEmail(qctx, normalizeEmail(email))
	cancel()
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("finding user: %w", err)
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	session, err := s.openSession(ctx, user)
	if err != nil {
		return nil, err
	}

	s.sweepAfter(ctx, user.ID)
	return session, nil
}

func (s *CredentialService) IssueAccessToken(user *models.User) (string, error) {
	return s.jwt.IssueAccessToken(user)
}

func (s *CredentialService) VerifyAccessToken(token string) (*Claims, error) {
	return s.jwt.VerifyAccessToken(token)
}

func (s *CredentialService) IssueRefreshToken(ctx context.Context, userID string) (*IssuedRefreshToken, error) {
	token, err := generateRefreshToken()
	if err != nil {
		return nil, err
	}
	expiresAt := s.now().UTC().Add(s.cfg.RefreshTokenTTL)

	qctx, cancel := s.queryContext(ctx)
	defer cancel()
	if _, err := s.tokens.Create(qctx, userID, token, expiresAt); err != nil {
		return nil, err
	}

	return &IssuedRefreshToken{Token: token, ExpiresAt: expiresAt}, nil
}

// Refresh consumes the presented refresh token and returns a new pair. The
// presented token is revoked with a conditional update in the same
// transaction that stores its replacement, so a token can be consumed once.
func (s *CredentialService) Refresh(ctx context.Context, presented string) (*Session, error) {
	if presented == "" {
		return nil, ErrInvalidOrExpiredToken
	}

	qctx, cancel := s.queryContext(ctx)
	defer cancel()

	now := s.now().UTC()
	current, err := s.tokens.FindUsable(qctx, presented, now)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, fmt.Errorf("finding refresh token: %w", err)
	}

	user, err := s.users.FindByID(qctx, current.UserID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding user: %w", err)
	}

	accessToken, err := s.jwt.IssueAccessToken(user)
	if err != nil {
		return nil, err
	}

	next, err := generateRefreshToken()
	if err != nil {
		return nil, err
	}
	nextExpiry := now.Add(s.cfg.RefreshTokenTTL)

	err = s.database.WithTx(qctx, func(tx db.DBTX) error {
		tokens := s.tokens.WithTx(tx)
		if err := tokens.RevokeForRotation(qctx, current.ID, now); err != nil {
			return err
		}
		_, err := tokens.Create(qctx, user.ID, next, nextExpiry)
		return err
	})
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, fmt.Errorf("rotating refresh token: %w", err)
	}
	cancel()

	s.sweepAfter(ctx, user.ID)

	return &Session{
		User:               user,
		AccessToken:        accessToken,
		RefreshToken:       next,
		RefreshTokenExpiry: nextExpiry,
	}, nil
}

// Revoke marks the presented token revoked. Unknown tokens are ignored.
func (s *CredentialService) Revoke(ctx context.Context, presented string) error {
	if presented == "" {
		return nil
	}

	qctx, cancel := s.queryContext(ctx)
	defer cancel()

	if _, err := s.tokens.RevokeByToken(qctx, presented); err != nil {
		return fmt.Errorf("revoking refresh token: %w", err)
	}
	return nil
}

// SweepStaleTokens deletes the user's expired or revoked refresh tokens and
// returns how many rows were removed.
func (s *CredentialService) SweepStaleTokens(ctx context.Context, userID string) (int64, error) {
	qctx, cancel := s.queryContext(ctx)
	defer cancel()

	n, err := s.tokens.DeleteStaleForUser(qctx, userID, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sweeping refresh tokens: %w", err)
	}
	return n, nil
}

func (s *CredentialService) FindUser(ctx context.Context, id string) (*models.User, error) {
	qctx, cancel := s.queryContext(ctx)
	defer cancel()

	user, err := s.users.FindByID(qctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding user: %w", err)
	}
	return user, nil
}

func (s *CredentialService) openSession(ctx context.Context, user *models.User) (*Session, error) {
	accessToken, err := s.jwt.IssueAccessToken(user)
	if err != nil {
		return nil, err
	}

	refresh, err := s.IssueRefreshToken(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("issuing refresh token: %w", err)
	}

	return &Session{
		User:               user,
		AccessToken:        accessToken,
		RefreshToken:       refresh.Token,
		RefreshTokenExpiry: refresh.ExpiresAt,
	}, nil
}

// sweepAfter runs the stale token sweep on the request path. A failed sweep
// leaves rows for the next one and does not fail the caller.
func (s *CredentialService) sweepAfter(ctx context.Context, userID string) {
	n, err := s.SweepStaleTokens(ctx, userID)
	if err != nil {
		slog.Warn("error sweeping stale refresh tokens", "error", err, "user_id", userID)
		return
	}
	if n > 0 {
		slog.Debug("swept stale refresh tokens", "user_id", userID, "count", n)
	}
}

func (s *CredentialService) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.QueryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.QueryTimeout)
}

func generateRefreshToken() (string, error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating refresh token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
