// Package session owns the refresh token lifecycle: issuing opaque secrets,
// single-use rotation, reuse detection with family-wide revocation, and
// logout.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ChandlerPotter/go-auth/internal/audit"
	"github.com/ChandlerPotter/go-auth/internal/metrics"
	"github.com/ChandlerPotter/go-auth/internal/models"
	"github.com/ChandlerPotter/go-auth/internal/stores"
	"github.com/ChandlerPotter/go-auth/internal/token"
)

var (
	// ErrInvalidToken covers secrets that are empty, unknown, or do not map
	// to a live user.
	ErrInvalidToken = errors.New("invalid refresh token")

	ErrNotFound      = stores.ErrNotFound
	ErrConflict      = stores.ErrConflict
	ErrReuseDetected = stores.ErrReuseDetected
	ErrExpired       = stores.ErrExpired
)

const (
	DefaultSessionDuration  = 7 * 24 * time.Hour
	DefaultMaxIssueAttempts = 3
)

// UserFinder loads the owner of a session.
type UserFinder interface {
	FindByID(ctx context.Context, id uint) (*models.User, error)
}

type Config struct {
	// SessionDuration is the lifetime of every refresh token, including the
	// ones minted by rotation.
	SessionDuration time.Duration
	// SecretBytes is the entropy of a raw secret before encoding.
	SecretBytes      int
	MaxIssueAttempts int
}

// Rotation is the result of a successful ValidateAndRotate.
type Rotation struct {
	RefreshToken string
	UserID       uint
	Record       *models.RefreshToken
}

// TokenPair is what a client receives on sign-in and on refresh.
type TokenPair struct {
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
	User                  *models.User
}

type Manager struct {
	store   stores.RefreshTokenStore
	users   UserFinder
	access  token.AccessTokenService
	hasher  token.Fingerprinter
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	audit   audit.Sink
	now     func() time.Time
}

type Option func(*Manager)

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func WithAuditSink(s audit.Sink) Option {
	return func(m *Manager) { m.audit = s }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func New(
	store stores.RefreshTokenStore,
	users UserFinder,
	access token.AccessTokenService,
	hasher token.Fingerprinter,
	cfg Config,
	opts ...Option,
) (*Manager, error) {
	if store == nil || users == nil || access == nil || hasher == nil {
		return nil, errors.New("session: store, users, access and hasher are required")
	}
	if cfg.SessionDuration == 0 {
		cfg.SessionDuration = DefaultSessionDuration
	}
	if cfg.SessionDuration < 0 {
		return nil, fmt.Errorf("session: invalid session duration %s", cfg.SessionDuration)
	}
	if cfg.SecretBytes == 0 {
		cfg.SecretBytes = token.MinSecretBytes
	}
	if cfg.SecretBytes < token.MinSecretBytes {
		return nil, fmt.Errorf("session: refresh secrets need at least %d bytes, got %d", token.MinSecretBytes, cfg.SecretBytes)
	}
	if cfg.MaxIssueAttempts <= 0 {
		cfg.MaxIssueAttempts = DefaultMaxIssueAttempts
	}

	m := &Manager{
		store:  store,
		users:  users,
		access: access,
		hasher: hasher,
		cfg:    cfg,
		logger: zap.NewNop(),
		audit:  audit.NoOpSink{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Issue creates a new session for userID and returns the raw secret, which is
// never stored.
func (m *Manager) Issue(ctx context.Context, userID uint) (string, *models.RefreshToken, error) {
	for attempt := 1; attempt <= m.cfg.MaxIssueAttempts; attempt++ {
		raw, err := token.NewSecret(m.cfg.SecretBytes)
		if err != nil {
			return "", nil, fmt.Errorf("generate refresh token: %w", err)
		}
		rec, err := m.store.Create(ctx, userID, m.hasher.Hash(raw), m.now().Add(m.cfg.SessionDuration))
		if errors.Is(err, stores.ErrConflict) {
			m.logger.Warn("refresh token fingerprint collision, retrying",
				zap.Uint("user_id", userID), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("store refresh token: %w", err)
		}
		m.metrics.SessionIssued()
		return raw, rec, nil
	}
	return "", nil, fmt.Errorf("issue refresh token: no unique secret after %d attempts", m.cfg.MaxIssueAttempts)
}

// ValidateAndRotate consumes raw and hands out its successor. Presenting a
// consumed or revoked secret revokes every session of its owner.
func (m *Manager) ValidateAndRotate(ctx context.Context, raw string) (*Rotation, error) {
	rec, fingerprint, err := m.validate(ctx, raw)
	if err != nil {
		return nil, err
	}
	return m.rotate(ctx, rec, fingerprint)
}

// validate resolves raw to a live record without consuming it.
func (m *Manager) validate(ctx context.Context, raw string) (*models.RefreshToken, string, error) {
	if raw == "" {
		m.metrics.Refresh(metrics.OutcomeInvalid)
		return nil, "", ErrInvalidToken
	}

	fingerprint := m.hasher.Hash(raw)
	rec, err := m.store.FindByFingerprint(ctx, fingerprint)
	if errors.Is(err, stores.ErrNotFound) {
		m.metrics.Refresh(metrics.OutcomeInvalid)
		return nil, "", ErrInvalidToken
	}
	if err != nil {
		m.metrics.Refresh(metrics.OutcomeError)
		return nil, "", fmt.Errorf("lookup refresh token: %w", err)
	}

	switch Classify(rec, m.now()) {
	case StateRotated, StateRevoked:
		return nil, "", m.reuseDetected(ctx, rec)
	case StateExpired:
		return nil, "", m.expire(ctx, rec)
	}
	return rec, fingerprint, nil
}

func (m *Manager) rotate(ctx context.Context, rec *models.RefreshToken, fingerprint string) (*Rotation, error) {
	for attempt := 1; attempt <= m.cfg.MaxIssueAttempts; attempt++ {
		next, err := token.NewSecret(m.cfg.SecretBytes)
		if err != nil {
			m.metrics.Refresh(metrics.OutcomeError)
			return nil, fmt.Errorf("generate refresh token: %w", err)
		}

		successor, err := m.store.Rotate(ctx, fingerprint, rec.UserID, m.hasher.Hash(next), m.now().Add(m.cfg.SessionDuration))
		switch {
		case err == nil:
			m.metrics.Refresh(metrics.OutcomeRotated)
			m.metrics.Revoked(models.RevokeReasonRotated, 1)
			return &Rotation{RefreshToken: next, UserID: rec.UserID, Record: successor}, nil
		case errors.Is(err, stores.ErrReuseDetected):
			// Lost a race with a concurrent rotation of the same secret.
			return nil, m.reuseDetected(ctx, rec)
		case errors.Is(err, stores.ErrExpired):
			return nil, m.expire(ctx, rec)
		case errors.Is(err, stores.ErrNotFound):
			m.metrics.Refresh(metrics.OutcomeInvalid)
			return nil, ErrInvalidToken
		case errors.Is(err, stores.ErrConflict):
			m.logger.Warn("refresh token fingerprint collision on rotation, retrying",
				zap.Uint("user_id", rec.UserID), zap.Int("attempt", attempt))
			continue
		default:
			m.metrics.Refresh(metrics.OutcomeError)
			return nil, fmt.Errorf("rotate refresh token: %w", err)
		}
	}

	m.metrics.Refresh(metrics.OutcomeError)
	return nil, fmt.Errorf("rotate refresh token: no unique secret after %d attempts", m.cfg.MaxIssueAttempts)
}

func (m *Manager) reuseDetected(ctx context.Context, rec *models.RefreshToken) error {
	m.metrics.Refresh(metrics.OutcomeReuse)

	n, err := m.store.RevokeAllForUser(ctx, rec.UserID, models.RevokeReasonReuseDetected)
	event := audit.Event{
		Timestamp: m.now(),
		Type:      audit.EventReuseDetected,
		UserID:    rec.UserID,
		TokenID:   rec.ID.String(),
		Revoked:   n,
	}
	if err != nil {
		event.Type = audit.EventCascadeFailed
		event.Error = err.Error()
		m.logger.Error("refresh token reuse detected but sessions could not be revoked",
			zap.Uint("user_id", rec.UserID),
			zap.String("token_id", rec.ID.String()),
			zap.Error(err))
		m.audit.Emit(ctx, event)
		return errors.Join(ErrReuseDetected, fmt.Errorf("revoke user sessions: %w", err))
	}

	m.metrics.Revoked(models.RevokeReasonReuseDetected, n)
	m.logger.Warn("refresh token reuse detected, all sessions revoked",
		zap.Uint("user_id", rec.UserID),
		zap.String("token_id", rec.ID.String()),
		zap.String("previous_reason", rec.RevokeReason),
		zap.Int64("revoked", n))
	m.audit.Emit(ctx, event)
	return ErrReuseDetected
}

func (m *Manager) expire(ctx context.Context, rec *models.RefreshToken) error {
	m.metrics.Refresh(metrics.OutcomeExpired)
	if rec.Revoked {
		return ErrExpired
	}
	if err := m.store.Revoke(ctx, rec.ID, models.RevokeReasonExpired); err != nil {
		return errors.Join(ErrExpired, fmt.Errorf("revoke expired refresh token: %w", err))
	}
	m.metrics.Revoked(models.RevokeReasonExpired, 1)
	return ErrExpired
}

// Refresh rotates raw and mints a new access token for its owner. The owner
// is loaded and the access token signed before rotation, so a failure in
// either leaves raw usable for a retry.
func (m *Manager) Refresh(ctx context.Context, raw string) (*TokenPair, error) {
	rec, fingerprint, err := m.validate(ctx, raw)
	if err != nil {
		return nil, err
	}

	u, err := m.users.FindByID(ctx, rec.UserID)
	if err != nil {
		if !errors.Is(err, stores.ErrNotFound) {
			m.metrics.Refresh(metrics.OutcomeError)
			return nil, fmt.Errorf("load session user: %w", err)
		}
		m.metrics.Refresh(metrics.OutcomeInvalid)
		m.logger.Warn("refresh token belongs to missing user", zap.Uint("user_id", rec.UserID))
		if _, revokeErr := m.store.RevokeAllForUser(ctx, rec.UserID, models.RevokeReasonLogoutAll); revokeErr != nil {
			return nil, errors.Join(ErrInvalidToken, fmt.Errorf("revoke orphaned sessions: %w", revokeErr))
		}
		return nil, ErrInvalidToken
	}

	access, accessExp, err := m.access.Issue(u.ID, u.RoleName())
	if err != nil {
		m.metrics.Refresh(metrics.OutcomeError)
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	rot, err := m.rotate(ctx, rec, fingerprint)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:           access,
		AccessTokenExpiresAt:  accessExp,
		RefreshToken:          rot.RefreshToken,
		RefreshTokenExpiresAt: rot.Record.ExpiresAt,
		User:                  u,
	}, nil
}

// StartSession signs u in.
func (m *Manager) StartSession(ctx context.Context, u *models.User) (*TokenPair, error) {
	raw, rec, err := m.Issue(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	access, accessExp, err := m.access.Issue(u.ID, u.RoleName())
	if err != nil {
		err = fmt.Errorf("issue access token: %w", err)
		if revokeErr := m.store.Revoke(ctx, rec.ID, models.RevokeReasonLogout); revokeErr != nil {
			err = errors.Join(err, fmt.Errorf("revoke unused refresh token: %w", revokeErr))
		}
		return nil, err
	}

	m.logger.Info("session started", zap.Uint("user_id", u.ID), zap.String("token_id", rec.ID.String()))
	return &TokenPair{
		AccessToken:           access,
		AccessTokenExpiresAt:  accessExp,
		RefreshToken:          raw,
		RefreshTokenExpiresAt: rec.ExpiresAt,
		User:                  u,
	}, nil
}

// Revoke ends the session behind raw. Unknown and already revoked secrets are
// not an error.
func (m *Manager) Revoke(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	rec, err := m.store.FindByFingerprint(ctx, m.hasher.Hash(raw))
	if errors.Is(err, stores.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup refresh token: %w", err)
	}
	if rec.Revoked {
		return nil
	}
	if err := m.store.Revoke(ctx, rec.ID, models.RevokeReasonLogout); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	m.metrics.Revoked(models.RevokeReasonLogout, 1)
	m.logger.Info("session revoked", zap.Uint("user_id", rec.UserID), zap.String("token_id", rec.ID.String()))
	return nil
}

// RevokeAll ends every session of userID.
func (m *Manager) RevokeAll(ctx context.Context, userID uint) error {
	n, err := m.store.RevokeAllForUser(ctx, userID, models.RevokeReasonLogoutAll)
	if err != nil {
		return fmt.Errorf("revoke user sessions: %w", err)
	}
	m.metrics.Revoked(models.RevokeReasonLogoutAll, n)
	m.logger.Info("all sessions revoked", zap.Uint("user_id", userID), zap.Int64("revoked", n))
	m.audit.Emit(ctx, audit.Event{
		Timestamp: m.now(),
		Type:      audit.EventLogoutAll,
		UserID:    userID,
		Revoked:   n,
	})
	return nil
}
