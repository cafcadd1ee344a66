package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ChandlerPotter/go-auth/internal/audit"
	"github.com/ChandlerPotter/go-auth/internal/mocks"
	"github.com/ChandlerPotter/go-auth/internal/models"
	"github.com/ChandlerPotter/go-auth/internal/session"
	"github.com/ChandlerPotter/go-auth/internal/stores"
	"github.com/ChandlerPotter/go-auth/internal/token"
)

var errBackend = errors.New("connection reset by peer")

func newMockedManager(t *testing.T, store *mocks.RefreshTokenStore, sink audit.Sink) (*session.Manager, *mocks.UserStore, *mocks.AccessTokenService) {
	t.Helper()
	users := &mocks.UserStore{}
	access := &mocks.AccessTokenService{}
	m, err := session.New(store, users, access, token.NewHasher(nil), session.Config{}, session.WithAuditSink(sink))
	require.NoError(t, err)
	return m, users, access
}

func TestIssueRetriesOnFingerprintConflict(t *testing.T) {
	store := &mocks.RefreshTokenStore{}
	m, _, _ := newMockedManager(t, store, audit.NoOpSink{})

	var seen []string
	record := func(args mock.Arguments) { seen = append(seen, args.String(2)) }
	store.On("Create", mock.Anything, uint(1), mock.Anything, mock.Anything).
		Return(nil, stores.ErrConflict).Once().Run(record)
	store.On("Create", mock.Anything, uint(1), mock.Anything, mock.Anything).
		Return(&models.RefreshToken{ID: uuid.New(), UserID: 1}, nil).Once().Run(record)

	raw, rec, err := m.Issue(context.Background(), 1)
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	assert.NotNil(t, rec)
	require.Len(t, seen, 2)
	assert.NotEqual(t, seen[0], seen[1])
	assert.Equal(t, token.NewHasher(nil).Hash(raw), seen[1])
	store.AssertExpectations(t)
}

func TestIssueGivesUpAfterRepeatedConflicts(t *testing.T) {
	store := &mocks.RefreshTokenStore{}
	m, _, _ := newMockedManager(t, store, audit.NoOpSink{})
	store.On("Create", mock.Anything, uint(1), mock.Anything, mock.Anything).Return(nil, stores.ErrConflict)

	_, _, err := m.Issue(context.Background(), 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, stores.ErrConflict)
	store.AssertNumberOfCalls(t, "Create", session.DefaultMaxIssueAttempts)
}

func TestRotationConflictRetries(t *testing.T) {
	store := &mocks.RefreshTokenStore{}
	m, _, _ := newMockedManager(t, store, audit.NoOpSink{})
	rec := &models.RefreshToken{ID: uuid.New(), UserID: 3, ExpiresAt: time.Now().Add(time.Hour)}

	store.On("FindByFingerprint", mock.Anything, mock.Anything).Return(rec, nil)
	store.On("Rotate", mock.Anything, mock.Anything, uint(3), mock.Anything, mock.Anything).Return(nil, stores.ErrConflict).Once()
	store.On("Rotate", mock.Anything, mock.Anything, uint(3), mock.Anything, mock.Anything).
		Return(&models.RefreshToken{ID: uuid.New(), UserID: 3}, nil).Once()

	rot, err := m.ValidateAndRotate(context.Background(), "raw")
	require.NoError(t, err)
	assert.Equal(t, uint(3), rot.UserID)
	store.AssertNumberOfCalls(t, "Rotate", 2)
}

func TestFailedCascadeFailsClosed(t *testing.T) {
	store := &mocks.RefreshTokenStore{}
	sink := audit.NewChannelSink(1)
	m, _, _ := newMockedManager(t, store, sink)
	rec := &models.RefreshToken{
		ID:           uuid.New(),
		UserID:       5,
		ExpiresAt:    time.Now().Add(time.Hour),
		Revoked:      true,
		RevokeReason: models.RevokeReasonRotated,
	}

	store.On("FindByFingerprint", mock.Anything, mock.Anything).Return(rec, nil)
	store.On("RevokeAllForUser", mock.Anything, uint(5), models.RevokeReasonReuseDetected).Return(int64(0), errBackend)

	_, err := m.ValidateAndRotate(context.Background(), "raw")
	assert.ErrorIs(t, err, session.ErrReuseDetected)
	assert.ErrorIs(t, err, errBackend)

	event := <-sink.Events()
	assert.Equal(t, audit.EventCascadeFailed, event.Type)
	assert.Equal(t, errBackend.Error(), event.Error)
}

func TestLostRotationRaceCascades(t *testing.T) {
	store := &mocks.RefreshTokenStore{}
	m, _, _ := newMockedManager(t, store, audit.NoOpSink{})
	rec := &models.RefreshToken{ID: uuid.New(), UserID: 8, ExpiresAt: time.Now().Add(time.Hour)}

	store.On("FindByFingerprint", mock.Anything, mock.Anything).Return(rec, nil)
	store.On("Rotate", mock.Anything, mock.Anything, uint(8), mock.Anything, mock.Anything).Return(nil, stores.ErrReuseDetected)
	store.On("RevokeAllForUser", mock.Anything, uint(8), models.RevokeReasonReuseDetected).Return(int64(2), nil)

	_, err := m.ValidateAndRotate(context.Background(), "raw")
	assert.ErrorIs(t, err, session.ErrReuseDetected)
	store.AssertExpectations(t)
}

func TestFailedExpiryCleanupIsJoined(t *testing.T) {
	store := &mocks.RefreshTokenStore{}
	m, _, _ := newMockedManager(t, store, audit.NoOpSink{})
	rec := &models.RefreshToken{ID: uuid.New(), UserID: 9, ExpiresAt: time.Now().Add(-time.Minute)}

	store.On("FindByFingerprint", mock.Anything, mock.Anything).Return(rec, nil)
	store.On("Revoke", mock.Anything, rec.ID, models.RevokeReasonExpired).Return(errBackend)

	_, err := m.ValidateAndRotate(context.Background(), "raw")
	assert.ErrorIs(t, err, session.ErrExpired)
	assert.ErrorIs(t, err, errBackend)
	store.AssertNotCalled(t, "RevokeAllForUser", mock.Anything, mock.Anything, mock.Anything)
}

func TestLookupFailureIsNotInvalidToken(t *testing.T) {
	store := &mocks.RefreshTokenStore{}
	m, _, _ := newMockedManager(t, store, audit.NoOpSink{})
	store.On("FindByFingerprint", mock.Anything, mock.Anything).Return(nil, errBackend)

	_, err := m.ValidateAndRotate(context.Background(), "raw")
	assert.ErrorIs(t, err, errBackend)
	assert.NotErrorIs(t, err, session.ErrInvalidToken)

	assert.ErrorIs(t, m.Revoke(context.Background(), "raw"), errBackend)
}

func TestStartSessionRevokesTokenWhenAccessFails(t *testing.T) {
	store := &mocks.RefreshTokenStore{}
	m, _, access := newMockedManager(t, store, audit.NoOpSink{})
	rec := &models.RefreshToken{ID: uuid.New(), UserID: 2}
	u := &models.User{ID: 2, Role: models.Role{Name: "user"}}

	store.On("Create", mock.Anything, uint(2), mock.Anything, mock.Anything).Return(rec, nil)
	store.On("Revoke", mock.Anything, rec.ID, models.RevokeReasonLogout).Return(nil)
	access.On("Issue", uint(2), "user").Return("", time.Time{}, errBackend)

	_, err := m.StartSession(context.Background(), u)
	assert.ErrorIs(t, err, errBackend)
	store.AssertExpectations(t)
}

func TestNewValidatesConfig(t *testing.T) {
	store := &mocks.RefreshTokenStore{}
	users := &mocks.UserStore{}
	access := &mocks.AccessTokenService{}

	_, err := session.New(store, users, access, token.NewHasher(nil), session.Config{SecretBytes: 16})
	assert.Error(t, err)
	_, err = session.New(store, users, access, token.NewHasher(nil), session.Config{SessionDuration: -time.Second})
	assert.Error(t, err)
	_, err = session.New(nil, users, access, token.NewHasher(nil), session.Config{})
	assert.Error(t, err)
}

func TestRefreshLeavesTokenUsableWhenUserLookupFails(t *testing.T) {
	store := &mocks.RefreshTokenStore{}
	m, users, access := newMockedManager(t, store, audit.NoOpSink{})
	rec := &models.RefreshToken{ID: uuid.New(), UserID: 4, ExpiresAt: time.Now().Add(time.Hour)}
	u := &models.User{ID: 4, Role: models.Role{Name: "user"}}

	store.On("FindByFingerprint", mock.Anything, mock.Anything).Return(rec, nil)
	users.On("FindByID", mock.Anything, uint(4)).Return(nil, errBackend).Once()

	_, err := m.Refresh(context.Background(), "raw")
	require.ErrorIs(t, err, errBackend)
	assert.NotErrorIs(t, err, session.ErrInvalidToken)
	store.AssertNotCalled(t, "Rotate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "RevokeAllForUser", mock.Anything, mock.Anything, mock.Anything)

	// A retry with the same secret goes through.
	users.On("FindByID", mock.Anything, uint(4)).Return(u, nil).Once()
	access.On("Issue", uint(4), "user").Return("access", time.Now().Add(time.Minute), nil)
	store.On("Rotate", mock.Anything, mock.Anything, uint(4), mock.Anything, mock.Anything).
		Return(&models.RefreshToken{ID: uuid.New(), UserID: 4}, nil).Once()

	pair, err := m.Refresh(context.Background(), "raw")
	require.NoError(t, err)
	assert.Equal(t, "access", pair.AccessToken)
	store.AssertNumberOfCalls(t, "Rotate", 1)
}

func TestRefreshLeavesTokenUsableWhenSigningFails(t *testing.T) {
	store := &mocks.RefreshTokenStore{}
	m, users, access := newMockedManager(t, store, audit.NoOpSink{})
	rec := &models.RefreshToken{ID: uuid.New(), UserID: 6, ExpiresAt: time.Now().Add(time.Hour)}

	store.On("FindByFingerprint", mock.Anything, mock.Anything).Return(rec, nil)
	users.On("FindByID", mock.Anything, uint(6)).Return(&models.User{ID: 6, Role: models.Role{Name: "admin"}}, nil)
	access.On("Issue", uint(6), "admin").Return("", time.Time{}, errBackend)

	_, err := m.Refresh(context.Background(), "raw")
	assert.ErrorIs(t, err, errBackend)
	store.AssertNotCalled(t, "Rotate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
