package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ChandlerPotter/go-auth/internal/models"
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusReused   int64 = 2
	rotateStatusRotated  int64 = 3
	rotateStatusConflict int64 = 4
)

// KEYS: token hash, user set, id index
// ARGV: id, user_id, fingerprint, expires_at, created_at
const createTokenScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1],
  "id", ARGV[1],
  "user_id", ARGV[2],
  "fingerprint", ARGV[3],
  "expires_at", ARGV[4],
  "created_at", ARGV[5],
  "revoked", "0")
redis.call("SADD", KEYS[2], ARGV[3])
redis.call("SET", KEYS[3], ARGV[3])
return 1
`

// KEYS: old token hash, new token hash, user set, new id index
// ARGV: user_id, now_ms, new_id, new_fingerprint, new_expires_at
const rotateTokenScript = `
local fields = redis.call("HMGET", KEYS[1], "user_id", "revoked", "expires_at")
if not fields[1] or fields[1] ~= ARGV[1] then
  return 0
end
if fields[2] == "1" then
  return 2
end
if tonumber(fields[3]) <= tonumber(ARGV[2]) then
  return 1
end
if redis.call("EXISTS", KEYS[2]) == 1 then
  return 4
end

redis.call("HSET", KEYS[1], "revoked", "1", "revoked_at", ARGV[2], "revoke_reason", "rotated")
redis.call("HSET", KEYS[2],
  "id", ARGV[3],
  "user_id", ARGV[1],
  "fingerprint", ARGV[4],
  "expires_at", ARGV[5],
  "created_at", ARGV[2],
  "revoked", "0")
redis.call("SADD", KEYS[3], ARGV[4])
redis.call("SET", KEYS[4], ARGV[4])
return 3
`

// KEYS: id index
// ARGV: token key prefix, now_ms, reason
const revokeTokenScript = `
local fp = redis.call("GET", KEYS[1])
if not fp then
  return 0
end
local key = ARGV[1] .. fp
if redis.call("HGET", key, "revoked") ~= "0" then
  return 0
end
redis.call("HSET", key, "revoked", "1", "revoked_at", ARGV[2], "revoke_reason", ARGV[3])
return 1
`

// KEYS: user set
// ARGV: token key prefix, now_ms, reason
const revokeUserTokensScript = `
local members = redis.call("SMEMBERS", KEYS[1])
local flipped = 0
for _, fp in ipairs(members) do
  local key = ARGV[1] .. fp
  if redis.call("HGET", key, "revoked") == "0" then
    redis.call("HSET", key, "revoked", "1", "revoked_at", ARGV[2], "revoke_reason", ARGV[3])
    flipped = flipped + 1
  end
end
return flipped
`

var (
	createTokenLua      = redis.NewScript(createTokenScript)
	rotateTokenLua      = redis.NewScript(rotateTokenScript)
	revokeTokenLua      = redis.NewScript(revokeTokenScript)
	revokeUserTokensLua = redis.NewScript(revokeUserTokensScript)
)

// RedisRefreshTokenStore keeps one hash per fingerprint plus a per-user set of
// fingerprints. Every mutation is a Lua script, so each runs atomically on the
// server. Scripts touch keys derived from their arguments, which assumes a
// single Redis node rather than a cluster.
type RedisRefreshTokenStore struct {
	rdb    redis.UniversalClient
	prefix string
	Now    func() time.Time
}

var _ RefreshTokenStore = (*RedisRefreshTokenStore)(nil)

func NewRedisRefreshTokenStore(rdb redis.UniversalClient, prefix string) *RedisRefreshTokenStore {
	if prefix == "" {
		prefix = "auth"
	}
	return &RedisRefreshTokenStore{rdb: rdb, prefix: prefix, Now: time.Now}
}

func (s *RedisRefreshTokenStore) tokenPrefix() string { return s.prefix + ":rt:" }

func (s *RedisRefreshTokenStore) tokenKey(fingerprint string) string {
	return s.tokenPrefix() + fingerprint
}

func (s *RedisRefreshTokenStore) userKey(userID uint) string {
	return s.prefix + ":rtu:" + strconv.FormatUint(uint64(userID), 10)
}

func (s *RedisRefreshTokenStore) idKey(id uuid.UUID) string {
	return s.prefix + ":rti:" + id.String()
}

func (s *RedisRefreshTokenStore) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *RedisRefreshTokenStore) Create(ctx context.Context, userID uint, fingerprint string, expiresAt time.Time) (*models.RefreshToken, error) {
	now := s.now()
	rt := &models.RefreshToken{
		ID:        uuid.New(),
		TokenHash: fingerprint,
		UserID:    userID,
		ExpiresAt: time.UnixMilli(expiresAt.UnixMilli()),
		CreatedAt: time.UnixMilli(now.UnixMilli()),
	}

	created, err := createTokenLua.Run(ctx, s.rdb,
		[]string{s.tokenKey(fingerprint), s.userKey(userID), s.idKey(rt.ID)},
		rt.ID.String(),
		strconv.FormatUint(uint64(userID), 10),
		fingerprint,
		rt.ExpiresAt.UnixMilli(),
		rt.CreatedAt.UnixMilli(),
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("create refresh token: %w", err)
	}
	if created == 0 {
		return nil, ErrConflict
	}
	return rt, nil
}

func (s *RedisRefreshTokenStore) FindByFingerprint(ctx context.Context, fingerprint string) (*models.RefreshToken, error) {
	fields, err := s.rdb.HGetAll(ctx, s.tokenKey(fingerprint)).Result()
	if err != nil {
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	rt, err := decodeRefreshToken(fields)
	if err != nil {
		return nil, fmt.Errorf("decode refresh token: %w", err)
	}
	return rt, nil
}

func (s *RedisRefreshTokenStore) Revoke(ctx context.Context, id uuid.UUID, reason string) error {
	err := revokeTokenLua.Run(ctx, s.rdb,
		[]string{s.idKey(id)},
		s.tokenPrefix(),
		s.now().UnixMilli(),
		reason,
	).Err()
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (s *RedisRefreshTokenStore) RevokeAllForUser(ctx context.Context, userID uint, reason string) (int64, error) {
	n, err := revokeUserTokensLua.Run(ctx, s.rdb,
		[]string{s.userKey(userID)},
		s.tokenPrefix(),
		s.now().UnixMilli(),
		reason,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return n, nil
}

func (s *RedisRefreshTokenStore) Rotate(
	ctx context.Context,
	oldFingerprint string,
	userID uint,
	newFingerprint string,
	newExpiresAt time.Time,
) (*models.RefreshToken, error) {
	now := s.now()
	next := &models.RefreshToken{
		ID:        uuid.New(),
		TokenHash: newFingerprint,
		UserID:    userID,
		ExpiresAt: time.UnixMilli(newExpiresAt.UnixMilli()),
		CreatedAt: time.UnixMilli(now.UnixMilli()),
	}

	status, err := rotateTokenLua.Run(ctx, s.rdb,
		[]string{
			s.tokenKey(oldFingerprint),
			s.tokenKey(newFingerprint),
			s.userKey(userID),
			s.idKey(next.ID),
		},
		strconv.FormatUint(uint64(userID), 10),
		now.UnixMilli(),
		next.ID.String(),
		newFingerprint,
		next.ExpiresAt.UnixMilli(),
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	switch status {
	case rotateStatusRotated:
		return next, nil
	case rotateStatusNotFound:
		return nil, ErrNotFound
	case rotateStatusExpired:
		return nil, ErrExpired
	case rotateStatusReused:
		return nil, ErrReuseDetected
	case rotateStatusConflict:
		return nil, ErrConflict
	default:
		return nil, fmt.Errorf("rotate refresh token: unexpected status %d", status)
	}
}

func decodeRefreshToken(fields map[string]string) (*models.RefreshToken, error) {
	id, err := uuid.Parse(fields["id"])
	if err != nil {
		return nil, fmt.Errorf("id: %w", err)
	}
	userID, err := strconv.ParseUint(fields["user_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("user_id: %w", err)
	}
	expiresAt, err := parseMillis(fields["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("expires_at: %w", err)
	}
	createdAt, err := parseMillis(fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}

	rt := &models.RefreshToken{
		ID:           id,
		TokenHash:    fields["fingerprint"],
		UserID:       uint(userID),
		ExpiresAt:    expiresAt,
		CreatedAt:    createdAt,
		Revoked:      fields["revoked"] == "1",
		RevokeReason: fields["revoke_reason"],
	}
	if raw, ok := fields["revoked_at"]; ok {
		revokedAt, err := parseMillis(raw)
		if err != nil {
			return nil, fmt.Errorf("revoked_at: %w", err)
		}
		rt.RevokedAt = &revokedAt
	}
	if rt.TokenHash == "" {
		return nil, errors.New("missing fingerprint")
	}
	return rt, nil
}

func parseMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
