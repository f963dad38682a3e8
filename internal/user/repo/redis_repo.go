package repo

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/user/entity"
)

// Key layout:
//
//	user:{id}              hash with the user fields
//	user:email:{email}     -> id (unique email index)
//	user:refresh:{sha256}  -> id (refresh-token index)
const (
	userKeyPrefix    = "user:"
	emailKeyPrefix   = "user:email:"
	refreshKeyPrefix = "user:refresh:"
)

// KEYS[1]=email index, KEYS[2]=user hash; ARGV = id followed by field/value pairs.
var createScript = redis.NewScript(`
if redis.call('SETNX', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[2], unpack(ARGV, 2))
return 1
`)

// KEYS[1]=user hash, KEYS[2]=new refresh index (absent when clearing);
// ARGV[1]=new token or '', ARGV[2]=id, ARGV[3]=expected old token or '' for unconditional.
var setRefreshScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if ARGV[3] ~= '' then
  local cur = redis.call('HGET', KEYS[1], 'refresh_token')
  if cur ~= ARGV[3] then
    return 0
  end
end
local old = redis.call('HGET', KEYS[1], 'refresh_key')
if old then
  redis.call('DEL', old)
end
if ARGV[1] == '' then
  redis.call('HDEL', KEYS[1], 'refresh_token', 'refresh_key')
else
  redis.call('HSET', KEYS[1], 'refresh_token', ARGV[1], 'refresh_key', KEYS[2], 'updated_at', ARGV[4])
  redis.call('SET', KEYS[2], ARGV[2])
end
return 1
`)

// RedisRepo stores users in Redis. Index maintenance runs inside Lua scripts so
// every update of the refresh slot is atomic per user. The scripts touch keys
// in different hash slots, so the store needs a single-node client, not a
// cluster one.
type RedisRepo struct {
	client *redis.Client
}

func NewRedisRepo(client *redis.Client) *RedisRepo {
	return &RedisRepo{client: client}
}

func userKey(id string) string { return userKeyPrefix + id }

func emailKey(email string) string { return emailKeyPrefix + strings.ToLower(email) }

// refreshKey indexes by digest so raw tokens never appear in key names.
func refreshKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return refreshKeyPrefix + hex.EncodeToString(sum[:])
}

func (r *RedisRepo) Create(ctx context.Context, u *entity.User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	args := []any{
		u.ID,
		"id", u.ID,
		"email", u.Email,
		"name", u.Name,
		"password_hash", u.PasswordHash,
		"role", u.Role,
		"created_at", u.CreatedAt.Format(time.RFC3339Nano),
		"updated_at", u.UpdatedAt.Format(time.RFC3339Nano),
	}
	ok, err := createScript.Run(ctx, r.client, []string{emailKey(u.Email), userKey(u.ID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("redis create user: %w", err)
	}
	if ok == 0 {
		return ErrDuplicateEmail
	}
	return nil
}

func (r *RedisRepo) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	id, err := r.lookup(ctx, emailKey(email))
	if err != nil {
		return nil, err
	}
	return r.findByID(ctx, id)
}

func (r *RedisRepo) findByID(ctx context.Context, id string) (*entity.User, error) {
	fields, err := r.client.HGetAll(ctx, userKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get user: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return userFromHash(fields), nil
}

// FindByRefreshToken resolves the token through its index and confirms the
// stored slot still holds exactly this token.
func (r *RedisRepo) FindByRefreshToken(ctx context.Context, token string) (*entity.User, error) {
	id, err := r.lookup(ctx, refreshKey(token))
	if err != nil {
		return nil, err
	}
	u, err := r.findByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.RefreshToken == nil || subtle.ConstantTimeCompare([]byte(*u.RefreshToken), []byte(token)) != 1 {
		return nil, ErrNotFound
	}
	return u, nil
}

func (r *RedisRepo) SetRefreshToken(ctx context.Context, id string, token *string) error {
	keys := []string{userKey(id)}
	next := ""
	if token != nil {
		next = *token
		keys = append(keys, refreshKey(next))
	}
	res, err := r.runSetRefresh(ctx, keys, next, id, "")
	if err != nil {
		return err
	}
	if res < 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RedisRepo) SwapRefreshToken(ctx context.Context, id, old, next string) (bool, error) {
	if old == "" {
		return false, errors.New("swap refresh token: empty old token")
	}
	res, err := r.runSetRefresh(ctx, []string{userKey(id), refreshKey(next)}, next, id, old)
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (r *RedisRepo) runSetRefresh(ctx context.Context, keys []string, next, id, expect string) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := setRefreshScript.Run(ctx, r.client, keys, next, id, expect, now).Int()
	if err != nil {
		return 0, fmt.Errorf("redis set refresh token: %w", err)
	}
	return res, nil
}

func (r *RedisRepo) lookup(ctx context.Context, key string) (string, error) {
	id, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("redis lookup: %w", err)
	}
	return id, nil
}

func userFromHash(f map[string]string) *entity.User {
	u := &entity.User{
		ID:           f["id"],
		Email:        f["email"],
		Name:         f["name"],
		PasswordHash: f["password_hash"],
		Role:         f["role"],
	}
	if rt, ok := f["refresh_token"]; ok && rt != "" {
		u.RefreshToken = &rt
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, f["created_at"])
	u.UpdatedAt, _ = time.Parse(time.RFC3339Nano, f["updated_at"])
	return u
}
