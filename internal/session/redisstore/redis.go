package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/socialchat/internal/session"
)

const (
	defaultKeyPrefix = "socialchat:"
	minTTL           = time.Second
)

// Config for the Redis connection. The server fills it from its process
// configuration; ConfigFromEnv decodes the same keys directly from the
// environment. An empty Addr means Redis is not configured.
type Config struct {
	// Addr like "localhost:6379". ENV: REDIS_ADDR
	Addr string `env:"REDIS_ADDR"`
	// ENV: REDIS_PASSWORD
	Password string `env:"REDIS_PASSWORD"`
	// ENV: REDIS_DB
	DB int `env:"REDIS_DB,default=0"`
	// KeyPrefix for all keys. ENV: SESSIONS_KEY_PREFIX
	KeyPrefix string `env:"SESSIONS_KEY_PREFIX,default=socialchat:"`
}

// Enabled reports whether a Redis address was configured.
func (c Config) Enabled() bool { return c.Addr != "" }

// ConfigFromEnv decodes Config from the environment with envdecode, for
// callers that do not load the full server configuration.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("redis config: %w", err)
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	return cfg, nil
}

// NewClient connects to Redis and verifies the connection with PING.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	cl := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return cl, nil
}

// deleteSessionLua removes a session and its indexes. Other sessions sharing
// the token keep it.
var deleteSessionLua = redis.NewScript(`
redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[2], ARGV[1])
if KEYS[3] ~= "" then
  redis.call("SREM", KEYS[3], ARGV[1])
end
if KEYS[4] ~= "" then
  redis.call("ZREM", KEYS[4], ARGV[1])
end
return 1
`)

// revokeTokenLua deletes every session holding the token that is no longer
// in the active index. ARGV[1] is the session key prefix.
var revokeTokenLua = redis.NewScript(`
local ids = redis.call("ZRANGE", KEYS[1], 0, -1)
local n = 0
for _, id in ipairs(ids) do
  if not redis.call("ZSCORE", KEYS[2], id) then
    redis.call("DEL", ARGV[1] .. id)
    redis.call("ZREM", KEYS[1], id)
    n = n + 1
  end
end
return n
`)

// Store is a session.RemoteStore backed by Redis.
type Store struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// New returns a Store using client. Keys are namespaced with prefix.
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Store{client: client, prefix: prefix, now: time.Now}
}

func (s *Store) sessionKey(id string) string  { return s.prefix + "session:" + id }
func (s *Store) activeKey() string            { return s.prefix + "active" }
func (s *Store) userKey(userID string) string { return s.prefix + "user:" + userID }
func (s *Store) tokenKey(token string) string { return s.prefix + "token:" + token }

// Save writes sess and its indexes in one transaction.
func (s *Store) Save(ctx context.Context, sess session.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}

	ttl := sess.ExpiryDate.Sub(s.now())
	if ttl < minTTL {
		ttl = minTTL
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(sess.ID), data, ttl)
		pipe.ZAdd(ctx, s.activeKey(), redis.Z{
			Score:  float64(sess.ExpiryDate.UnixMilli()),
			Member: sess.ID,
		})
		if sess.UserID != "" {
			pipe.SAdd(ctx, s.userKey(sess.UserID), sess.ID)
		}
		if sess.Token != "" {
			pipe.ZAdd(ctx, s.tokenKey(sess.Token), redis.Z{
				Score:  float64(sess.StartDate.UnixMilli()),
				Member: sess.ID,
			})
			pipe.Expire(ctx, s.tokenKey(sess.Token), ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

// Detach drops sess from the active and per-user indexes. The record and
// its token entry stay until they expire.
func (s *Store) Detach(ctx context.Context, sess session.Session) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.activeKey(), sess.ID)
		if sess.UserID != "" {
			pipe.SRem(ctx, s.userKey(sess.UserID), sess.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("detach session %s: %w", sess.ID, err)
	}
	return nil
}

// Revoke deletes the detached sessions holding token.
func (s *Store) Revoke(ctx context.Context, token string) error {
	keys := []string{s.tokenKey(token), s.activeKey()}
	if err := revokeTokenLua.Run(ctx, s.client, keys, s.sessionKey("")).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// Delete removes the session record and its index entries. Deleting a
// missing session is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	sess, err := s.get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return s.client.ZRem(ctx, s.activeKey(), sessionID).Err()
	}
	if err != nil {
		return err
	}

	userKey, tokenKey := "", ""
	if sess.UserID != "" {
		userKey = s.userKey(sess.UserID)
	}
	if sess.Token != "" {
		tokenKey = s.tokenKey(sess.Token)
	}
	keys := []string{s.sessionKey(sessionID), s.activeKey(), userKey, tokenKey}
	if err := deleteSessionLua.Run(ctx, s.client, keys, sessionID).Err(); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// FindActive returns every authenticated session whose expiry is after now.
func (s *Store) FindActive(ctx context.Context, now time.Time) ([]session.Session, error) {
	ms := now.UnixMilli()
	if err := s.client.ZRemRangeByScore(ctx, s.activeKey(), "-inf", strconv.FormatInt(ms, 10)).Err(); err != nil {
		return nil, fmt.Errorf("trim active sessions: %w", err)
	}
	ids, err := s.client.ZRangeByScore(ctx, s.activeKey(), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(ms, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}

	found, missing, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		_ = s.client.ZRem(ctx, s.activeKey(), toAny(missing)...).Err()
	}
	return keepActive(found, now), nil
}

// FindActiveByUser is FindActive restricted to userID.
func (s *Store) FindActiveByUser(ctx context.Context, userID string, now time.Time) ([]session.Session, error) {
	ids, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions of user %s: %w", userID, err)
	}

	found, missing, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		_ = s.client.SRem(ctx, s.userKey(userID), toAny(missing)...).Err()
	}
	return keepActive(found, now), nil
}

// FindByToken returns the newest session still holding token, whatever its
// status. Index entries whose record has been evicted are dropped.
func (s *Store) FindByToken(ctx context.Context, token string) (session.Session, error) {
	ids, err := s.client.ZRevRange(ctx, s.tokenKey(token), 0, -1).Result()
	if err != nil {
		return session.Session{}, fmt.Errorf("resolve token: %w", err)
	}

	found, missing, err := s.load(ctx, ids)
	if err != nil {
		return session.Session{}, err
	}
	if len(missing) > 0 {
		_ = s.client.ZRem(ctx, s.tokenKey(token), toAny(missing)...).Err()
	}
	if len(found) == 0 {
		return session.Session{}, session.ErrNotFound
	}
	return found[0], nil
}

func (s *Store) get(ctx context.Context, id string) (session.Session, error) {
	data, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return session.Session{}, session.ErrNotFound
		}
		return session.Session{}, fmt.Errorf("get session %s: %w", id, err)
	}
	var sess session.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return session.Session{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return sess, nil
}

// load fetches the sessions for ids in one MGET. Ids whose record has
// expired or cannot be decoded are returned in missing.
func (s *Store) load(ctx context.Context, ids []string) (found []session.Session, missing []string, err error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.sessionKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("load sessions: %w", err)
	}

	found = make([]session.Session, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		var sess session.Session
		if err := json.Unmarshal([]byte(str), &sess); err != nil {
			missing = append(missing, ids[i])
			continue
		}
		found = append(found, sess)
	}
	return found, missing, nil
}

func keepActive(sessions []session.Session, now time.Time) []session.Session {
	out := sessions[:0]
	for _, sess := range sessions {
		if sess.Active(now) {
			out = append(out, sess)
		}
	}
	return out
}

func toAny(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

var _ session.RemoteStore = (*Store)(nil)
