package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/layer-3/signet/core"
)

// consumeNonceScript flips used 0 -> 1 for an unexpired nonce in one step.
// KEYS[1] nonce hash, ARGV[1] address, ARGV[2] now in unix ms.
var consumeNonceScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'used') ~= '0' then
	return 0
end
if tonumber(redis.call('HGET', KEYS[1], 'expires_at')) <= tonumber(ARGV[2]) then
	return 0
end
redis.call('HSET', KEYS[1], 'used', '1', 'address', ARGV[1])
return 1
`)

// touchSessionScript only writes into an existing session hash.
var touchSessionScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'last_active_at', ARGV[1])
return 1
`)

// revokeSessionScript moves active -> revoked and never back.
var revokeSessionScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'active' then
	return 0
end
redis.call('HSET', KEYS[1], 'status', 'revoked', 'revoked_reason', ARGV[1], 'revoked_at', ARGV[2])
return 1
`)

// RedisStore is a Redis implementation of the NonceStore and SessionStore interfaces
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "signet:",
		now:    time.Now,
	}
}

func (s *RedisStore) nonceKey(value string) string { return s.prefix + "nonce:" + value }
func (s *RedisStore) sessionKey(jti string) string  { return s.prefix + "session:" + jti }
func (s *RedisStore) addressKey(address string) string {
	return s.prefix + "address_sessions:" + address
}
func (s *RedisStore) blacklistKey(address, jti string) string {
	return s.prefix + "blacklist:" + address + ":" + jti
}

// InsertNonce stores the nonce as a hash whose key expires with the nonce
func (s *RedisStore) InsertNonce(ctx context.Context, nonce core.Nonce) error {
	key := s.nonceKey(nonce.Value)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"address", nonce.Address,
		"created_at", unixMilli(nonce.CreatedAt),
		"expires_at", unixMilli(nonce.ExpiresAt),
		"used", "0",
	)
	pipe.PExpire(ctx, key, ttlBetween(nonce.CreatedAt, nonce.ExpiresAt))

	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("insert nonce", err)
	}
	return nil
}

// ConsumeNonce runs the conditional update as a server-side script
func (s *RedisStore) ConsumeNonce(ctx context.Context, value, address string, now time.Time) (bool, error) {
	res, err := consumeNonceScript.Run(ctx, s.client, []string{s.nonceKey(value)}, address, unixMilli(now)).Int()
	if err != nil {
		return false, storeErr("consume nonce", err)
	}
	return res == 1, nil
}

// CreateSession stores the session hash and indexes it under the owning address
func (s *RedisStore) CreateSession(ctx context.Context, session core.Session) error {
	key := s.sessionKey(session.ID)
	ttl := ttlBetween(session.CreatedAt, session.ExpiresAt)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"address", session.Address,
		"device_id", session.DeviceID,
		"ip", session.IP,
		"status", string(session.Status),
		"created_at", unixMilli(session.CreatedAt),
		"last_active_at", unixMilli(session.LastActiveAt),
		"expires_at", unixMilli(session.ExpiresAt),
	)
	pipe.PExpire(ctx, key, ttl)
	pipe.SAdd(ctx, s.addressKey(session.Address), session.ID)
	pipe.PExpire(ctx, s.addressKey(session.Address), ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("create session", err)
	}
	return nil
}

func (s *RedisStore) GetSession(ctx context.Context, jti string) (*core.Session, error) {
	fields, err := s.client.HGetAll(ctx, s.sessionKey(jti)).Result()
	if err != nil {
		return nil, storeErr("get session", err)
	}
	if len(fields) == 0 {
		return nil, core.ErrSessionNotFound
	}
	session := sessionFromHash(jti, fields)
	return &session, nil
}

func (s *RedisStore) TouchSession(ctx context.Context, jti string, at time.Time) error {
	res, err := touchSessionScript.Run(ctx, s.client, []string{s.sessionKey(jti)}, unixMilli(at)).Int()
	if err != nil {
		return storeErr("touch session", err)
	}
	if res == 0 {
		return core.ErrSessionNotFound
	}
	return nil
}

func (s *RedisStore) RevokeSession(ctx context.Context, jti, reason string, at time.Time) error {
	err := revokeSessionScript.Run(ctx, s.client, []string{s.sessionKey(jti)}, reason, unixMilli(at)).Err()
	if err != nil {
		return storeErr("revoke session", err)
	}
	return nil
}

// ActiveSessions reads every indexed session and prunes ids whose hash expired
func (s *RedisStore) ActiveSessions(ctx context.Context, address string) ([]core.Session, error) {
	setKey := s.addressKey(address)

	ids, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, storeErr("list sessions", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.sessionKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, storeErr("list sessions", err)
	}

	now := s.now()
	var active []core.Session
	var stale []interface{}
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			stale = append(stale, ids[i])
			continue
		}
		if session := sessionFromHash(ids[i], fields); session.Active() && now.Before(session.ExpiresAt) {
			active = append(active, session)
		}
	}
	if len(stale) > 0 {
		// Best effort; a failed prune only leaves dangling ids behind.
		s.client.SRem(ctx, setKey, stale...)
	}
	return active, nil
}

// Blacklist stores the denial under its own key space so it survives session expiry
func (s *RedisStore) Blacklist(ctx context.Context, entry core.BlacklistEntry) error {
	payload, err := json.Marshal(blacklistRecord{
		Address:   entry.Address,
		SessionID: entry.SessionID,
		Reason:    entry.Reason,
		CreatedAt: entry.CreatedAt,
		ExpiresAt: entry.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("marshaling blacklist entry: %w", err)
	}

	ttl := ttlBetween(entry.CreatedAt, entry.ExpiresAt)
	if err := s.client.Set(ctx, s.blacklistKey(entry.Address, entry.SessionID), payload, ttl).Err(); err != nil {
		return storeErr("blacklist session", err)
	}
	return nil
}

func (s *RedisStore) IsBlacklisted(ctx context.Context, address, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, s.blacklistKey(address, jti)).Result()
	if err != nil {
		return false, storeErr("check blacklist", err)
	}
	return n > 0, nil
}

// Client returns the underlying Redis client
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func sessionFromHash(jti string, fields map[string]string) core.Session {
	return core.Session{
		ID:            jti,
		Address:       fields["address"],
		DeviceID:      fields["device_id"],
		IP:            fields["ip"],
		Status:        core.SessionStatus(fields["status"]),
		CreatedAt:     fromUnixMilli(fields["created_at"]),
		LastActiveAt:  fromUnixMilli(fields["last_active_at"]),
		ExpiresAt:     fromUnixMilli(fields["expires_at"]),
		RevokedReason: fields["revoked_reason"],
		RevokedAt:     fromUnixMilli(fields["revoked_at"]),
	}
}

func unixMilli(t time.Time) int64 {
	return t.UnixMilli()
}

func fromUnixMilli(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// ttlBetween never returns less than a millisecond; Redis treats 0 as "no expiry".
func ttlBetween(from, to time.Time) time.Duration {
	ttl := to.Sub(from)
	if ttl < time.Millisecond {
		return time.Millisecond
	}
	return ttl
}

func storeErr(op string, err error) error {
	if errors.Is(err, core.ErrStoreOperationFailed) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, core.ErrStoreOperationFailed, err)
}
