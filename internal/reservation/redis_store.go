package reservation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	slotKeyPrefix = "reservation:slot:"
	idKeyPrefix   = "reservation:id:"
)

// RedisStore keeps reservations in Redis so several API processes share one
// view of which slots are being booked. Keys carry a PX expiry matching the
// reservation TTL, so Redis drops abandoned records on its own.
//
// The Lua scripts follow the id index to the slot key it stores, so both keys
// must live on one node. The store takes a single-node *redis.Client and is not
// meant for Redis Cluster.
type RedisStore struct {
	client    *redis.Client
	scanBatch int64
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, scanBatch: 200}
}

type redisRecord struct {
	ID           string     `json:"id"`
	Key          SlotKey    `json:"slot"`
	ReservedBy   ReservedBy `json:"reserved_by"`
	OwnerID      string     `json:"owner_id,omitempty"`
	ReservedAtMs int64      `json:"reserved_at_ms"`
	ExpiresAtMs  int64      `json:"expires_at_ms"`
}

func toRecord(r Reservation) redisRecord {
	return redisRecord{
		ID:           r.ID,
		Key:          r.Key,
		ReservedBy:   r.ReservedBy,
		OwnerID:      r.OwnerID,
		ReservedAtMs: r.ReservedAt.UnixMilli(),
		ExpiresAtMs:  r.ExpiresAt.UnixMilli(),
	}
}

func (rec redisRecord) reservation() Reservation {
	return Reservation{
		ID:         rec.ID,
		Key:        rec.Key,
		ReservedBy: rec.ReservedBy,
		OwnerID:    rec.OwnerID,
		ReservedAt: time.UnixMilli(rec.ReservedAtMs).UTC(),
		ExpiresAt:  time.UnixMilli(rec.ExpiresAtMs).UTC(),
	}
}

func decodeRecord(raw string) (*Reservation, error) {
	var rec redisRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode reservation: %w", err)
	}
	r := rec.reservation()
	return &r, nil
}

// insertScript returns the current holder when it is still live, otherwise
// replaces it (dropping its id index) and returns nil.
var insertScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur then
  local rec = cjson.decode(cur)
  if tonumber(rec.expires_at_ms) > tonumber(ARGV[3]) then
    return cur
  end
  redis.call("DEL", ARGV[4] .. rec.id)
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
redis.call("SET", KEYS[2], KEYS[1], "PX", ARGV[2])
return false
`)

func (s *RedisStore) Insert(ctx context.Context, r Reservation, now time.Time) (*Reservation, error) {
	data, err := json.Marshal(toRecord(r))
	if err != nil {
		return nil, fmt.Errorf("encode reservation: %w", err)
	}

	ttl := r.ExpiresAt.Sub(now).Milliseconds()
	if ttl < 1 {
		ttl = 1
	}

	res, err := insertScript.Run(ctx, s.client,
		[]string{slotKeyPrefix + r.Key.String(), idKeyPrefix + r.ID},
		string(data), strconv.FormatInt(ttl, 10), strconv.FormatInt(now.UnixMilli(), 10), idKeyPrefix,
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("insert reservation: %w", err)
	}
	return decodeRecord(res)
}

func (s *RedisStore) Get(ctx context.Context, key SlotKey) (*Reservation, error) {
	raw, err := s.client.Get(ctx, slotKeyPrefix+key.String()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return decodeRecord(raw)
}

// deleteScript removes the slot record only while it still belongs to the
// given id, so a late confirm never frees a slot someone else reserved since.
var deleteScript = redis.NewScript(`
local slot = redis.call("GET", KEYS[1])
if not slot then
  return 0
end
local cur = redis.call("GET", slot)
if cur then
  local rec = cjson.decode(cur)
  if rec.id == ARGV[1] then
    redis.call("DEL", slot)
  end
end
redis.call("DEL", KEYS[1])
return 1
`)

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	_, err := deleteScript.Run(ctx, s.client, []string{idKeyPrefix + id}, id).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("delete reservation: %w", err)
	}
	return nil
}

var expireScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if not cur then
  return 0
end
local rec = cjson.decode(cur)
if tonumber(rec.expires_at_ms) <= tonumber(ARGV[1]) then
  redis.call("DEL", KEYS[1])
  redis.call("DEL", ARGV[2] .. rec.id)
  return 1
end
return 0
`)

func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	nowMs := strconv.FormatInt(now.UnixMilli(), 10)

	iter := s.client.Scan(ctx, 0, slotKeyPrefix+"*", s.scanBatch).Iterator()
	for iter.Next(ctx) {
		n, err := expireScript.Run(ctx, s.client, []string{iter.Val()}, nowMs, idKeyPrefix).Int()
		if err != nil {
			return removed, fmt.Errorf("expire reservation %s: %w", iter.Val(), err)
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scan reservations: %w", err)
	}
	return removed, nil
}
