package repositories

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/BradenHooton/attemptguard/internal/database"
	"github.com/BradenHooton/attemptguard/internal/models"
	"github.com/redis/go-redis/v9"
)

// Keys of one family share the {family} hash tag so the scripts stay inside a
// single cluster slot:
//
//	<prefix>:{<family>}:rec:<fp>        hash: id, bucket, key, count, updated_at, previous_at
//	<prefix>:{<family>}:bucket:<bucket> set of fp
//	<prefix>:{<family>}:key:<key>       set of fp (login only)
//	<prefix>:{<family>}:updated         zset of fp scored by updated_at (ms)
//
// Timestamps in the hash are unix nanoseconds.

const incrementAttemptScript = `
local count = redis.call("HINCRBY", KEYS[1], "count", 1)
if count == 1 then
  redis.call("HSET", KEYS[1], "id", ARGV[1], "bucket", ARGV[2], "key", ARGV[3], "updated_at", ARGV[4])
  redis.call("HDEL", KEYS[1], "previous_at")
  redis.call("SADD", KEYS[2], ARGV[6])
  if ARGV[7] == "1" then
    redis.call("SADD", KEYS[3], ARGV[6])
  end
else
  local prev = redis.call("HGET", KEYS[1], "updated_at")
  if prev then
    redis.call("HSET", KEYS[1], "previous_at", prev)
  end
  redis.call("HSET", KEYS[1], "updated_at", ARGV[4])
end
redis.call("ZADD", KEYS[4], ARGV[5], ARGV[6])
return count
`

var incrementAttemptLua = redis.NewScript(incrementAttemptScript)

const deleteAttemptsScript = `
local fps
if ARGV[4] == "stale" then
  fps = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", "(" .. ARGV[5])
else
  fps = redis.call("SMEMBERS", KEYS[1])
end
local deleted = 0
for _, fp in ipairs(fps) do
  local rec = ARGV[1] .. fp
  local fields = redis.call("HMGET", rec, "bucket", "key", "count")
  if ARGV[4] ~= "stale" or not fields[3] or tonumber(fields[3]) <= tonumber(ARGV[6]) then
    if fields[1] then
      redis.call("SREM", ARGV[2] .. fields[1], fp)
    end
    if fields[2] and fields[2] ~= "" then
      redis.call("SREM", ARGV[3] .. fields[2], fp)
    end
    deleted = deleted + redis.call("DEL", rec)
    redis.call("ZREM", KEYS[2], fp)
  end
end
if ARGV[4] ~= "stale" then
  redis.call("DEL", KEYS[1])
end
return deleted
`

var deleteAttemptsLua = redis.NewScript(deleteAttemptsScript)

// RedisAttemptRepository stores one attempt family in Redis. Increments run
// as a Lua script so each one is atomic.
type RedisAttemptRepository struct {
	redis  redis.UniversalClient
	family models.AttemptFamily
	prefix string
	now    func() time.Time
}

// NewRedisAttemptRepository creates a repository for family with keys under prefix
func NewRedisAttemptRepository(client redis.UniversalClient, prefix string, family models.AttemptFamily, opts ...StoreOption) *RedisAttemptRepository {
	if prefix == "" {
		prefix = "ag"
	}
	o := applyStoreOptions(opts)
	return &RedisAttemptRepository{
		redis:  client,
		family: family,
		prefix: prefix,
		now:    o.now,
	}
}

func (r *RedisAttemptRepository) Family() models.AttemptFamily { return r.family }

func (r *RedisAttemptRepository) base() string {
	return r.prefix + ":{" + string(r.family) + "}:"
}

func (r *RedisAttemptRepository) recordPrefix() string { return r.base() + "rec:" }
func (r *RedisAttemptRepository) bucketPrefix() string { return r.base() + "bucket:" }
func (r *RedisAttemptRepository) keyPrefix() string    { return r.base() + "key:" }
func (r *RedisAttemptRepository) updatedKey() string   { return r.base() + "updated" }

// composite drops the key for sign-up records, which are keyed by bucket alone
func (r *RedisAttemptRepository) composite(bucket, key string) (string, string) {
	if r.family == models.FamilySignUp {
		return bucket, ""
	}
	return bucket, key
}

// IncrementAndGet creates or bumps the record for (bucket, key)
func (r *RedisAttemptRepository) IncrementAndGet(ctx context.Context, bucket, key string) (int, error) {
	bucket, key = r.composite(bucket, key)
	fp := attemptFingerprint(bucket, key)
	now := r.now()

	hasKey := "0"
	if key != "" {
		hasKey = "1"
	}

	keys := []string{
		r.recordPrefix() + fp,
		r.bucketPrefix() + bucket,
		r.keyPrefix() + key,
		r.updatedKey(),
	}
	args := []any{
		newAttemptID(),
		bucket,
		key,
		strconv.FormatInt(now.UnixNano(), 10),
		now.UnixMilli(),
		fp,
		hasKey,
	}

	count, err := incrementAttemptLua.Run(ctx, r.redis, keys, args...).Int64()
	if err != nil {
		return 0, database.MapStoreError(fmt.Sprintf("increment %s attempt", r.family), err)
	}
	return int(count), nil
}

// FindMatching returns the most severe login record matching bucket OR key,
// or the sign-up record for bucket
func (r *RedisAttemptRepository) FindMatching(ctx context.Context, bucket, key string) (*models.AttemptRecord, error) {
	var fps []string
	if r.family == models.FamilySignUp {
		fps = []string{attemptFingerprint(bucket, "")}
	} else {
		members, err := r.redis.SUnion(ctx, r.bucketPrefix()+bucket, r.keyPrefix()+key).Result()
		if err != nil {
			return nil, database.MapStoreError("find login attempt", err)
		}
		fps = members
	}

	records, err := r.load(ctx, fps)
	if err != nil {
		return nil, database.MapStoreError(fmt.Sprintf("find %s attempt", r.family), err)
	}
	if len(records) == 0 {
		return nil, models.ErrNotFound
	}

	best := records[0]
	for _, rec := range records[1:] {
		if rec.Count > best.Count || (rec.Count == best.Count && rec.UpdatedAt.After(best.UpdatedAt)) {
			best = rec
		}
	}
	return &best, nil
}

// Reset deletes login records by key, or the sign-up record by bucket
func (r *RedisAttemptRepository) Reset(ctx context.Context, bucket, key string) error {
	index := r.keyPrefix() + key
	if r.family == models.FamilySignUp {
		index = r.bucketPrefix() + bucket
	}

	if _, err := r.runDelete(ctx, index, "index", 0, 0); err != nil {
		return database.MapStoreError(fmt.Sprintf("reset %s attempts", r.family), err)
	}
	return nil
}

// ListAll returns every record of the family, most recent first
func (r *RedisAttemptRepository) ListAll(ctx context.Context) ([]models.AttemptRecord, error) {
	fps, err := r.redis.ZRevRange(ctx, r.updatedKey(), 0, -1).Result()
	if err != nil {
		return nil, database.MapStoreError(fmt.Sprintf("list %s attempts", r.family), err)
	}

	records, err := r.load(ctx, fps)
	if err != nil {
		return nil, database.MapStoreError(fmt.Sprintf("list %s attempts", r.family), err)
	}
	return records, nil
}

// DeleteStale removes records with count <= maxCount not updated since before
func (r *RedisAttemptRepository) DeleteStale(ctx context.Context, before time.Time, maxCount int) (int64, error) {
	deleted, err := r.runDelete(ctx, r.updatedKey(), "stale", before.UnixMilli(), maxCount)
	if err != nil {
		return 0, database.MapStoreError(fmt.Sprintf("delete stale %s attempts", r.family), err)
	}
	return deleted, nil
}

func (r *RedisAttemptRepository) runDelete(ctx context.Context, index, mode string, maxScore int64, maxCount int) (int64, error) {
	keys := []string{index, r.updatedKey()}
	args := []any{r.recordPrefix(), r.bucketPrefix(), r.keyPrefix(), mode, maxScore, strconv.Itoa(maxCount)}
	return deleteAttemptsLua.Run(ctx, r.redis, keys, args...).Int64()
}

// load fetches the hashes for fps in one pipeline, skipping fingerprints whose
// record is gone
func (r *RedisAttemptRepository) load(ctx context.Context, fps []string) ([]models.AttemptRecord, error) {
	if len(fps) == 0 {
		return []models.AttemptRecord{}, nil
	}

	pipe := r.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(fps))
	for i, fp := range fps {
		cmds[i] = pipe.HGetAll(ctx, r.recordPrefix()+fp)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	records := make([]models.AttemptRecord, 0, len(fps))
	for _, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			continue
		}
		rec, err := r.parse(fields)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (r *RedisAttemptRepository) parse(fields map[string]string) (models.AttemptRecord, error) {
	rec := models.AttemptRecord{
		ID:            fields["id"],
		Family:        r.family,
		NetworkBucket: fields["bucket"],
		IdentityKey:   fields["key"],
	}

	count, err := strconv.Atoi(fields["count"])
	if err != nil {
		return rec, fmt.Errorf("corrupt attempt count %q: %w", fields["count"], err)
	}
	rec.Count = count

	updated, err := strconv.ParseInt(fields["updated_at"], 10, 64)
	if err != nil {
		return rec, fmt.Errorf("corrupt attempt timestamp %q: %w", fields["updated_at"], err)
	}
	rec.UpdatedAt = time.Unix(0, updated).UTC()

	if raw, ok := fields["previous_at"]; ok && raw != "" {
		prev, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return rec, fmt.Errorf("corrupt attempt timestamp %q: %w", raw, err)
		}
		t := time.Unix(0, prev).UTC()
		rec.PreviousAt = &t
	}

	return rec, nil
}
