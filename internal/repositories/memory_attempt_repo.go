package repositories

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/attemptguard/internal/models"
)

const memoryShardCount = 256

type memoryShard struct {
	mu      sync.RWMutex
	records map[string]*models.AttemptRecord
}

// MemoryAttemptRepository keeps one attempt family in process memory for
// single-instance deployments and tests. Increments serialize per shard of
// the composite key, so unrelated identities rarely contend. Lookups that
// match by one dimension (login FindMatching, Reset by key) scan every shard.
type MemoryAttemptRepository struct {
	family models.AttemptFamily
	shards [memoryShardCount]memoryShard
	now    func() time.Time
}

// NewMemoryAttemptRepository creates an empty in-memory repository
func NewMemoryAttemptRepository(family models.AttemptFamily, opts ...StoreOption) *MemoryAttemptRepository {
	o := applyStoreOptions(opts)
	r := &MemoryAttemptRepository{family: family, now: o.now}
	for i := range r.shards {
		r.shards[i].records = make(map[string]*models.AttemptRecord)
	}
	return r
}

func (r *MemoryAttemptRepository) Family() models.AttemptFamily { return r.family }

func (r *MemoryAttemptRepository) compositeKey(bucket, key string) string {
	if r.family == models.FamilySignUp {
		return bucket
	}
	return bucket + "\x00" + key
}

func (r *MemoryAttemptRepository) shardFor(composite string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(composite))
	return &r.shards[h.Sum32()%memoryShardCount]
}

// IncrementAndGet creates or bumps the record for (bucket, key)
func (r *MemoryAttemptRepository) IncrementAndGet(ctx context.Context, bucket, key string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	composite := r.compositeKey(bucket, key)
	shard := r.shardFor(composite)
	now := r.now()

	shard.mu.Lock()
	defer shard.mu.Unlock()

	rec, ok := shard.records[composite]
	if !ok {
		rec = &models.AttemptRecord{
			ID:            newAttemptID(),
			Family:        r.family,
			NetworkBucket: bucket,
			Count:         1,
			UpdatedAt:     now,
		}
		if r.family == models.FamilyLogin {
			rec.IdentityKey = key
		}
		shard.records[composite] = rec
		return 1, nil
	}

	prev := rec.UpdatedAt
	rec.PreviousAt = &prev
	rec.UpdatedAt = now
	rec.Count++
	return rec.Count, nil
}

// FindMatching returns the most severe login record matching bucket OR key,
// or the sign-up record for bucket
func (r *MemoryAttemptRepository) FindMatching(ctx context.Context, bucket, key string) (*models.AttemptRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if r.family == models.FamilySignUp {
		shard := r.shardFor(bucket)
		shard.mu.RLock()
		defer shard.mu.RUnlock()

		rec, ok := shard.records[bucket]
		if !ok {
			return nil, models.ErrNotFound
		}
		return cloneAttempt(rec), nil
	}

	var best *models.AttemptRecord
	for i := range r.shards {
		shard := &r.shards[i]
		shard.mu.RLock()
		for _, rec := range shard.records {
			if rec.NetworkBucket != bucket && rec.IdentityKey != key {
				continue
			}
			if best == nil || rec.Count > best.Count ||
				(rec.Count == best.Count && rec.UpdatedAt.After(best.UpdatedAt)) {
				best = cloneAttempt(rec)
			}
		}
		shard.mu.RUnlock()
	}

	if best == nil {
		return nil, models.ErrNotFound
	}
	return best, nil
}

// Reset deletes login records by key, or the sign-up record by bucket
func (r *MemoryAttemptRepository) Reset(ctx context.Context, bucket, key string) error {
	if r.family == models.FamilySignUp {
		shard := r.shardFor(bucket)
		shard.mu.Lock()
		delete(shard.records, bucket)
		shard.mu.Unlock()
		return nil
	}

	r.deleteWhere(func(rec *models.AttemptRecord) bool { return rec.IdentityKey == key })
	return nil
}

// ListAll returns every record, most recent first
func (r *MemoryAttemptRepository) ListAll(ctx context.Context) ([]models.AttemptRecord, error) {
	records := []models.AttemptRecord{}
	for i := range r.shards {
		shard := &r.shards[i]
		shard.mu.RLock()
		for _, rec := range shard.records {
			records = append(records, *cloneAttempt(rec))
		}
		shard.mu.RUnlock()
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].UpdatedAt.After(records[j].UpdatedAt)
	})
	return records, nil
}

// DeleteStale removes records with count <= maxCount not updated since before
func (r *MemoryAttemptRepository) DeleteStale(ctx context.Context, before time.Time, maxCount int) (int64, error) {
	return r.deleteWhere(func(rec *models.AttemptRecord) bool {
		return rec.Count <= maxCount && rec.UpdatedAt.Before(before)
	}), nil
}

func (r *MemoryAttemptRepository) deleteWhere(match func(*models.AttemptRecord) bool) int64 {
	var deleted int64
	for i := range r.shards {
		shard := &r.shards[i]
		shard.mu.Lock()
		for k, rec := range shard.records {
			if match(rec) {
				delete(shard.records, k)
				deleted++
			}
		}
		shard.mu.Unlock()
	}
	return deleted
}

func cloneAttempt(rec *models.AttemptRecord) *models.AttemptRecord {
	out := *rec
	if rec.PreviousAt != nil {
		prev := *rec.PreviousAt
		out.PreviousAt = &prev
	}
	return &out
}
