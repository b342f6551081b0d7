package col

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistributedLock backs I3 coalescing across multiple gateway processes
// sharing one Redis instance, for the managed/clustered deployment mode.
// The pipeline itself uses the in-memory coalescer; this type is a
// standalone lock and shares no interface with it.
type DistributedLock struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewDistributedLock wraps an existing Redis client. ttl bounds how long
// a lease is held if the owning process crashes mid-pipeline.
func NewDistributedLock(rdb *redis.Client, ttl time.Duration) *DistributedLock {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &DistributedLock{rdb: rdb, ttl: ttl}
}

const lockKeyPrefix = "cell0:col:fp:"

// Acquire attempts to become the leader for fingerprint fp. If another
// process already holds the lease, acquired is false and callers should
// poll Result for the coalesced outcome.
func (d *DistributedLock) Acquire(ctx context.Context, fp string) (acquired bool, err error) {
	ok, err := d.rdb.SetNX(ctx, lockKeyPrefix+fp, "1", d.ttl).Result()
	return ok, err
}

// Publish stores the terminal result so followers polling Result can pick
// it up, then releases the lease.
func (d *DistributedLock) Publish(ctx context.Context, fp string, result PipelineResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if err := d.rdb.Set(ctx, lockKeyPrefix+fp+":result", payload, d.ttl).Err(); err != nil {
		return err
	}
	return d.rdb.Del(ctx, lockKeyPrefix+fp).Err()
}

// Result polls for a published result, waiting up to the context deadline.
func (d *DistributedLock) Result(ctx context.Context, fp string) (PipelineResult, bool) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		data, err := d.rdb.Get(ctx, lockKeyPrefix+fp+":result").Bytes()
		if err == nil {
			var result PipelineResult
			if json.Unmarshal(data, &result) == nil {
				return result, true
			}
		}
		select {
		case <-ctx.Done():
			return PipelineResult{}, false
		case <-ticker.C:
		}
	}
}
