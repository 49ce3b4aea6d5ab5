package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLeaseLost means the claim expired and the job may already be requeued.
var ErrLeaseLost = errors.New("queue lease lost")

type Queue interface {
	Enqueue(ctx context.Context, jobID string, priority int) error
	// ClaimBlocking returns redis.Nil when nothing arrived within timeout.
	ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error)
	Heartbeat(ctx context.Context, jobID string) error
	Ack(ctx context.Context, jobID string) error
	RequeueExpired(ctx context.Context, limit int64) (int64, error)
}

type Lane struct {
	QueueKey      string
	ProcessingKey string
}

// Lanes derives the three priority lanes from the base keys.
func Lanes(queueKey, processingKey string) (low, normal, high Lane) {
	lane := func(suffix string) Lane {
		return Lane{QueueKey: queueKey + ":" + suffix, ProcessingKey: processingKey + ":" + suffix}
	}
	return lane("low"), lane("normal"), lane("high")
}

type QueueConfig struct {
	// ProcessingMapKey is a hash of job id -> processing list holding it.
	ProcessingMapKey string
	// LeaseKey is a sorted set of claimed job ids scored by lease deadline (unix ms).
	LeaseKey string
	LeaseTTL time.Duration

	Low, Normal, High Lane
}

// redisPriorityQueue is a reliable priority queue on Redis lists.
// Claim:     BRPOPLPUSH lane.queue -> lane.processing, then a lease in LeaseKey
// Heartbeat: pushes the lease deadline forward while the job runs
// Ack:       LREM from the processing list plus lease and map cleanup
// Reaper:    moves ids with an expired lease back to their lane queue
type redisPriorityQueue struct {
	rdb redis.UniversalClient
	cfg QueueConfig
	now func() time.Time
}

func NewRedisPriorityQueue(rdb redis.UniversalClient, cfg QueueConfig) Queue {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 2 * time.Minute
	}
	return &redisPriorityQueue{rdb: rdb, cfg: cfg, now: time.Now}
}

func clampPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > 2 {
		return 2
	}
	return p
}

func (q *redisPriorityQueue) lanes() []Lane {
	return []Lane{q.cfg.High, q.cfg.Normal, q.cfg.Low}
}

func (q *redisPriorityQueue) laneByPriority(p int) Lane {
	switch clampPriority(p) {
	case 2:
		return q.cfg.High
	case 1:
		return q.cfg.Normal
	default:
		return q.cfg.Low
	}
}

func (q *redisPriorityQueue) laneByProcessingKey(key string) (Lane, bool) {
	for _, ln := range q.lanes() {
		if ln.ProcessingKey == key {
			return ln, true
		}
	}
	return Lane{}, false
}

// deadline is the lease expiry in unix ms.
func (q *redisPriorityQueue) deadline() int64 {
	return q.now().Add(q.cfg.LeaseTTL).UnixMilli()
}

func (q *redisPriorityQueue) Enqueue(ctx context.Context, jobID string, priority int) error {
	ln := q.laneByPriority(priority)
	return q.rdb.LPush(ctx, ln.QueueKey, jobID).Err()
}

// ClaimBlocking tries high->normal->low with short blocking slots, so it
// mostly blocks but still respects priority. timeout <= 0 waits forever.
func (q *redisPriorityQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	forever := timeout <= 0
	deadline := time.Now().Add(timeout)

	slot := 1 * time.Second
	if !forever && timeout < slot {
		slot = timeout
	}

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !forever && time.Now().After(deadline) {
			return "", redis.Nil
		}

		for _, ln := range q.lanes() {
			wait := slot
			if !forever {
				remain := time.Until(deadline)
				if remain <= 0 {
					return "", redis.Nil
				}
				if remain < wait {
					wait = remain
				}
			}

			id, err := q.rdb.BRPopLPush(ctx, ln.QueueKey, ln.ProcessingKey, wait).Result()
			if err == nil {
				if err := q.lease(ctx, id, ln); err != nil {
					// without a lease the id would sit in processing forever
					_ = q.rdb.LRem(ctx, ln.ProcessingKey, 1, id).Err()
					_ = q.rdb.RPush(ctx, ln.QueueKey, id).Err()
					return "", err
				}
				return id, nil
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return "", err
		}
	}
}

func (q *redisPriorityQueue) lease(ctx context.Context, id string, ln Lane) error {
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.cfg.ProcessingMapKey, id, ln.ProcessingKey)
		p.ZAdd(ctx, q.cfg.LeaseKey, redis.Z{Score: float64(q.deadline()), Member: id})
		return nil
	})
	return err
}

// extends the lease only if it still exists
var heartbeatScript = redis.NewScript(`
if redis.call('ZSCORE', KEYS[1], ARGV[1]) then
  redis.call('ZADD', KEYS[1], 'XX', ARGV[2], ARGV[1])
  return 1
end
return 0
`)

func (q *redisPriorityQueue) Heartbeat(ctx context.Context, jobID string) error {
	n, err := heartbeatScript.Run(ctx, q.rdb, []string{q.cfg.LeaseKey}, jobID, q.deadline()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (q *redisPriorityQueue) Ack(ctx context.Context, jobID string) error {
	_ = q.rdb.ZRem(ctx, q.cfg.LeaseKey, jobID).Err()

	processingKey, err := q.rdb.HGet(ctx, q.cfg.ProcessingMapKey, jobID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// mapping is gone (reaped or removed by hand); clear every processing list
			for _, ln := range q.lanes() {
				_ = q.rdb.LRem(ctx, ln.ProcessingKey, 1, jobID).Err()
			}
			return nil
		}
		return err
	}

	if err := q.rdb.LRem(ctx, processingKey, 1, jobID).Err(); err != nil {
		return err
	}
	_ = q.rdb.HDel(ctx, q.cfg.ProcessingMapKey, jobID).Err()
	return nil
}

// KEYS: leases, processing map, processing list, lane queue
// ARGV: job id, now (unix ms)
// Checks the deadline again so a heartbeat that raced the reaper wins.
var requeueScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not score or tonumber(score) > tonumber(ARGV[2]) then
  return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('LREM', KEYS[3], 1, ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('RPUSH', KEYS[4], ARGV[1])
return 1
`)

// RequeueExpired moves up to limit ids whose lease ran out back to the head of
// their lane. Delivery is at-least-once; the worker skips jobs that are no
// longer pending.
func (q *redisPriorityQueue) RequeueExpired(ctx context.Context, limit int64) (int64, error) {
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	ids, err := q.rdb.ZRangeByScore(ctx, q.cfg.LeaseKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: limit,
	}).Result()
	if err != nil {
		return 0, err
	}

	var moved int64
	for _, id := range ids {
		processingKey, err := q.rdb.HGet(ctx, q.cfg.ProcessingMapKey, id).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return moved, err
		}
		ln, ok := q.laneByProcessingKey(processingKey)
		if !ok {
			// unknown lane; requeue as normal priority
			ln = q.cfg.Normal
			processingKey = ln.ProcessingKey
		}

		keys := []string{q.cfg.LeaseKey, q.cfg.ProcessingMapKey, processingKey, ln.QueueKey}
		n, err := requeueScript.Run(ctx, q.rdb, keys, id, now).Int()
		if err != nil {
			return moved, err
		}
		moved += int64(n)
	}
	return moved, nil
}
