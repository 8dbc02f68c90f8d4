package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/justLukaBB/creditor-email-matcher/pkg/shared/errors"
)

const (
	redisQueueZSetKey = "queue:dispatch:ready"
	redisQueueHashKey = "queue:dispatch:messages"
)

// dequeueScript atomically pops the lowest-scored (earliest-visible) ready
// member and its metadata hash in one round trip, the same ZRANGEBYSCORE +
// ZREM-via-Lua pattern the teacher's gateway dedup tests exercise against
// go-redis, generalized from a dedup set to a priority queue.
const dequeueScript = `
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
	return nil
end
local id = ids[1]
redis.call('ZREM', KEYS[1], id)
local fields = redis.call('HGET', KEYS[2], id)
redis.call('HDEL', KEYS[2], id)
return {id, fields}
`

// RedisQueue implements Queue over a Redis sorted set (score = visible-at
// unix nanos) plus a hash of per-message metadata, sharing the connection
// pool of pkg/store/kv.RedisStore via its Client accessor.
type RedisQueue struct {
	client *redis.Client
	pop    *redis.Script
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client, pop: redis.NewScript(dequeueScript)}
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobID string) error {
	return q.schedule(ctx, jobID, 0, time.Now().UTC())
}

func (q *RedisQueue) EnqueueDelayed(ctx context.Context, jobID string, delay time.Duration) error {
	return q.schedule(ctx, jobID, 0, time.Now().UTC().Add(delay))
}

func (q *RedisQueue) schedule(ctx context.Context, jobID string, attempt int, visibleAt time.Time) error {
	id := uuid.NewString()
	fields := encodeMessage(Message{ID: id, JobID: jobID, Attempt: attempt, VisibleAt: visibleAt})

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, redisQueueHashKey, id, fields)
	pipe.ZAdd(ctx, redisQueueZSetKey, redis.Z{Score: float64(visibleAt.UnixNano()), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.NetworkError("redis queue enqueue", jobID, err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Message, error) {
	now := strconv.FormatInt(time.Now().UTC().UnixNano(), 10)
	res, err := q.pop.Run(ctx, q.client, []string{redisQueueZSetKey, redisQueueHashKey}, now).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NetworkError("redis queue dequeue", "", err)
	}
	if res == nil {
		return nil, nil
	}
	pair, ok := res.([]interface{})
	if !ok || len(pair) != 2 || pair[1] == nil {
		return nil, nil
	}
	id, _ := pair[0].(string)
	fields, _ := pair[1].(string)
	msg, err := decodeMessage(id, fields)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (q *RedisQueue) Ack(_ context.Context, _ Message) error {
	// The dequeue script already removed the message from both the sorted
	// set and the hash; nothing further to clean up.
	return nil
}

func (q *RedisQueue) Nack(ctx context.Context, msg Message, delay time.Duration) error {
	msg.Attempt++
	msg.VisibleAt = time.Now().UTC().Add(delay)
	fields := encodeMessage(msg)

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, redisQueueHashKey, msg.ID, fields)
	pipe.ZAdd(ctx, redisQueueZSetKey, redis.Z{Score: float64(msg.VisibleAt.UnixNano()), Member: msg.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.NetworkError("redis queue nack", msg.JobID, err)
	}
	return nil
}

func encodeMessage(msg Message) string {
	return strings.Join([]string{msg.JobID, strconv.Itoa(msg.Attempt), strconv.FormatInt(msg.VisibleAt.UnixNano(), 10)}, "|")
}

func decodeMessage(id, fields string) (*Message, error) {
	parts := strings.SplitN(fields, "|", 3)
	if len(parts) != 3 {
		return nil, apperrors.ParseError("queue message", "internal", fmt.Errorf("malformed message encoding: %q", fields))
	}
	attempt, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, apperrors.ParseError("queue message attempt", "internal", err)
	}
	nanos, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, apperrors.ParseError("queue message visible_at", "internal", err)
	}
	return &Message{ID: id, JobID: parts[0], Attempt: attempt, VisibleAt: time.Unix(0, nanos).UTC()}, nil
}
