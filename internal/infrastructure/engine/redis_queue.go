package engine

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
)

// DefaultQueueKey is the sorted set holding pending messages.
const DefaultQueueKey = "pipewright:queue"

// popDue removes and returns the first member scored at or below ARGV[1].
var popDue = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #items == 0 then
  return false
end
redis.call('ZREM', KEYS[1], items[1])
return items[1]
`)

// RedisQueue stores messages in a sorted set scored by delivery time in
// epoch milliseconds, so every engine process shares one queue.
type RedisQueue struct {
	client redis.UniversalClient
	key    string
	now    func() time.Time
}

// NewRedisQueue builds a queue on key. Empty key uses DefaultQueueKey and a
// nil clock uses time.Now.
func NewRedisQueue(client redis.UniversalClient, key string, now func() time.Time) *RedisQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	if now == nil {
		now = time.Now
	}
	return &RedisQueue{client: client, key: key, now: now}
}

// Push implements Queue.
func (q *RedisQueue) Push(ctx context.Context, msg Message, delay time.Duration) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return execution.NewSerializationError("message", msg.ID, err)
	}
	score := float64(q.now().Add(delay).UnixMilli())
	return q.client.ZAdd(ctx, q.key, &redis.Z{Score: score, Member: string(payload)}).Err()
}

// Poll implements Queue.
func (q *RedisQueue) Poll(ctx context.Context) (*Message, error) {
	raw, err := popDue.Run(ctx, q.client, []string{q.key}, strconv.FormatInt(q.now().UnixMilli(), 10)).Text()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, execution.NewSerializationError("message", "", err)
	}
	return &msg, nil
}

// Size implements Queue.
func (q *RedisQueue) Size(ctx context.Context) (int, error) {
	n, err := q.client.ZCard(ctx, q.key).Result()
	return int(n), err
}
