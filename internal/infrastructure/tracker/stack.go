package tracker

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"
)

const (
	startedAllKey = "PIPELINE:STARTED"
	queuedAllKey  = "PIPELINE:QUEUED"
)

func startedKey(pipelineConfigID string) string { return startedAllKey + ":" + pipelineConfigID }

func queuedKey(pipelineConfigID string) string { return queuedAllKey + ":" + pipelineConfigID }

// pushUnlessFull pushes the id onto the started list while it holds fewer
// than ARGV[2] entries, otherwise onto the queued list. Both pushes are
// mirrored into the global lists. Returns 1 when the id was queued.
var pushUnlessFull = redis.NewScript(`
if redis.call('LLEN', KEYS[1]) >= tonumber(ARGV[2]) then
  redis.call('LPUSH', KEYS[2], ARGV[1])
  redis.call('LPUSH', KEYS[4], ARGV[1])
  return 1
end
redis.call('LPUSH', KEYS[1], ARGV[1])
redis.call('LPUSH', KEYS[3], ARGV[1])
return 0
`)

// popQueuedToStarted moves one queued id onto the started lists. ARGV[1] is
// "oldest" to take the tail of the queue and anything else to take the head.
// Returns the id, or false when the queue is empty.
var popQueuedToStarted = redis.NewScript(`
local id
if ARGV[1] == 'oldest' then
  id = redis.call('RPOP', KEYS[1])
else
  id = redis.call('LPOP', KEYS[1])
end
if not id then
  return false
end
redis.call('LREM', KEYS[3], 0, id)
redis.call('LPUSH', KEYS[2], id)
redis.call('LPUSH', KEYS[4], id)
return id
`)

// RedisPipelineStack keeps the started and queued stacks of every pipeline
// configuration in Redis lists. New entries are pushed on the head, so the
// oldest entry is always the last element.
type RedisPipelineStack struct {
	client redis.UniversalClient
}

// NewRedisPipelineStack wraps a Redis client.
func NewRedisPipelineStack(client redis.UniversalClient) *RedisPipelineStack {
	return &RedisPipelineStack{client: client}
}

// AddStarted records the execution as started for the configuration.
func (s *RedisPipelineStack) AddStarted(ctx context.Context, pipelineConfigID, executionID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, startedKey(pipelineConfigID), executionID)
		pipe.LPush(ctx, startedAllKey, executionID)
		return nil
	})
	return err
}

// AddUnlessFull atomically records the execution as started when fewer than
// limit executions are started for the configuration, and queues it otherwise.
func (s *RedisPipelineStack) AddUnlessFull(ctx context.Context, pipelineConfigID, executionID string, limit int) (bool, error) {
	if limit < 1 {
		limit = 1
	}
	keys := []string{startedKey(pipelineConfigID), queuedKey(pipelineConfigID), startedAllKey, queuedAllKey}
	queued, err := pushUnlessFull.Run(ctx, s.client, keys, executionID, limit).Int()
	if err != nil {
		return false, err
	}
	return queued == 1, nil
}

// RemoveStarted drops the execution from the started stacks and reports
// whether it was still recorded as started. Without a configuration id only
// the global stack is consulted.
func (s *RedisPipelineStack) RemoveStarted(ctx context.Context, pipelineConfigID, executionID string) (bool, error) {
	var local, global *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if pipelineConfigID != "" {
			local = pipe.LRem(ctx, startedKey(pipelineConfigID), 0, executionID)
		}
		global = pipe.LRem(ctx, startedAllKey, 0, executionID)
		return nil
	})
	if err != nil {
		return false, err
	}
	if local != nil {
		return local.Val() > 0, nil
	}
	return global.Val() > 0, nil
}

// StartNextQueued atomically moves the oldest (or newest) queued execution of
// the configuration onto its started stack. It returns "" when nothing is
// queued.
func (s *RedisPipelineStack) StartNextQueued(ctx context.Context, pipelineConfigID string, oldest bool) (string, error) {
	which := "newest"
	if oldest {
		which = "oldest"
	}
	keys := []string{queuedKey(pipelineConfigID), startedKey(pipelineConfigID), queuedAllKey, startedAllKey}
	id, err := popQueuedToStarted.Run(ctx, s.client, keys, which).Text()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return id, err
}

// RemoveQueued drops the execution from the queued stacks.
func (s *RedisPipelineStack) RemoveQueued(ctx context.Context, pipelineConfigID, executionID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, queuedKey(pipelineConfigID), 0, executionID)
		pipe.LRem(ctx, queuedAllKey, 0, executionID)
		return nil
	})
	return err
}

// Started lists the executions started for the configuration, newest first.
func (s *RedisPipelineStack) Started(ctx context.Context, pipelineConfigID string) ([]string, error) {
	return s.client.LRange(ctx, startedKey(pipelineConfigID), 0, -1).Result()
}

// Queued lists the executions queued for the configuration, newest first.
func (s *RedisPipelineStack) Queued(ctx context.Context, pipelineConfigID string) ([]string, error) {
	return s.client.LRange(ctx, queuedKey(pipelineConfigID), 0, -1).Result()
}

// AllStarted lists every started execution across configurations.
func (s *RedisPipelineStack) AllStarted(ctx context.Context) ([]string, error) {
	return s.client.LRange(ctx, startedAllKey, 0, -1).Result()
}

// AllQueued lists every queued execution across configurations.
func (s *RedisPipelineStack) AllQueued(ctx context.Context) ([]string, error) {
	return s.client.LRange(ctx, queuedAllKey, 0, -1).Result()
}
