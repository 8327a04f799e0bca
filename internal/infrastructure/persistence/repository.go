// Package persistence stores executions in Redis using a flattened hash per
// execution, an explicit stage order list and membership sets for queries.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
	"github.com/alexisbeaulieu97/pipewright/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/pipewright/internal/ports"
)

const (
	defaultChunkSize          = 75
	defaultTransactionRetries = 10
)

// RedisExecutionRepository implements ports.ExecutionRepository on Redis.
// Writes always go to the primary client. Reads fall back to the optional
// previous client, which holds data during a migration between stores.
type RedisExecutionRepository struct {
	primary    redis.UniversalClient
	previous   redis.UniversalClient
	logger     ports.Logger
	partition  string
	pipelining bool
	chunkSize  int
	txRetries  int
	now        func() time.Time
}

// Option configures the repository.
type Option func(*RedisExecutionRepository)

// WithLogger injects a structured logger.
func WithLogger(logger ports.Logger) Option {
	return func(r *RedisExecutionRepository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithPrevious adds a read-only replica consulted after the primary.
func WithPrevious(client redis.UniversalClient) Option {
	return func(r *RedisExecutionRepository) {
		r.previous = client
	}
}

// WithPartition sets the partition this process owns.
func WithPartition(partition string) Option {
	return func(r *RedisExecutionRepository) {
		r.partition = partition
	}
}

// WithPipelining enables multi-key pipelined reads for bulk retrieval.
func WithPipelining(enabled bool) Option {
	return func(r *RedisExecutionRepository) {
		r.pipelining = enabled
	}
}

// WithChunkSize sets how many executions bulk retrieval fetches per round trip.
func WithChunkSize(size int) Option {
	return func(r *RedisExecutionRepository) {
		if size > 0 {
			r.chunkSize = size
		}
	}
}

// WithClock overrides the time source used for status timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *RedisExecutionRepository) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRedisExecutionRepository constructs a repository on the primary client.
func NewRedisExecutionRepository(primary redis.UniversalClient, opts ...Option) *RedisExecutionRepository {
	r := &RedisExecutionRepository{
		primary:   primary,
		logger:    logging.NewNoOpLogger(),
		chunkSize: defaultChunkSize,
		txRetries: defaultTransactionRetries,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "execution_repository")
	return r
}

// Store writes the whole execution, replacing any previous copy.
func (r *RedisExecutionRepository) Store(ctx context.Context, e *execution.Execution) error {
	update, err := encodeExecution(e)
	if err != nil {
		return err
	}
	key := executionKey(e.Type, e.ID)
	index := stageIndexKey(e.Type, e.ID)
	stageIDs := make([]interface{}, 0, len(e.Stages()))
	for _, s := range e.Stages() {
		stageIDs = append(stageIDs, s.ID)
	}

	_, err = r.primary.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key, index)
		pipe.HSet(ctx, key, update.set)
		if len(stageIDs) > 0 {
			pipe.RPush(ctx, index, stageIDs...)
		}
		pipe.SAdd(ctx, allJobsKey(e.Type), e.ID)
		if e.Application != "" {
			pipe.SAdd(ctx, applicationKey(e.Type, e.Application), e.ID)
		}
		if e.Status == execution.StatusBuffered {
			pipe.SAdd(ctx, bufferedKey(e.Type), e.ID)
		} else {
			pipe.SRem(ctx, bufferedKey(e.Type), e.ID)
		}
		if e.Type == execution.TypePipeline && e.PipelineConfigID != "" {
			pipe.ZAdd(ctx, pipelineConfigKey(e.PipelineConfigID), &redis.Z{
				Score:  float64(e.BuildTime.UnixMilli()),
				Member: e.ID,
			})
		}
		if cid := e.CorrelationID(); cid != "" {
			pipe.SetNX(ctx, correlationKey(e.Type, cid), e.ID, 0)
		}
		return nil
	})
	if err != nil {
		return r.wrap(ctx, "store execution", e.ID, err)
	}
	r.logger.Debug(ctx, "stored execution", "execution_type", string(e.Type), "execution_id", e.ID, "stages", len(stageIDs))
	return nil
}

// releaseCorrelation deletes a correlation key only while it still points at
// the execution in ARGV[1].
var releaseCorrelation = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// ClaimCorrelationID points the correlation id at the execution unless an
// incomplete execution already holds it, and reports whether id holds it
// afterwards. Keys left behind by finished executions are taken over.
func (r *RedisExecutionRepository) ClaimCorrelationID(ctx context.Context, typ execution.Type, correlationID, id string) (bool, error) {
	key := correlationKey(typ, correlationID)
	for attempt := 0; attempt < r.txRetries; attempt++ {
		ok, err := r.primary.SetNX(ctx, key, id, 0).Result()
		if err != nil {
			return false, r.wrap(ctx, "claim correlation", correlationID, err)
		}
		if ok {
			return true, nil
		}
		holder, err := r.primary.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return false, r.wrap(ctx, "claim correlation", correlationID, err)
		}
		if holder == id {
			return true, nil
		}
		_, err = r.RetrieveByCorrelationID(ctx, typ, correlationID)
		if err == nil {
			return false, nil
		}
		if !execution.IsNotFound(err) {
			return false, err
		}
	}
	return false, execution.NewError(execution.ErrCodeInternal, "correlation id claim kept conflicting", nil, map[string]interface{}{
		"correlation_id": correlationID,
		"execution_id":   id,
	})
}

// StoreStage writes one stage's fields without touching the stage index.
func (r *RedisExecutionRepository) StoreStage(ctx context.Context, stage *execution.Stage) error {
	e, err := owningExecution(stage)
	if err != nil {
		return err
	}
	update, err := encodeStage(stage)
	if err != nil {
		return err
	}
	key := executionKey(e.Type, e.ID)
	_, err = r.primary.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, update.set)
		if len(update.clear) > 0 {
			pipe.HDel(ctx, key, update.clear...)
		}
		return nil
	})
	if err != nil {
		return r.wrap(ctx, "store stage", stage.ID, err)
	}
	return nil
}

// storeStageIfScript writes a stage's fields only when its stored status
// still matches. ARGV: status field, expected status, number of field/value
// pairs, the pairs, then the fields to delete.
var storeStageIfScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], ARGV[1]) ~= ARGV[2] then
  return 0
end
local n = tonumber(ARGV[3])
for i = 4, 3 + n * 2, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
for i = 4 + n * 2, #ARGV do
  redis.call('HDEL', KEYS[1], ARGV[i])
end
return 1
`)

// StoreStageIf writes the stage only while its stored status equals expected
// and reports whether the write happened. Concurrent handlers use it to claim
// a stage transition exactly once.
func (r *RedisExecutionRepository) StoreStageIf(ctx context.Context, stage *execution.Stage, expected execution.Status) (bool, error) {
	e, err := owningExecution(stage)
	if err != nil {
		return false, err
	}
	update, err := encodeStage(stage)
	if err != nil {
		return false, err
	}
	args := make([]interface{}, 0, 3+2*len(update.set)+len(update.clear))
	args = append(args, stageField(stage.ID, attrStatus), string(expected), len(update.set))
	for field, value := range update.set {
		args = append(args, field, value)
	}
	for _, field := range update.clear {
		args = append(args, field)
	}
	n, err := storeStageIfScript.Run(ctx, r.primary, []string{executionKey(e.Type, e.ID)}, args...).Int()
	if err != nil {
		return false, r.wrap(ctx, "store stage", stage.ID, err)
	}
	return n == 1, nil
}

// StartTask moves a NOT_STARTED task to RUNNING and reports whether this call
// made the transition. The in-memory task is updated to match on success.
func (r *RedisExecutionRepository) StartTask(ctx context.Context, stage *execution.Stage, taskID string, at time.Time) (bool, error) {
	e, err := owningExecution(stage)
	if err != nil {
		return false, err
	}
	key := executionKey(e.Type, e.ID)
	field := stageField(stage.ID, attrTasks)

	var started *execution.Task
	err = r.withTransaction(ctx, []string{key}, func(tx *redis.Tx) error {
		started = nil
		raw, err := tx.HGet(ctx, key, field).Result()
		if errors.Is(err, redis.Nil) {
			return execution.NewStageNotFound(e.ID, stage.ID)
		}
		if err != nil {
			return err
		}
		var tasks []execution.Task
		if err := json.Unmarshal([]byte(raw), &tasks); err != nil {
			return execution.NewSerializationError("stage", stage.ID, err)
		}
		index := -1
		for i := range tasks {
			if tasks[i].ID == taskID {
				index = i
				break
			}
		}
		if index < 0 {
			return execution.NewError(execution.ErrCodeNotFound, "task not found", nil, map[string]interface{}{
				"stage_id": stage.ID,
				"task_id":  taskID,
			})
		}
		task := tasks[index]
		if task.Status != execution.StatusNotStarted {
			return nil
		}
		task.Status = execution.StatusRunning
		if task.StartTime.IsZero() {
			task.StartTime = at
		}
		tasks[index] = task
		encoded, err := json.Marshal(tasks)
		if err != nil {
			return execution.NewSerializationError("stage", stage.ID, err)
		}
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, field, string(encoded))
			return nil
		}); err != nil {
			return err
		}
		started = &task
		return nil
	})
	if err != nil {
		return false, r.wrap(ctx, "start task", taskID, err)
	}
	if started == nil {
		return false, nil
	}
	if current, err := stage.TaskByID(taskID); err == nil {
		current.Status = started.Status
		current.StartTime = started.StartTime
	}
	return true, nil
}

// UpdateStageContext rewrites only the stage's context field.
func (r *RedisExecutionRepository) UpdateStageContext(ctx context.Context, stage *execution.Stage) error {
	e, err := owningExecution(stage)
	if err != nil {
		return err
	}
	raw, err := encodeStageContext(stage)
	if err != nil {
		return err
	}
	if err := r.primary.HSet(ctx, executionKey(e.Type, e.ID), stageField(stage.ID, attrContext), raw).Err(); err != nil {
		return r.wrap(ctx, "update stage context", stage.ID, err)
	}
	return nil
}

// RemoveStage drops the stage from the index and deletes its fields atomically.
func (r *RedisExecutionRepository) RemoveStage(ctx context.Context, e *execution.Execution, stageID string) error {
	key := executionKey(e.Type, e.ID)
	_, err := r.primary.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, stageIndexKey(e.Type, e.ID), 0, stageID)
		pipe.HDel(ctx, key, stageFieldNames(stageID)...)
		return nil
	})
	if err != nil {
		return r.wrap(ctx, "remove stage", stageID, err)
	}
	return nil
}

// AddStage persists a synthetic stage and splices its id into the stage index
// next to its parent, on the side named by its synthetic owner. Stages that
// are not synthetic are rejected.
func (r *RedisExecutionRepository) AddStage(ctx context.Context, stage *execution.Stage) error {
	if stage.SyntheticStageOwner == execution.OwnerNone || stage.ParentStageID == "" {
		return execution.NewError(execution.ErrCodeValidation, "only synthetic stages can be added to a running execution", nil, map[string]interface{}{
			"stage_id": stage.ID,
		})
	}
	e, err := owningExecution(stage)
	if err != nil {
		return err
	}
	update, err := encodeStage(stage)
	if err != nil {
		return err
	}
	key := executionKey(e.Type, e.ID)
	index := stageIndexKey(e.Type, e.ID)

	return r.withTransaction(ctx, []string{key, index}, func(tx *redis.Tx) error {
		current, err := tx.LRange(ctx, index, 0, -1).Result()
		if err != nil {
			return err
		}
		position, pivot := insertionPoint(stage, current)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, update.set)
			if len(update.clear) > 0 {
				pipe.HDel(ctx, key, update.clear...)
			}
			pipe.LRem(ctx, index, 0, stage.ID)
			if pivot == "" {
				pipe.RPush(ctx, index, stage.ID)
			} else {
				pipe.LInsert(ctx, index, position, pivot, stage.ID)
			}
			return nil
		})
		return err
	})
}

// insertionPoint picks the LINSERT side and pivot for a synthetic stage. The
// in-memory neighbour is preferred so that consecutive before or after stages
// keep their relative order; the parent is the fallback pivot.
func insertionPoint(stage *execution.Stage, index []string) (string, string) {
	present := make(map[string]bool, len(index))
	for _, id := range index {
		present[id] = true
	}
	before := stage.SyntheticStageOwner == execution.OwnerBefore

	if e := stage.Execution(); e != nil {
		stages := e.Stages()
		for i, s := range stages {
			if s.ID != stage.ID {
				continue
			}
			if before && i+1 < len(stages) && present[stages[i+1].ID] {
				return "BEFORE", stages[i+1].ID
			}
			if !before && i > 0 && present[stages[i-1].ID] {
				return "AFTER", stages[i-1].ID
			}
		}
	}
	if !present[stage.ParentStageID] {
		return "", ""
	}
	if before {
		return "BEFORE", stage.ParentStageID
	}
	return "AFTER", stage.ParentStageID
}

// Retrieve loads one execution, consulting the previous store when the
// primary has no record of it.
func (r *RedisExecutionRepository) Retrieve(ctx context.Context, typ execution.Type, id string) (*execution.Execution, error) {
	e, err := load(ctx, r.primary, typ, id)
	if err == nil || !execution.IsNotFound(err) || r.previous == nil {
		return e, err
	}
	return load(ctx, r.previous, typ, id)
}

// Delete removes the execution and every index entry referring to it.
func (r *RedisExecutionRepository) Delete(ctx context.Context, typ execution.Type, id string) error {
	e, err := load(ctx, r.primary, typ, id)
	if err != nil && !execution.IsNotFound(err) {
		return err
	}
	_, err = r.primary.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, executionKey(typ, id), stageIndexKey(typ, id))
		pipe.SRem(ctx, allJobsKey(typ), id)
		pipe.SRem(ctx, bufferedKey(typ), id)
		if e != nil {
			if e.Application != "" {
				pipe.SRem(ctx, applicationKey(typ, e.Application), id)
			}
			if e.PipelineConfigID != "" {
				pipe.ZRem(ctx, pipelineConfigKey(e.PipelineConfigID), id)
			}
			if cid := e.CorrelationID(); cid != "" {
				releaseCorrelation.Eval(ctx, pipe, []string{correlationKey(typ, cid)}, id)
			}
		}
		return nil
	})
	if err != nil {
		return r.wrap(ctx, "delete execution", id, err)
	}
	r.logger.Info(ctx, "deleted execution", "execution_type", string(typ), "execution_id", id)
	return nil
}

// HasExecution reports whether the primary store holds the execution.
func (r *RedisExecutionRepository) HasExecution(ctx context.Context, typ execution.Type, id string) (bool, error) {
	n, err := r.primary.Exists(ctx, executionKey(typ, id)).Result()
	if err != nil {
		return false, r.wrap(ctx, "check execution", id, err)
	}
	return n > 0, nil
}

// HandlesPartition reports whether this process owns the partition. Executions
// without a partition belong to every process.
func (r *RedisExecutionRepository) HandlesPartition(partition string) bool {
	return partition == "" || partition == r.partition
}

func (r *RedisExecutionRepository) withTransaction(ctx context.Context, keys []string, fn func(tx *redis.Tx) error) error {
	for attempt := 0; attempt < r.txRetries; attempt++ {
		err := r.primary.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			r.logger.Debug(ctx, "transaction conflict, retrying", "keys", keys, "attempt", attempt+1)
			continue
		}
		return err
	}
	return execution.NewError(execution.ErrCodeInternal, "transaction retries exhausted", redis.TxFailedErr, map[string]interface{}{
		"keys": keys,
	})
}

func (r *RedisExecutionRepository) wrap(ctx context.Context, op, id string, err error) error {
	var derr *execution.DomainError
	if errors.As(err, &derr) {
		return err
	}
	r.logger.Error(ctx, op+" failed", "id", id, "error", err)
	return execution.NewError(execution.ErrCodeInternal, op+" failed", err, map[string]interface{}{"id": id})
}

func load(ctx context.Context, client redis.Cmdable, typ execution.Type, id string) (*execution.Execution, error) {
	key := executionKey(typ, id)
	var fieldsCmd *redis.StringStringMapCmd
	var indexCmd *redis.StringSliceCmd
	_, err := client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		fieldsCmd = pipe.HGetAll(ctx, key)
		indexCmd = pipe.LRange(ctx, stageIndexKey(typ, id), 0, -1)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, execution.NewError(execution.ErrCodeInternal, "load execution failed", err, map[string]interface{}{"id": id})
	}
	return decodeLoaded(typ, id, fieldsCmd.Val(), indexCmd.Val())
}

func decodeLoaded(typ execution.Type, id string, fields map[string]string, stageIDs []string) (*execution.Execution, error) {
	if len(fields) == 0 {
		return nil, execution.NewExecutionNotFound(typ, id)
	}
	return decodeExecution(typ, id, fields, stageIDs)
}

func owningExecution(stage *execution.Stage) (*execution.Execution, error) {
	e := stage.Execution()
	if e == nil {
		return nil, execution.NewError(execution.ErrCodeInternal, "stage is detached from its execution", nil, map[string]interface{}{"stage_id": stage.ID})
	}
	return e, nil
}

var _ ports.ExecutionRepository = (*RedisExecutionRepository)(nil)
