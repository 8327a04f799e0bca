package persistence

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
)

// Cancel flags the execution as canceled. An execution that never started, or
// whose stages are all complete or not started, moves straight to CANCELED
// since no worker remains to observe the flag.
func (r *RedisExecutionRepository) Cancel(ctx context.Context, typ execution.Type, id, user, reason string) error {
	key := executionKey(typ, id)
	index := stageIndexKey(typ, id)
	return r.withTransaction(ctx, []string{key, index}, func(tx *redis.Tx) error {
		e, err := load(ctx, tx, typ, id)
		if err != nil {
			return err
		}

		fields := map[string]interface{}{fieldCanceled: "true"}
		if user != "" {
			fields[fieldCanceledBy] = user
		}
		if reason != "" {
			fields[fieldCancellationReason] = reason
		}
		moveToCanceled := e.Status == execution.StatusNotStarted || e.AllStagesCompleteOrNotStarted()
		if moveToCanceled && !e.Status.IsComplete() {
			fields[fieldStatus] = string(execution.StatusCanceled)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			if _, ok := fields[fieldStatus]; ok {
				pipe.SRem(ctx, bufferedKey(typ), id)
			}
			return nil
		})
		if err == nil {
			r.logger.Info(ctx, "canceled execution", "execution_type", string(typ), "execution_id", id,
				"user", user, "moved_to_canceled", moveToCanceled)
		}
		return err
	})
}

// Pause records pause metadata. Only RUNNING executions can be paused.
func (r *RedisExecutionRepository) Pause(ctx context.Context, typ execution.Type, id, user string) error {
	key := executionKey(typ, id)
	return r.withTransaction(ctx, []string{key}, func(tx *redis.Tx) error {
		status, err := currentStatus(ctx, tx, typ, id)
		if err != nil {
			return err
		}
		if status != execution.StatusRunning {
			return execution.NewIllegalStateTransition("pause", id, status, execution.StatusRunning)
		}
		paused, err := json.Marshal(execution.PausedDetails{PausedBy: user, PauseTime: r.now().UTC()})
		if err != nil {
			return execution.NewSerializationError("execution", id, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fieldPaused, string(paused), fieldStatus, string(execution.StatusPaused))
			return nil
		})
		return err
	})
}

// Resume records resume metadata and moves the execution back to RUNNING.
// Unless ignoreCurrentStatus is set the execution must be PAUSED.
func (r *RedisExecutionRepository) Resume(ctx context.Context, typ execution.Type, id, user string, ignoreCurrentStatus bool) error {
	key := executionKey(typ, id)
	return r.withTransaction(ctx, []string{key}, func(tx *redis.Tx) error {
		values, err := tx.HMGet(ctx, key, fieldStatus, fieldPaused).Result()
		if err != nil {
			return err
		}
		if values[0] == nil {
			return execution.NewExecutionNotFound(typ, id)
		}
		status := execution.Status(values[0].(string))
		if !ignoreCurrentStatus && status != execution.StatusPaused {
			return execution.NewIllegalStateTransition("resume", id, status, execution.StatusPaused)
		}

		paused := execution.PausedDetails{}
		if raw, ok := values[1].(string); ok && raw != "" {
			if err := json.Unmarshal([]byte(raw), &paused); err != nil {
				return execution.NewSerializationError("execution", id, err)
			}
		}
		paused.ResumedBy = user
		paused.ResumeTime = r.now().UTC()
		encoded, err := json.Marshal(paused)
		if err != nil {
			return execution.NewSerializationError("execution", id, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fieldPaused, string(encoded), fieldStatus, string(execution.StatusRunning))
			return nil
		})
		return err
	})
}

// IsCanceled reads the execution's canceled flag.
func (r *RedisExecutionRepository) IsCanceled(ctx context.Context, typ execution.Type, id string) (bool, error) {
	raw, err := r.primary.HGet(ctx, executionKey(typ, id), fieldCanceled).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, r.wrap(ctx, "read canceled flag", id, err)
	}
	canceled, _ := strconv.ParseBool(raw)
	return canceled, nil
}

// UpdateStatus sets the execution status. Entering RUNNING clears the
// canceled flag and stamps the start time when none is recorded. Reaching a
// complete status stamps the end time only when a start time exists and
// releases the correlation key. BUFFERED membership follows the status.
func (r *RedisExecutionRepository) UpdateStatus(ctx context.Context, typ execution.Type, id string, status execution.Status) error {
	key := executionKey(typ, id)
	return r.withTransaction(ctx, []string{key}, func(tx *redis.Tx) error {
		values, err := tx.HMGet(ctx, key, fieldStatus, fieldStartTime, fieldTrigger).Result()
		if err != nil {
			return err
		}
		if values[0] == nil {
			return execution.NewExecutionNotFound(typ, id)
		}
		startTime, _ := values[1].(string)

		fields := map[string]interface{}{fieldStatus: string(status)}
		if status == execution.StatusRunning {
			fields[fieldCanceled] = "false"
			if startTime == "" {
				fields[fieldStartTime] = formatTime(r.now())
			}
		}
		if status.IsComplete() && startTime != "" {
			fields[fieldEndTime] = formatTime(r.now())
		}

		var correlation string
		if raw, ok := values[2].(string); ok && raw != "" && status.IsComplete() {
			var trigger execution.Trigger
			if err := json.Unmarshal([]byte(raw), &trigger); err == nil {
				correlation = trigger.CorrelationID
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			if status == execution.StatusBuffered {
				pipe.SAdd(ctx, bufferedKey(typ), id)
			} else {
				pipe.SRem(ctx, bufferedKey(typ), id)
			}
			if correlation != "" {
				pipe.Del(ctx, correlationKey(typ, correlation))
			}
			return nil
		})
		if err == nil {
			r.logger.Debug(ctx, "updated execution status", "execution_type", string(typ), "execution_id", id, "status", string(status))
		}
		return err
	})
}

func currentStatus(ctx context.Context, client redis.Cmdable, typ execution.Type, id string) (execution.Status, error) {
	raw, err := client.HGet(ctx, executionKey(typ, id), fieldStatus).Result()
	if err == redis.Nil {
		return "", execution.NewExecutionNotFound(typ, id)
	}
	if err != nil {
		return "", err
	}
	return execution.Status(raw), nil
}
