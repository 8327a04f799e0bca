package persistence

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
	"github.com/alexisbeaulieu97/pipewright/internal/ports"
)

// idSource lists execution ids from one store.
type idSource func(ctx context.Context, client redis.UniversalClient) ([]string, error)

// RetrieveExecutions streams every execution of a type.
func (r *RedisExecutionRepository) RetrieveExecutions(ctx context.Context, typ execution.Type, criteria ports.ExecutionCriteria) <-chan ports.ExecutionResult {
	return r.stream(ctx, typ, criteria, func(ctx context.Context, client redis.UniversalClient) ([]string, error) {
		return sortedMembers(ctx, client, allJobsKey(typ))
	})
}

// RetrieveByApplication streams the executions of one application.
func (r *RedisExecutionRepository) RetrieveByApplication(ctx context.Context, typ execution.Type, application string, criteria ports.ExecutionCriteria) <-chan ports.ExecutionResult {
	return r.stream(ctx, typ, criteria, func(ctx context.Context, client redis.UniversalClient) ([]string, error) {
		return sortedMembers(ctx, client, applicationKey(typ, application))
	})
}

// RetrievePipelinesForPipelineConfigID streams a configuration's pipelines,
// most recently built first.
func (r *RedisExecutionRepository) RetrievePipelinesForPipelineConfigID(ctx context.Context, pipelineConfigID string, criteria ports.ExecutionCriteria) <-chan ports.ExecutionResult {
	return r.stream(ctx, execution.TypePipeline, criteria, func(ctx context.Context, client redis.UniversalClient) ([]string, error) {
		return client.ZRevRange(ctx, pipelineConfigKey(pipelineConfigID), 0, -1).Result()
	})
}

// RetrievePipelinesForPipelineConfigIDsBetweenBuildTimeBoundary returns the
// pipelines of the given configurations built within [from, to], newest
// first, capped at limit when limit is positive.
func (r *RedisExecutionRepository) RetrievePipelinesForPipelineConfigIDsBetweenBuildTimeBoundary(ctx context.Context, pipelineConfigIDs []string, from, to time.Time, limit int) ([]*execution.Execution, error) {
	rangeBy := &redis.ZRangeBy{
		Min: strconv.FormatInt(from.UnixMilli(), 10),
		Max: strconv.FormatInt(to.UnixMilli(), 10),
	}
	var all []*execution.Execution
	for _, configID := range pipelineConfigIDs {
		key := pipelineConfigKey(configID)
		results := r.stream(ctx, execution.TypePipeline, ports.ExecutionCriteria{}, func(ctx context.Context, client redis.UniversalClient) ([]string, error) {
			return client.ZRangeByScore(ctx, key, rangeBy).Result()
		})
		executions, err := ports.Collect(results)
		if err != nil {
			return nil, err
		}
		all = append(all, executions...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].BuildTime.After(all[j].BuildTime)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// RetrieveByCorrelationID returns the incomplete execution registered under
// the correlation id. Keys pointing at missing or complete executions are
// removed and reported as not found.
func (r *RedisExecutionRepository) RetrieveByCorrelationID(ctx context.Context, typ execution.Type, correlationID string) (*execution.Execution, error) {
	key := correlationKey(typ, correlationID)
	id, err := r.primary.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, execution.NewError(execution.ErrCodeNotFound, "no execution for correlation id", nil, map[string]interface{}{
			"correlation_id": correlationID,
		})
	}
	if err != nil {
		return nil, r.wrap(ctx, "read correlation", correlationID, err)
	}

	e, err := r.Retrieve(ctx, typ, id)
	if err != nil && !execution.IsNotFound(err) {
		return nil, err
	}
	if e == nil || e.Status.IsComplete() {
		if delErr := releaseCorrelation.Run(ctx, r.primary, []string{key}, id).Err(); delErr != nil {
			r.logger.Warn(ctx, "failed to clear correlation key", "correlation_id", correlationID, "error", delErr)
		}
		return nil, execution.NewError(execution.ErrCodeNotFound, "no execution for correlation id", nil, map[string]interface{}{
			"correlation_id": correlationID,
			"execution_id":   id,
		})
	}
	return e, nil
}

// RetrieveBufferedExecutions returns every execution held in the buffered sets.
func (r *RedisExecutionRepository) RetrieveBufferedExecutions(ctx context.Context) ([]*execution.Execution, error) {
	var out []*execution.Execution
	for _, typ := range execution.Types {
		key := bufferedKey(typ)
		results := r.stream(ctx, typ, ports.ExecutionCriteria{Statuses: []execution.Status{execution.StatusBuffered}}, func(ctx context.Context, client redis.UniversalClient) ([]string, error) {
			return sortedMembers(ctx, client, key)
		})
		executions, err := ports.Collect(results)
		if err != nil {
			return nil, err
		}
		out = append(out, executions...)
	}
	return out, nil
}

// RetrieveAllExecutionIDs lists the ids known to any configured store.
func (r *RedisExecutionRepository) RetrieveAllExecutionIDs(ctx context.Context, typ execution.Type) ([]string, error) {
	primary, previous, err := r.collectIDs(ctx, func(ctx context.Context, client redis.UniversalClient) ([]string, error) {
		return sortedMembers(ctx, client, allJobsKey(typ))
	})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(primary))
	ids := make([]string, 0, len(primary)+len(previous))
	for _, list := range [][]string{primary, previous} {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// stream lists ids from every store concurrently, then produces executions in
// chunks over a small buffered channel. Primary records win over previous
// ones with the same id. The channel closes when the scan finishes, the
// limit is reached, or ctx is done.
func (r *RedisExecutionRepository) stream(ctx context.Context, typ execution.Type, criteria ports.ExecutionCriteria, source idSource) <-chan ports.ExecutionResult {
	out := make(chan ports.ExecutionResult, r.chunkSize)

	go func() {
		defer close(out)

		primaryIDs, previousIDs, err := r.collectIDs(ctx, source)
		if err != nil {
			send(ctx, out, ports.ExecutionResult{Err: err})
			return
		}

		seen := make(map[string]bool, len(primaryIDs))
		for _, id := range primaryIDs {
			seen[id] = true
		}
		var remaining []string
		for _, id := range previousIDs {
			if !seen[id] {
				remaining = append(remaining, id)
			}
		}

		emitted := 0
		for _, pass := range []struct {
			client redis.UniversalClient
			ids    []string
		}{{r.primary, primaryIDs}, {r.previous, remaining}} {
			if pass.client == nil {
				continue
			}
			for start := 0; start < len(pass.ids); start += r.chunkSize {
				end := start + r.chunkSize
				if end > len(pass.ids) {
					end = len(pass.ids)
				}
				executions, err := r.fetchChunk(ctx, pass.client, typ, pass.ids[start:end])
				if err != nil {
					send(ctx, out, ports.ExecutionResult{Err: err})
					return
				}
				for _, e := range executions {
					if !criteria.Matches(e) {
						continue
					}
					if !send(ctx, out, ports.ExecutionResult{Execution: e}) {
						return
					}
					emitted++
					if criteria.Limit > 0 && emitted >= criteria.Limit {
						return
					}
				}
			}
		}
	}()

	return out
}

func (r *RedisExecutionRepository) collectIDs(ctx context.Context, source idSource) ([]string, []string, error) {
	var primaryIDs, previousIDs []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ids, err := source(gctx, r.primary)
		primaryIDs = ids
		return err
	})
	if r.previous != nil {
		g.Go(func() error {
			ids, err := source(gctx, r.previous)
			previousIDs = ids
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, execution.NewError(execution.ErrCodeInternal, "list execution ids failed", err, nil)
	}
	return primaryIDs, previousIDs, nil
}

// fetchChunk loads a batch of executions, pipelined when enabled. Ids whose
// records have vanished since they were listed are skipped.
func (r *RedisExecutionRepository) fetchChunk(ctx context.Context, client redis.UniversalClient, typ execution.Type, ids []string) ([]*execution.Execution, error) {
	out := make([]*execution.Execution, 0, len(ids))
	if !r.pipelining {
		for _, id := range ids {
			e, err := load(ctx, client, typ, id)
			if execution.IsNotFound(err) {
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, nil
	}

	fields := make([]*redis.StringStringMapCmd, len(ids))
	indexes := make([]*redis.StringSliceCmd, len(ids))
	_, err := client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			fields[i] = pipe.HGetAll(ctx, executionKey(typ, id))
			indexes[i] = pipe.LRange(ctx, stageIndexKey(typ, id), 0, -1)
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, execution.NewError(execution.ErrCodeInternal, "pipelined load failed", err, nil)
	}
	for i, id := range ids {
		e, err := decodeLoaded(typ, id, fields[i].Val(), indexes[i].Val())
		if execution.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func sortedMembers(ctx context.Context, client redis.UniversalClient, key string) ([]string, error) {
	ids, err := client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func send(ctx context.Context, out chan<- ports.ExecutionResult, result ports.ExecutionResult) bool {
	select {
	case out <- result:
		return true
	case <-ctx.Done():
		return false
	}
}
