package counter

import (
	"context"
	"strconv"

	"github.com/qwikcal/qwikcal/internal/pkg/cache"
)

const (
	processedKey = "pipeline:counters:processed"
	failedKey    = "pipeline:counters:failed"
)

// AddProcessed increments the processed-message counter for a stage.
func AddProcessed(stage string, n int) error {
	if n <= 0 {
		return nil
	}
	return cache.GetClient().HIncrBy(context.Background(), processedKey, stage, int64(n)).Err()
}

// AddFailed increments the failed-message counter for a stage.
func AddFailed(stage string, n int) error {
	if n <= 0 {
		return nil
	}
	return cache.GetClient().HIncrBy(context.Background(), failedKey, stage, int64(n)).Err()
}

// Stats is a per-stage snapshot of pipeline throughput.
type Stats struct {
	Processed map[string]int64 `json:"processed"`
	Failed    map[string]int64 `json:"failed"`
}

// Snapshot reads the current counters.
func Snapshot() (*Stats, error) {
	ctx := context.Background()
	rdb := cache.GetClient()

	stats := &Stats{
		Processed: make(map[string]int64),
		Failed:    make(map[string]int64),
	}

	processed, err := rdb.HGetAll(ctx, processedKey).Result()
	if err != nil {
		return nil, err
	}
	for stage, v := range processed {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			stats.Processed[stage] = n
		}
	}

	failed, err := rdb.HGetAll(ctx, failedKey).Result()
	if err != nil {
		return nil, err
	}
	for stage, v := range failed {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			stats.Failed[stage] = n
		}
	}

	return stats, nil
}
