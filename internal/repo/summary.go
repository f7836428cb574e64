package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	errx "github.com/Chative-core-poc-v1/streaming/internal/core/error"
	"github.com/Chative-core-poc-v1/streaming/internal/stream/model"
	logx "github.com/Chative-core-poc-v1/streaming/pkg/logger"
)

type RedisSummaryRepository struct {
	rdb        redis.Cmdable
	ttl        time.Duration
	maxEntries int
}

// NewRedisSummaryRepository stores at most maxEntries summaries per user
// (unbounded when <= 0). A positive ttl is refreshed on every save.
func NewRedisSummaryRepository(rdb redis.Cmdable, ttl time.Duration, maxEntries int) *RedisSummaryRepository {
	return &RedisSummaryRepository{rdb: rdb, ttl: ttl, maxEntries: maxEntries}
}

func (r *RedisSummaryRepository) summaryKey(userID int64) string {
	return fmt.Sprintf("stream:user:%d:summaries", userID)
}

func (r *RedisSummaryRepository) SaveSummary(ctx context.Context, summary model.Summary) error {
	b, err := json.Marshal(summary)
	if err != nil {
		logx.Error().Err(err).Int64("user_id", summary.UserID).Msg("failed to marshal summary")
		return fmt.Errorf("marshal summary: %w", err)
	}
	key := r.summaryKey(summary.UserID)

	// newest first
	pipe := r.rdb.TxPipeline()
	pipe.LPush(ctx, key, b)
	if r.maxEntries > 0 {
		pipe.LTrim(ctx, key, 0, int64(r.maxEntries-1))
	}
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to save summary to redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisSummaryRepository) RecentSummaries(ctx context.Context, userID int64, limit int) ([]model.Summary, error) {
	key := r.summaryKey(userID)
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	rows, err := r.rdb.LRange(ctx, key, 0, stop).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []model.Summary{}, nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to load summaries from redis")
		return nil, errx.WrapRedis(err)
	}

	out := make([]model.Summary, 0, len(rows))
	for i, s := range rows {
		var sum model.Summary
		if err := json.Unmarshal([]byte(s), &sum); err != nil {
			logx.Error().Err(err).Int64("user_id", userID).Int("index", i).Msg("failed to unmarshal summary")
			return nil, fmt.Errorf("unmarshal summary at index %d: %w", i, err)
		}
		out = append(out, sum)
	}
	return out, nil
}

func (r *RedisSummaryRepository) ClearSummaries(ctx context.Context, userID int64) error {
	key := r.summaryKey(userID)
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to delete summaries from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

var _ model.SummaryRepository = (*RedisSummaryRepository)(nil)
