package errx

import (
	"context"
	"errors"
	"net/http"

	"github.com/redis/go-redis/v9"
)

// RedisTimeoutMessage describes a summary store call cut short by its context.
const RedisTimeoutMessage = "redis operation timed out"

// WrapRedis converts a summary store failure into an AppError. A missing key
// is 404, an expired or cancelled context is 504 and anything else is 502.
func WrapRedis(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, redis.Nil):
		return New(err, http.StatusNotFound, RedisNotFoundMessage)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return New(err, http.StatusGatewayTimeout, RedisTimeoutMessage)
	}

	return New(err, http.StatusBadGateway, RedisErrorMessage)
}
