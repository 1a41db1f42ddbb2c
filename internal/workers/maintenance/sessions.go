// Package maintenance holds housekeeping activities for the session store.
package maintenance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"camunda-discovery/internal/common/errors"
	"camunda-discovery/internal/common/logger"
	"camunda-discovery/internal/discovery"

	"github.com/redis/go-redis/v9"
)

// Sessions stores one hash per session at <prefix>:<userId>:<sessionId>
// with a lastSeen field in unix seconds.
type Sessions struct {
	_ discovery.Activities `activity:"taskQueue=maintenance"`
	_ discovery.Method     `method:"Cleanup" activity:"name=cleanup-sessions;timeout=5m" schedule:"id=nightly-session-cleanup;workflow=CleanupSessions;cron=0 2 * * *;overlap=skip;description=Remove idle sessions"`
	_ discovery.Method     `method:"InvalidateUser" activity:"name=invalidate-user-sessions"`

	config *Config
	logger logger.Logger
	rdb    redis.Cmdable
	now    func() time.Time
}

func NewSessions(rdb redis.Cmdable, log logger.Logger, config *Config) (*Sessions, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid maintenance config: %w", err)
	}
	return &Sessions{
		config: config,
		logger: log.Named("sessions"),
		rdb:    rdb,
		now:    time.Now,
	}, nil
}

// Cleanup deletes every session idle for longer than the configured limit.
// Sessions without a readable lastSeen are left alone.
func (s *Sessions) Cleanup(ctx context.Context, input CleanupInput) (CleanupOutput, error) {
	maxIdle := s.config.MaxIdle
	if input.MaxIdle != "" {
		d, err := time.ParseDuration(input.MaxIdle)
		if err != nil || d <= 0 {
			return CleanupOutput{}, errors.NewActivityInputInvalidError("cleanup-sessions", fmt.Errorf("maxIdle %q: must be a positive duration", input.MaxIdle))
		}
		maxIdle = d
	}
	cutoff := s.now().Add(-maxIdle)
	out := CleanupOutput{DryRun: input.DryRun, Cutoff: cutoff.UTC()}

	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, s.config.KeyPrefix+":*", s.config.BatchSize).Result()
		if err != nil {
			return out, fmt.Errorf("failed to scan sessions: %w", err)
		}
		stale, err := s.staleKeys(ctx, keys, cutoff)
		if err != nil {
			return out, err
		}
		out.Scanned += len(keys)
		if len(stale) > 0 && !input.DryRun {
			n, err := s.rdb.Del(ctx, stale...).Result()
			if err != nil {
				return out, fmt.Errorf("failed to delete sessions: %w", err)
			}
			out.Removed += int(n)
		} else if input.DryRun {
			out.Removed += len(stale)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	out.CompletedAt = s.now().UTC()
	s.logger.Info("Session cleanup completed", map[string]interface{}{
		"scanned": out.Scanned,
		"removed": out.Removed,
		"dryRun":  out.DryRun,
		"maxIdle": maxIdle.String(),
	})
	return out, nil
}

func (s *Sessions) staleKeys(ctx context.Context, keys []string, cutoff time.Time) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGet(ctx, key, "lastSeen")
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}

	var stale []string
	for i, cmd := range cmds {
		raw, err := cmd.Result()
		if err != nil {
			continue
		}
		seen, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.logger.Warn("Unreadable lastSeen", map[string]interface{}{"key": keys[i], "value": raw})
			continue
		}
		if time.Unix(seen, 0).Before(cutoff) {
			stale = append(stale, keys[i])
		}
	}
	return stale, nil
}

// InvalidateUser drops every session of one user.
func (s *Sessions) InvalidateUser(ctx context.Context, input InvalidateInput) (InvalidateOutput, error) {
	if len(input.UserID) < 3 {
		return InvalidateOutput{}, errors.NewActivityInputInvalidError("invalidate-user-sessions", fmt.Errorf("userId %q too short", input.UserID))
	}

	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, fmt.Sprintf("%s:%s:*", s.config.KeyPrefix, input.UserID), s.config.BatchSize).Result()
		if err != nil {
			return InvalidateOutput{}, fmt.Errorf("failed to find sessions: %w", err)
		}
		keys = append(keys, batch...)
		if cursor = next; cursor == 0 {
			break
		}
	}

	out := InvalidateOutput{UserID: input.UserID}
	if len(keys) > 0 {
		n, err := s.rdb.Del(ctx, keys...).Result()
		if err != nil {
			return out, fmt.Errorf("failed to delete sessions: %w", err)
		}
		out.SessionsInvalidated = int(n)
	}

	s.logger.Info("User sessions invalidated", map[string]interface{}{
		"userId": input.UserID,
		"count":  out.SessionsInvalidated,
		"reason": input.Reason,
	})
	return out, nil
}
