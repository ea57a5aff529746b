// Package queue pops judge jobs from Redis lists and tracks the job each
// worker is holding so that a crashed worker's job can be recovered.
package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"judger/internal/common/cache"
	"judger/internal/judger/model"
	pkgerrors "judger/pkg/errors"
	"judger/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	processingKeyPrefix = "judger:processing:"
	requeueKeyPrefix    = "judger:requeue:"

	defaultDeadLetterKey = "judger:deadletter"
	defaultMaxRequeue    = 2
	defaultInflightTTL   = 24 * time.Hour
	defaultRequeueTTL    = 24 * time.Hour
)

// Config controls in-flight tracking and the requeue policy.
type Config struct {
	WorkerID      int
	MaxRequeue    int
	DeadLetterKey string
	// InflightTTL bounds how long a processing list outlives its worker.
	InflightTTL time.Duration
	RequeueTTL  time.Duration
}

// Source is a worker's view of the job queues.
type Source struct {
	cache cache.Cache
	cfg   Config
}

// NewSource creates a job source for one worker.
func NewSource(c cache.Cache, cfg Config) *Source {
	if cfg.MaxRequeue < 0 {
		cfg.MaxRequeue = 0
	} else if cfg.MaxRequeue == 0 {
		cfg.MaxRequeue = defaultMaxRequeue
	}
	if cfg.DeadLetterKey == "" {
		cfg.DeadLetterKey = defaultDeadLetterKey
	}
	if cfg.InflightTTL <= 0 {
		cfg.InflightTTL = defaultInflightTTL
	}
	if cfg.RequeueTTL <= 0 {
		cfg.RequeueTTL = defaultRequeueTTL
	}
	return &Source{cache: c, cfg: cfg}
}

// Pop blocks for up to timeout waiting for a job on channel. The job moves
// into this worker's processing list in the same command, so it is never
// held outside Redis. ok is false on timeout.
func (s *Source) Pop(ctx context.Context, channel string, timeout time.Duration) (string, bool, error) {
	key := s.processingKey(channel)
	payload, ok, err := s.cache.BLMove(ctx, channel, key, timeout)
	if err != nil {
		return "", false, pkgerrors.Wrapf(err, pkgerrors.CacheError, "pop %s failed: %v", channel, err)
	}
	if !ok {
		return "", false, nil
	}
	if err := s.cache.Expire(ctx, key, s.cfg.InflightTTL); err != nil {
		// The job stays held, just without a cleanup deadline.
		logger.Warn(ctx, "set processing ttl failed", zap.String("key", key), zap.Error(err))
	}
	return payload, true, nil
}

// Release drops the job popped from channel after its final verdict was
// delivered.
func (s *Source) Release(ctx context.Context, channel string) error {
	if err := s.cache.Del(ctx, s.processingKey(channel)); err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.CacheError, "release job failed: %v", err)
	}
	return nil
}

// Orphan is a job left behind by a previous incarnation of the worker.
type Orphan struct {
	Channel    string
	Payload    string
	SolutionID string
	Attempts   int64
	// Requeued is false when the job went to the dead-letter list and the
	// caller has to report it as failed.
	Requeued bool
}

// Recover drains this worker's processing lists for channels. A leftover job
// is pushed back to the consuming end of its channel while its requeue
// budget lasts, and to the dead-letter list afterwards.
func (s *Source) Recover(ctx context.Context, channels []string) ([]*Orphan, error) {
	var orphans []*Orphan
	for _, channel := range channels {
		key := s.processingKey(channel)
		held, err := s.cache.LRange(ctx, key, 0, -1)
		if err != nil {
			return orphans, pkgerrors.Wrapf(err, pkgerrors.CacheError, "read %s failed: %v", key, err)
		}
		if len(held) == 0 {
			continue
		}
		for _, payload := range held {
			orphan, err := s.requeue(ctx, channel, payload)
			if err != nil {
				return orphans, err
			}
			orphans = append(orphans, orphan)
		}
		if err := s.Release(ctx, channel); err != nil {
			return orphans, err
		}
	}
	return orphans, nil
}

// requeue charges one attempt to the job's solution and pushes it back to
// channel or to the dead-letter list. Undecodable jobs are dead-lettered
// without charging anything.
func (s *Source) requeue(ctx context.Context, channel, payload string) (*Orphan, error) {
	orphan := &Orphan{Channel: channel, Payload: payload}
	task, decodeErr := model.DecodeUnsolvedTask([]byte(payload))
	orphan.SolutionID = task.SolutionID

	if decodeErr == nil {
		key := requeueKeyPrefix + task.SolutionID
		attempts, err := s.cache.Incr(ctx, key)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, pkgerrors.CacheError, "count requeue failed: %v", err)
		}
		if err := s.cache.Expire(ctx, key, s.cfg.RequeueTTL); err != nil {
			return nil, pkgerrors.Wrapf(err, pkgerrors.CacheError, "expire requeue counter failed: %v", err)
		}
		orphan.Attempts = attempts
		orphan.Requeued = attempts <= int64(s.cfg.MaxRequeue)
	}

	target := s.cfg.DeadLetterKey
	if orphan.Requeued {
		target = channel
	}
	if err := s.cache.RPush(ctx, target, payload); err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.CacheError, "push orphan to %s failed: %v", target, err)
	}
	return orphan, nil
}

func (s *Source) processingKey(channel string) string {
	return processingKeyPrefix + strconv.Itoa(s.cfg.WorkerID) + ":" + channel
}

// String describes the orphan for logs.
func (o *Orphan) String() string {
	if o == nil {
		return "<nil>"
	}
	return fmt.Sprintf("solution=%s channel=%s attempts=%d requeued=%t", o.SolutionID, o.Channel, o.Attempts, o.Requeued)
}
