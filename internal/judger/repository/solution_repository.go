// Package repository stores verdict snapshots reported by workers.
package repository

import (
	"context"
	"encoding/json"
	"time"

	"judger/internal/common/cache"
	"judger/internal/common/db"
	"judger/internal/judger/model"
	pkgerrors "judger/pkg/errors"
	"judger/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	solutionKeyPrefix = "judger:solution:"
	defaultTTL        = 24 * time.Hour
)

const (
	updateSolution = `UPDATE solutions SET status = ?, score = ?, log = ?, time_ms = ?, memory_kb = ?, updated_at = ? WHERE id = ?`
	selectSolution = `SELECT status, score, log, time_ms, memory_kb, updated_at FROM solutions WHERE id = ?`
)

// SolutionRepository keeps the latest snapshot per solution in Redis and
// writes terminal snapshots through to MySQL and the verdict event stream.
type SolutionRepository struct {
	cache     cache.Cache
	db        db.Querier
	publisher VerdictPublisher
	ttl       time.Duration
}

// NewSolutionRepository creates a repository. database and publisher may be
// nil, in which case terminal snapshots live only in Redis.
func NewSolutionRepository(c cache.Cache, database db.Querier, publisher VerdictPublisher, ttl time.Duration) *SolutionRepository {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &SolutionRepository{cache: c, db: database, publisher: publisher, ttl: ttl}
}

// Update replaces the stored snapshot of solution id.
func (r *SolutionRepository) Update(ctx context.Context, id string, solution model.Solution) error {
	if id == "" {
		return pkgerrors.ValidationError("solution_id", "required")
	}
	if r.cache == nil {
		return pkgerrors.New(pkgerrors.CacheError).WithMessage("cache client is not initialized")
	}
	if solution.UpdatedAt == 0 {
		solution.UpdatedAt = time.Now().UnixMilli()
	}
	data, err := json.Marshal(solution)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.SolutionUpdateFailed, "marshal solution failed: %v", err)
	}
	if err := r.cache.Set(ctx, solutionKeyPrefix+id, string(data), r.ttl); err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.CacheSetFailed, "store solution snapshot failed: %v", err)
	}
	if !solution.Status.IsTerminal() {
		return nil
	}

	if r.db != nil {
		_, err := r.db.Exec(ctx, updateSolution,
			string(solution.Status), solution.Score, solution.Log,
			solution.TimeMs, solution.MemoryKB, solution.UpdatedAt, id,
		)
		if err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.DatabaseError, "persist final solution failed: %v", err)
		}
	}
	// MySQL holds the verdict at this point; a lost event must not turn it
	// into a failed judgement.
	if r.publisher != nil {
		if err := r.publisher.PublishFinal(ctx, id, solution); err != nil {
			logger.Warn(ctx, "publish final verdict failed", zap.String("solution_id", id), zap.Error(err))
		}
	}
	return nil
}

// Get returns the latest snapshot of solution id, falling back to MySQL when
// Redis no longer holds it.
func (r *SolutionRepository) Get(ctx context.Context, id string) (model.Solution, error) {
	if id == "" {
		return model.Solution{}, pkgerrors.ValidationError("solution_id", "required")
	}
	if r.cache == nil {
		return model.Solution{}, pkgerrors.New(pkgerrors.CacheError).WithMessage("cache client is not initialized")
	}
	return cache.GetOrLoad(ctx, r.cache, solutionKeyPrefix+id, r.ttl,
		func(s model.Solution) (string, error) {
			raw, err := json.Marshal(s)
			return string(raw), err
		},
		func(raw string) (model.Solution, error) {
			var s model.Solution
			err := json.Unmarshal([]byte(raw), &s)
			return s, err
		},
		func(ctx context.Context) (model.Solution, error) {
			return r.load(ctx, id)
		},
	)
}

func (r *SolutionRepository) load(ctx context.Context, id string) (model.Solution, error) {
	if r.db == nil {
		return model.Solution{}, notFound(id)
	}
	var (
		s      model.Solution
		status string
	)
	err := r.db.QueryRow(ctx, selectSolution, id).Scan(&status, &s.Score, &s.Log, &s.TimeMs, &s.MemoryKB, &s.UpdatedAt)
	if db.IsNoRows(err) {
		return model.Solution{}, notFound(id)
	}
	if err != nil {
		return model.Solution{}, pkgerrors.Wrapf(err, pkgerrors.DatabaseError, "query solution failed: %v", err)
	}
	s.Status = model.SolutionStatus(status)
	return s, nil
}

func notFound(id string) error {
	return pkgerrors.New(pkgerrors.NotFound).WithMessage("solution not found").WithDetail("solution_id", id)
}
