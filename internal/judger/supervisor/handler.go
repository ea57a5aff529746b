package supervisor

import (
	"context"
	"strings"

	"judger/internal/judger/model"
	"judger/pkg/utils/contextkey"
	"judger/pkg/utils/logger"

	"go.uber.org/zap"
)

// FileResolver resolves file ids to local copies.
type FileResolver interface {
	Resolve(ctx context.Context, id string) (model.File, error)
}

// SolutionStore persists verdict snapshots.
type SolutionStore interface {
	Update(ctx context.Context, id string, solution model.Solution) error
}

// Handler bridges worker RPC requests to the supervisor's stores.
type Handler struct {
	files     FileResolver
	solutions SolutionStore
	log       *logger.Logger
}

// NewHandler creates a handler. A nil log discards output.
func NewHandler(files FileResolver, solutions SolutionStore, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handler{files: files, solutions: solutions, log: log}
}

func (h *Handler) ResolveFile(ctx context.Context, id string) (model.File, error) {
	file, err := h.files.Resolve(ctx, id)
	if err != nil {
		h.log.Warn(ctx, "resolve file failed", zap.String("file_id", id), zap.Error(err))
		return model.File{}, err
	}
	return file, nil
}

func (h *Handler) UpdateSolution(ctx context.Context, id string, solution model.Solution) error {
	ctx = context.WithValue(ctx, contextkey.SolutionID, id)
	if err := h.solutions.Update(ctx, id, solution); err != nil {
		h.log.Error(ctx, "update solution failed", zap.String("status", string(solution.Status)), zap.Error(err))
		return err
	}
	if solution.Status.IsTerminal() {
		h.log.Info(ctx, "solution judged",
			zap.String("status", string(solution.Status)), zap.Float64("score", solution.Score))
	}
	return nil
}

func (h *Handler) WorkerLog(ctx context.Context, workerID int, line string) {
	line = strings.TrimRight(line, "\n")
	if line == "" {
		return
	}
	h.log.Info(ctx, line, zap.Int("worker_id", workerID))
}
