package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"judger/internal/judger/model"
	"judger/pkg/utils/logger"

	"go.uber.org/zap"
)

// Handler serves worker requests on the supervisor side.
type Handler interface {
	ResolveFile(ctx context.Context, id string) (model.File, error)
	UpdateSolution(ctx context.Context, id string, solution model.Solution) error
	WorkerLog(ctx context.Context, workerID int, line string)
}

// Server is the supervisor side of one worker connection.
type Server struct {
	workerID int
	dec      *decoder
	enc      *encoder
	handler  Handler
}

// NewServer reads requests from r and writes responses to w.
func NewServer(workerID int, r io.Reader, w io.Writer, handler Handler) *Server {
	return &Server{
		workerID: workerID,
		dec:      newDecoder(r),
		enc:      &encoder{w: w},
		handler:  handler,
	}
}

// Serve handles requests until the worker closes its end. Requests run
// concurrently; Serve returns after every in-flight request has replied.
func (s *Server) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		env, err := s.dec.next()
		if err != nil {
			if errors.Is(err, errMalformed) {
				logger.Warn(ctx, "drop malformed rpc message", zap.Int("worker_id", s.workerID), zap.Error(err))
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}

		switch env.Type {
		case TypeLog:
			var line string
			if err := json.Unmarshal(env.Payload, &line); err != nil {
				s.dropPayload(ctx, env.Type, err)
				continue
			}
			s.handler.WorkerLog(ctx, s.workerID, line)
		case TypeFile:
			var req FileRequest
			if err := json.Unmarshal(env.Payload, &req); err != nil {
				s.dropPayload(ctx, env.Type, err)
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.serveFile(ctx, req)
			}()
		case TypeSolution:
			var req SolutionRequest
			if err := json.Unmarshal(env.Payload, &req); err != nil {
				s.dropPayload(ctx, env.Type, err)
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.serveSolution(ctx, req)
			}()
		default:
			logger.Warn(ctx, "drop rpc message of unknown type",
				zap.Int("worker_id", s.workerID), zap.String("type", string(env.Type)))
		}
	}
}

func (s *Server) serveFile(ctx context.Context, req FileRequest) {
	resp := Response{RequestID: req.RequestID}
	file, err := s.handler.ResolveFile(ctx, req.ID)
	if err != nil {
		resp.Error = err.Error()
		logger.Warn(ctx, "file request failed", zap.Int("worker_id", s.workerID),
			zap.Uint64("request_id", req.RequestID), zap.String("file_id", req.ID), zap.Error(err))
	} else {
		resp.Success = true
		resp.File = &file
	}
	s.reply(ctx, TypeFile, resp)
}

func (s *Server) serveSolution(ctx context.Context, req SolutionRequest) {
	resp := Response{RequestID: req.RequestID}
	if err := s.handler.UpdateSolution(ctx, req.ID, req.Solution); err != nil {
		resp.Error = err.Error()
		logger.Warn(ctx, "solution update failed", zap.Int("worker_id", s.workerID),
			zap.Uint64("request_id", req.RequestID), zap.String("solution_id", req.ID), zap.Error(err))
	} else {
		resp.Success = true
	}
	s.reply(ctx, TypeSolution, resp)
}

func (s *Server) reply(ctx context.Context, t MessageType, resp Response) {
	if err := s.enc.send(t, resp); err != nil {
		logger.Warn(ctx, "send rpc response failed", zap.Int("worker_id", s.workerID),
			zap.Uint64("request_id", resp.RequestID), zap.Error(err))
	}
}

func (s *Server) dropPayload(ctx context.Context, t MessageType, err error) {
	logger.Warn(ctx, "drop undecodable rpc payload", zap.Int("worker_id", s.workerID),
		zap.String("type", string(t)), zap.Error(err))
}
