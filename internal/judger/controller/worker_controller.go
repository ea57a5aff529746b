package controller

import (
	"judger/internal/judger/supervisor"
	"judger/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// WorkerLister reports the state of the worker pool.
type WorkerLister interface {
	Workers() []supervisor.WorkerInfo
}

// WorkerController handles worker pool introspection.
type WorkerController struct {
	pool WorkerLister
}

func NewWorkerController(pool WorkerLister) *WorkerController {
	return &WorkerController{pool: pool}
}

// List returns every worker ordered by id.
func (h *WorkerController) List(c *gin.Context) {
	response.Success(c, h.pool.Workers())
}
