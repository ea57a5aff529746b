// Package controller exposes verdicts and worker state over HTTP.
package controller

import (
	"context"

	"judger/internal/judger/model"
	"judger/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// SolutionReader returns the latest verdict of a solution.
type SolutionReader interface {
	Get(ctx context.Context, id string) (model.Solution, error)
}

// SolutionController handles verdict lookups.
type SolutionController struct {
	repo SolutionReader
}

// NewSolutionController creates a new controller.
func NewSolutionController(repo SolutionReader) *SolutionController {
	return &SolutionController{repo: repo}
}

// Get returns the latest verdict snapshot for one solution.
func (h *SolutionController) Get(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		response.BadRequest(c, "Invalid solution id")
		return
	}
	solution, err := h.repo.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, solution)
}
