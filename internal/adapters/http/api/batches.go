package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	service "github.com/okian/fleetreport/internal/app"
	"github.com/okian/fleetreport/internal/domain/model"
)

type batchRequest struct {
	Month      int      `json:"month" binding:"required,min=1,max=12"`
	Year       int      `json:"year" binding:"required,min=1"`
	SubjectIDs []string `json:"subject_ids" binding:"omitempty,dive,required"`
	Format     string   `json:"format"`
}

// handleSubmitBatch handles POST /batches. The batch runs asynchronously;
// the response carries its id for polling.
func (s *Server) handleSubmitBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	format, err := model.ParseFormat(req.Format)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}

	b, err := s.deps.SubmitBatch(c.Request.Context(), service.SubmitRequest{
		Period:     model.Period{Month: req.Month, Year: req.Year},
		SubjectIDs: req.SubjectIDs,
		Format:     format,
	})
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.Header("Location", "/batches/"+b.ID)
	c.JSON(http.StatusAccepted, b)
}

// handleListBatches handles GET /batches.
func (s *Server) handleListBatches(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"batches": s.deps.Batches()})
}

// handleGetBatch handles GET /batches/:id.
func (s *Server) handleGetBatch(c *gin.Context) {
	b, err := s.deps.Batch(c.Param("id"))
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}
