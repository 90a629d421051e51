package api

import (
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/okian/fleetreport/internal/domain/model"
)

// handleDownload handles GET /reports/:subject?month&year&format.
func (s *Server) handleDownload(c *gin.Context) {
	period, err := s.periodFromQuery(c)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	format, err := model.ParseFormat(c.Query("format"))
	if err != nil {
		s.writeServiceError(c, err)
		return
	}

	d, err := s.deps.Download(c.Request.Context(), c.Param("subject"), period, format)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": d.FileName()}))
	c.Data(http.StatusOK, d.Format.ContentType(), d.Bytes)
}

// handleRankings handles GET /rankings?month&year.
func (s *Server) handleRankings(c *gin.Context) {
	period, err := s.periodFromQuery(c)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	entries, err := s.deps.Rankings(c.Request.Context(), period)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"period": period, "entries": entries})
}

// handleInvalidate handles DELETE /cache/:subject?month&year.
func (s *Server) handleInvalidate(c *gin.Context) {
	period, err := s.periodFromQuery(c)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	removed := s.deps.Invalidate(c.Request.Context(), c.Param("subject"), period)
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
