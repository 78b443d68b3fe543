package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aescanero/stepflow/internal/application/orchestrator"
	"github.com/aescanero/stepflow/pkg/definition"
	"github.com/aescanero/stepflow/pkg/domain"
	"github.com/aescanero/stepflow/pkg/ports"
)

const maxDefinitionBytes = 1 << 20

// BatchSubmitResponse represents a batch submission response
type BatchSubmitResponse struct {
	BatchID     string             `json:"batch_id"`
	Status      domain.BatchStatus `json:"status"`
	SubmittedAt time.Time          `json:"submitted_at"`
}

// BatchListResponse lists stored batch reports.
type BatchListResponse struct {
	Batches []*domain.BatchReport `json:"batches"`
	Total   int                   `json:"total"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	checks := gin.H{"orchestrator": "ok"}

	if !s.manager.Accepting() {
		status = http.StatusServiceUnavailable
		checks["orchestrator"] = "shutting down"
	}
	if s.health != nil {
		pool := s.health.GetStatus()
		checks["workers"] = pool
		if !pool.Healthy {
			status = http.StatusServiceUnavailable
		}
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status":         state,
		"timestamp":      time.Now().UTC(),
		"active_batches": s.manager.ActiveBatches(),
		"checks":         checks,
	})
}

// handleSubmitBatch parses a batch definition and submits it. With
// ?wait=<duration> the handler waits for the batch and returns its report.
func (s *Server) handleSubmitBatch(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxDefinitionBytes))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	var def *definition.Batch
	if strings.Contains(c.ContentType(), "hcl") {
		def, err = definition.ParseHCL(body, "request.hcl")
	} else {
		def, err = definition.ParseJSON(body)
	}
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	var wait time.Duration
	if raw := c.Query("wait"); raw != "" {
		wait, err = time.ParseDuration(raw)
		if err != nil || wait < 0 {
			abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", "wait must be a non-negative duration")
			return
		}
	}

	batchID, err := s.manager.SubmitBatch(c.Request.Context(), def)
	switch {
	case errors.Is(err, orchestrator.ErrInvalidDefinition):
		abortWithError(c, http.StatusBadRequest, "INVALID_DEFINITION", err.Error())
		return
	case errors.Is(err, orchestrator.ErrShuttingDown):
		abortWithError(c, http.StatusServiceUnavailable, "SHUTTING_DOWN", err.Error())
		return
	case err != nil:
		s.logger.Error("failed to submit batch", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "SUBMISSION_FAILED", err.Error())
		return
	}

	if wait > 0 {
		ctx, cancel := context.WithTimeout(c.Request.Context(), wait)
		defer cancel()
		report, err := s.manager.Wait(ctx, batchID)
		if err == nil {
			c.JSON(http.StatusOK, report)
			return
		}
	}

	report, err := s.manager.GetReport(c.Request.Context(), batchID)
	if err != nil {
		s.logger.Error("failed to read submitted batch",
			zap.String("batch_id", batchID),
			zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "STORAGE_ERROR", err.Error())
		return
	}

	c.JSON(http.StatusAccepted, BatchSubmitResponse{
		BatchID:     batchID,
		Status:      report.Status,
		SubmittedAt: report.SubmittedAt,
	})
}

// handleListBatches handles listing batches
func (s *Server) handleListBatches(c *gin.Context) {
	reports, err := s.manager.ListReports(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to list batches", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "STORAGE_ERROR", err.Error())
		return
	}

	if status := c.Query("status"); status != "" {
		filtered := reports[:0]
		for _, r := range reports {
			if string(r.Status) == status {
				filtered = append(filtered, r)
			}
		}
		reports = filtered
	}
	if reports == nil {
		reports = []*domain.BatchReport{}
	}

	c.JSON(http.StatusOK, BatchListResponse{
		Batches: reports,
		Total:   len(reports),
	})
}

// handleGetBatch handles getting a batch report
func (s *Server) handleGetBatch(c *gin.Context) {
	batchID := c.Param("id")

	report, err := s.manager.GetReport(c.Request.Context(), batchID)
	switch {
	case errors.Is(err, ports.ErrReportNotFound):
		abortWithError(c, http.StatusNotFound, "NOT_FOUND", "Batch not found")
		return
	case err != nil:
		s.logger.Error("failed to get batch", zap.String("batch_id", batchID), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "STORAGE_ERROR", err.Error())
		return
	}

	c.JSON(http.StatusOK, report)
}

// handleCancelBatch handles batch cancellation
func (s *Server) handleCancelBatch(c *gin.Context) {
	batchID := c.Param("id")

	if err := s.manager.CancelBatch(batchID); err != nil {
		if errors.Is(err, orchestrator.ErrBatchNotFound) {
			abortWithError(c, http.StatusNotFound, "NOT_RUNNING", "Batch is not running")
			return
		}
		abortWithError(c, http.StatusConflict, "CANCELLATION_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"batch_id": batchID,
		"status":   "canceling",
	})
}
