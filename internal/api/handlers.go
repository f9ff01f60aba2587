package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ae-safety-server/internal/domain"
	"github.com/ae-safety-server/internal/report"
)

// errorResponse is the shape of every non-2xx body.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) handleHealth(c *gin.Context) {
	storeStatus := "up"
	if err := s.store.Ping(c.Request.Context()); err != nil {
		storeStatus = "down"
	}

	inferenceStatus := "up"
	if !s.collabs.Healthy(c.Request.Context()) {
		inferenceStatus = "down"
	}

	code := http.StatusOK
	status := "healthy"
	if storeStatus == "down" || inferenceStatus == "down" {
		code = http.StatusServiceUnavailable
		status = "degraded"
	}

	c.JSON(code, gin.H{
		"status":    status,
		"store":     storeStatus,
		"inference": inferenceStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleContext(c *gin.Context) {
	doc, err := s.registry.Fetch(c.Request.Context(), c.Param("caseId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) handleExecute(c *gin.Context) {
	caseID := c.Param("caseId")

	doc, err := s.registry.Execute(c.Request.Context(), caseID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	s.log.WithFields(logrus.Fields{
		"case_id":     caseID,
		"status":      doc.Status,
		"total_ms":    doc.TotalProcessingTimeMS,
		"over_budget": doc.OverBudget,
	}).Info("Case execution finished")

	c.JSON(http.StatusOK, doc)
}

func (s *Server) handleUpload(c *gin.Context) {
	contentType := c.GetHeader("Content-Type")

	var (
		src       domain.ReportSource
		patientID string
		err       error
	)

	if strings.HasPrefix(contentType, "multipart/form-data") {
		src, patientID, err = s.parseMultipartUpload(c)
	} else {
		var input report.UploadInput
		if bindErr := c.ShouldBindJSON(&input); bindErr != nil {
			c.JSON(http.StatusBadRequest, errorResponse{
				Error: "invalid request body: " + bindErr.Error(),
				Code:  domain.ErrCodeUploadValidation,
			})
			return
		}
		patientID = strings.TrimSpace(input.PatientID)
		src, err = report.Parse(&input)
	}
	if err != nil {
		s.writeError(c, err)
		return
	}

	doc, err := s.registry.Create(c.Request.Context(), patientID, src)
	if err != nil {
		s.writeError(c, err)
		return
	}

	s.log.WithFields(logrus.Fields{
		"case_id":    doc.ID,
		"text_bytes": len(src.Text),
		"source":     src.SourceFile,
	}).Info("Case created")

	c.JSON(http.StatusCreated, doc)
}

// parseMultipartUpload handles PDF uploads via the "file" form field. Text
// metadata travels in sibling form fields.
func (s *Server) parseMultipartUpload(c *gin.Context) (domain.ReportSource, string, error) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return domain.ReportSource{}, "", domain.NewValidationError("file", "file form field is required")
	}

	f, err := fileHeader.Open()
	if err != nil {
		return domain.ReportSource{}, "", domain.NewValidationError("file", "unable to open uploaded file")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, report.MaxPDFSize+1))
	if err != nil {
		return domain.ReportSource{}, "", domain.NewValidationError("file", "unable to read uploaded file")
	}
	if len(data) > report.MaxPDFSize {
		return domain.ReportSource{}, "", domain.NewValidationError("file", "file exceeds %d bytes", report.MaxPDFSize)
	}

	patientID := strings.TrimSpace(c.PostForm("patient_id"))
	src, err := report.ParsePDF(
		data,
		fileHeader.Filename,
		c.PostForm("report_date"),
		c.PostForm("reporter"),
	)
	return src, patientID, err
}

func (s *Server) handleReset(c *gin.Context) {
	doc, err := s.registry.Reset(c.Request.Context(), c.Param("caseId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) handleDelete(c *gin.Context) {
	if err := s.registry.Delete(c.Request.Context(), c.Param("caseId")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("caseId")})
}

func (s *Server) handleTrace(c *gin.Context) {
	chain, err := s.ledger.TracedChain(c.Request.Context(), c.Param("caseId"), c.Param("itemId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"case_id": c.Param("caseId"),
		"item_id": c.Param("itemId"),
		"chain":   chain,
	})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.Snapshot())
}

// writeError maps domain errors onto HTTP status codes.
func (s *Server) writeError(c *gin.Context, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error(), Code: domain.ErrCodeNotFound})
	case errors.Is(err, domain.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, errorResponse{Error: err.Error(), Code: domain.ErrCodeAlreadyRunning})
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, errorResponse{Error: ve.Error(), Code: domain.ErrCodeUploadValidation})
	default:
		s.log.WithError(err).Error("request failed")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "INTERNAL_ERROR"})
	}
}
