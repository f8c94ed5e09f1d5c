package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shs-ims/registrar-api/internal/service"
	appErrors "github.com/shs-ims/registrar-api/pkg/errors"
	"github.com/shs-ims/registrar-api/pkg/response"
)

// ProgressionHandler exposes progression and summer remediation endpoints.
type ProgressionHandler struct {
	service *service.ProgressionService
}

// NewProgressionHandler constructs a progression handler.
func NewProgressionHandler(svc *service.ProgressionService) *ProgressionHandler {
	return &ProgressionHandler{service: svc}
}

// ProgressGrade godoc
// @Summary Progress to next grade level
// @Tags Progressions
// @Accept json
// @Produce json
// @Param id path string true "Source enrollment ID"
// @Param payload body service.ProgressRequest true "Target period"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/progress-grade [post]
func (h *ProgressionHandler) ProgressGrade(c *gin.Context) {
	var req service.ProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.service.ProgressToNextGrade(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// AdvanceSemester godoc
// @Summary Advance to the following semester
// @Tags Progressions
// @Accept json
// @Produce json
// @Param id path string true "Source enrollment ID"
// @Param payload body service.ProgressRequest true "Target period"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/advance-semester [post]
func (h *ProgressionHandler) AdvanceSemester(c *gin.Context) {
	var req service.ProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.service.AdvanceSemester(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// History godoc
// @Summary Progression history for an enrollment
// @Tags Progressions
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/progressions [get]
func (h *ProgressionHandler) History(c *gin.Context) {
	progressions, err := h.service.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, progressions, nil)
}

type summerCreateRequest struct {
	PeriodID string `json:"period_id" binding:"required"`
}

// CreateSummer godoc
// @Summary Open summer remediation for failed subjects
// @Tags Progressions
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body summerCreateRequest true "Summer period"
// @Success 201 {object} response.Envelope
// @Router /enrollments/{id}/summer [post]
func (h *ProgressionHandler) CreateSummer(c *gin.Context) {
	var req summerCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	summer, err := h.service.CreateSummerRemedial(c.Request.Context(), c.Param("id"), req.PeriodID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, summer)
}

// GetSummer godoc
// @Summary Get summer remediation for an enrollment
// @Tags Progressions
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/summer [get]
func (h *ProgressionHandler) GetSummer(c *gin.Context) {
	summer, err := h.service.GetSummer(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summer, nil)
}

// RecordSummerResult godoc
// @Summary Record a remedial grade
// @Tags Progressions
// @Accept json
// @Produce json
// @Param id path string true "Summer class ID"
// @Param payload body service.SummerResultRequest true "Result payload"
// @Success 200 {object} response.Envelope
// @Router /summer-classes/{id}/results [post]
func (h *ProgressionHandler) RecordSummerResult(c *gin.Context) {
	var req service.SummerResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	summer, err := h.service.RecordSummerResult(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summer, nil)
}
