package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/shs-ims/registrar-api/internal/models"
	"github.com/shs-ims/registrar-api/internal/service"
	appErrors "github.com/shs-ims/registrar-api/pkg/errors"
	"github.com/shs-ims/registrar-api/pkg/response"
)

// EnrollmentHandler exposes enrollment lifecycle endpoints.
type EnrollmentHandler struct {
	service *service.EnrollmentService
}

// NewEnrollmentHandler constructs an enrollment handler.
func NewEnrollmentHandler(svc *service.EnrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{service: svc}
}

// List godoc
// @Summary List enrollments
// @Description List enrollments with filters
// @Tags Enrollments
// @Produce json
// @Param studentId query string false "Filter by student"
// @Param periodId query string false "Filter by period"
// @Param status query string false "Filter by status"
// @Param type query string false "Filter by enrollment type"
// @Param strand query string false "Filter by strand"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	var filter models.EnrollmentFilter
	filter.StudentID = c.Query("studentId")
	filter.PeriodID = c.Query("periodId")
	if status := c.Query("status"); status != "" {
		filter.Status = models.EnrollmentStatus(status)
	}
	if enrollmentType := c.Query("type"); enrollmentType != "" {
		filter.Type = models.EnrollmentType(enrollmentType)
	}
	filter.Strand = c.Query("strand")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	enrollments, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// Get godoc
// @Summary Get enrollment
// @Description Get one enrollment with transferee details when present
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	detail, credited, previous, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	payload := gin.H{"enrollment": detail}
	if previous != nil {
		payload["previous_school"] = previous
	}
	if len(credited) > 0 {
		payload["credited_subjects"] = credited
	}
	response.JSON(c, http.StatusOK, payload, nil)
}

// Submit godoc
// @Summary Submit enrollment
// @Description Submit a new enrollment for the active period
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.SubmitEnrollmentRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Submit(c *gin.Context) {
	var req service.SubmitEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	enrollment, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// RecordEvaluation godoc
// @Summary Record transferee evaluation
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body service.EvaluationRequest true "Evaluation payload"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/evaluation [post]
func (h *EnrollmentHandler) RecordEvaluation(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.EvaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	enrollment, err := h.service.RecordEvaluation(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

type revisionRequest struct {
	Notes string `json:"notes"`
}

// ReturnForRevision godoc
// @Summary Return evaluation for revision
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body revisionRequest true "Revision notes"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/return [post]
func (h *EnrollmentHandler) ReturnForRevision(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req revisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	enrollment, err := h.service.ReturnForRevision(c.Request.Context(), c.Param("id"), claims.UserID, req.Notes)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Decide godoc
// @Summary Decide enrollment
// @Description Approve or reject an enrollment
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body service.DecideEnrollmentRequest true "Decision payload"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/decision [post]
func (h *EnrollmentHandler) Decide(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.DecideEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	enrollment, err := h.service.Decide(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Finalize godoc
// @Summary Finalize enrollment
// @Description Move an approved enrollment to ENROLLED and create class memberships
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/finalize [post]
func (h *EnrollmentHandler) Finalize(c *gin.Context) {
	enrollment, created, err := h.service.Finalize(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil, map[string]interface{}{"class_details_created": created})
}

// ListClassDetails godoc
// @Summary List class memberships
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/class-details [get]
func (h *EnrollmentHandler) ListClassDetails(c *gin.Context) {
	details, err := h.service.ListClassDetails(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, details, nil)
}

type classDetailOverrideRequest struct {
	Status models.ClassDetailStatus `json:"status" binding:"required"`
}

// OverrideClassDetail godoc
// @Summary Override class membership
// @Description Approve or reject one class membership without touching the enrollment
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Class detail ID"
// @Param payload body classDetailOverrideRequest true "Override payload"
// @Success 200 {object} response.Envelope
// @Router /class-details/{id}/override [post]
func (h *EnrollmentHandler) OverrideClassDetail(c *gin.Context) {
	var req classDetailOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	detail, err := h.service.OverrideClassDetail(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}
