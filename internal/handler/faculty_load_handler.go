package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shs-ims/registrar-api/internal/service"
	"github.com/shs-ims/registrar-api/pkg/response"
)

// FacultyLoadHandler exposes teaching load endpoints.
type FacultyLoadHandler struct {
	service *service.FacultyLoadService
}

// NewFacultyLoadHandler constructs a faculty load handler.
func NewFacultyLoadHandler(svc *service.FacultyLoadService) *FacultyLoadHandler {
	return &FacultyLoadHandler{service: svc}
}

// Get godoc
// @Summary Get one faculty member's load
// @Tags FacultyLoads
// @Produce json
// @Param facultyId path string true "Faculty ID"
// @Param periodId path string true "Period ID"
// @Success 200 {object} response.Envelope
// @Router /faculty-loads/{periodId}/{facultyId} [get]
func (h *FacultyLoadHandler) Get(c *gin.Context) {
	load, err := h.service.Get(c.Request.Context(), c.Param("facultyId"), c.Param("periodId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, load, nil)
}

// ListByPeriod godoc
// @Summary List faculty loads for a period
// @Tags FacultyLoads
// @Produce json
// @Param periodId path string true "Period ID"
// @Success 200 {object} response.Envelope
// @Router /faculty-loads/{periodId} [get]
func (h *FacultyLoadHandler) ListByPeriod(c *gin.Context) {
	loads, err := h.service.ListByPeriod(c.Request.Context(), c.Param("periodId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, loads, nil)
}

// Recompute godoc
// @Summary Recompute faculty loads for a period
// @Tags FacultyLoads
// @Produce json
// @Param periodId path string true "Period ID"
// @Success 200 {object} response.Envelope
// @Router /faculty-loads/{periodId}/recompute [post]
func (h *FacultyLoadHandler) Recompute(c *gin.Context) {
	loads, err := h.service.Recompute(c.Request.Context(), c.Param("periodId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, loads, nil)
}
