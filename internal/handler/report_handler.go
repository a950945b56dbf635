package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-reg-api/internal/middleware"
	"github.com/noah-isme/course-reg-api/internal/service"
	appErrors "github.com/noah-isme/course-reg-api/pkg/errors"
	"github.com/noah-isme/course-reg-api/pkg/response"
)

// ReportHandler exposes the read-only reporting projections.
type ReportHandler struct {
	reports *service.ReportService
}

// NewReportHandler constructs ReportHandler.
func NewReportHandler(reports *service.ReportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// CourseAvailability godoc
// @Summary Seat availability for a course
// @Tags Reports
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/availability [get]
func (h *ReportHandler) CourseAvailability(c *gin.Context) {
	availability, err := h.reports.CourseAvailability(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, availability, nil, middleware.ExtractMeta(c))
}

// ListAvailability godoc
// @Summary Seat availability across a semester
// @Tags Reports
// @Produce json
// @Param semester query string true "Semester"
// @Success 200 {object} response.Envelope
// @Router /reports/availability [get]
func (h *ReportHandler) ListAvailability(c *gin.Context) {
	semester := c.Query("semester")
	if semester == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "semester is required"))
		return
	}
	availability, err := h.reports.ListAvailability(c.Request.Context(), semester)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMetaValue(c, "semester", semester)
	response.JSON(c, http.StatusOK, availability, nil, middleware.ExtractMeta(c))
}

// WaitlistStatus godoc
// @Summary A student's waitlist standing for a course
// @Tags Reports
// @Produce json
// @Param id path string true "Course ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/waitlist/{studentId} [get]
func (h *ReportHandler) WaitlistStatus(c *gin.Context) {
	status, err := h.reports.WaitlistStatus(c.Request.Context(), c.Param("id"), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil, middleware.ExtractMeta(c))
}

// StudentSchedule godoc
// @Summary A student's active schedule
// @Tags Reports
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/schedule [get]
func (h *ReportHandler) StudentSchedule(c *gin.Context) {
	schedule, err := h.reports.StudentSchedule(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, schedule, nil, middleware.ExtractMeta(c))
}
