package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/electivas-ubb/electivas-api/internal/models"
	"github.com/electivas-ubb/electivas-api/internal/service"
	appErrors "github.com/electivas-ubb/electivas-api/pkg/errors"
	"github.com/electivas-ubb/electivas-api/pkg/response"
)

// ElectiveHandler exposes elective endpoints.
type ElectiveHandler struct {
	electives *service.ElectiveService
	rosters   *service.RosterService
}

// NewElectiveHandler constructs ElectiveHandler.
func NewElectiveHandler(electives *service.ElectiveService, rosters *service.RosterService) *ElectiveHandler {
	return &ElectiveHandler{electives: electives, rosters: rosters}
}

// List godoc
// @Summary List electives visible to the caller
// @Tags Electives
// @Produce json
// @Param status query string false "Filter by review status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /electives [get]
func (h *ElectiveHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var filter models.ElectiveFilter
	filter.Status = models.ElectiveStatus(c.Query("status"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	electives, pagination, err := h.electives.List(c.Request.Context(), claims, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, electives, pagination)
}

// Get godoc
// @Summary Get elective detail
// @Tags Electives
// @Produce json
// @Param id path string true "Elective ID"
// @Success 200 {object} response.Envelope
// @Router /electives/{id} [get]
func (h *ElectiveHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	elective, err := h.electives.Get(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, elective, nil)
}

// Create godoc
// @Summary Propose a new elective
// @Tags Electives
// @Accept json
// @Produce json
// @Param payload body service.ElectiveRequest true "Elective payload"
// @Success 201 {object} response.Envelope
// @Router /electives [post]
func (h *ElectiveHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.ElectiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	elective, err := h.electives.Create(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, elective)
}

// Update godoc
// @Summary Update an elective
// @Tags Electives
// @Accept json
// @Produce json
// @Param id path string true "Elective ID"
// @Param payload body service.ElectiveRequest true "Elective payload"
// @Success 200 {object} response.Envelope
// @Router /electives/{id} [put]
func (h *ElectiveHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.ElectiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	elective, err := h.electives.Update(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, elective, nil)
}

type electiveStatusRequest struct {
	Status models.ElectiveStatus `json:"status" binding:"required"`
}

// SetStatus godoc
// @Summary Review an elective proposal
// @Tags Electives
// @Accept json
// @Produce json
// @Param id path string true "Elective ID"
// @Param payload body handler.electiveStatusRequest true "Review decision"
// @Success 200 {object} response.Envelope
// @Router /electives/{id}/status [patch]
func (h *ElectiveHandler) SetStatus(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req electiveStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	elective, err := h.electives.SetStatus(c.Request.Context(), claims, c.Param("id"), req.Status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, elective, nil)
}

// Delete godoc
// @Summary Delete an elective without enrollments
// @Tags Electives
// @Produce json
// @Param id path string true "Elective ID"
// @Success 204
// @Router /electives/{id} [delete]
func (h *ElectiveHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.electives.Delete(c.Request.Context(), claims, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ExportRoster godoc
// @Summary Export the enrollment roster of an elective
// @Tags Electives
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Elective ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} byte
// @Router /electives/{id}/enrollments/export [get]
func (h *ElectiveHandler) ExportRoster(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	format := service.RosterFormat(c.DefaultQuery("format", "csv"))
	result, err := h.rosters.Export(c.Request.Context(), claims, c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	if result.DownloadURL != "" {
		c.Header("X-Download-Url", result.DownloadURL)
	}
	c.Header("Content-Disposition", "attachment; filename="+result.Filename)
	c.Data(http.StatusOK, result.ContentType, result.Payload)
}
