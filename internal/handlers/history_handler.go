package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prepforge/practice-service/internal/services"
	"github.com/prepforge/practice-service/internal/utils"
)

type HistoryHandler struct {
	BaseHandler
	historyService services.HistoryService
}

func NewHistoryHandler(historyService services.HistoryService, logger utils.Logger) *HistoryHandler {
	return &HistoryHandler{
		BaseHandler:    NewBaseHandler(logger),
		historyService: historyService,
	}
}

// GetAttempts returns the caller's attempt history
// @Summary Attempt history
// @Description Paginated cross-session attempt history with question context
// @Tags history
// @Produce json
// @Success 200 {object} services.AttemptHistoryResponse
// @Failure 400 {object} ErrorResponse
// @Router /history/attempts [get]
func (h *HistoryHandler) GetAttempts(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	var req services.AttemptHistoryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid query parameters",
			Details: err.Error(),
		})
		return
	}

	attempts, err := h.historyService.GetAttempts(c.Request.Context(), userID, &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempts)
}

// GetStats returns aggregate practice statistics for the caller
// @Summary Practice statistics
// @Tags history
// @Produce json
// @Success 200 {object} repositories.UserPracticeStats
// @Router /history/stats [get]
func (h *HistoryHandler) GetStats(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	stats, err := h.historyService.GetStats(c.Request.Context(), userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// ExportAttempts downloads the caller's attempt history as xlsx
// @Summary Export attempt history
// @Description Streams the filtered attempt history as an xlsx workbook
// @Tags history
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Success 200 {file} binary
// @Failure 400 {object} ErrorResponse
// @Router /history/export [get]
func (h *HistoryHandler) ExportAttempts(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	var req services.AttemptHistoryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid query parameters",
			Details: err.Error(),
		})
		return
	}

	h.LogRequest(c, "Exporting attempt history", "user_id", userID)

	data, filename, err := h.historyService.ExportAttempts(c.Request.Context(), userID, &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}
