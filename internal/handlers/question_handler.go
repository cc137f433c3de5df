package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prepforge/practice-service/internal/services"
	"github.com/prepforge/practice-service/internal/utils"
	"github.com/prepforge/practice-service/internal/validator"
)

type QuestionHandler struct {
	BaseHandler
	questionService services.QuestionService
	validator       *validator.Validator
}

func NewQuestionHandler(
	questionService services.QuestionService,
	validator *validator.Validator,
	logger utils.Logger,
) *QuestionHandler {
	return &QuestionHandler{
		BaseHandler:     NewBaseHandler(logger),
		questionService: questionService,
		validator:       validator,
	}
}

// CreateQuestion creates a new question
// @Summary Create question
// @Description Creates a draft question with its choices
// @Tags questions
// @Accept json
// @Produce json
// @Param question body services.CreateQuestionRequest true "Question data"
// @Success 201 {object} services.QuestionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /questions [post]
func (h *QuestionHandler) CreateQuestion(c *gin.Context) {
	var req services.CreateQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	question, err := h.questionService.Create(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, question)
}

// GetQuestion returns the learner view of a published question
// @Summary Get question
// @Description Returns a published question with choices in the caller's stable display order
// @Tags questions
// @Produce json
// @Param id path uint true "Question ID"
// @Success 200 {object} services.QuestionView
// @Failure 404 {object} ErrorResponse
// @Router /questions/{id} [get]
func (h *QuestionHandler) GetQuestion(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	view, err := h.questionService.GetForPractice(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// GetQuestionDetails returns the full editor view of a question
// @Summary Get question details
// @Description Returns the question including correctness flags and attempt stats; editors only
// @Tags questions
// @Produce json
// @Param id path uint true "Question ID"
// @Success 200 {object} services.QuestionResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /questions/{id}/details [get]
func (h *QuestionHandler) GetQuestionDetails(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	question, err := h.questionService.GetByID(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, question)
}

// ListQuestions lists questions
// @Summary List questions
// @Description Paginated question list; learners only see published questions
// @Tags questions
// @Produce json
// @Success 200 {object} services.QuestionListResponse
// @Failure 400 {object} ErrorResponse
// @Router /questions [get]
func (h *QuestionHandler) ListQuestions(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	var req services.QuestionListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid query parameters",
			Details: err.Error(),
		})
		return
	}

	questions, err := h.questionService.List(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, questions)
}

// UpdateQuestion updates a question
// @Summary Update question
// @Description Applies a partial update; supplying choices replaces the whole set
// @Tags questions
// @Accept json
// @Produce json
// @Param id path uint true "Question ID"
// @Param question body services.UpdateQuestionRequest true "Fields to update"
// @Success 200 {object} services.QuestionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /questions/{id} [put]
func (h *QuestionHandler) UpdateQuestion(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req services.UpdateQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	question, err := h.questionService.Update(c.Request.Context(), id, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, question)
}

// DeleteQuestion deletes a draft or archived question
// @Summary Delete question
// @Description Deletes a question; published questions must be archived first
// @Tags questions
// @Param id path uint true "Question ID"
// @Success 204
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /questions/{id} [delete]
func (h *QuestionHandler) DeleteQuestion(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	if err := h.questionService.Delete(c.Request.Context(), id, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// PublishQuestion publishes a question
// @Summary Publish question
// @Description Moves a question into the selectable published pool
// @Tags questions
// @Produce json
// @Param id path uint true "Question ID"
// @Success 200 {object} services.QuestionResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /questions/{id}/publish [post]
func (h *QuestionHandler) PublishQuestion(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	question, err := h.questionService.Publish(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, question)
}

// ArchiveQuestion archives a question
// @Summary Archive question
// @Description Removes a question from the selectable pool without deleting it
// @Tags questions
// @Produce json
// @Param id path uint true "Question ID"
// @Success 200 {object} services.QuestionResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /questions/{id}/archive [post]
func (h *QuestionHandler) ArchiveQuestion(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	question, err := h.questionService.Archive(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, question)
}
