package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/prepforge/practice-service/internal/models"
	"github.com/prepforge/practice-service/internal/services"
	"github.com/prepforge/practice-service/internal/utils"
	"github.com/prepforge/practice-service/internal/validator"
)

type SessionHandler struct {
	BaseHandler
	sessionService services.SessionService
	validator      *validator.Validator
}

func NewSessionHandler(
	sessionService services.SessionService,
	validator *validator.Validator,
	logger utils.Logger,
) *SessionHandler {
	return &SessionHandler{
		BaseHandler:    NewBaseHandler(logger),
		sessionService: sessionService,
		validator:      validator,
	}
}

// StartSession creates a new practice session
// @Summary Start practice session
// @Description Builds a new tutor or exam session from the given filters
// @Tags sessions
// @Accept json
// @Produce json
// @Param session body services.StartSessionRequest true "Session parameters"
// @Param Idempotency-Key header string false "Idempotency key"
// @Success 201 {object} services.SessionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /sessions [post]
func (h *SessionHandler) StartSession(c *gin.Context) {
	var req services.StartSessionRequest
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

	session, err := h.sessionService.Start(c.Request.Context(), &req, userID, idempotencyKey(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, session)
}

// GetNextQuestion returns the next question, session-bound or filter-bound
// @Summary Get next question
// @Description Selects the next question inside a session, or ad-hoc by filters
// @Tags sessions
// @Produce json
// @Param session_id query uint false "Session binding"
// @Param question_id query uint false "Explicit session member target"
// @Param tags query []string false "Tag slugs (filter binding)"
// @Param difficulties query []string false "Difficulties (filter binding)"
// @Success 200 {object} services.NextQuestionResponse
// @Failure 404 {object} ErrorResponse
// @Router /sessions/next [get]
func (h *SessionHandler) GetNextQuestion(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	req := services.NextQuestionRequest{}
	if raw := c.Query("session_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || id == 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Message: "Invalid session_id parameter",
				Details: raw,
			})
			return
		}
		sessionID := uint(id)
		req.SessionID = &sessionID

		if rawQ := c.Query("question_id"); rawQ != "" {
			qid, err := strconv.ParseUint(rawQ, 10, 32)
			if err != nil || qid == 0 {
				c.JSON(http.StatusBadRequest, ErrorResponse{
					Message: "Invalid question_id parameter",
					Details: rawQ,
				})
				return
			}
			questionID := uint(qid)
			req.QuestionID = &questionID
		}
	} else {
		filters := services.SessionFiltersRequest{
			TagSlugs: c.QueryArray("tags"),
		}
		for _, raw := range c.QueryArray("difficulties") {
			filters.Difficulties = append(filters.Difficulties, models.DifficultyLevel(raw))
		}
		req.Filters = &filters
	}

	next, err := h.sessionService.NextQuestion(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, next)
}

// SubmitAnswer grades and records an answer
// @Summary Submit answer
// @Description Grades the selected choice and records the attempt
// @Tags answers
// @Accept json
// @Produce json
// @Param answer body services.SubmitAnswerRequest true "Answer data"
// @Param Idempotency-Key header string false "Idempotency key"
// @Success 200 {object} services.AnswerResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /answers [post]
func (h *SessionHandler) SubmitAnswer(c *gin.Context) {
	var req services.SubmitAnswerRequest
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

	answer, err := h.sessionService.SubmitAnswer(c.Request.Context(), &req, userID, idempotencyKey(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, answer)
}

// MarkForReview toggles the review flag on an exam session question
// @Summary Mark question for review
// @Description Sets or clears the review flag; exam sessions only
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path uint true "Session ID"
// @Param qid path uint true "Question ID"
// @Success 200 {object} services.MarkForReviewResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /sessions/{id}/questions/{qid}/mark [put]
func (h *SessionHandler) MarkForReview(c *gin.Context) {
	sessionID := h.parseIDParam(c, "id")
	if sessionID == 0 {
		return
	}
	questionID := h.parseIDParam(c, "qid")
	if questionID == 0 {
		return
	}

	var body struct {
		Marked bool `json:"marked"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
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

	req := services.MarkForReviewRequest{
		QuestionID: questionID,
		Marked:     body.Marked,
	}
	resp, err := h.sessionService.MarkForReview(c.Request.Context(), sessionID, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// EndSession closes a session and returns its summary
// @Summary End practice session
// @Description Flips the session to ended and computes the summary totals
// @Tags sessions
// @Produce json
// @Param id path uint true "Session ID"
// @Param Idempotency-Key header string false "Idempotency key"
// @Success 200 {object} services.SessionSummaryResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /sessions/{id}/end [post]
func (h *SessionHandler) EndSession(c *gin.Context) {
	sessionID := h.parseIDParam(c, "id")
	if sessionID == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Ending session", "session_id", sessionID)

	summary, err := h.sessionService.End(c.Request.Context(), sessionID, userID, idempotencyKey(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// GetSession returns the session review read path
// @Summary Get session review
// @Description Returns the session with per-question review rows; explanations appear for tutor sessions and for exam sessions once ended
// @Tags sessions
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} services.SessionReviewResponse
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{id} [get]
func (h *SessionHandler) GetSession(c *gin.Context) {
	sessionID := h.parseIDParam(c, "id")
	if sessionID == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	review, err := h.sessionService.GetReview(c.Request.Context(), sessionID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, review)
}

// ListSessions returns the caller's sessions
// @Summary List sessions
// @Description Paginated list of the caller's practice sessions
// @Tags sessions
// @Produce json
// @Success 200 {object} services.SessionListResponse
// @Failure 400 {object} ErrorResponse
// @Router /sessions [get]
func (h *SessionHandler) ListSessions(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	var req services.SessionListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid query parameters",
			Details: err.Error(),
		})
		return
	}

	sessions, err := h.sessionService.List(c.Request.Context(), userID, &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, sessions)
}
