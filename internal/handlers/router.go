package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/prepforge/practice-service/internal/config"
	"github.com/prepforge/practice-service/internal/models"
	"github.com/prepforge/practice-service/internal/repositories"
	"github.com/prepforge/practice-service/internal/services"
	"github.com/prepforge/practice-service/internal/utils"
	"github.com/prepforge/practice-service/internal/validator"
)

type HandlerManager struct {
	sessionHandler  *SessionHandler
	questionHandler *QuestionHandler
	historyHandler  *HistoryHandler
	userHandler     *UserHandler
	authMiddleware  *CasdoorAuthMiddleware
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	validator *validator.Validator,
	logger utils.Logger,
	casdoorConfig config.CasdoorConfig,
	userRepo repositories.UserRepository,
) *HandlerManager {
	authMiddleware := NewCasdoorAuthMiddleware(casdoorConfig, userRepo)

	return &HandlerManager{
		sessionHandler:  NewSessionHandler(serviceManager.Session(), validator, logger),
		questionHandler: NewQuestionHandler(serviceManager.Question(), validator, logger),
		historyHandler:  NewHistoryHandler(serviceManager.History(), logger),
		userHandler:     NewUserHandler(userRepo, logger),
		authMiddleware:  authMiddleware,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	// API v1 routes with authentication
	v1 := router.Group("/api/v1")
	v1.Use(hm.authMiddleware.AuthMiddleware())
	{
		// Session routes
		sessions := v1.Group("/sessions")
		{
			sessions.POST("", hm.sessionHandler.StartSession)
			sessions.GET("", hm.sessionHandler.ListSessions)
			sessions.GET("/next", hm.sessionHandler.GetNextQuestion)
			sessions.GET("/:id", hm.sessionHandler.GetSession)
			sessions.POST("/:id/end", hm.sessionHandler.EndSession)
			sessions.PUT("/:id/questions/:qid/mark", hm.sessionHandler.MarkForReview)
		}

		// Answer submission
		v1.POST("/answers", hm.sessionHandler.SubmitAnswer)

		// Question routes
		questions := v1.Group("/questions")
		{
			// Authoring - Editors and Admins only
			questions.POST("", hm.authMiddleware.RequireRoleMiddleware(models.RoleEditor, models.RoleAdmin), hm.questionHandler.CreateQuestion)
			questions.PUT("/:id", hm.authMiddleware.RequireRoleMiddleware(models.RoleEditor, models.RoleAdmin), hm.questionHandler.UpdateQuestion)
			questions.DELETE("/:id", hm.authMiddleware.RequireRoleMiddleware(models.RoleEditor, models.RoleAdmin), hm.questionHandler.DeleteQuestion)
			questions.POST("/:id/publish", hm.authMiddleware.RequireRoleMiddleware(models.RoleEditor, models.RoleAdmin), hm.questionHandler.PublishQuestion)
			questions.POST("/:id/archive", hm.authMiddleware.RequireRoleMiddleware(models.RoleEditor, models.RoleAdmin), hm.questionHandler.ArchiveQuestion)
			questions.GET("/:id/details", hm.authMiddleware.RequireRoleMiddleware(models.RoleEditor, models.RoleAdmin), hm.questionHandler.GetQuestionDetails)

			// Reads - All authenticated users
			questions.GET("", hm.questionHandler.ListQuestions)
			questions.GET("/:id", hm.questionHandler.GetQuestion)
		}

		// History routes
		history := v1.Group("/history")
		{
			history.GET("/attempts", hm.historyHandler.GetAttempts)
			history.GET("/stats", hm.historyHandler.GetStats)
			history.GET("/export", hm.historyHandler.ExportAttempts)
		}

		// User routes
		users := v1.Group("/users")
		{
			users.GET("/me", hm.userHandler.GetCurrentUser)
			users.GET("", hm.authMiddleware.RequireRoleMiddleware(models.RoleEditor, models.RoleAdmin), hm.userHandler.ListUsers)
			users.GET("/:id", hm.authMiddleware.RequireRoleMiddleware(models.RoleEditor, models.RoleAdmin), hm.userHandler.GetUser)
		}
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "practice-service",
		})
	})
}
