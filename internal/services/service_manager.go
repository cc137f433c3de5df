package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/prepforge/practice-service/internal/cache"
	"github.com/prepforge/practice-service/internal/events"
	"github.com/prepforge/practice-service/internal/idempotency"
	"github.com/prepforge/practice-service/internal/repositories"
	"github.com/prepforge/practice-service/internal/validator"
)

// ServiceManagerConfig holds configuration for the service manager
type ServiceManagerConfig struct {
	EnableDebugLogging bool
	LogLevel           slog.Level

	// Service-specific configurations
	Session  ServiceConfig
	Question ServiceConfig
	History  ServiceConfig

	// Idempotency window for session/answer mutations
	IdempotencyTTL time.Duration

	// Upper bound on questions per practice session
	MaxSessionQuestions int

	DefaultTimeout time.Duration
}

// DefaultServiceManagerConfig returns the configuration used when no
// deployment overrides apply.
func DefaultServiceManagerConfig() ServiceManagerConfig {
	return ServiceManagerConfig{
		EnableDebugLogging: false,
		LogLevel:           slog.LevelInfo,

		Session: ServiceConfig{
			Enabled:      true,
			CacheEnabled: true,
			CacheTTL:     30 * time.Second,
		},
		Question: ServiceConfig{
			Enabled:      true,
			CacheEnabled: true,
			CacheTTL:     10 * time.Minute,
		},
		History: ServiceConfig{
			Enabled:      true,
			CacheEnabled: true,
			CacheTTL:     5 * time.Minute,
		},

		IdempotencyTTL:      24 * time.Hour,
		MaxSessionQuestions: 100,
		DefaultTimeout:      30 * time.Second,
	}
}

type ServiceConfig struct {
	Enabled      bool
	CacheEnabled bool
	CacheTTL     time.Duration
}

// serviceManager implements ServiceManager interface
type serviceManager struct {
	// Dependencies
	db           *gorm.DB
	repo         repositories.Repository
	logger       *slog.Logger
	validator    *validator.Validator
	publisher    events.EventPublisher
	cacheManager *cache.CacheManager
	config       ServiceManagerConfig

	// Service instances
	sessionService  SessionService
	questionService QuestionService
	historyService  HistoryService

	// Lifecycle management
	initialized bool
	shutdown    bool
	mu          sync.RWMutex
}

// NewServiceManager creates a new service manager with all dependencies
func NewServiceManager(
	db *gorm.DB,
	repo repositories.Repository,
	logger *slog.Logger,
	validator *validator.Validator,
	publisher events.EventPublisher,
	cacheManager *cache.CacheManager,
	config ServiceManagerConfig,
) ServiceManager {
	return &serviceManager{
		db:           db,
		repo:         repo,
		logger:       logger,
		validator:    validator,
		publisher:    publisher,
		cacheManager: cacheManager,
		config:       config,
	}
}

// Initialize sets up all services and their dependencies
func (sm *serviceManager) Initialize(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.initialized {
		return nil
	}

	sm.logger.Info("Initializing service manager")

	coordinator := idempotency.NewCoordinator(sm.repo.Idempotency(), sm.config.IdempotencyTTL, sm.logger)

	if sm.config.Session.Enabled {
		sm.sessionService = NewSessionService(sm.repo, sm.db, sm.logger, sm.validator, sm.publisher, coordinator, sm.config.MaxSessionQuestions)
		sm.logger.Info("Session service initialized")
	}

	if sm.config.Question.Enabled {
		sm.questionService = NewQuestionService(sm.repo, sm.db, sm.logger, sm.validator, sm.cacheManager)
		sm.logger.Info("Question service initialized")
	}

	if sm.config.History.Enabled {
		sm.historyService = NewHistoryService(sm.repo, sm.db, sm.logger, sm.validator)
		sm.logger.Info("History service initialized")
	}

	sm.initialized = true
	sm.logger.Info("Service manager initialized successfully")

	return nil
}

// Service getters
func (sm *serviceManager) Session() SessionService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}

	if sm.config.Session.Enabled && sm.sessionService != nil {
		return sm.sessionService
	}

	panic("session service not enabled or not initialized")
}

func (sm *serviceManager) Question() QuestionService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}

	if sm.config.Question.Enabled && sm.questionService != nil {
		return sm.questionService
	}

	panic("question service not enabled or not initialized")
}

func (sm *serviceManager) History() HistoryService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}

	if sm.config.History.Enabled && sm.historyService != nil {
		return sm.historyService
	}

	panic("history service not enabled or not initialized")
}

// Health and lifecycle
func (sm *serviceManager) HealthCheck(ctx context.Context) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		return fmt.Errorf("service manager not initialized")
	}

	if sm.shutdown {
		return fmt.Errorf("service manager is shut down")
	}

	if err := sm.repo.Ping(ctx); err != nil {
		return fmt.Errorf("repository health check failed: %w", err)
	}

	return nil
}

func (sm *serviceManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.shutdown {
		return nil
	}

	sm.logger.Info("Shutting down service manager")

	if sm.publisher != nil {
		if err := sm.publisher.Close(); err != nil {
			sm.logger.Error("Failed to close event publisher", "error", err)
		}
	}

	if err := sm.repo.Close(); err != nil {
		sm.logger.Error("Failed to close repositories", "error", err)
	}

	sm.shutdown = true
	sm.logger.Info("Service manager shut down completed")

	return nil
}

// WithTimeout creates a context with the default timeout
func (sm *serviceManager) WithTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, sm.config.DefaultTimeout)
}
