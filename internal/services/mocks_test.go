package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/prepforge/practice-service/internal/models"
	"github.com/prepforge/practice-service/internal/repositories"
)

// Hand-rolled repository mocks. Each sub-mock embeds the interface so only
// the methods a test wires up need an implementation; calling anything else
// panics and fails the test loudly.

type mockQuestionRepo struct {
	repositories.QuestionRepository
	create             func(question *models.Question) error
	update             func(question *models.Question) error
	deleteByID         func(id uint) error
	list               func(filters repositories.QuestionFilters) ([]*models.Question, int64, error)
	existsBySlug       func(slug string) (bool, error)
	getPublishedIDs    func(filters repositories.QuestionFilters) ([]uint, error)
	getByIDWithChoices func(id uint) (*models.Question, error)
	getByIDs           func(ids []uint) ([]*models.Question, error)
	getAttemptStats    func(questionID uint) (*repositories.QuestionAttemptStats, error)
}

func (m *mockQuestionRepo) Create(ctx context.Context, tx *gorm.DB, question *models.Question) error {
	return m.create(question)
}

func (m *mockQuestionRepo) Update(ctx context.Context, tx *gorm.DB, question *models.Question) error {
	return m.update(question)
}

func (m *mockQuestionRepo) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	return m.deleteByID(id)
}

func (m *mockQuestionRepo) List(ctx context.Context, tx *gorm.DB, filters repositories.QuestionFilters) ([]*models.Question, int64, error) {
	return m.list(filters)
}

func (m *mockQuestionRepo) ExistsBySlug(ctx context.Context, tx *gorm.DB, slug string, excludeID *uint) (bool, error) {
	return m.existsBySlug(slug)
}

func (m *mockQuestionRepo) GetPublishedIDs(ctx context.Context, tx *gorm.DB, filters repositories.QuestionFilters) ([]uint, error) {
	return m.getPublishedIDs(filters)
}

func (m *mockQuestionRepo) GetByIDWithChoices(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error) {
	return m.getByIDWithChoices(id)
}

func (m *mockQuestionRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uint) ([]*models.Question, error) {
	return m.getByIDs(ids)
}

func (m *mockQuestionRepo) GetAttemptStats(ctx context.Context, tx *gorm.DB, questionID uint) (*repositories.QuestionAttemptStats, error) {
	return m.getAttemptStats(questionID)
}

type mockSessionRepo struct {
	repositories.SessionRepository
	create         func(session *models.PracticeSession) error
	getByIDForUser func(id uint, userID string) (*models.PracticeSession, error)
	list           func(userID string, filters repositories.SessionListFilters) ([]*models.PracticeSession, int64, error)
	updateStateCAS func(session *models.PracticeSession, expectedVersion int) error
	endCAS         func(session *models.PracticeSession, expectedVersion int) error
}

func (m *mockSessionRepo) Create(ctx context.Context, tx *gorm.DB, session *models.PracticeSession) error {
	return m.create(session)
}

func (m *mockSessionRepo) GetByIDForUser(ctx context.Context, tx *gorm.DB, id uint, userID string) (*models.PracticeSession, error) {
	return m.getByIDForUser(id, userID)
}

func (m *mockSessionRepo) List(ctx context.Context, tx *gorm.DB, userID string, filters repositories.SessionListFilters) ([]*models.PracticeSession, int64, error) {
	return m.list(userID, filters)
}

func (m *mockSessionRepo) UpdateStateCAS(ctx context.Context, tx *gorm.DB, session *models.PracticeSession, expectedVersion int) error {
	return m.updateStateCAS(session, expectedVersion)
}

func (m *mockSessionRepo) EndCAS(ctx context.Context, tx *gorm.DB, session *models.PracticeSession, expectedVersion int) error {
	return m.endCAS(session, expectedVersion)
}

type mockAttemptRepo struct {
	repositories.AttemptRepository
	create                func(attempt *models.Attempt) error
	getByUser             func(userID string, filters repositories.AttemptFilters) ([]*models.Attempt, int64, error)
	getLatestAttemptTimes func(userID string, questionIDs []uint) (map[uint]time.Time, error)
	getUserStats          func(userID string) (*repositories.UserPracticeStats, error)
}

func (m *mockAttemptRepo) Create(ctx context.Context, tx *gorm.DB, attempt *models.Attempt) error {
	return m.create(attempt)
}

func (m *mockAttemptRepo) GetByUser(ctx context.Context, tx *gorm.DB, userID string, filters repositories.AttemptFilters) ([]*models.Attempt, int64, error) {
	return m.getByUser(userID, filters)
}

func (m *mockAttemptRepo) GetLatestAttemptTimes(ctx context.Context, tx *gorm.DB, userID string, questionIDs []uint) (map[uint]time.Time, error) {
	return m.getLatestAttemptTimes(userID, questionIDs)
}

func (m *mockAttemptRepo) GetUserStats(ctx context.Context, tx *gorm.DB, userID string) (*repositories.UserPracticeStats, error) {
	return m.getUserStats(userID)
}

type mockUserRepo struct {
	repositories.UserRepository
	hasRole func(id string, role models.UserRole) (bool, error)
}

func (m *mockUserRepo) HasRole(ctx context.Context, id string, role models.UserRole) (bool, error) {
	return m.hasRole(id, role)
}

type mockRepository struct {
	question *mockQuestionRepo
	session  *mockSessionRepo
	attempt  *mockAttemptRepo
	user     *mockUserRepo
	idem     repositories.IdempotencyRepository
}

func (m *mockRepository) Question() repositories.QuestionRepository       { return m.question }
func (m *mockRepository) Session() repositories.SessionRepository         { return m.session }
func (m *mockRepository) Attempt() repositories.AttemptRepository         { return m.attempt }
func (m *mockRepository) Idempotency() repositories.IdempotencyRepository { return m.idem }
func (m *mockRepository) User() repositories.UserRepository               { return m.user }
func (m *mockRepository) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	return fn(m)
}
func (m *mockRepository) Ping(ctx context.Context) error { return nil }
func (m *mockRepository) Close() error                   { return nil }

// memoryIdempotencyStore is an in-memory IdempotencyRepository for tests.
type memoryIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]*models.IdempotencyRecord
}

func newMemoryIdempotencyStore() *memoryIdempotencyStore {
	return &memoryIdempotencyStore{records: make(map[string]*models.IdempotencyRecord)}
}

func (s *memoryIdempotencyStore) composite(userID, action, key string) string {
	return userID + "|" + action + "|" + key
}

func (s *memoryIdempotencyStore) Claim(ctx context.Context, userID, action, key string, ttl time.Duration) (*models.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[s.composite(userID, action, key)]; ok {
		if existing.Resolved() {
			return existing, nil
		}
		return existing, repositories.ErrIdempotencyClaimed
	}
	now := time.Now().UTC()
	record := &models.IdempotencyRecord{
		UserID:    userID,
		Action:    action,
		Key:       key,
		Status:    models.IdempotencyClaimed,
		ClaimedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	s.records[s.composite(userID, action, key)] = record
	return record, nil
}

func (s *memoryIdempotencyStore) Resolve(ctx context.Context, userID, action, key string, result json.RawMessage, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[s.composite(userID, action, key)]
	if !ok {
		return repositories.ErrNotFound
	}
	record.Status = models.IdempotencyResolved
	record.Result = result
	record.ExpiresAt = time.Now().UTC().Add(ttl)
	return nil
}

func (s *memoryIdempotencyStore) ResolveError(ctx context.Context, userID, action, key, errMsg string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[s.composite(userID, action, key)]
	if !ok {
		return repositories.ErrNotFound
	}
	record.Status = models.IdempotencyResolved
	record.Error = errMsg
	record.ExpiresAt = time.Now().UTC().Add(ttl)
	return nil
}

func (s *memoryIdempotencyStore) Release(ctx context.Context, userID, action, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, s.composite(userID, action, key))
	return nil
}

func (s *memoryIdempotencyStore) Get(ctx context.Context, userID, action, key string) (*models.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[s.composite(userID, action, key)]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return record, nil
}

func (s *memoryIdempotencyStore) Ping(ctx context.Context) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}
