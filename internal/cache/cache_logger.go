package cache

import (
	"context"
	"fmt"
	"log/slog"
)

// SafeInvalidatePattern safely invalidates cache pattern with logging
func SafeInvalidatePattern(ctx context.Context, helper *CacheHelper, pattern string) {
	if err := helper.InvalidatePattern(ctx, pattern); err != nil {
		slog.ErrorContext(ctx, "Failed to invalidate cache pattern",
			"error", err,
			"pattern", pattern)
	}
}

// SafeDelete safely deletes cache keys with logging
func SafeDelete(ctx context.Context, helper *CacheHelper, keys ...string) {
	if err := helper.Delete(ctx, keys...); err != nil {
		slog.ErrorContext(ctx, "Failed to delete cache keys",
			"error", err,
			"keys", keys)
	}
}

// InvalidateQuestionCache invalidates all question-related caches
func InvalidateQuestionCache(ctx context.Context, cm *CacheManager, questionID uint) {
	SafeDelete(ctx, cm.Question,
		fmt.Sprintf("id:%d", questionID),
		fmt.Sprintf("choices:%d", questionID))
	SafeInvalidatePattern(ctx, cm.Question, "list:*")
	SafeInvalidatePattern(ctx, cm.Question, "ids:*")
	SafeInvalidatePattern(ctx, cm.Stats, fmt.Sprintf("question:%d:*", questionID))
}

// InvalidateSessionCache drops cached session reads after a state write
func InvalidateSessionCache(ctx context.Context, cm *CacheManager, sessionID uint, userID string) {
	SafeDelete(ctx, cm.Session, fmt.Sprintf("id:%d", sessionID))
	SafeInvalidatePattern(ctx, cm.Session, fmt.Sprintf("user:%s:*", userID))
	SafeInvalidatePattern(ctx, cm.Stats, fmt.Sprintf("user:%s:*", userID))
}
