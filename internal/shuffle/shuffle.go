// Package shuffle provides the deterministic ordering used for session
// question order and per-user choice display order. Everything here is a pure
// function of its inputs: the same list and seed produce the same permutation
// on every call, in every process.
package shuffle

import (
	"hash/fnv"
	"math/rand"
	"sort"
)

// Item is anything that can take part in a seeded shuffle. Items are first
// sorted into a canonical order (SortKey, then ID) so that ties in the source
// ordering can never leak nondeterminism into the result.
type Item interface {
	ShuffleID() uint
	ShuffleSortKey() int
}

// WithSeed returns a new slice holding a deterministic permutation of items
// for the given seed. The input slice is not modified.
func WithSeed[T Item](items []T, seed int64) []T {
	out := make([]T, len(items))
	copy(out, items)

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ShuffleSortKey() != out[j].ShuffleSortKey() {
			return out[i].ShuffleSortKey() < out[j].ShuffleSortKey()
		}
		return out[i].ShuffleID() < out[j].ShuffleID()
	})

	r := rand.New(rand.NewSource(seed))
	r.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})

	return out
}

// IDsWithSeed shuffles a plain id list. The ids are canonically sorted
// ascending before the permutation.
func IDsWithSeed(ids []uint, seed int64) []uint {
	out := make([]uint, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	r := rand.New(rand.NewSource(seed))
	r.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})

	return out
}

// SessionSeed derives the seed that fixes a session's question order at
// creation time. Resuming the session re-derives nothing; the order is stored
// with the session and this seed is only used once, at Start.
func SessionSeed(userID string, timestampMs int64) int64 {
	h := fnv.New64a()
	h.Write([]byte(userID))
	h.Write([]byte{
		byte(timestampMs >> 56), byte(timestampMs >> 48),
		byte(timestampMs >> 40), byte(timestampMs >> 32),
		byte(timestampMs >> 24), byte(timestampMs >> 16),
		byte(timestampMs >> 8), byte(timestampMs),
	})
	return int64(h.Sum64())
}

// QuestionSeed derives the per-user, per-question seed for choice display
// order. A given user sees a given question's choices in the same order in
// every session, which blocks answer-by-position memorization without the
// order jumping around between visits.
func QuestionSeed(userID string, questionID uint) int64 {
	h := fnv.New64a()
	h.Write([]byte(userID))
	id := uint64(questionID)
	h.Write([]byte{
		byte(id >> 56), byte(id >> 48), byte(id >> 40), byte(id >> 32),
		byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id),
	})
	return int64(h.Sum64())
}
