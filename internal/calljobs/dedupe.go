package calljobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DedupeKey derives the key for (subject, purpose, floor(now/window)).
// The purpose prefix keeps keys readable in the store.
func DedupeKey(subjectID, purpose string, window time.Duration, now time.Time) string {
	if window <= 0 {
		window = time.Hour
	}
	bucket := now.UTC().UnixNano() / int64(window)
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%d", subjectID, purpose, bucket)))
	return fmt.Sprintf("%s-%s", strings.ToLower(purpose), hex.EncodeToString(sum[:12]))
}

// Guard enforces at most one live job per dedupe key on the read path.
// The store's unique index on active rows settles races between concurrent enqueues.
type Guard struct {
	store Store
	now   func() time.Time
}

func NewGuard(store Store, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	return &Guard{store: store, now: now}
}

// Reserve computes the dedupe key and returns a *DuplicateError when a live job
// already holds it.
func (g *Guard) Reserve(ctx context.Context, subjectID, purpose string, window time.Duration) (string, error) {
	key := DedupeKey(subjectID, purpose, window, g.now())
	existing, err := g.store.FindLive(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		return key, nil
	case err != nil:
		return "", fmt.Errorf("calljobs: reserve %s: %w", key, err)
	case existing.IsLive():
		return key, &DuplicateError{Existing: existing}
	default:
		return key, nil
	}
}
