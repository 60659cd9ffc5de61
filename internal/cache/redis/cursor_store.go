package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// CursorStore implements domain.CursorStore using plain Redis string keys.
// The cursor is the Unix-seconds timestamp of the last executed source
// trade; an engine restarted after a crash resumes polling from it instead
// of replaying history.
type CursorStore struct {
	rdb *redis.Client
}

// NewCursorStore creates a CursorStore backed by the given Client.
func NewCursorStore(c *Client) *CursorStore {
	return &CursorStore{rdb: c.Underlying()}
}

func cursorKey(userID string) string {
	return "copybot:cursor:" + userID
}

// SetCursor persists the user's resume cursor. Cursors never expire; they
// are overwritten on every executed trade and deleted only with the user.
func (cs *CursorStore) SetCursor(ctx context.Context, userID string, cursor int64) error {
	if err := cs.rdb.Set(ctx, cursorKey(userID), cursor, 0).Err(); err != nil {
		return fmt.Errorf("redis: set cursor %s: %w", userID, err)
	}
	return nil
}

// GetCursor returns the user's resume cursor, or domain.ErrNotFound when
// none has been persisted yet.
func (cs *CursorStore) GetCursor(ctx context.Context, userID string) (int64, error) {
	val, err := cs.rdb.Get(ctx, cursorKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("redis: get cursor %s: %w", userID, err)
	}

	cursor, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: parse cursor %s: %w", userID, err)
	}
	return cursor, nil
}

// Compile-time interface check.
var _ domain.CursorStore = (*CursorStore)(nil)
