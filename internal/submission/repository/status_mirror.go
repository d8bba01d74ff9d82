package repository

import (
	"context"
	"strconv"
	"time"

	"gavel/internal/common/cache"
	"gavel/internal/message"
)

const (
	statusKeyPrefix = "submission:status:"
	statusMirrorTTL = 24 * time.Hour
)

// StatusMirror keeps the latest known status of each submission in Redis so
// polling clients are served without touching MySQL. It is written after the
// database commit and is allowed to lag: the database row is the truth.
type StatusMirror struct {
	cache cache.Cache
}

// NewStatusMirror creates a status mirror over cacheClient.
func NewStatusMirror(cacheClient cache.Cache) *StatusMirror {
	return &StatusMirror{cache: cacheClient}
}

// Set records the current status of a submission. Errors are returned for
// logging but callers must not fail their operation on them.
func (m *StatusMirror) Set(ctx context.Context, id int64, status message.Status) error {
	return m.cache.Set(ctx, statusKey(id), string(status), statusMirrorTTL)
}

// Get returns the mirrored status, or ok=false on a miss.
func (m *StatusMirror) Get(ctx context.Context, id int64) (message.Status, bool, error) {
	raw, err := m.cache.Get(ctx, statusKey(id))
	if cache.IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	status := message.Status(raw)
	if !status.IsValid() {
		return "", false, nil
	}
	return status, true, nil
}

// GetBatch returns mirrored statuses for several submissions in one round
// trip. Missing entries are absent from the result map.
func (m *StatusMirror) GetBatch(ctx context.Context, ids []int64) (map[int64]message.Status, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = statusKey(id)
	}
	values, err := m.cache.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}
	statuses := make(map[int64]message.Status, len(ids))
	for i, raw := range values {
		status := message.Status(raw)
		if status.IsValid() {
			statuses[ids[i]] = status
		}
	}
	return statuses, nil
}

func statusKey(id int64) string {
	return statusKeyPrefix + strconv.FormatInt(id, 10)
}
