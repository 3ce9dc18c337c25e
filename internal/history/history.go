// Package history keeps a local audit trail of MQTT payloads delivered to
// TouchPortal, so the status API can show what each topic slot received
// recently.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/touchportal-mqtt/internal/payload"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

var (
	// ErrInvalidSlot is returned for slot numbers below 1.
	ErrInvalidSlot = errors.New("invalid topic slot")

	// ErrInvalidRetention is returned when Prune is given a non-positive age.
	ErrInvalidRetention = errors.New("retention must be positive")
)

// Entry is a stored payload event.
type Entry struct {
	ID int64 `json:"id"`
	payload.Event
}

// Repository stores and queries payload history. Implementations must be
// safe for concurrent use.
type Repository interface {
	// Record appends one delivered payload.
	Record(ctx context.Context, ev payload.Event) error

	// Latest returns up to limit entries for slot, newest first. Limit is
	// clamped to [1, 200] with 50 used for non-positive values.
	Latest(ctx context.Context, slot int, limit int) ([]Entry, error)

	// Prune deletes entries received more than olderThan ago and returns
	// how many were removed.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return min(limit, maxLimit)
}
