package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nerrad567/touchportal-mqtt/internal/payload"
)

// SQLiteRepository implements Repository on the payload_history table.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository wraps an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Record inserts ev. A zero ReceivedAt is stamped with the current time.
func (r *SQLiteRepository) Record(ctx context.Context, ev payload.Event) error {
	if ev.Slot < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, ev.Slot)
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = r.now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO payload_history (slot, filter, topic, payload, received_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.Slot, ev.Filter, ev.Topic, ev.Payload, ev.ReceivedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting payload history: %w", err)
	}
	return nil
}

// Latest returns the newest entries for slot.
func (r *SQLiteRepository) Latest(ctx context.Context, slot int, limit int) ([]Entry, error) {
	if slot < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
	}
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, slot, filter, topic, payload, received_at
		 FROM payload_history
		 WHERE slot = ?
		 ORDER BY received_at DESC, id DESC
		 LIMIT ?`,
		slot, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying payload history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e  Entry
			ms int64
		)
		if err := rows.Scan(&e.ID, &e.Slot, &e.Filter, &e.Topic, &e.Payload, &ms); err != nil {
			return nil, fmt.Errorf("scanning payload history: %w", err)
		}
		e.ReceivedAt = time.UnixMilli(ms).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating payload history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than olderThan.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, ErrInvalidRetention
	}

	cutoff := r.now().Add(-olderThan).UTC().UnixMilli()
	result, err := r.db.ExecContext(ctx, "DELETE FROM payload_history WHERE received_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting payload history: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
