package store

import (
	"context"
	"fmt"
	"time"
)

// EventRow is a persisted event. Payload is the JSON encoding produced by
// the events package.
type EventRow struct {
	Seq       int64
	Kind      string
	EntityID  string
	Actor     string
	Payload   []byte
	CreatedAt time.Time
}

// InsertEvent appends an event and returns its sequence number.
func (q *Queries) InsertEvent(ctx context.Context, e EventRow) (int64, error) {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO events (kind, entity_id, actor, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.Kind, e.EntityID, e.Actor, string(e.Payload), formatTime(e.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert event: last insert id: %w", err)
	}
	return seq, nil
}

// ListEvents returns up to limit events with seq greater than after, in
// sequence order. A limit of 0 or less returns all.
func (q *Queries) ListEvents(ctx context.Context, after int64, limit int) ([]EventRow, error) {
	query := `
		SELECT seq, kind, entity_id, actor, payload, created_at
		FROM events WHERE seq > ? ORDER BY seq ASC`
	args := []any{after}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []EventRow{}
	for rows.Next() {
		var (
			e         EventRow
			payload   string
			createdAt string
		)
		if err := rows.Scan(&e.Seq, &e.Kind, &e.EntityID, &e.Actor, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Payload = []byte(payload)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
