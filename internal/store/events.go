package store

import (
	"context"
	"fmt"
	"strings"
)

const eventColumns = `id, type, payload, created_at, consumed_by_broadcaster, consumed_by_trigger`

func scanEvent(scanner interface{ Scan(...any) error }) (*Event, error) {
	var e Event
	err := scanner.Scan(&e.ID, &e.Type, &e.Payload, &e.CreatedAt, &e.ConsumedByBroadcaster, &e.ConsumedByTrigger)
	return &e, err
}

// InsertEvent appends an event row. Callers pass the same Querier (usually a
// transaction) that carried the data writes the event describes.
func InsertEvent(ctx context.Context, q Querier, e *Event) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Type, e.Payload, e.CreatedAt, e.ConsumedByBroadcaster, e.ConsumedByTrigger,
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// UnconsumedForBroadcast returns events the broadcaster has not consumed, in
// insertion order.
func UnconsumedForBroadcast(ctx context.Context, q Querier) ([]*Event, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE consumed_by_broadcaster = 0
		 ORDER BY created_at, rowid`,
	)
	if err != nil {
		return nil, fmt.Errorf("reading broadcast events: %w", err)
	}
	return collectEvents(rows)
}

// UnconsumedForTrigger returns events the trigger processor has not consumed,
// filtered to the given types, in insertion order.
func UnconsumedForTrigger(ctx context.Context, q Querier, types []string) ([]*Event, error) {
	if len(types) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?, ", len(types)-1) + "?"
	args := make([]any, len(types))
	for i, t := range types {
		args[i] = t
	}

	rows, err := q.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE consumed_by_trigger = 0 AND type IN (`+placeholders+`)
		 ORDER BY created_at, rowid`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("reading trigger events: %w", err)
	}
	return collectEvents(rows)
}

// MarkBroadcastConsumed advances the broadcaster's cursor past the event.
func MarkBroadcastConsumed(ctx context.Context, q Querier, eventID string) error {
	return markConsumed(ctx, q, `UPDATE events SET consumed_by_broadcaster = 1 WHERE id = ?`, eventID)
}

// MarkTriggerConsumed advances the trigger processor's cursor past the event.
func MarkTriggerConsumed(ctx context.Context, q Querier, eventID string) error {
	return markConsumed(ctx, q, `UPDATE events SET consumed_by_trigger = 1 WHERE id = ?`, eventID)
}

func markConsumed(ctx context.Context, q Querier, query, eventID string) error {
	res, err := q.ExecContext(ctx, query, eventID)
	if err != nil {
		return fmt.Errorf("marking event consumed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("marking event consumed: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}
	return nil
}

// CountEvents returns the total number of event rows. Used by tests asserting
// exact emission counts.
func CountEvents(ctx context.Context, q Querier) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}

func collectEvents(rows interface {
	Next() bool
	Scan(...any) error
	Close() error
	Err() error
}) ([]*Event, error) {
	defer rows.Close()
	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
