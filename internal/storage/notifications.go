package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Notification metadata is stored opaquely but must at least be valid JSON of
// bounded size; oversized or malformed payloads are the "shape mismatch"
// failure the side-channel's reduced-payload tier exists for.
const maxNotificationMetaBytes = 4096

// InsertNotification writes a notification on behalf of actorID, subject to
// the recipient's allow_notify_inserts preference.
func (s *Store) InsertNotification(ctx context.Context, recipientID, actorID, kind, title string, metaJSON []byte, nowMs int64) (NotificationRow, error) {
	if s == nil || s.db == nil {
		return NotificationRow{}, fmt.Errorf("db not initialized")
	}

	recipient, err := s.GetUserByID(ctx, recipientID)
	if err != nil {
		return NotificationRow{}, err
	}
	if !recipient.AllowNotifyInserts {
		return NotificationRow{}, ErrInsertForbidden
	}

	return s.insertNotification(ctx, recipientID, actorID, kind, title, metaJSON, nowMs)
}

// InsertNotificationPrivileged writes a notification regardless of the
// recipient's preference. Reserved for the elevated-privilege delivery path.
func (s *Store) InsertNotificationPrivileged(ctx context.Context, recipientID, actorID, kind, title string, metaJSON []byte, nowMs int64) (NotificationRow, error) {
	if s == nil || s.db == nil {
		return NotificationRow{}, fmt.Errorf("db not initialized")
	}
	return s.insertNotification(ctx, recipientID, actorID, kind, title, metaJSON, nowMs)
}

func (s *Store) insertNotification(ctx context.Context, recipientID, actorID, kind, title string, metaJSON []byte, nowMs int64) (NotificationRow, error) {
	if recipientID == "" || actorID == "" || kind == "" || title == "" {
		return NotificationRow{}, fmt.Errorf("missing required fields")
	}
	if len(metaJSON) > 0 {
		if len(metaJSON) > maxNotificationMetaBytes || !json.Valid(metaJSON) {
			return NotificationRow{}, ErrPayloadInvalid
		}
	}

	row := NotificationRow{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		ActorID:     actorID,
		Kind:        kind,
		Title:       title,
		MetaJSON:    metaJSON,
		CreatedAtMs: nowMs,
	}

	q := `INSERT INTO notifications (id, recipient_id, actor_id, kind, title, meta_json, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?);`

	var metaVal any
	if len(metaJSON) > 0 {
		metaVal = string(metaJSON)
	}

	if _, err := s.db.ExecContext(ctx, s.rebind(q),
		row.ID, row.RecipientID, row.ActorID, row.Kind, row.Title, metaVal, row.CreatedAtMs,
	); err != nil {
		return NotificationRow{}, err
	}

	return row, nil
}

func (s *Store) ListNotifications(ctx context.Context, recipientID string, limit int) ([]NotificationRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	q := `SELECT id, recipient_id, actor_id, kind, title, meta_json, created_at_ms
		FROM notifications WHERE recipient_id = ?
		ORDER BY created_at_ms DESC LIMIT ?;`

	rows, err := s.db.QueryContext(ctx, s.rebind(q), recipientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []NotificationRow
	for rows.Next() {
		var row NotificationRow
		var meta []byte
		if err := rows.Scan(&row.ID, &row.RecipientID, &row.ActorID, &row.Kind, &row.Title, &meta, &row.CreatedAtMs); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			row.MetaJSON = meta
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}
