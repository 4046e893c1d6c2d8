package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

const callRequestColumns = `id, requester_id, recipient_id, call_type, status,
	created_at_ms, expires_at_ms, accepted_at_ms, rejected_at_ms, canceled_at_ms, metadata_json`

func (s *Store) CreateCallRequest(ctx context.Context, requesterID, recipientID, callType string, timeoutSeconds int, metadataJSON []byte, nowMs int64) (CallRequestRow, error) {
	if s == nil || s.db == nil {
		return CallRequestRow{}, fmt.Errorf("db not initialized")
	}
	if requesterID == "" || recipientID == "" || callType == "" {
		return CallRequestRow{}, fmt.Errorf("missing required fields")
	}
	if requesterID == recipientID {
		return CallRequestRow{}, ErrCannotCallSelf
	}
	if timeoutSeconds <= 0 {
		return CallRequestRow{}, fmt.Errorf("timeoutSeconds must be positive")
	}

	var recipientCount int
	existsQ := `SELECT COUNT(1) FROM users WHERE id = ?;`
	if err := s.db.QueryRowContext(ctx, s.rebind(existsQ), recipientID).Scan(&recipientCount); err != nil {
		return CallRequestRow{}, err
	}
	if recipientCount == 0 {
		return CallRequestRow{}, fmt.Errorf("%w: recipient", ErrNotFound)
	}

	req := CallRequestRow{
		ID:           uuid.NewString(),
		RequesterID:  requesterID,
		RecipientID:  recipientID,
		CallType:     callType,
		Status:       CallRequestStatusPending,
		CreatedAtMs:  nowMs,
		ExpiresAtMs:  nowMs + int64(timeoutSeconds)*1000,
		MetadataJSON: metadataJSON,
	}

	q := `INSERT INTO call_requests (id, requester_id, recipient_id, call_type, status, created_at_ms, expires_at_ms, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?);`

	var metaVal any
	if len(metadataJSON) > 0 {
		metaVal = string(metadataJSON)
	}

	if _, err := s.db.ExecContext(ctx, s.rebind(q),
		req.ID, req.RequesterID, req.RecipientID, req.CallType, req.Status,
		req.CreatedAtMs, req.ExpiresAtMs, metaVal,
	); err != nil {
		return CallRequestRow{}, err
	}

	return req, nil
}

func (s *Store) GetCallRequestByID(ctx context.Context, requestID string) (CallRequestRow, error) {
	if s == nil || s.db == nil {
		return CallRequestRow{}, fmt.Errorf("db not initialized")
	}

	q := `SELECT ` + callRequestColumns + ` FROM call_requests WHERE id = ?;`
	row, err := scanCallRequest(s.db.QueryRowContext(ctx, s.rebind(q), requestID))
	if err != nil {
		if err == sql.ErrNoRows {
			return CallRequestRow{}, fmt.Errorf("%w: call request", ErrNotFound)
		}
		return CallRequestRow{}, err
	}
	return row, nil
}

// AcceptCallRequest transitions a pending request to accepted. Only the
// recipient may accept. The UPDATE is guarded on status = pending; losing the
// race against a concurrent reject/cancel/sweep reports ErrAlreadyResolved.
func (s *Store) AcceptCallRequest(ctx context.Context, requestID, userID string, nowMs int64) (CallRequestRow, error) {
	return s.resolveCallRequest(ctx, requestID, userID, CallRequestStatusAccepted, nowMs)
}

func (s *Store) RejectCallRequest(ctx context.Context, requestID, userID string, nowMs int64) (CallRequestRow, error) {
	return s.resolveCallRequest(ctx, requestID, userID, CallRequestStatusRejected, nowMs)
}

func (s *Store) CancelCallRequest(ctx context.Context, requestID, userID string, nowMs int64) (CallRequestRow, error) {
	return s.resolveCallRequest(ctx, requestID, userID, CallRequestStatusCanceled, nowMs)
}

func (s *Store) resolveCallRequest(ctx context.Context, requestID, userID, newStatus string, nowMs int64) (CallRequestRow, error) {
	req, err := s.GetCallRequestByID(ctx, requestID)
	if err != nil {
		return CallRequestRow{}, err
	}

	var timestampColumn string
	switch newStatus {
	case CallRequestStatusAccepted:
		timestampColumn = "accepted_at_ms"
		if req.RecipientID != userID {
			return CallRequestRow{}, ErrAccessDenied
		}
	case CallRequestStatusRejected:
		timestampColumn = "rejected_at_ms"
		if req.RecipientID != userID {
			return CallRequestRow{}, ErrAccessDenied
		}
	case CallRequestStatusCanceled:
		timestampColumn = "canceled_at_ms"
		if req.RequesterID != userID {
			return CallRequestRow{}, ErrAccessDenied
		}
	default:
		return CallRequestRow{}, fmt.Errorf("invalid transition to %q", newStatus)
	}

	if IsTerminalCallRequestStatus(req.Status) {
		return CallRequestRow{}, ErrAlreadyResolved
	}

	q := `UPDATE call_requests SET status = ?, ` + timestampColumn + ` = ? WHERE id = ? AND status = ?;`
	res, err := s.db.ExecContext(ctx, s.rebind(q), newStatus, nowMs, requestID, CallRequestStatusPending)
	if err != nil {
		return CallRequestRow{}, err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		// Another transition won between our read and this write.
		return CallRequestRow{}, ErrAlreadyResolved
	}

	return s.GetCallRequestByID(ctx, requestID)
}

// SweepExpiredCallRequests expires every pending request whose deadline has
// passed. The guard makes concurrent sweeps from competing nodes idempotent:
// a row already swept (or resolved) is simply not matched again. Returns the
// rows this call observed as expired plus the count this call transitioned.
func (s *Store) SweepExpiredCallRequests(ctx context.Context, nowMs int64) ([]CallRequestRow, int64, error) {
	if s == nil || s.db == nil {
		return nil, 0, fmt.Errorf("db not initialized")
	}

	selectQ := `SELECT id FROM call_requests WHERE status = ? AND expires_at_ms < ?;`
	rows, err := s.db.QueryContext(ctx, s.rebind(selectQ), CallRequestStatusPending, nowMs)
	if err != nil {
		return nil, 0, err
	}
	var candidateIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, 0, err
		}
		candidateIDs = append(candidateIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, 0, err
	}
	rows.Close()

	if len(candidateIDs) == 0 {
		return nil, 0, nil
	}

	updateQ := `UPDATE call_requests SET status = ? WHERE status = ? AND expires_at_ms < ?;`
	res, err := s.db.ExecContext(ctx, s.rebind(updateQ), CallRequestStatusExpired, CallRequestStatusPending, nowMs)
	if err != nil {
		return nil, 0, err
	}
	affected, _ := res.RowsAffected()

	// Re-read the candidates and keep only those that actually ended up
	// expired: one accepted between the SELECT and the UPDATE must not be
	// announced as expired.
	args := make([]any, 0, len(candidateIDs)+1)
	args = append(args, CallRequestStatusExpired)
	for _, id := range candidateIDs {
		args = append(args, id)
	}
	sweptQ := `SELECT ` + callRequestColumns + ` FROM call_requests
		WHERE status = ? AND id IN (` + placeholders(len(candidateIDs)) + `);`
	sweptRows, err := s.db.QueryContext(ctx, s.rebind(sweptQ), args...)
	if err != nil {
		return nil, 0, err
	}
	defer sweptRows.Close()

	var swept []CallRequestRow
	for sweptRows.Next() {
		req, err := scanCallRequest(sweptRows)
		if err != nil {
			return nil, 0, err
		}
		swept = append(swept, req)
	}
	if err := sweptRows.Err(); err != nil {
		return nil, 0, err
	}

	return swept, affected, nil
}

// ListPendingCallRequests returns requests still awaiting the recipient,
// newest first. Rows past their deadline are excluded even before the sweep
// has transitioned them.
func (s *Store) ListPendingCallRequests(ctx context.Context, recipientID string, nowMs int64) ([]CallRequestRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db not initialized")
	}
	if recipientID == "" {
		return nil, fmt.Errorf("missing recipientID")
	}

	q := `SELECT ` + callRequestColumns + ` FROM call_requests
		WHERE recipient_id = ? AND status = ? AND expires_at_ms > ?
		ORDER BY created_at_ms DESC;`

	rows, err := s.db.QueryContext(ctx, s.rebind(q), recipientID, CallRequestStatusPending, nowMs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []CallRequestRow
	for rows.Next() {
		req, err := scanCallRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return reqs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCallRequest(sc rowScanner) (CallRequestRow, error) {
	var req CallRequestRow
	var acceptedAt, rejectedAt, canceledAt sql.NullInt64
	var meta sql.NullString

	if err := sc.Scan(
		&req.ID, &req.RequesterID, &req.RecipientID, &req.CallType, &req.Status,
		&req.CreatedAtMs, &req.ExpiresAtMs, &acceptedAt, &rejectedAt, &canceledAt, &meta,
	); err != nil {
		return CallRequestRow{}, err
	}

	if acceptedAt.Valid {
		req.AcceptedAtMs = &acceptedAt.Int64
	}
	if rejectedAt.Valid {
		req.RejectedAtMs = &rejectedAt.Int64
	}
	if canceledAt.Valid {
		req.CanceledAtMs = &canceledAt.Int64
	}
	if meta.Valid {
		req.MetadataJSON = []byte(meta.String)
	}

	return req, nil
}
