package callreq

import (
	"encoding/json"

	"callbridge-backend/internal/storage"
)

// CallRequest is the client-facing view of a call invitation. Metadata is
// carried opaquely; the coordinator never interprets it.
type CallRequest struct {
	ID           string            `json:"id"`
	RequesterID  string            `json:"requesterId"`
	RecipientID  string            `json:"recipientId"`
	CallType     string            `json:"callType"`
	Status       string            `json:"status"`
	CreatedAtMs  int64             `json:"createdAtMs"`
	ExpiresAtMs  int64             `json:"expiresAtMs"`
	AcceptedAtMs *int64            `json:"acceptedAtMs,omitempty"`
	RejectedAtMs *int64            `json:"rejectedAtMs,omitempty"`
	CanceledAtMs *int64            `json:"canceledAtMs,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

func (r CallRequest) Terminal() bool {
	return storage.IsTerminalCallRequestStatus(r.Status)
}

// RemainingMs is the advisory countdown against the expiry deadline. The
// sweep, not this value, decides when a request actually expires.
func (r CallRequest) RemainingMs(nowMs int64) int64 {
	remaining := r.ExpiresAtMs - nowMs
	if remaining < 0 {
		return 0
	}
	return remaining
}

func fromRow(row storage.CallRequestRow) CallRequest {
	req := CallRequest{
		ID:           row.ID,
		RequesterID:  row.RequesterID,
		RecipientID:  row.RecipientID,
		CallType:     row.CallType,
		Status:       row.Status,
		CreatedAtMs:  row.CreatedAtMs,
		ExpiresAtMs:  row.ExpiresAtMs,
		AcceptedAtMs: row.AcceptedAtMs,
		RejectedAtMs: row.RejectedAtMs,
		CanceledAtMs: row.CanceledAtMs,
	}
	if len(row.MetadataJSON) > 0 {
		var meta map[string]string
		if err := json.Unmarshal(row.MetadataJSON, &meta); err == nil && len(meta) > 0 {
			req.Metadata = meta
		}
	}
	return req
}

type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
)

// Event is one change-feed item. Insert events are addressed to the
// recipient; update events to both parties. Consumers must treat the status
// carried by the latest event as authoritative and must not assume
// insert-then-update ordering.
type Event struct {
	Kind    EventKind   `json:"kind"`
	Request CallRequest `json:"request"`
}

// Feed receives every row change the coordinator performs.
type Feed interface {
	Publish(Event)
}

// Notifier delivers the best-effort human-readable alert for a new request.
// Deliver bounds its own execution time; the coordinator never waits on it.
type Notifier interface {
	Deliver(req CallRequest)
}
