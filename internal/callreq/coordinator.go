package callreq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"callbridge-backend/internal/config"
	"callbridge-backend/internal/storage"
)

// Store is the slice of the record store the coordinator needs.
type Store interface {
	CreateCallRequest(ctx context.Context, requesterID, recipientID, callType string, timeoutSeconds int, metadataJSON []byte, nowMs int64) (storage.CallRequestRow, error)
	GetCallRequestByID(ctx context.Context, requestID string) (storage.CallRequestRow, error)
	AcceptCallRequest(ctx context.Context, requestID, userID string, nowMs int64) (storage.CallRequestRow, error)
	RejectCallRequest(ctx context.Context, requestID, userID string, nowMs int64) (storage.CallRequestRow, error)
	CancelCallRequest(ctx context.Context, requestID, userID string, nowMs int64) (storage.CallRequestRow, error)
	SweepExpiredCallRequests(ctx context.Context, nowMs int64) ([]storage.CallRequestRow, int64, error)
	ListPendingCallRequests(ctx context.Context, recipientID string, nowMs int64) ([]storage.CallRequestRow, error)
}

// Coordinator brokers call requests: it creates them, performs the guarded
// terminal transitions, and announces every change on the feed. The store is
// the single source of truth; the coordinator holds no request state.
type Coordinator struct {
	logger   *slog.Logger
	store    Store
	feed     Feed
	notifier Notifier

	defaultTimeoutSec int
	now               func() time.Time
}

func NewCoordinator(logger *slog.Logger, store Store, feed Feed, notifier Notifier, defaultTimeoutSec int) *Coordinator {
	if defaultTimeoutSec <= 0 {
		defaultTimeoutSec = config.DefaultCallRequestTimeoutSeconds
	}
	return &Coordinator{
		logger:            logger.With("component", "callreq"),
		store:             store,
		feed:              feed,
		notifier:          notifier,
		defaultTimeoutSec: defaultTimeoutSec,
		now:               time.Now,
	}
}

type CreateParams struct {
	RecipientID    string
	CallType       string
	TimeoutSeconds int
	Metadata       map[string]string
}

// Create writes a new pending request, announces it on the feed, and kicks
// off best-effort notification delivery. Only the store write can fail the
// call; notification delivery never does.
func (c *Coordinator) Create(ctx context.Context, requesterID string, p CreateParams) (CallRequest, error) {
	if requesterID == "" {
		return CallRequest{}, ErrUnauthenticated
	}
	if p.RecipientID == "" {
		return CallRequest{}, fmt.Errorf("%w: recipientId is required", ErrInvalidArgument)
	}
	if p.RecipientID == requesterID {
		return CallRequest{}, fmt.Errorf("%w: cannot call self", ErrInvalidArgument)
	}
	if p.CallType != storage.CallTypeVideo && p.CallType != storage.CallTypeAudio {
		return CallRequest{}, fmt.Errorf("%w: invalid callType %q", ErrInvalidArgument, p.CallType)
	}

	timeoutSec := p.TimeoutSeconds
	if timeoutSec == 0 {
		timeoutSec = c.defaultTimeoutSec
	}
	if timeoutSec < 0 {
		return CallRequest{}, fmt.Errorf("%w: timeoutSeconds must be positive", ErrInvalidArgument)
	}
	if timeoutSec > config.MaxCallRequestTimeoutSeconds {
		return CallRequest{}, fmt.Errorf("%w: timeoutSeconds exceeds %d", ErrInvalidArgument, config.MaxCallRequestTimeoutSeconds)
	}

	var metaJSON []byte
	if len(p.Metadata) > 0 {
		b, err := json.Marshal(p.Metadata)
		if err != nil {
			return CallRequest{}, fmt.Errorf("%w: metadata not serializable", ErrInvalidArgument)
		}
		metaJSON = b
	}

	nowMs := c.now().UnixMilli()
	row, err := c.store.CreateCallRequest(ctx, requesterID, p.RecipientID, p.CallType, timeoutSec, metaJSON, nowMs)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrCannotCallSelf):
			return CallRequest{}, fmt.Errorf("%w: cannot call self", ErrInvalidArgument)
		case errors.Is(err, storage.ErrNotFound):
			return CallRequest{}, fmt.Errorf("%w: unknown recipient", ErrInvalidArgument)
		}
		return CallRequest{}, fmt.Errorf("%w: create: %v", ErrStoreUnavailable, err)
	}

	req := fromRow(row)
	c.publish(Event{Kind: EventInsert, Request: req})

	if c.notifier != nil {
		// Fire and forget. Deliver bounds its own execution and logs its
		// own failures; a dead side-channel must not slow down Create.
		go c.notifier.Deliver(req)
	}

	return req, nil
}

// Accept transitions a pending request to accepted on behalf of its
// recipient. Losing the race against reject/cancel/expiry reports
// ErrAlreadyResolved.
func (c *Coordinator) Accept(ctx context.Context, userID, requestID string) (CallRequest, error) {
	return c.resolve(ctx, userID, requestID, c.store.AcceptCallRequest)
}

func (c *Coordinator) Reject(ctx context.Context, userID, requestID string) (CallRequest, error) {
	return c.resolve(ctx, userID, requestID, c.store.RejectCallRequest)
}

func (c *Coordinator) Cancel(ctx context.Context, userID, requestID string) (CallRequest, error) {
	return c.resolve(ctx, userID, requestID, c.store.CancelCallRequest)
}

func (c *Coordinator) resolve(ctx context.Context, userID, requestID string, op func(context.Context, string, string, int64) (storage.CallRequestRow, error)) (CallRequest, error) {
	if userID == "" {
		return CallRequest{}, ErrUnauthenticated
	}
	if requestID == "" {
		return CallRequest{}, fmt.Errorf("%w: requestId is required", ErrInvalidArgument)
	}

	nowMs := c.now().UnixMilli()
	row, err := op(ctx, requestID, userID, nowMs)
	if err != nil {
		return CallRequest{}, mapStoreError(err)
	}

	req := fromRow(row)
	c.publish(Event{Kind: EventUpdate, Request: req})
	return req, nil
}

// SweepExpired applies the expiry transition to every overdue pending row and
// announces each expiry on the feed. Requires no actor identity; safe to run
// concurrently from any number of schedulers.
func (c *Coordinator) SweepExpired(ctx context.Context) (int64, error) {
	nowMs := c.now().UnixMilli()
	swept, affected, err := c.store.SweepExpiredCallRequests(ctx, nowMs)
	if err != nil {
		return 0, fmt.Errorf("%w: sweep: %v", ErrStoreUnavailable, err)
	}

	for _, row := range swept {
		c.publish(Event{Kind: EventUpdate, Request: fromRow(row)})
	}

	return affected, nil
}

// ListPending returns the requests still awaiting userID, newest first.
func (c *Coordinator) ListPending(ctx context.Context, userID string) ([]CallRequest, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}

	nowMs := c.now().UnixMilli()
	rows, err := c.store.ListPendingCallRequests(ctx, userID, nowMs)
	if err != nil {
		return nil, fmt.Errorf("%w: list pending: %v", ErrStoreUnavailable, err)
	}

	reqs := make([]CallRequest, 0, len(rows))
	for _, row := range rows {
		reqs = append(reqs, fromRow(row))
	}
	return reqs, nil
}

// GetByID reads a single request; readable by either party on the row.
func (c *Coordinator) GetByID(ctx context.Context, userID, requestID string) (CallRequest, error) {
	if userID == "" {
		return CallRequest{}, ErrUnauthenticated
	}
	if requestID == "" {
		return CallRequest{}, fmt.Errorf("%w: requestId is required", ErrInvalidArgument)
	}

	row, err := c.store.GetCallRequestByID(ctx, requestID)
	if err != nil {
		return CallRequest{}, mapStoreError(err)
	}
	if row.RequesterID != userID && row.RecipientID != userID {
		return CallRequest{}, ErrAccessDenied
	}

	return fromRow(row), nil
}

func (c *Coordinator) publish(ev Event) {
	if c.feed == nil {
		return
	}
	c.feed.Publish(ev)
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, storage.ErrAccessDenied):
		return ErrAccessDenied
	case errors.Is(err, storage.ErrAlreadyResolved):
		return ErrAlreadyResolved
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
