package notify

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"callbridge-backend/internal/callreq"
	"callbridge-backend/internal/storage"
)

type call struct {
	privileged bool
	meta       []byte
}

type scriptedStore struct {
	mu               sync.Mutex
	calls            []call
	privilegedErr    error
	directErr        error
	reducedErr       error
	failOnlyWithMeta bool
}

func (s *scriptedStore) InsertNotificationPrivileged(ctx context.Context, recipientID, actorID, kind, title string, metaJSON []byte, nowMs int64) (storage.NotificationRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{privileged: true, meta: metaJSON})
	if s.privilegedErr != nil {
		return storage.NotificationRow{}, s.privilegedErr
	}
	return storage.NotificationRow{ID: "n1"}, nil
}

func (s *scriptedStore) InsertNotification(ctx context.Context, recipientID, actorID, kind, title string, metaJSON []byte, nowMs int64) (storage.NotificationRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{meta: metaJSON})
	if s.failOnlyWithMeta {
		if len(metaJSON) > 0 {
			return storage.NotificationRow{}, storage.ErrPayloadInvalid
		}
		if s.reducedErr != nil {
			return storage.NotificationRow{}, s.reducedErr
		}
		return storage.NotificationRow{ID: "n2"}, nil
	}
	if s.directErr != nil {
		return storage.NotificationRow{}, s.directErr
	}
	return storage.NotificationRow{ID: "n2"}, nil
}

func (s *scriptedStore) recorded() []call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]call(nil), s.calls...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func testRequest() callreq.CallRequest {
	return callreq.CallRequest{
		ID:          "req-1",
		RequesterID: "alice",
		RecipientID: "bob",
		CallType:    "video",
		Status:      "pending",
		ExpiresAtMs: 123456,
	}
}

func TestDeliverStopsAtPrivilegedTier(t *testing.T) {
	store := &scriptedStore{}
	n := New(testLogger(), store, true)

	n.Deliver(testRequest())

	calls := store.recorded()
	if len(calls) != 1 || !calls[0].privileged {
		t.Fatalf("Expected single privileged insert, got %+v", calls)
	}
	if len(calls[0].meta) == 0 {
		t.Error("Expected structured metadata on the privileged insert")
	}
}

func TestDeliverFallsBackToDirectInsert(t *testing.T) {
	store := &scriptedStore{privilegedErr: errors.New("privileged path unavailable")}
	n := New(testLogger(), store, true)

	n.Deliver(testRequest())

	calls := store.recorded()
	if len(calls) != 2 {
		t.Fatalf("Expected privileged then direct insert, got %d calls", len(calls))
	}
	if calls[1].privileged {
		t.Error("Second attempt must be the direct path")
	}
}

func TestDeliverSkipsPrivilegedWhenUnavailable(t *testing.T) {
	store := &scriptedStore{}
	n := New(testLogger(), store, false)

	n.Deliver(testRequest())

	calls := store.recorded()
	if len(calls) != 1 || calls[0].privileged {
		t.Fatalf("Expected single direct insert, got %+v", calls)
	}
}

func TestDeliverReducedPayloadAfterShapeFailure(t *testing.T) {
	store := &scriptedStore{
		privilegedErr:    errors.New("privileged path unavailable"),
		failOnlyWithMeta: true,
	}
	n := New(testLogger(), store, true)

	n.Deliver(testRequest())

	calls := store.recorded()
	if len(calls) != 3 {
		t.Fatalf("Expected three attempts, got %d", len(calls))
	}
	if len(calls[2].meta) != 0 {
		t.Error("Final attempt must drop the structured metadata")
	}
}

func TestDeliverStopsOnForbiddenRecipient(t *testing.T) {
	store := &scriptedStore{
		privilegedErr: errors.New("privileged path unavailable"),
		directErr:     storage.ErrInsertForbidden,
	}
	n := New(testLogger(), store, true)

	n.Deliver(testRequest())

	// A reduced payload cannot overturn an access denial; no third attempt.
	calls := store.recorded()
	if len(calls) != 2 {
		t.Fatalf("Expected two attempts, got %d", len(calls))
	}
}

func TestDeliverTotalFailureIsSilent(t *testing.T) {
	store := &scriptedStore{
		privilegedErr:    errors.New("down"),
		failOnlyWithMeta: true,
		reducedErr:       errors.New("still down"),
	}
	n := New(testLogger(), store, true)

	// Must not panic or block; failures only reach the log.
	n.Deliver(testRequest())

	if len(store.recorded()) != 3 {
		t.Errorf("Expected all three tiers attempted, got %d", len(store.recorded()))
	}
}
