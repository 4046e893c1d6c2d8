package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNotificationInsertRespectsPreference(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	nowMs := time.Now().UnixMilli()
	caller, callee := createTestUsers(t, store, nowMs)

	row, err := store.InsertNotification(ctx, callee.ID, caller.ID, NotificationKindCallRequest, "Incoming video call", []byte(`{"callType":"video"}`), nowMs)
	if err != nil {
		t.Fatal(err)
	}
	if row.RecipientID != callee.ID {
		t.Errorf("Expected recipient %s, got %s", callee.ID, row.RecipientID)
	}

	if _, err := store.SetAllowNotifyInserts(ctx, callee.ID, false, nowMs); err != nil {
		t.Fatal(err)
	}

	_, err = store.InsertNotification(ctx, callee.ID, caller.ID, NotificationKindCallRequest, "Incoming video call", nil, nowMs)
	if !errors.Is(err, ErrInsertForbidden) {
		t.Errorf("Expected ErrInsertForbidden, got %v", err)
	}

	// The privileged path ignores the preference.
	if _, err := store.InsertNotificationPrivileged(ctx, callee.ID, caller.ID, NotificationKindCallRequest, "Incoming video call", nil, nowMs+1); err != nil {
		t.Fatal(err)
	}

	items, err := store.ListNotifications(ctx, callee.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Errorf("Expected 2 notifications, got %d", len(items))
	}
}

func TestNotificationPayloadValidation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	nowMs := time.Now().UnixMilli()
	caller, callee := createTestUsers(t, store, nowMs)

	_, err := store.InsertNotification(ctx, callee.ID, caller.ID, NotificationKindCallRequest, "Incoming call", []byte(`{"broken`), nowMs)
	if !errors.Is(err, ErrPayloadInvalid) {
		t.Errorf("Expected ErrPayloadInvalid for malformed JSON, got %v", err)
	}

	big := `{"pad":"` + strings.Repeat("x", maxNotificationMetaBytes) + `"}`
	_, err = store.InsertNotification(ctx, callee.ID, caller.ID, NotificationKindCallRequest, "Incoming call", []byte(big), nowMs)
	if !errors.Is(err, ErrPayloadInvalid) {
		t.Errorf("Expected ErrPayloadInvalid for oversized meta, got %v", err)
	}

	if _, err := store.InsertNotification(ctx, "missing", caller.ID, NotificationKindCallRequest, "Incoming call", nil, nowMs); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown recipient, got %v", err)
	}
}
