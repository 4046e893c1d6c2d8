package callreq

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"log/slog"

	"callbridge-backend/internal/storage"
)

func TestSweeperExpiresOverdueRequests(t *testing.T) {
	store := newFakeStore()
	feed := &captureFeed{}
	c := NewCoordinator(testLogger(), store, feed, nil, 30)

	past := time.Now().Add(-time.Minute)
	c.now = func() time.Time { return past }
	req, err := c.Create(context.Background(), "alice", CreateParams{RecipientID: "bob", CallType: "video", TimeoutSeconds: 5})
	if err != nil {
		t.Fatal(err)
	}
	c.now = time.Now

	sweeper := NewSweeper(testLogger(), c, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		row, err := store.GetCallRequestByID(context.Background(), req.ID)
		if err != nil {
			t.Fatal(err)
		}
		if row.Status == storage.CallRequestStatusExpired {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("Request never expired, status %s", row.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Sweeper did not stop on cancel")
	}
}

// shutdownStore holds the first sweep open until its context is canceled,
// then fails with the context error.
type shutdownStore struct {
	*fakeStore
	entered chan struct{}
	once    sync.Once
}

func (s *shutdownStore) SweepExpiredCallRequests(ctx context.Context, nowMs int64) ([]storage.CallRequestRow, int64, error) {
	s.once.Do(func() { close(s.entered) })
	<-ctx.Done()
	return nil, 0, ctx.Err()
}

func TestSweeperQuietOnShutdown(t *testing.T) {
	store := &shutdownStore{fakeStore: newFakeStore(), entered: make(chan struct{})}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	c := NewCoordinator(logger, store, &captureFeed{}, nil, 30)
	sweeper := NewSweeper(logger, c, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	<-store.entered
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Sweeper did not stop on cancel")
	}

	if strings.Contains(buf.String(), "sweep failed") {
		t.Errorf("Shutdown logged as a sweep failure:\n%s", buf.String())
	}
}
