package httpserver

import (
	"context"
	"net/http"

	"log/slog"

	"callbridge-backend/internal/callreq"
	"callbridge-backend/internal/storage"
	"callbridge-backend/internal/ws"
)

type Store interface {
	Ready(ctx context.Context) error

	CreateUser(ctx context.Context, username, passwordHash, displayName string, nowMs int64) (storage.UserRow, error)
	GetUserByID(ctx context.Context, userID string) (storage.UserRow, error)
	GetUserByUsername(ctx context.Context, username string) (storage.UserRow, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]storage.UserRow, error)
	SetAllowNotifyInserts(ctx context.Context, userID string, allow bool, nowMs int64) (storage.UserRow, error)

	CreateAuthToken(ctx context.Context, userID string, deviceInfo *string, nowMs, expiresAtMs int64) (storage.AuthTokenRow, error)
	ValidateToken(ctx context.Context, token string, nowMs int64) (storage.AuthTokenRow, error)
	DeleteToken(ctx context.Context, token string) error

	ListNotifications(ctx context.Context, recipientID string, limit int) ([]storage.NotificationRow, error)
}

// Coordinator is the call-request surface the handlers drive. Satisfied by
// *callreq.Coordinator.
type Coordinator interface {
	Create(ctx context.Context, requesterID string, p callreq.CreateParams) (callreq.CallRequest, error)
	Accept(ctx context.Context, userID, requestID string) (callreq.CallRequest, error)
	Reject(ctx context.Context, userID, requestID string) (callreq.CallRequest, error)
	Cancel(ctx context.Context, userID, requestID string) (callreq.CallRequest, error)
	ListPending(ctx context.Context, userID string) ([]callreq.CallRequest, error)
	GetByID(ctx context.Context, userID, requestID string) (callreq.CallRequest, error)
}

func NewHandler(logger *slog.Logger, store Store, coordinator Coordinator, wsManager *ws.Manager) http.Handler {
	mux := http.NewServeMux()
	api := newV1API(logger, store, coordinator)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := store.Ready(r.Context()); err != nil {
			logger.Warn("ready check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if wsManager != nil {
		mux.Handle("/v1/ws", wsManager.Handler())
	}
	mux.HandleFunc("/v1/auth/", api.handleAuth)
	mux.HandleFunc("/v1/users", api.handleUsers)
	mux.HandleFunc("/v1/users/", api.handleUserSubroutes)
	mux.HandleFunc("/v1/call-requests", api.handleCallRequests)
	mux.HandleFunc("/v1/call-requests/", api.handleCallRequestSubroutes)
	mux.HandleFunc("/v1/notifications", api.handleNotifications)

	return chain(
		mux,
		recoverMiddleware(logger),
		requestLogMiddleware(logger),
		corsMiddleware(),
		authMiddleware(store),
	)
}
