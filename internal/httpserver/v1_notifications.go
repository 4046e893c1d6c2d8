package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

type notificationItem struct {
	ID          string          `json:"id"`
	ActorID     string          `json:"actorId"`
	Kind        string          `json:"kind"`
	Title       string          `json:"title"`
	Meta        json.RawMessage `json:"meta,omitempty"`
	CreatedAtMs int64           `json:"createdAtMs"`
}

type listNotificationsResponse struct {
	Notifications []notificationItem `json:"notifications"`
}

func (api *v1API) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
		return
	}

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		writeAPIError(w, ErrCodeTokenInvalid, "authentication required")
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			writeAPIError(w, ErrCodeValidation, "limit must be 1-200")
			return
		}
		limit = n
	}

	rows, err := api.store.ListNotifications(r.Context(), userID, limit)
	if err != nil {
		api.logger.Error("list notifications failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	items := make([]notificationItem, 0, len(rows))
	for _, n := range rows {
		item := notificationItem{
			ID:          n.ID,
			ActorID:     n.ActorID,
			Kind:        n.Kind,
			Title:       n.Title,
			CreatedAtMs: n.CreatedAtMs,
		}
		if len(n.MetaJSON) > 0 {
			item.Meta = json.RawMessage(n.MetaJSON)
		}
		items = append(items, item)
	}

	writeJSON(w, http.StatusOK, listNotificationsResponse{Notifications: items})
}
