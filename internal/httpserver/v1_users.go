package httpserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"callbridge-backend/internal/storage"
)

type searchUsersResponse struct {
	Users []userItem `json:"users"`
}

func (api *v1API) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
		return
	}
	api.handleSearchUsers(w, r)
}

func (api *v1API) handleUserSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	parts := splitPath(rest)

	if len(parts) == 2 && parts[0] == "me" && parts[1] == "notify-prefs" {
		if r.Method != http.MethodPut {
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
			return
		}
		api.handleSetNotifyPrefs(w, r)
		return
	}

	writeAPIError(w, ErrCodeNotFound, "not found")
}

func (api *v1API) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		writeAPIError(w, ErrCodeTokenInvalid, "authentication required")
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		writeAPIError(w, ErrCodeValidation, "query is required")
		return
	}

	users, err := api.store.SearchUsers(r.Context(), query, 20)
	if err != nil {
		api.logger.Error("search users failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	items := make([]userItem, 0, len(users))
	for _, u := range users {
		if u.ID == userID {
			continue
		}
		items = append(items, newUserItem(u))
	}

	writeJSON(w, http.StatusOK, searchUsersResponse{Users: items})
}

type notifyPrefsRequest struct {
	AllowNotifyInserts *bool `json:"allowNotifyInserts"`
}

func (api *v1API) handleSetNotifyPrefs(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		writeAPIError(w, ErrCodeTokenInvalid, "authentication required")
		return
	}

	var req notifyPrefsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAPIError(w, ErrCodeValidation, "invalid JSON body")
		return
	}
	if req.AllowNotifyInserts == nil {
		writeAPIError(w, ErrCodeValidation, "allowNotifyInserts is required")
		return
	}

	nowMs := time.Now().UnixMilli()
	user, err := api.store.SetAllowNotifyInserts(r.Context(), userID, *req.AllowNotifyInserts, nowMs)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeAPIError(w, ErrCodeUserNotFound, "user not found")
			return
		}
		api.logger.Error("set notify prefs failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{User: newUserItem(user)})
}
