package httpapi

import (
	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/samber/lo"
)

type PresenceReader interface {
	IsOnline(userID domain.UserID) bool
}

type UserView struct {
	ID          string    `json:"id"`
	Online      bool      `json:"online"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

type UsersResponse struct {
	Success bool       `json:"success"`
	Users   []UserView `json:"users,omitempty"`
	Message string     `json:"message,omitempty"`
}

// UsersHandler serves GET /api/users, the contact list of the browser client.
// The caller must present a Bearer token, it does not appear in its own list.
type UsersHandler struct {
	log       *slog.Logger
	identity  contract.IdentityProvider
	directory contract.UserDirectory
	presence  PresenceReader
}

func NewUsersHandler(log *slog.Logger, identity contract.IdentityProvider, directory contract.UserDirectory, presence PresenceReader) *UsersHandler {
	return &UsersHandler{log: log, identity: identity, directory: directory, presence: presence}
}

func (h *UsersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, UsersResponse{Message: "method not allowed"})
		return
	}
	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		writeJSON(w, http.StatusUnauthorized, UsersResponse{Message: "authorization token is missing"})
		return
	}
	caller, err := h.identity.Verify(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, UsersResponse{Message: "invalid or expired token"})
		return
	}

	users, err := h.directory.List(r.Context())
	if err != nil {
		h.log.Error("Unable to list users", "error", err)
		writeJSON(w, http.StatusInternalServerError, UsersResponse{Message: "unable to list users"})
		return
	}
	others := lo.Filter(users, func(u domain.User, _ int) bool { return u.ID != caller })
	writeJSON(w, http.StatusOK, UsersResponse{
		Success: true,
		Users: lo.Map(others, func(u domain.User, _ int) UserView {
			return UserView{
				ID:          string(u.ID),
				Online:      h.presence.IsOnline(u.ID),
				FirstSeenAt: u.FirstSeenAt,
				LastSeenAt:  u.LastSeenAt,
			}
		}),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
