package httpapi

import (
	"chat-relay/domain"
	"chat-relay/mocks"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type onlineSet map[domain.UserID]bool

func (s onlineSet) IsOnline(userID domain.UserID) bool { return s[userID] }

func TestUsersHandler_Lists_Other_Users_With_Presence(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	identity := mocks.NewMockIdentityProvider(ctrl)
	directory := mocks.NewMockUserDirectory(ctrl)
	handler := NewUsersHandler(logs.GetLoggerFromLevel(slog.LevelDebug), identity, directory, onlineSet{"bob": true})

	identity.EXPECT().Verify(gomock.Any(), "token").Return(domain.UserID("alice"), nil)
	directory.EXPECT().List(gomock.Any()).Return([]domain.User{{ID: "alice"}, {ID: "bob"}, {ID: "carol"}}, nil)

	r := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	r.Header.Set("Authorization", "Bearer token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	req.Equal(http.StatusOK, w.Code)
	var body UsersResponse
	req.NoError(json.NewDecoder(w.Body).Decode(&body))
	req.True(body.Success)
	req.Len(body.Users, 2)
	req.Equal("bob", body.Users[0].ID)
	req.True(body.Users[0].Online)
	req.Equal("carol", body.Users[1].ID)
	req.False(body.Users[1].Online)
}

func TestUsersHandler_Requires_Token(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	identity := mocks.NewMockIdentityProvider(ctrl)
	directory := mocks.NewMockUserDirectory(ctrl)
	handler := NewUsersHandler(logs.GetLoggerFromLevel(slog.LevelDebug), identity, directory, onlineSet{})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/users", nil))
	req.Equal(http.StatusUnauthorized, w.Code)

	identity.EXPECT().Verify(gomock.Any(), "expired").Return(domain.UserID(""), errors.New("token is expired"))
	r := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	r.Header.Set("Authorization", "Bearer expired")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	req.Equal(http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/users", nil))
	req.Equal(http.StatusMethodNotAllowed, w.Code)
}

func TestUsersHandler_Directory_Failure(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	identity := mocks.NewMockIdentityProvider(ctrl)
	directory := mocks.NewMockUserDirectory(ctrl)
	handler := NewUsersHandler(logs.GetLoggerFromLevel(slog.LevelDebug), identity, directory, onlineSet{})

	identity.EXPECT().Verify(gomock.Any(), "token").Return(domain.UserID("alice"), nil)
	directory.EXPECT().List(gomock.Any()).Return(nil, errors.New("badger closed"))

	r := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	r.Header.Set("Authorization", "Bearer token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	req.Equal(http.StatusInternalServerError, w.Code)
	var body UsersResponse
	req.NoError(json.NewDecoder(w.Body).Decode(&body))
	req.False(body.Success)
}
