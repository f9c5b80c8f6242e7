package client

import (
	"chat-relay/infrastructure/httpapi"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// ListUsers fetches the user directory from the relay HTTP API at baseURL.
func ListUsers(ctx context.Context, httpClient *http.Client, baseURL, token string) ([]httpapi.UserView, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(baseURL, "/")+"/api/users", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var body httpapi.UsersResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode users response (%s): %w", res.Status, err)
	}
	if !body.Success {
		return nil, fmt.Errorf("list users failed (%s): %s", res.Status, body.Message)
	}
	return body.Users, nil
}
