package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// BackendSignOut returns a SignOutFunc that posts the access token to
// backendURL+path so the server can revoke it. Any 2xx answer, 401 or 403
// counts as signed out; the token is gone either way.
func BackendSignOut(client *http.Client, backendURL, path string) SignOutFunc {
	target := strings.TrimRight(backendURL, "/") + path
	return func(ctx context.Context, accessToken string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
		if err != nil {
			return fmt.Errorf("build sign-out request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("sign-out request: %w", err)
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
		case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		default:
			return fmt.Errorf("sign-out rejected with status %d", resp.StatusCode)
		}
		return nil
	}
}
