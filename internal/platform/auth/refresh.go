package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	Data struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	} `json:"data"`
}

// RefreshAccessToken exchanges the stored refresh token for a new access
// token. It returns false on any failure and never errors. Without a
// refresh token no request is made. Concurrent callers share one request.
//
// The shared request is detached from every caller's context and bounded by
// the HTTP client timeout, so one caller giving up never fails the others.
// A caller whose ctx ends first gets ("", false) and the request carries on.
func (m *Manager) RefreshAccessToken(ctx context.Context) (string, bool) {
	m.mu.RLock()
	refresh := m.refreshToken
	m.mu.RUnlock()

	if refresh == "" {
		return "", false
	}

	detached := context.WithoutCancel(ctx)
	ch := m.refreshGroup.DoChan(refresh, func() (interface{}, error) {
		return m.exchange(detached, refresh), nil
	})

	select {
	case res := <-ch:
		token, _ := res.Val.(string)
		return token, token != ""
	case <-ctx.Done():
		return "", false
	}
}

func (m *Manager) exchange(ctx context.Context, refresh string) string {
	access, rotated, err := m.postRefresh(ctx, refresh)
	if err != nil {
		m.logger.Warn().Err(err).Msg("refresh access token")
		return ""
	}
	if access == "" {
		m.logger.Warn().Msg("refresh response carried no access token")
		return ""
	}

	m.mu.Lock()
	if m.refreshToken != refresh {
		// Logged out or replaced while the request was in flight.
		m.mu.Unlock()
		return ""
	}
	m.accessToken = access
	if rotated != "" {
		m.refreshToken = rotated
	}
	m.mu.Unlock()

	pairs := map[string]string{KeyAccessToken: access}
	if rotated != "" {
		pairs[KeyRefreshToken] = rotated
	}
	if err := m.store.MultiSet(ctx, pairs); err != nil {
		m.logger.Error().Err(err).Msg("persist refreshed token")
	}

	m.logger.Debug().Bool("rotated", rotated != "").Msg("access token refreshed")
	return access
}

func (m *Manager) postRefresh(ctx context.Context, refresh string) (string, string, error) {
	body, err := json.Marshal(refreshRequest{RefreshToken: refresh})
	if err != nil {
		return "", "", fmt.Errorf("encode refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.backendURL+m.refreshPath, bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", "", fmt.Errorf("read refresh response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", fmt.Errorf("refresh rejected with status %d", resp.StatusCode)
	}

	var out refreshResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", "", fmt.Errorf("decode refresh response: %w", err)
	}
	return out.Data.AccessToken, out.Data.RefreshToken, nil
}

// AccessTokenExpiry reads the exp claim of the current access token without
// verifying its signature. The zero time means unknown.
func (m *Manager) AccessTokenExpiry() time.Time {
	return TokenExpiry(m.AccessToken())
}

// TokenExpiry returns the unverified exp claim of a JWT, or the zero time.
func TokenExpiry(token string) time.Time {
	if token == "" {
		return time.Time{}
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
