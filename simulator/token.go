package simulator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"devsim/config"
)

// TokenFunc acquires an authorization token for update requests and reports
// when it expires.
type TokenFunc func(ctx context.Context) (token string, expires time.Time, err error)

// tokenRefreshMargin is how long before expiry a refresh is scheduled.
const tokenRefreshMargin = time.Minute

// defaultTokenFunc posts the configured credentials to the token endpoint.
// The token is taken from the X-Subject-Token response header (Keystone
// convention) or, failing that, from a JSON body {"token": "..."}.
func defaultTokenFunc(auth *config.Authentication) TokenFunc {
	client := &http.Client{Timeout: 10 * time.Second}
	return func(ctx context.Context) (string, time.Time, error) {
		body, err := json.Marshal(map[string]string{
			"user":     auth.User,
			"password": auth.Password,
		})
		if err != nil {
			return "", time.Time{}, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, auth.TokenURL, bytes.NewReader(body))
		if err != nil {
			return "", time.Time{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return "", time.Time{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_, _ = io.Copy(io.Discard, resp.Body)
			return "", time.Time{}, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
		}
		expires := time.Now().Add(auth.TTL())
		if token := resp.Header.Get("X-Subject-Token"); token != "" {
			_, _ = io.Copy(io.Discard, resp.Body)
			return token, expires, nil
		}
		var payload struct {
			Token string `json:"token"`
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", time.Time{}, err
		}
		if err := json.Unmarshal(data, &payload); err != nil || payload.Token == "" {
			return "", time.Time{}, fmt.Errorf("token endpoint response carries no token")
		}
		return payload.Token, expires, nil
	}
}
