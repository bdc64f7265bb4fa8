package membership

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RemoteTokenSource requests signed service tokens from the auth service's
// issuance endpoint, authenticating with the pre-shared operator secret.
type RemoteTokenSource struct {
	// BaseURL of the auth service API, e.g. "http://auth:8000/api".
	BaseURL string
	// Secret is presented as "Service <secret>".
	Secret string
	HTTP   *http.Client
}

func NewRemoteTokenSource(baseURL, secret string, client *http.Client) *RemoteTokenSource {
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}
	return &RemoteTokenSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Secret:  secret,
		HTTP:    client,
	}
}

func (s *RemoteTokenSource) ServiceToken(ctx context.Context, aud, sub string) (string, error) {
	payload, _ := json.Marshal(map[string]string{"aud": aud, "sub": sub})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/v1/service/token", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Service "+s.Secret)

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("token endpoint returned empty token")
	}
	return out.Token, nil
}
