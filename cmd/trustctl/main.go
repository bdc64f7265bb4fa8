package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type client struct {
	BaseURL   string
	Secret    string
	OutFormat string // "json" | "text"
	HTTP      *http.Client
}

func (c *client) do(method, path string, body []byte) (int, []byte, error) {
	url := strings.TrimRight(c.BaseURL, "/") + path
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	if c.Secret != "" {
		req.Header.Set("Authorization", "Service "+c.Secret)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, nil
}

func (c *client) print(status int, body []byte) {
	if c.OutFormat == "json" {
		var v any
		if json.Unmarshal(body, &v) == nil {
			p, _ := json.MarshalIndent(v, "", "  ")
			fmt.Println(string(p))
			return
		}
	}
	if len(body) > 0 {
		fmt.Println(string(body))
	} else {
		fmt.Printf("status=%d\n", status)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	var (
		baseURL = envOr("TRUSTD_URL", "http://localhost:8080")
		secret  = envOr("SERVICES_SHARED_TOKEN", "")
		out     = envOr("TRUSTCTL_OUT", "text")
	)

	root := &cobra.Command{
		Use:   "trustctl",
		Short: "Operator CLI for the trustd key service",
	}

	root.PersistentFlags().StringVar(&baseURL, "url", baseURL, "trustd base URL (env TRUSTD_URL)")
	root.PersistentFlags().StringVar(&secret, "secret", secret, "shared service secret (env SERVICES_SHARED_TOKEN)")
	root.PersistentFlags().StringVar(&out, "out", out, "output format: json|text")

	cl := &client{HTTP: &http.Client{Timeout: 30 * time.Second}}
	// Flags are parsed after construction, so resolve them in PreRun.
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		cl.BaseURL = baseURL
		cl.Secret = secret
		cl.OutFormat = out
	}

	jwksCmd := &cobra.Command{
		Use:   "jwks",
		Short: "Fetch the published key set",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cl.do("GET", "/v1/service/jwks", nil)
			if err != nil {
				return err
			}
			cl.print(status, body)
			if status != http.StatusOK {
				return fmt.Errorf("jwks fetch failed with status %d", status)
			}
			return nil
		},
	}

	var aud, sub string
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a short-lived service token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("missing shared secret (flag --secret or env SERVICES_SHARED_TOKEN)")
			}
			payload, _ := json.Marshal(map[string]string{"aud": aud, "sub": sub})
			status, body, err := cl.do("POST", "/v1/service/token", payload)
			if err != nil {
				return err
			}
			cl.print(status, body)
			if status != http.StatusOK {
				return fmt.Errorf("token issue failed with status %d", status)
			}
			return nil
		},
	}
	tokenCmd.Flags().StringVar(&aud, "aud", "", "audience service (server default when empty)")
	tokenCmd.Flags().StringVar(&sub, "sub", "", "subject service (server default when empty)")

	rotateCmd := &cobra.Command{
		Use:   "rotate",
		Short: "Rotate the current signing key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("missing shared secret (flag --secret or env SERVICES_SHARED_TOKEN)")
			}
			status, body, err := cl.do("POST", "/v1/service/rotate", nil)
			if err != nil {
				return err
			}
			cl.print(status, body)
			if status != http.StatusOK {
				return fmt.Errorf("rotation failed with status %d", status)
			}
			return nil
		},
	}

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check trustd liveness",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cl.do("GET", "/healthz", nil)
			if err != nil {
				return err
			}
			cl.print(status, body)
			if status != http.StatusOK {
				return fmt.Errorf("unhealthy: status %d", status)
			}
			return nil
		},
	}

	root.AddCommand(jwksCmd, tokenCmd, rotateCmd, healthCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
