package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/jobpulse/errors"
)

// apiClient talks to a running jobpulse server
type apiClient struct {
	base string
	http *http.Client
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

var apiURL string

// addAPIFlag registers --api on a client command
func addAPIFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&apiURL, "api", "", "Server base URL (default http://localhost:<server.port>)")
}

func newAPIClient() (*apiClient, error) {
	base := apiURL
	if base == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		host := cfg.Server.Host
		if host == "" || host == "0.0.0.0" {
			host = "localhost"
		}
		base = fmt.Sprintf("http://%s:%d", host, cfg.ServerPort())
	}
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// do sends a request and decodes the envelope's data into out
func (c *apiClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to encode request")
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		err = errors.Wrapf(err, "%s %s", method, path)
		return errors.WithHint(err, "is the server running? start it with: jobpulse server")
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return errors.Wrapf(err, "%s %s: HTTP %d with unreadable body", method, path, resp.StatusCode)
	}
	if resp.StatusCode >= 300 || !env.Success {
		return errors.Newf("%s (HTTP %d)", env.Message, resp.StatusCode)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return errors.Wrap(err, "failed to decode response")
		}
	}
	return nil
}
