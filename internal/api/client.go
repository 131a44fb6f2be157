// Package api implements the signed Shadowserver reporting API client.
//
// Every request body is a JSON object carrying the account key; the body is
// signed with HMAC-SHA256 over its serialized bytes and the hex digest is
// sent in the HMAC2 header. Report payloads themselves are fetched from a
// separate static download root that is not signed.
package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/BadgerOps/shadowsync/internal/config"
	"github.com/BadgerOps/shadowsync/internal/safety"
)

// Report is one entry from the reports/list method.
type Report struct {
	ID        string `json:"id"`
	File      string `json:"file"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// Date returns the report date ("YYYY-MM-DD") portion of the timestamp.
func (r Report) Date() string {
	if len(r.Timestamp) >= 10 {
		return r.Timestamp[:10]
	}
	return r.Timestamp
}

// Client calls the signed reporting API.
type Client struct {
	url         string
	downloadURL string
	key         string
	secret      []byte
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewClient creates an API client from configuration.
func NewClient(cfg config.APIConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	return &Client{
		url:         cfg.URL,
		downloadURL: cfg.DownloadURL,
		key:         cfg.Key,
		secret:      []byte(cfg.Secret),
		httpClient:  safety.NewHTTPClient(timeout),
		logger:      logger,
	}
}

// Call invokes a method with the given request object and returns the raw
// response bytes. The account key is added to a copy of the request before
// signing; the caller's map is left untouched.
func (c *Client) Call(ctx context.Context, method string, request map[string]any) ([]byte, error) {
	signed := make(map[string]any, len(request)+1)
	for k, v := range request {
		signed[k] = v
	}
	signed["apikey"] = c.key

	body, err := json.Marshal(signed)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	mac := hmac.New(sha256.New, c.secret)
	mac.Write(body)
	digest := hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("HMAC2", digest)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s returned %s: %s", method, resp.Status, truncate(data, 200))
	}
	return data, nil
}

// CallJSON invokes a method and unmarshals the JSON response into out.
func (c *Client) CallJSON(ctx context.Context, method string, request map[string]any, out any) error {
	data, err := c.Call(ctx, method, request)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing %s response: %w", method, err)
	}
	return nil
}

// ReportsList lists the reports published for a date or "start:end" range,
// optionally restricted to a subset of report names.
func (c *Client) ReportsList(ctx context.Context, date string, reports []string) ([]Report, error) {
	request := map[string]any{"date": date}
	if len(reports) > 0 {
		request["reports"] = reports
	}

	var out []Report
	if err := c.CallJSON(ctx, "reports/list", request, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DownloadURL returns the unsigned bulk-download URL for a report id.
func (c *Client) DownloadURL(id string) string {
	return c.downloadURL + id
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
