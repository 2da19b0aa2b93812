// Package webapi is the outbound client for the web collaborator. Every
// call is best-effort: failures are logged and never fault the pipeline.
package webapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fairway-data/launch.report/internal/monitoring"
)

// DefaultBaseURL is used when no environment override is present.
const DefaultBaseURL = "http://localhost:8080"

// requestTimeout bounds every call to the web server.
const requestTimeout = 2 * time.Second

// Client issues config-update PUTs to the web server.
type Client struct {
	BaseURL string
	http    *http.Client
}

// NewClient builds a client against the given base URL; an empty base
// falls back to $LAUNCH_WEB_SERVER_URL and then the default.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("LAUNCH_WEB_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// UpdateConfig PUTs {"value": v} to /api/config/<key>. The value may be a
// scalar or an array. Returns false (after logging) on any failure.
func (c *Client) UpdateConfig(key string, value interface{}) bool {
	body, err := json.Marshal(map[string]interface{}{"value": value})
	if err != nil {
		monitoring.Logf("webapi: marshalling %s: %v", key, err)
		return false
	}

	url := fmt.Sprintf("%s/api/config/%s", c.BaseURL, key)
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		monitoring.Logf("webapi: building request for %s: %v", key, err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		monitoring.Logf("webapi: update %s failed: %v (web server may not be running; value saved locally)", key, err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		monitoring.Logf("webapi: update %s returned status %d", key, resp.StatusCode)
		return false
	}
	monitoring.Logf("webapi: updated %s", key)
	return true
}

// PublishShot PUTs a shot-result payload to /api/shot. Best-effort like
// every other call.
func (c *Client) PublishShot(payload interface{}) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		monitoring.Logf("webapi: marshalling shot: %v", err)
		return false
	}
	req, err := http.NewRequest(http.MethodPut, c.BaseURL+"/api/shot", bytes.NewReader(body))
	if err != nil {
		monitoring.Logf("webapi: building shot request: %v", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		monitoring.Logf("webapi: shot publish failed: %v", err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		monitoring.Logf("webapi: shot publish returned status %d", resp.StatusCode)
		return false
	}
	return true
}

// Healthy reports whether the web server answers its health endpoint.
func (c *Client) Healthy() bool {
	resp, err := c.http.Get(c.BaseURL + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
