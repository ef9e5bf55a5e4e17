package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/etnamonitor/etna-archive/internal/config"
	"github.com/sirupsen/logrus"
)

// Client talks to the volcanology agency feed that publishes the daily
// tremor graph and, optionally, a numeric status series alongside it.
type Client struct {
	httpClient *http.Client
	config     *config.Config
	log        *logrus.Entry
}

type StatusPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type loggingTransport struct {
	log *logrus.Entry
}

func NewClient(logger *logrus.Logger, cfg *config.Config) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: &loggingTransport{log: logger.WithField("component", "upstream_transport")},
		},
		config: cfg,
		log:    logger.WithField("component", "upstream_client"),
	}
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "EtnaArchive/1.0")
	if c.config.UpstreamUser != "" && c.config.UpstreamPassword != "" {
		req.SetBasicAuth(c.config.UpstreamUser, c.config.UpstreamPassword)
	}
	return c.httpClient.Do(req)
}

// FetchGraph downloads the current daily monitoring graph as PNG bytes.
func (c *Client) FetchGraph(ctx context.Context) ([]byte, error) {
	resp, err := c.get(ctx, c.config.UpstreamGraphURL)
	if err != nil {
		return nil, fmt.Errorf("graph request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("graph fetch failed with status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("unexpected graph content type %q", contentType)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph body: %w", err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("upstream returned an empty graph")
	}
	return body, nil
}

// FetchStatus downloads the numeric tremor series published next to the
// graph. Returns nil when no status URL is configured.
func (c *Client) FetchStatus(ctx context.Context) ([]StatusPoint, error) {
	if c.config.UpstreamStatusURL == "" {
		return nil, nil
	}

	resp, err := c.get(ctx, c.config.UpstreamStatusURL)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status fetch failed with status %d", resp.StatusCode)
	}

	var statusResponse struct {
		Data []StatusPoint `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&statusResponse); err != nil {
		c.log.WithError(err).Error("Invalid status response from upstream")
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}
	return statusResponse.Data, nil
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	log := t.log.WithFields(logrus.Fields{
		"method": req.Method,
		"url":    req.URL.String(),
	})

	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		log.WithError(err).Error("HTTP request failed")
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"status_code": resp.StatusCode,
		"duration":    time.Since(start),
	}).Debug("HTTP request completed")
	return resp, nil
}
