// Package confluence publishes scan reports to Confluence pages via the
// REST API.
package confluence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/emptyset-io/cloudsweep/telemetry"
)

// Page is the slice of Confluence page metadata we care about.
type Page struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Client is a minimal Confluence REST client using basic auth with an API
// token.
type Client struct {
	baseURL  string
	username string
	apiToken string

	// HTTPClient can be replaced in tests; defaults to a 30s-timeout client.
	HTTPClient *http.Client

	logger *telemetry.Logger
}

// NewClient builds a client for one Confluence instance.
func NewClient(baseURL, username, apiToken string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		apiToken:   apiToken,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		logger:     telemetry.NewLogger("confluence"),
	}
}

// FindPage looks a page up by space and exact title. A missing page is
// (nil, nil), not an error.
func (c *Client) FindPage(ctx context.Context, spaceKey, title string) (*Page, error) {
	endpoint := fmt.Sprintf("%s/rest/api/content?spaceKey=%s&title=%s&limit=1",
		c.baseURL, url.QueryEscape(spaceKey), url.QueryEscape(title))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Results []Page `json:"results"`
	}
	if err := c.do(req, &result); err != nil {
		return nil, fmt.Errorf("failed to search for page %q: %w", title, err)
	}
	if len(result.Results) == 0 {
		return nil, nil
	}
	return &result.Results[0], nil
}

// CreatePage creates a storage-format page under parentID.
func (c *Client) CreatePage(ctx context.Context, spaceKey, title, body, parentID string) (*Page, error) {
	payload := map[string]any{
		"type":  "page",
		"title": title,
		"space": map[string]string{"key": spaceKey},
		"body": map[string]any{
			"storage": map[string]string{
				"value":          body,
				"representation": "storage",
			},
		},
	}
	if parentID != "" {
		payload["ancestors"] = []map[string]string{{"id": parentID}}
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/rest/api/content", bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var page Page
	if err := c.do(req, &page); err != nil {
		return nil, fmt.Errorf("failed to create page %q: %w", title, err)
	}

	c.logger.WithContext(ctx).Info().
		Str("page_id", page.ID).
		Str("title", title).
		Msg("page created")
	return &page, nil
}

// AttachFile uploads (or replaces) a file attachment on a page.
func (c *Client) AttachFile(ctx context.Context, pageID, path, comment string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open attachment: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	if comment != "" {
		if err := writer.WriteField("comment", comment); err != nil {
			return err
		}
	}
	if err := writer.Close(); err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/rest/api/content/%s/child/attachment", c.baseURL, pageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	// Required by Confluence for multipart endpoints.
	req.Header.Set("X-Atlassian-Token", "nocheck")

	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("failed to attach %s to page %s: %w", filepath.Base(path), pageID, err)
	}

	c.logger.WithContext(ctx).Info().
		Str("page_id", pageID).
		Str("file", filepath.Base(path)).
		Msg("attachment uploaded")
	return nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.SetBasicAuth(c.username, c.apiToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("confluence returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
