package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/google/go-querystring/query"
)

// ErrNotFound is reported for platform resources which do not exist.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx platform response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// Is reports a 404 response as ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client is a wrapper for making authenticated calls to the platform API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	log        *slog.Logger
}

// NewClient creates a new platform API client. The httpClient is expected to
// carry the platform credentials, for example one made by oauth2.NewClient. If
// no httpClient is provided http.DefaultClient is used.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	// Logger setup.
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(
			os.Stdout,
			&slog.HandlerOptions{Level: slog.LevelDebug},
		))
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		log:        logger,
	}
}

// GetSite fetches a site by name or id.
func (c *Client) GetSite(ctx context.Context, site string) (Site, error) {
	requestURL := fmt.Sprintf("%s/sites/%s", c.baseURL, url.PathEscape(site))

	req, err := c.newRequest(ctx, "GET", requestURL, nil)
	if err != nil {
		return Site{}, err
	}

	var response Site
	if _, err := do(c, req, &response); err != nil {
		c.log.Error(fmt.Sprintf("GetSite: failed to retrieve site %s: %v", site, err))
		return Site{}, fmt.Errorf("site %s: %w", site, err)
	}
	c.log.Debug(fmt.Sprintf("GetSite: retrieved site %s (%s)", response.Name, response.ID))
	return response, nil
}

// GetEnvironment fetches an environment of the site with id siteID.
func (c *Client) GetEnvironment(ctx context.Context, siteID, environment string) (Environment, error) {
	requestURL := fmt.Sprintf("%s/sites/%s/environments/%s", c.baseURL, url.PathEscape(siteID), url.PathEscape(environment))

	req, err := c.newRequest(ctx, "GET", requestURL, nil)
	if err != nil {
		return Environment{}, err
	}

	var response Environment
	if _, err := do(c, req, &response); err != nil {
		c.log.Error(fmt.Sprintf("GetEnvironment: failed to retrieve environment %s: %v", environment, err))
		return Environment{}, fmt.Errorf("environment %s: %w", environment, err)
	}
	c.log.Debug(fmt.Sprintf("GetEnvironment: retrieved environment %s (%s)", response.Name, response.ID))
	return response, nil
}

// CreateBackup starts a backup of an environment and returns the id of the
// workflow performing it. Without elements the whole environment is backed up.
func (c *Client) CreateBackup(ctx context.Context, siteID, environmentID string, elements []string) (string, error) {
	body, err := json.Marshal(createBackupRequest{Elements: elements})
	if err != nil {
		return "", fmt.Errorf("failed to marshal backup request: %w", err)
	}

	req, err := c.newRequest(ctx, "POST", c.backupsURL(siteID, environmentID), body)
	if err != nil {
		c.log.Error(fmt.Sprintf("CreateBackup: new request error: %v", err))
		return "", err
	}

	var response createBackupResponse
	if _, err := do(c, req, &response); err != nil {
		c.log.Error(fmt.Sprintf("CreateBackup: request error: %v", err))
		return "", err
	}
	if response.WorkflowID == "" {
		return "", errors.New("backup response did not contain a workflow id")
	}
	c.log.Debug(fmt.Sprintf("CreateBackup: started workflow %s for environment %s", response.WorkflowID, environmentID))
	return response.WorkflowID, nil
}

// GetWorkflow fetches the state of a workflow.
func (c *Client) GetWorkflow(ctx context.Context, id string) (Workflow, error) {
	requestURL := fmt.Sprintf("%s/workflows/%s", c.baseURL, url.PathEscape(id))

	req, err := c.newRequest(ctx, "GET", requestURL, nil)
	if err != nil {
		return Workflow{}, err
	}

	var response Workflow
	if _, err := do(c, req, &response); err != nil {
		c.log.Error(fmt.Sprintf("GetWorkflow: failed to retrieve workflow %s: %v", id, err))
		return Workflow{}, err
	}
	c.log.Debug(fmt.Sprintf("GetWorkflow: workflow %s is %s", id, response.Status))
	return response, nil
}

// ListBackups lists an environment's backups, newest first.
func (c *Client) ListBackups(ctx context.Context, siteID, environmentID string, opts ListBackupsOptions) ([]Backup, error) {
	params, err := query.Values(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode backup list options: %w", err)
	}
	requestURL := c.backupsURL(siteID, environmentID)
	if encoded := params.Encode(); encoded != "" {
		requestURL += "?" + encoded
	}
	c.log.Debug(fmt.Sprintf("ListBackups request %v", requestURL))

	req, err := c.newRequest(ctx, "GET", requestURL, nil)
	if err != nil {
		return nil, err
	}

	var response []Backup
	if _, err := do(c, req, &response); err != nil {
		c.log.Error(fmt.Sprintf("ListBackups: failed to list backups: %v", err))
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	c.log.Debug(fmt.Sprintf("ListBackups: retrieved %d backups", len(response)))
	return response, nil
}

// GetBackupURL fetches a signed download url for a backup.
func (c *Client) GetBackupURL(ctx context.Context, siteID, environmentID, backupID string) (string, error) {
	requestURL := fmt.Sprintf("%s/%s/url", c.backupsURL(siteID, environmentID), url.PathEscape(backupID))

	req, err := c.newRequest(ctx, "GET", requestURL, nil)
	if err != nil {
		return "", err
	}

	var response backupURLResponse
	if _, err := do(c, req, &response); err != nil {
		c.log.Error(fmt.Sprintf("GetBackupURL: failed to retrieve url for backup %s: %v", backupID, err))
		return "", err
	}
	if response.URL == "" {
		return "", fmt.Errorf("no download url for backup %s", backupID)
	}
	return response.URL, nil
}

// Download writes the archive at a signed backup url to w, returning the number
// of bytes written.
func (c *Client) Download(ctx context.Context, downloadURL string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", downloadURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("download interrupted after %d bytes: %w", n, err)
	}
	c.log.Debug(fmt.Sprintf("Download: wrote %d bytes", n))
	return n, nil
}

func (c *Client) backupsURL(siteID, environmentID string) string {
	return fmt.Sprintf("%s/sites/%s/environments/%s/backups", c.baseURL, url.PathEscape(siteID), url.PathEscape(environmentID))
}

// newRequest is a helper to create a new HTTP request with common headers.
func (c *Client) newRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if method == "POST" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do is a helper to execute an HTTP request and decode the JSON response. A nil
// `v` is supported for API calls not providing a response.
func do[T any](c *Client, req *http.Request, v *T) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return resp, nil
}
