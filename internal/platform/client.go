package platform

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rflorenc/towerxfer/internal/models"
)

// Client is the authenticated HTTP client shared by the registry and discovery.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// HTTPError is returned for any non-2xx response.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, truncate(e.Body, 200))
}

// StatusCode extracts the HTTP status from err, or 0 if err is not an HTTPError.
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}

// NewClient creates a Client from a Connection.
func NewClient(conn *models.Connection) *Client {
	transport := &http.Transport{}
	if conn.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	} else if conn.CACert != "" {
		caCertPool := x509.NewCertPool()
		if caCertPool.AppendCertsFromPEM([]byte(conn.CACert)) {
			transport.TLSClientConfig = &tls.Config{RootCAs: caCertPool}
		}
	}
	return &Client{
		baseURL:  conn.BaseURL(),
		username: conn.Username,
		password: conn.Password,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   60 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Re-apply basic auth on redirects
				if len(via) > 0 {
					req.SetBasicAuth(conn.Username, conn.Password)
				}
				return nil
			},
		},
	}
}

// paginatedResponse is the standard AWX/AAP paginated response envelope.
type paginatedResponse struct {
	Count   int               `json:"count"`
	Next    *string           `json:"next"`
	Results []json.RawMessage `json:"results"`
}

// do sends one request. target is either a path relative to the base URL or
// an absolute URL (pagination links).
func (c *Client) do(method, target string, params url.Values, payload interface{}) ([]byte, int, error) {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("marshaling body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	u := target
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = c.baseURL + target
	}
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequest(method, u, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, resp.StatusCode, &HTTPError{Method: method, Path: target, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, resp.StatusCode, nil
}

// Get performs an authenticated GET request and returns the response body.
func (c *Client) Get(path string, params url.Values) ([]byte, error) {
	body, _, err := c.do(http.MethodGet, path, params, nil)
	return body, err
}

// GetJSON performs an authenticated GET and unmarshals the response into dest.
func (c *Client) GetJSON(path string, params url.Values, dest interface{}) error {
	body, err := c.Get(path, params)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, dest)
}

// GetAll fetches all pages of a paginated endpoint, returning all results.
func (c *Client) GetAll(path string, params url.Values) ([]models.Resource, error) {
	var all []models.Resource
	current, query := path, params

	for current != "" {
		body, _, err := c.do(http.MethodGet, current, query, nil)
		if err != nil {
			return nil, err
		}

		var page paginatedResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("parsing response: %w", err)
		}

		for _, raw := range page.Results {
			var res models.Resource
			if err := json.Unmarshal(raw, &res); err != nil {
				return nil, fmt.Errorf("parsing resource: %w", err)
			}
			all = append(all, res)
		}

		// next already carries the query string
		current, query = "", nil
		if page.Next != nil && *page.Next != "" {
			current = *page.Next
		}
	}
	return all, nil
}

// Options performs an authenticated OPTIONS request and decodes the body.
func (c *Client) Options(path string) (models.Resource, error) {
	body, _, err := c.do(http.MethodOptions, path, nil, nil)
	if err != nil {
		return nil, err
	}
	var res models.Resource
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("parsing OPTIONS %s: %w", path, err)
	}
	return res, nil
}

// Post performs an authenticated POST request with a JSON body.
func (c *Client) Post(path string, payload interface{}) ([]byte, int, error) {
	return c.do(http.MethodPost, path, nil, payload)
}

// Patch performs an authenticated PATCH request.
func (c *Client) Patch(path string, payload interface{}) ([]byte, int, error) {
	return c.do(http.MethodPatch, path, nil, payload)
}

// Delete performs an authenticated DELETE request. A 404 counts as success.
func (c *Client) Delete(path string) error {
	_, status, err := c.do(http.MethodDelete, path, nil, nil)
	if status == http.StatusNotFound {
		return nil // already gone
	}
	return err
}

// Ping checks connectivity by hitting the API root.
func (c *Client) Ping(apiPath string) error {
	_, err := c.Get(apiPath, nil)
	return err
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// decodeResource unmarshals a single object response body.
func decodeResource(body []byte) (models.Resource, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return models.Resource{}, nil
	}
	var res models.Resource
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("parsing resource: %w", err)
	}
	return res, nil
}
