package selection

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/memodrill/memodrill/pkg/types"
)

// HTTPContentClient is a ContentProvider over the content platform's
// internal JSON API.
type HTTPContentClient struct {
	baseURL string
	client  *http.Client
}

var _ ContentProvider = (*HTTPContentClient)(nil)

// NewHTTPContentClient creates a client for the given base URL.
func NewHTTPContentClient(baseURL string, client *http.Client) *HTTPContentClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPContentClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// ItemsInContainers fetches items for the given containers and mode.
func (c *HTTPContentClient) ItemsInContainers(ctx context.Context, containerIDs []int64, mode types.StudyMode) ([]ContentItem, error) {
	ids := make([]string, len(containerIDs))
	for i, id := range containerIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	q := url.Values{
		"containers": {strings.Join(ids, ",")},
		"mode":       {string(mode)},
	}

	var out struct {
		Items []ContentItem `json:"items"`
	}
	if err := c.getJSON(ctx, "/internal/v1/items?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Item fetches one item by id.
func (c *HTTPContentClient) Item(ctx context.Context, itemID int64) (*ContentItem, error) {
	var item ContentItem
	if err := c.getJSON(ctx, fmt.Sprintf("/internal/v1/items/%d", itemID), &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *HTTPContentClient) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("selection: failed to build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("selection: content request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("selection: content platform returned %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("selection: failed to decode content response: %w", err)
	}
	return nil
}

// HTTPAccessClient is an AccessController over the same internal API.
type HTTPAccessClient struct {
	inner *HTTPContentClient
}

var _ AccessController = (*HTTPAccessClient)(nil)

// NewHTTPAccessClient creates an access client for the given base URL.
func NewHTTPAccessClient(baseURL string, client *http.Client) *HTTPAccessClient {
	return &HTTPAccessClient{inner: NewHTTPContentClient(baseURL, client)}
}

// CanRead asks the platform whether the user may study the container.
func (a *HTTPAccessClient) CanRead(ctx context.Context, userID string, containerID int64) (bool, error) {
	var out struct {
		Allowed bool `json:"allowed"`
	}
	path := fmt.Sprintf("/internal/v1/access/%s/containers/%d", url.PathEscape(userID), containerID)
	if err := a.inner.getJSON(ctx, path, &out); err != nil {
		return false, err
	}
	return out.Allowed, nil
}

// ReadableContainers lists the containers the user may study.
func (a *HTTPAccessClient) ReadableContainers(ctx context.Context, userID string) ([]int64, error) {
	var out struct {
		ContainerIDs []int64 `json:"container_ids"`
	}
	path := "/internal/v1/access/" + url.PathEscape(userID) + "/containers"
	if err := a.inner.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.ContainerIDs, nil
}

// IsAdmin reports whether the user has platform-wide read access.
func (a *HTTPAccessClient) IsAdmin(ctx context.Context, userID string) (bool, error) {
	var out struct {
		Admin bool `json:"admin"`
	}
	path := "/internal/v1/access/" + url.PathEscape(userID)
	if err := a.inner.getJSON(ctx, path, &out); err != nil {
		return false, err
	}
	return out.Admin, nil
}
