package historian

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"
)

// Tag is one remote tag as listed by the bookmark service.
type Tag struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// BookmarkRequest is one element of a bulk bookmark-creation call.
type BookmarkRequest struct {
	Title     string  `json:"title"`
	URL       string  `json:"url"`
	TagIDs    []int64 `json:"tagIds"`
	Scrapable bool    `json:"scrapable"`
}

// BulkResult is one index-aligned element of a bulk response: either resolved
// with a bookmark id, or unresolved (the service returned null for that slot).
type BulkResult struct {
	Resolved bool
	ID       int64
}

// BulkResponse carries the outcome of one bulk call. PerItem is true only when
// the call succeeded with a list-shaped body; Results is then index-aligned
// with the request. Otherwise StatusCode and Body feed whole-batch
// classification.
type BulkResponse struct {
	StatusCode int
	Body       string
	PerItem    bool
	Results    []BulkResult
}

// RemoteClient is the capability surface of the bookmark service the sync
// engine depends on. Transport details stay behind this interface.
type RemoteClient interface {
	SignIn() error
	ListTags() ([]Tag, error)
	CreateTags(titles []string) error
	BulkAdd(reqs []BookmarkRequest) (BulkResponse, error)
}

// FindFirstClient talks to a FindFirst bookmark server over HTTP. Sign-in
// establishes a session cookie reused by later calls. Every call carries a
// bounded timeout; a single HTTP call is never retried in place.
type FindFirstClient struct {
	baseURL  string
	username string
	password string
	httpc    *http.Client
}

func NewFindFirstClient(baseURL, username, password string) (*FindFirstClient, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &FindFirstClient{
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		username: username,
		password: password,
		httpc:    &http.Client{Jar: jar},
	}, nil
}

func (c *FindFirstClient) SignIn() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/user/signin", nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.username, c.password)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("signin failed (http-%d)", resp.StatusCode)
	}
	return nil
}

func (c *FindFirstClient) ListTags() ([]Tag, error) {
	status, body, err := c.do(http.MethodGet, "/api/tags", nil, 15*time.Second)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("list tags failed (http-%d)", status)
	}
	var tags []Tag
	if err := json.Unmarshal(body, &tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return tags, nil
}

func (c *FindFirstClient) CreateTags(titles []string) error {
	status, _, err := c.do(http.MethodPost, "/api/tags", titles, 20*time.Second)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return fmt.Errorf("create tags failed (http-%d)", status)
	}
	return nil
}

func (c *FindFirstClient) BulkAdd(reqs []BookmarkRequest) (BulkResponse, error) {
	status, body, err := c.do(http.MethodPost, "/api/bookmark/addBookmarks", reqs, 45*time.Second)
	if err != nil {
		return BulkResponse{}, err
	}
	return decodeBulkBody(status, body), nil
}

// decodeBulkBody resolves the dynamically shaped bulk response into the
// per-item variant at the boundary, before any engine logic sees it.
func decodeBulkBody(statusCode int, body []byte) BulkResponse {
	resp := BulkResponse{StatusCode: statusCode, Body: string(body)}
	if statusCode != http.StatusOK && statusCode != http.StatusCreated {
		return resp
	}
	var elems []*struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(body, &elems); err != nil {
		// Success without a list body falls back to whole-batch handling.
		return resp
	}
	resp.PerItem = true
	resp.Results = make([]BulkResult, len(elems))
	for i, e := range elems {
		if e != nil && e.ID != 0 {
			resp.Results[i] = BulkResult{Resolved: true, ID: e.ID}
		}
	}
	return resp
}

func (c *FindFirstClient) do(method, path string, payload any, timeout time.Duration) (int, []byte, error) {
	var rdr io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		rdr = bytes.NewReader(b)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}
