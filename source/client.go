package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// TransientError marks a network-level failure that the task layer may
// retry; the core never retries on its own.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient source error: %v", e.Cause) }

func (e *TransientError) Unwrap() error { return e.Cause }

// IsTransient reports whether err is a retriable source failure.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// JobMetadata carries the crawl statistics used to initialize a Dump.
type JobMetadata struct {
	RunningTime  int64 `json:"running_time"`
	FinishedTime int64 `json:"finished_time"`
	ScrapyStats  struct {
		ItemScrapedCount int `json:"item_scraped_count"`
	} `json:"scrapystats"`
}

// StartedAt converts the millisecond start timestamp to UTC.
func (m JobMetadata) StartedAt() time.Time { return time.UnixMilli(m.RunningTime).UTC() }

// EndedAt converts the millisecond finish timestamp to UTC.
func (m JobMetadata) EndedAt() time.Time { return time.UnixMilli(m.FinishedTime).UTC() }

// Client talks to the crawler-export storage API with API-key auth.
type Client struct {
	httpc   *http.Client
	baseURL string
	apiKey  string
}

// NewClient returns a Client for the given endpoint.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		httpc:   &http.Client{Timeout: 5 * time.Minute},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	var u = c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.SetBasicAuth(c.apiKey, "")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return &TransientError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &TransientError{Cause: fmt.Errorf("GET %s: %s", path, resp.Status)}
	} else if resp.StatusCode != http.StatusOK {
		var body, _ = io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("GET %s: %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}

	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// Metadata fetches the job's crawl statistics.
func (c *Client) Metadata(ctx context.Context, job string) (JobMetadata, error) {
	var meta JobMetadata
	var err = c.get(ctx, "/jobs/"+url.PathEscape(job), nil, &meta)
	return meta, err
}

// JobKeys lists finished job keys, optionally filtered by tags and state.
func (c *Client) JobKeys(ctx context.Context, tags []string, state string) ([]string, error) {
	var query = url.Values{}
	for _, tag := range tags {
		if tag != "" {
			query.Add("has_tag", tag)
		}
	}
	if state != "" {
		query.Set("state", state)
	}
	var keys []string
	if err := c.get(ctx, "/jobq", query, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// ItemIterator streams fetch-chunks of items. Next returns a nil chunk with
// a nil error once the range is exhausted.
type ItemIterator interface {
	Next(ctx context.Context) ([]Item, error)
}

// Items returns an iterator over items[start, start+count) of the job,
// fetched in chunks of chunkSize.
func (c *Client) Items(job string, start, count, chunkSize int) ItemIterator {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	return &itemIterator{client: c, job: job, offset: start, remaining: count, chunkSize: chunkSize}
}

type itemIterator struct {
	client    *Client
	job       string
	offset    int
	remaining int
	chunkSize int
	done      bool
}

func (it *itemIterator) Next(ctx context.Context) ([]Item, error) {
	if it.done || it.remaining <= 0 {
		return nil, nil
	}
	var n = it.chunkSize
	if it.remaining < n {
		n = it.remaining
	}

	var query = url.Values{}
	query.Set("start", strconv.Itoa(it.offset))
	query.Set("count", strconv.Itoa(n))

	var chunk []Item
	if err := it.client.get(ctx, "/items/"+url.PathEscape(it.job), query, &chunk); err != nil {
		return nil, err
	}
	if len(chunk) == 0 {
		it.done = true
		return nil, nil
	}

	it.offset += len(chunk)
	it.remaining -= len(chunk)
	if len(chunk) < n {
		it.done = true
	}
	return chunk, nil
}

// SliceIterator serves items from memory in chunks; used by tests and by
// callers that already hold the items.
type SliceIterator struct {
	items     []Item
	chunkSize int
}

// NewSliceIterator returns an iterator over a window of the given items.
func NewSliceIterator(items []Item, start, count, chunkSize int) *SliceIterator {
	if start > len(items) {
		start = len(items)
	}
	var end = len(items)
	if count >= 0 && start+count < end {
		end = start + count
	}
	if chunkSize <= 0 {
		chunkSize = 500
	}
	return &SliceIterator{items: items[start:end], chunkSize: chunkSize}
}

// Next implements ItemIterator.
func (it *SliceIterator) Next(context.Context) ([]Item, error) {
	if len(it.items) == 0 {
		return nil, nil
	}
	var n = it.chunkSize
	if len(it.items) < n {
		n = len(it.items)
	}
	var chunk = it.items[:n]
	it.items = it.items[n:]
	return chunk, nil
}
