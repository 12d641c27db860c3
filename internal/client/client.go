// internal/client/client.go
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/MereWhiplash/vectorbank/internal/apitypes"
	"github.com/MereWhiplash/vectorbank/internal/types"
)

// Error is a non-2xx reply from the API
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Is maps status codes onto the shared sentinels
func (e *Error) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusNotFound:
		return target == types.ErrNotFound
	case http.StatusBadRequest:
		return target == types.ErrInvalidInput
	}
	return false
}

// Client is an HTTP client for the vectorbank API
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a new API client
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func collectionPath(collection string, parts ...string) string {
	p := "/v1/collections/" + url.PathEscape(collection)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp apitypes.ErrorResponse
		json.NewDecoder(resp.Body).Decode(&errResp)
		return &Error{StatusCode: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Health checks the server
func (c *Client) Health(ctx context.Context) (*apitypes.HealthResponse, error) {
	var result apitypes.HealthResponse
	if err := c.doRequest(ctx, "GET", "/health", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Upsert writes a record
func (c *Client) Upsert(ctx context.Context, collection string, in types.UpsertInput) (*types.EmbeddingRecord, error) {
	req := apitypes.UpsertRequest{
		SourceID:       in.SourceID,
		Content:        in.Content,
		EmbeddingModel: in.Model,
		Vector:         in.Vector,
	}

	var result apitypes.RecordResponse
	if err := c.doRequest(ctx, "PUT", collectionPath(collection, "records", in.ID), req, &result); err != nil {
		return nil, err
	}
	return result.Record, nil
}

// Get fetches a record
func (c *Client) Get(ctx context.Context, collection, id string) (*types.EmbeddingRecord, error) {
	var result apitypes.RecordResponse
	if err := c.doRequest(ctx, "GET", collectionPath(collection, "records", id), nil, &result); err != nil {
		return nil, err
	}
	return result.Record, nil
}

// Delete removes a record
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	return c.doRequest(ctx, "DELETE", collectionPath(collection, "records", id), nil, nil)
}

// DeleteSource removes every record of a source
func (c *Client) DeleteSource(ctx context.Context, collection, sourceID string) ([]string, error) {
	var result apitypes.DeleteSourceResponse
	if err := c.doRequest(ctx, "DELETE", collectionPath(collection, "sources", sourceID), nil, &result); err != nil {
		return nil, err
	}
	return result.Deleted, nil
}

// Search finds records similar to vector
func (c *Client) Search(ctx context.Context, collection string, vector []float32, opts types.SearchOpts) (*apitypes.SearchResponse, error) {
	req := apitypes.SearchRequest{
		Vector:    vector,
		Threshold: opts.Threshold,
		Limit:     opts.Limit,
		SourceID:  opts.SourceID,
		Exact:     opts.ForceExact,
	}

	var result apitypes.SearchResponse
	if err := c.doRequest(ctx, "POST", collectionPath(collection, "search"), req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Buckets reports a collection's buckets
func (c *Client) Buckets(ctx context.Context, collection string) ([]types.BucketStatus, error) {
	var result apitypes.BucketsResponse
	if err := c.doRequest(ctx, "GET", collectionPath(collection, "buckets"), nil, &result); err != nil {
		return nil, err
	}
	return result.Buckets, nil
}

// Rebuild rebuilds one bucket's index
func (c *Client) Rebuild(ctx context.Context, collection string, dim int) (*types.BucketStatus, error) {
	var result apitypes.RebuildResponse
	path := collectionPath(collection, "buckets", strconv.Itoa(dim), "rebuild")
	if err := c.doRequest(ctx, "POST", path, nil, &result); err != nil {
		return nil, err
	}
	return &result.Bucket, nil
}
