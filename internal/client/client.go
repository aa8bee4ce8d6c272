// Package client is the Go client for the lector HTTP API.
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
)

// Client talks to a lectord instance.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	// streaming requests can stay open for as long as generation runs, so
	// they get a client without a global timeout; cancellation comes from
	// the caller's context.
	streaming *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL:   baseURL,
		token:     token,
		http:      &http.Client{Timeout: 60 * time.Second},
		streaming: &http.Client{},
	}
}

type SubmitRequest struct {
	URL   string `json:"url,omitempty"`
	Text  string `json:"text,omitempty"`
	Title string `json:"title,omitempty"`
	Voice string `json:"voice,omitempty"`
	Model string `json:"model,omitempty"`
}

type SubmitResult struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

type Segment struct {
	Index       int    `json:"index"`
	Hash        string `json:"hash"`
	Chars       int    `json:"chars"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	Bytes       int64  `json:"bytes"`
	Ready       bool   `json:"ready"`
}

type Document struct {
	ID                string  `json:"id"`
	SourceURL         string  `json:"source_url"`
	Title             string  `json:"title"`
	Voice             string  `json:"voice"`
	Model             string  `json:"model"`
	Status            string  `json:"status"`
	SegmentsCompleted int     `json:"segments_completed"`
	SegmentsTotal     int     `json:"segments_total"`
	PositionSeconds   float64 `json:"position_seconds"`
	ErrorMessage      string  `json:"error"`
	CreatedAt         string  `json:"created_at"`
}

type DocumentStatus struct {
	Document
	Segments []Segment `json:"segments"`
}

type apiError struct {
	Message string `json:"error"`
}

// Error is returned for non-2xx API responses.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

func (c *Client) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	var result SubmitResult
	err := c.doJSON(ctx, http.MethodPost, "/api/submit", req, &result)
	return result, err
}

func (c *Client) Documents(ctx context.Context) ([]Document, error) {
	var result struct {
		Documents []Document `json:"documents"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/documents", nil, &result)
	return result.Documents, err
}

func (c *Client) Status(ctx context.Context, id string) (DocumentStatus, error) {
	var result DocumentStatus
	err := c.doJSON(ctx, http.MethodGet, "/api/status?id="+url.QueryEscape(id), nil, &result)
	return result, err
}

func (c *Client) UpdatePosition(ctx context.Context, id string, seconds float64) error {
	body := map[string]any{"id": id, "position_seconds": seconds}
	return c.doJSON(ctx, http.MethodPost, "/api/progress", body, nil)
}

// Stream downloads one segment's audio in full. For a segment still being
// generated the server holds the response open until generation of that
// segment finishes, so the returned bytes are always a complete recording.
func (c *Client) Stream(ctx context.Context, id string, segment int) ([]byte, error) {
	path := "/api/stream?id=" + url.QueryEscape(id) + "&segment=" + strconv.Itoa(segment)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.streaming.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, decodeError(resp)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	var ae apiError
	if err := json.NewDecoder(resp.Body).Decode(&ae); err != nil || ae.Message == "" {
		ae.Message = resp.Status
	}
	return &Error{StatusCode: resp.StatusCode, Message: ae.Message}
}
