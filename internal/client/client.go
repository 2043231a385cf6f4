// Package client submits captured frames to a verdict service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// FileField is the multipart field the frame is sent in.
const FileField = "file"

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 1 << 20

// ErrNoVerdict is returned when a response carries no verdict key.
var ErrNoVerdict = errors.New("response carries no verdict")

// Verdict keys returned by the two services.
const (
	KeyVictory = "v"
	KeySmile   = "smile_detected"
)

// Result is one verdict observed from a service.
type Result struct {
	// Key is the response key the verdict came in: KeyVictory or KeySmile.
	Key     string
	Verdict bool
}

// ServiceError is a JSON error body returned by the service.
type ServiceError struct {
	Status  int
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service returned %d: %s", e.Status, e.Message)
}

// Client posts frames to one endpoint.
type Client struct {
	url  string
	http *http.Client
}

// New creates a Client for the endpoint at url.
func New(url string, timeout time.Duration) *Client {
	return &Client{
		url:  url,
		http: &http.Client{Timeout: timeout},
	}
}

// URL returns the endpoint the client posts to.
func (c *Client) URL() string {
	return c.url
}

// Detect uploads one encoded frame and returns the verdict.
func (c *Client) Detect(ctx context.Context, frame []byte) (Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(FileField, "frame.jpg")
	if err != nil {
		return Result{}, err
	}
	if _, err := fw.Write(frame); err != nil {
		return Result{}, err
	}
	if err := mw.Close(); err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("post frame: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}
	return parseResponse(resp.StatusCode, data)
}

// parseResponse extracts the verdict from a service body.
func parseResponse(status int, data []byte) (Result, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(data, &body); err != nil {
		if status < 200 || status > 299 {
			return Result{}, &ServiceError{Status: status, Message: http.StatusText(status)}
		}
		return Result{}, fmt.Errorf("decode response: %w", err)
	}

	if raw, ok := body["error"]; ok {
		var msg string
		if err := json.Unmarshal(raw, &msg); err != nil {
			msg = string(raw)
		}
		return Result{}, &ServiceError{Status: status, Message: msg}
	}
	if status < 200 || status > 299 {
		return Result{}, &ServiceError{Status: status, Message: http.StatusText(status)}
	}

	for _, key := range []string{KeyVictory, KeySmile} {
		raw, ok := body[key]
		if !ok {
			continue
		}
		var verdict bool
		if err := json.Unmarshal(raw, &verdict); err != nil {
			return Result{}, fmt.Errorf("decode %q: %w", key, err)
		}
		return Result{Key: key, Verdict: verdict}, nil
	}
	return Result{}, ErrNoVerdict
}
