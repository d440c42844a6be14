// internal/api/client.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/watashi-museum/museum/internal/blob"
	"github.com/watashi-museum/museum/pkg/core"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.Code)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Code, e.Message)
}

// TokenResponse is the body of a token issue response.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// TokenRequest is the body of a token issue request.
type TokenRequest struct {
	UserID    string `json:"userId"`
	Name      string `json:"name,omitempty"`
	IssuerKey string `json:"issuerKey"`
}

// UploadResponse is the body of an image upload response.
type UploadResponse struct {
	URL string `json:"url"`
}

// Client handles communication with the museum space service.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a new API client. token may be empty for read-only use.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// BaseURL returns the service root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Healthcheck checks if the space service is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthcheck", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// IssueToken exchanges the issuer key for a signed token of userID.
func (c *Client) IssueToken(ctx context.Context, req TokenRequest) (TokenResponse, error) {
	var out TokenResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/auth/token", req, &out)
	return out, err
}

// Frames fetches the frame map of a space.
func (c *Client) Frames(ctx context.Context, spaceID string) (map[string]core.FrameRecord, error) {
	out := make(map[string]core.FrameRecord)
	if err := c.doJSON(ctx, http.MethodGet, spacePath(spaceID, "frames"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PutFrame writes one slot of a space. Requires a curator token.
func (c *Client) PutFrame(ctx context.Context, spaceID, slotID string, frame core.FrameRecord) error {
	return c.doJSON(ctx, http.MethodPut, spacePath(spaceID, "frames", slotID), frame, nil)
}

// Visitors fetches the fresh poses of a space.
func (c *Client) Visitors(ctx context.Context, spaceID string) ([]core.ViewerPose, error) {
	var out []core.ViewerPose
	if err := c.doJSON(ctx, http.MethodGet, spacePath(spaceID, "visitors"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UploadImage streams a picture to a slot of a space and returns its URL.
func (c *Client) UploadImage(ctx context.Context, spaceID, slotID, filename string, r io.Reader) (string, error) {
	// Create multipart form
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	// Write form file in goroutine
	errCh := make(chan error, 1)
	go func() {
		part, err := writer.CreateFormFile("file", filename)
		if err != nil {
			errCh <- fmt.Errorf("failed to create form file: %w", err)
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, r); err != nil {
			errCh <- fmt.Errorf("failed to copy file: %w", err)
			pw.CloseWithError(err)
			return
		}
		errCh <- writer.Close()
		pw.Close()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+spacePath(spaceID, "frames", slotID, "image"), pr)
	if err != nil {
		pr.Close()
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return "", fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	// Check goroutine error
	if writeErr := <-errCh; writeErr != nil {
		return "", writeErr
	}

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var out UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	return out.URL, nil
}

// Blobs returns a blob.Store that uploads through this client.
func (c *Client) Blobs() blob.Store {
	return remoteBlobs{c: c}
}

type remoteBlobs struct {
	c *Client
}

func (r remoteBlobs) Put(ctx context.Context, spaceID, slotID, filename string, body io.Reader) (string, error) {
	return r.c.UploadImage(ctx, spaceID, slotID, filename, body)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var body struct {
		Message string `json:"message"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
	return &StatusError{Code: resp.StatusCode, Message: body.Message}
}

func spacePath(spaceID string, parts ...string) string {
	p := "/api/v1/spaces/" + url.PathEscape(spaceID)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}
