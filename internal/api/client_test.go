// internal/api/client_test.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/watashi-museum/museum/pkg/core"
)

func TestNew(t *testing.T) {
	c := New("http://localhost:8080", "tok")

	if c == nil {
		t.Fatal("New returned nil")
	}
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("expected baseURL=http://localhost:8080, got %s", c.baseURL)
	}
	if c.token != "tok" {
		t.Errorf("expected token=tok, got %s", c.token)
	}
	if c.httpClient == nil {
		t.Error("httpClient is nil")
	}
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	c := New("http://localhost:8080/", "")
	if c.BaseURL() != "http://localhost:8080" {
		t.Errorf("expected trailing slash trimmed, got %s", c.BaseURL())
	}
}

func TestHealthcheck_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthcheck" {
			t.Errorf("expected path /healthcheck, got %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(server.URL, "")
	if err := c.Healthcheck(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestHealthcheck_Failure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := New(server.URL, "")
	if err := c.Healthcheck(context.Background()); err == nil {
		t.Error("expected error for 503 response")
	}
}

func TestFrames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/spaces/alice/frames", r.URL.Path)
		_, _ = io.WriteString(w, `{"frame-back-0":{"title":"Dawn","imageUrl":"https://img/1.jpg","isRotated":true}}`)
	}))
	defer server.Close()

	frames, err := New(server.URL, "").Frames(context.Background(), "alice")
	require.NoError(t, err)
	require.Contains(t, frames, "frame-back-0")
	assert.Equal(t, "Dawn", frames["frame-back-0"].Title)
	assert.True(t, frames["frame-back-0"].IsRotated)
}

func TestPutFrame_SendsTokenAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/spaces/alice/frames/frame-left-2", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var rec core.FrameRecord
		require.NoError(t, json.NewDecoder(r.Body).Decode(&rec))
		assert.Equal(t, "Noon", rec.Title)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	err := New(server.URL, "tok").PutFrame(context.Background(), "alice", "frame-left-2", core.FrameRecord{Title: "Noon"})
	require.NoError(t, err)
}

func TestPutFrame_Forbidden(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"message":"not a curator of this space"}`)
	}))
	defer server.Close()

	err := New(server.URL, "tok").PutFrame(context.Background(), "bob", "frame-left-2", core.FrameRecord{Title: "x"})
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.Code)
	assert.Equal(t, "not a curator of this space", se.Message)
	assert.Contains(t, err.Error(), "403")
}

func TestIssueToken(t *testing.T) {
	expires := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/auth/token", r.URL.Path)
		var req TokenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "alice", req.UserID)
		assert.Equal(t, "issuer", req.IssuerKey)
		_ = json.NewEncoder(w).Encode(TokenResponse{Token: "signed", ExpiresAt: expires})
	}))
	defer server.Close()

	resp, err := New(server.URL, "").IssueToken(context.Background(), TokenRequest{UserID: "alice", IssuerKey: "issuer"})
	require.NoError(t, err)
	assert.Equal(t, "signed", resp.Token)
	assert.True(t, expires.Equal(resp.ExpiresAt))
}

func TestVisitors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/spaces/alice/visitors", r.URL.Path)
		_, _ = io.WriteString(w, `[{"id":"s1","position":[1,2,3],"orientation":[0,0.5,0]}]`)
	}))
	defer server.Close()

	poses, err := New(server.URL, "").Visitors(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, poses, 1)
	assert.Equal(t, "s1", poses[0].ID)
	assert.Equal(t, [3]float64{1, 2, 3}, poses[0].Position)
}

func TestUploadImage(t *testing.T) {
	var receivedFileName string
	var receivedFileContent []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/spaces/alice/frames/frame-back-3/image" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("failed to get form file: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		receivedFileName = header.Filename
		receivedFileContent, _ = io.ReadAll(file)

		_ = json.NewEncoder(w).Encode(UploadResponse{URL: "http://museum/blobs/museums/alice/frame-back-3/cat.jpg"})
	}))
	defer server.Close()

	c := New(server.URL, "tok")
	url, err := c.Blobs().Put(context.Background(), "alice", "frame-back-3", "cat.jpg", strings.NewReader("jpeg bytes"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if url != "http://museum/blobs/museums/alice/frame-back-3/cat.jpg" {
		t.Errorf("unexpected url %s", url)
	}
	if receivedFileName != "cat.jpg" {
		t.Errorf("expected filename cat.jpg, got %s", receivedFileName)
	}
	if string(receivedFileContent) != "jpeg bytes" {
		t.Errorf("expected file content 'jpeg bytes', got '%s'", string(receivedFileContent))
	}
}

func TestUploadImage_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := New(server.URL, "wrong").UploadImage(context.Background(), "alice", "frame-back-3", "cat.jpg", strings.NewReader("x"))
	if err == nil {
		t.Error("expected error for 403 response")
	}
}

func TestSpacePath_Escapes(t *testing.T) {
	assert.Equal(t, "/api/v1/spaces/a%2Fb/frames", spacePath("a/b", "frames"))
}
