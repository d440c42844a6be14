package main

import (
	"bytes"
	"context"
	"image"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watashi-museum/museum/internal/blob"
	"github.com/watashi-museum/museum/internal/config"
	"github.com/watashi-museum/museum/internal/dispatcher"
	"github.com/watashi-museum/museum/internal/editor"
	"github.com/watashi-museum/museum/internal/gallery"
	"github.com/watashi-museum/museum/internal/identity"
	"github.com/watashi-museum/museum/internal/server"
	"github.com/watashi-museum/museum/internal/session"
	"github.com/watashi-museum/museum/internal/storage/memory"
	"github.com/watashi-museum/museum/internal/worker"
	"github.com/watashi-museum/museum/pkg/core"
)

type service struct {
	store *memory.Backend
	blobs *blob.Memory
}

// startService runs museumd's handler on a test server and points the
// config at it.
func startService(t *testing.T) *service {
	t.Helper()
	Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	Session = session.NewContext("test-session")
	t.Cleanup(viper.Reset)

	store := memory.New(config.MemoryConfig{})
	require.NoError(t, store.Init())
	blobs := blob.NewMemory()

	d, err := dispatcher.New(Logger)
	require.NoError(t, err)
	worker.NewManager(worker.Dependencies{Logger: Logger}, store).RegisterHandlers(d)

	srv := server.New(server.Dependencies{
		Store:      store,
		Dispatcher: d,
		Blobs:      blobs,
		Logger:     Logger,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Hub().CloseAll()
		ts.Close()
		_ = store.Close()
	})

	viper.Set("backend.apiKey", "real-key")
	viper.Set("api.serverUrl", ts.URL)
	return &service{store: store, blobs: blobs}
}

func TestStreamURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/api/v1/stream", streamURL("http://localhost:8080"))
	assert.Equal(t, "wss://museum.example/api/v1/stream", streamURL("https://museum.example/"))
}

func TestParseCrop(t *testing.T) {
	rect, err := parseCrop("")
	require.NoError(t, err)
	assert.True(t, rect.Empty())

	rect, err = parseCrop("10, 20, 110, 70")
	require.NoError(t, err)
	assert.Equal(t, image.Rect(10, 20, 110, 70), rect)

	for _, bad := range []string{"1,2,3", "a,b,c,d", "5,5,5,5"} {
		_, err := parseCrop(bad)
		assert.Error(t, err, bad)
	}
}

func TestRunDemo_SeedsFramesInLayoutOrder(t *testing.T) {
	svc := startService(t)

	var out bytes.Buffer
	require.NoError(t, runDemo(context.Background(), []string{"https://cdn/a.jpg", "https://cdn/b.jpg"}, &out))

	spaceID := strings.TrimSpace(out.String())
	assert.True(t, identity.IsDemoSpace(spaceID))

	frames, err := svc.store.Frames(context.Background(), spaceID)
	require.NoError(t, err)
	slots := gallery.Layout()
	require.Len(t, frames, 2)
	assert.Equal(t, "Picture 1", frames[slots[0].ID].Title)
	assert.Equal(t, "https://cdn/b.jpg", frames[slots[1].ID].ImageURL)
}

func TestRunDemo_OfflineRefusesPictures(t *testing.T) {
	Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	Session = session.NewContext("test-session")
	t.Cleanup(viper.Reset)
	viper.Set("backend.apiKey", config.PlaceholderAPIKey)

	assert.Error(t, runDemo(context.Background(), []string{"https://cdn/a.jpg"}, io.Discard))

	var out bytes.Buffer
	require.NoError(t, runDemo(context.Background(), nil, &out))
	assert.True(t, identity.IsDemoSpace(strings.TrimSpace(out.String())))
}

func TestRunFrameSet_UploadsPicture(t *testing.T) {
	svc := startService(t)
	space := identity.NewDemoSpaceID()

	path := filepath.Join(t.TempDir(), "harbor.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg bytes"), 0o644))

	var out bytes.Buffer
	require.NoError(t, runFrame(context.Background(), []string{
		"set", "-space", space, "-slot", "frame-left-2", "-title", "Harbor", "-image", path, "-rotated",
	}, &out))

	frames, err := svc.store.Frames(context.Background(), space)
	require.NoError(t, err)
	rec := frames["frame-left-2"]
	assert.Equal(t, "Harbor", rec.Title)
	assert.True(t, rec.IsRotated)
	assert.Equal(t, "mem://museums/"+space+"/frame-left-2/harbor.jpg", rec.ImageURL)

	data, ok := svc.blobs.Get(rec.ImageURL)
	require.True(t, ok)
	assert.Equal(t, "jpeg bytes", string(data))
	assert.Contains(t, out.String(), "Harbor")
}

func TestRunFrameSet_KeepsExistingPicture(t *testing.T) {
	svc := startService(t)
	space := identity.NewDemoSpaceID()
	ctx := context.Background()
	require.NoError(t, svc.store.PutFrame(ctx, space, "frame-back-0", core.FrameRecord{Title: "Old", ImageURL: "https://cdn/old.jpg"}))

	require.NoError(t, runFrame(ctx, []string{"set", "-space", space, "-slot", "frame-back-0", "-title", "New", "-desc", "Renamed"}, io.Discard))

	frames, err := svc.store.Frames(ctx, space)
	require.NoError(t, err)
	assert.Equal(t, "New", frames["frame-back-0"].Title)
	assert.Equal(t, "Renamed", frames["frame-back-0"].Description)
	assert.Equal(t, "https://cdn/old.jpg", frames["frame-back-0"].ImageURL)
}

func TestRunFrameSet_Rejections(t *testing.T) {
	startService(t)
	ctx := context.Background()

	assert.Error(t, runFrame(ctx, nil, io.Discard))
	assert.Error(t, runFrame(ctx, []string{"set", "-slot", "frame-back-0", "-title", "x"}, io.Discard))
	assert.Error(t, runFrame(ctx, []string{"set", "-space", "alice", "-slot", "frame-top-0", "-title", "x"}, io.Discard))
	assert.ErrorIs(t, runFrame(ctx, []string{"set", "-space", "alice", "-slot", "frame-back-0"}, io.Discard), editor.ErrMissingTitle)

	viper.Set("backend.apiKey", config.PlaceholderAPIKey)
	assert.ErrorIs(t, runFrame(ctx, []string{"set", "-space", "alice", "-slot", "frame-back-0", "-title", "x"}, io.Discard), editor.ErrNotConfigured)
}

// writeConfig points logsDir at a temp directory and returns the config dir.
func writeConfig(t *testing.T) (configDir, logsDir string) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	t.Cleanup(viper.Reset)

	configDir = t.TempDir()
	logsDir = filepath.Join(configDir, "logs")
	cfg := `{"logsDir": "` + filepath.ToSlash(logsDir) + `"}`
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "museum.cfg.json"), []byte(cfg), 0o644))
	return configDir, logsDir
}

func TestRun_FailureIsLoggedBeforeExit(t *testing.T) {
	configDir, logsDir := writeConfig(t)

	code := run(configDir, []string{"frame"})
	assert.Equal(t, 1, code)

	files, err := filepath.Glob(filepath.Join(logsDir, "museum.*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "Command failed")
	assert.Contains(t, string(data), "command=frame")
}

func TestRun_UnknownCommand(t *testing.T) {
	configDir, _ := writeConfig(t)
	assert.Equal(t, 2, run(configDir, []string{"dance"}))
}
