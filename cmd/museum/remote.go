package main

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/watashi-museum/museum/internal/api"
	wsstore "github.com/watashi-museum/museum/internal/storage/websocket"
)

// remote is the connection to museumd: the HTTP client for reads and
// uploads plus the stream for poses and frame writes.
type remote struct {
	client *api.Client
	stream *wsstore.Backend
}

// dialRemote connects to api.serverUrl with api.token under sessionID.
func dialRemote(sessionID string) (*remote, error) {
	serverURL := strings.TrimRight(viper.GetString("api.serverUrl"), "/")
	token := viper.GetString("api.token")

	client := api.New(serverURL, token)
	stream := wsstore.New(wsstore.Config{
		URL:       streamURL(serverURL),
		SessionID: sessionID,
		Token:     token,
	}, wsstore.Dependencies{Frames: client, Logger: Logger})
	if err := stream.Init(); err != nil {
		return nil, err
	}
	return &remote{client: client, stream: stream}, nil
}

func (r *remote) Close() error {
	return r.stream.Close()
}

// streamURL maps the service base URL to its WebSocket stream endpoint.
func streamURL(serverURL string) string {
	switch {
	case strings.HasPrefix(serverURL, "https://"):
		serverURL = "wss://" + strings.TrimPrefix(serverURL, "https://")
	case strings.HasPrefix(serverURL, "http://"):
		serverURL = "ws://" + strings.TrimPrefix(serverURL, "http://")
	}
	return strings.TrimRight(serverURL, "/") + "/api/v1/stream"
}
