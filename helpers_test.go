package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bbqjohan/yt-downloader/cmd"
	"github.com/bbqjohan/yt-downloader/config"
	"github.com/bbqjohan/yt-downloader/progress"
	"github.com/bbqjohan/yt-downloader/services"
	"github.com/bbqjohan/yt-downloader/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestHelper runs the full router against a temporary download directory
type TestHelper struct {
	Server      *httptest.Server
	App         *cmd.Server
	Config      *config.Config
	DownloadDir string
}

// itemView is the JSON form of a download tree, including the derived fields
type itemView struct {
	ID       string                 `json:"id"`
	Label    string                 `json:"label"`
	Size     string                 `json:"size"`
	Status   types.ItemStatus       `json:"status"`
	Progress float64                `json:"progress"`
	Done     bool                   `json:"done"`
	Ongoing  bool                   `json:"ongoing"`
	Speed    *progress.Speed        `json:"speed"`
	Params   *types.DownloadRequest `json:"params"`
	Error    *types.Failure         `json:"error"`
	Children []itemView             `json:"children"`
}

func (v itemView) child(id string) itemView {
	for _, child := range v.Children {
		if child.ID == id {
			return child
		}
	}
	return itemView{}
}

// NewTestHelper starts a server whose downloads are driven by invoker. A nil invoker
// leaves every dispatched download waiting for events posted to the events endpoint.
func NewTestHelper(t *testing.T, invoker services.Invoker) *TestHelper {
	t.Helper()

	downloadDir := t.TempDir()
	cfg := &config.Config{
		Port:             8080,
		DownloadLocation: downloadDir,
		LogLevel:         "INFO",
		CORSOrigins:      []string{"*"},
		GinMode:          "test",
		FragmentThreads:  1,
		SettingsFile:     filepath.Join(t.TempDir(), "settings.json"),
	}
	require.NoError(t, cfg.Validate())

	if invoker == nil {
		invoker = services.NewExternalInvoker(cfg.FragmentThreads, zap.NewNop())
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	app := cmd.NewServer(ctx, cfg, invoker, zap.NewNop())
	go app.Hub.Run(ctx)

	server := httptest.NewServer(app.Router)
	t.Cleanup(server.Close)

	return &TestHelper{
		Server:      server,
		App:         app,
		Config:      cfg,
		DownloadDir: downloadDir,
	}
}

// MakeRequest makes an HTTP request to the test server
func (h *TestHelper) MakeRequest(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()

	var reqBody io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reqBody = bytes.NewReader(b)
	default:
		jsonBody, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequest(method, h.Server.URL+path, reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// GetJSON makes a GET request and unmarshals the JSON response
func (h *TestHelper) GetJSON(t *testing.T, path string, target interface{}) *http.Response {
	t.Helper()
	return h.decode(t, h.MakeRequest(t, http.MethodGet, path, nil), target)
}

// PostJSON makes a POST request with a JSON body and unmarshals the JSON response
func (h *TestHelper) PostJSON(t *testing.T, path string, requestBody interface{}, target interface{}) *http.Response {
	t.Helper()
	return h.decode(t, h.MakeRequest(t, http.MethodPost, path, requestBody), target)
}

func (h *TestHelper) decode(t *testing.T, resp *http.Response, target interface{}) *http.Response {
	t.Helper()
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	if target != nil {
		require.NoError(t, json.Unmarshal(body, target), string(body))
	}
	return resp
}

// Submit queues a download and returns the created item
func (h *TestHelper) Submit(t *testing.T, request types.DownloadRequest) itemView {
	t.Helper()

	var response struct {
		Item itemView `json:"item"`
	}
	resp := h.PostJSON(t, "/api/downloads", request, &response)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, response.Item.ID)
	return response.Item
}

// SendEvent posts one boundary event for the download and returns the status code
func (h *TestHelper) SendEvent(t *testing.T, id string, event types.Event) int {
	t.Helper()

	body, err := types.EncodeEvent(event)
	require.NoError(t, err)

	resp := h.MakeRequest(t, http.MethodPost, "/api/downloads/"+id+"/events", body)
	resp.Body.Close()
	return resp.StatusCode
}

// GetItem fetches the current snapshot of a download
func (h *TestHelper) GetItem(t *testing.T, id string) itemView {
	t.Helper()

	var response struct {
		Item itemView `json:"item"`
	}
	resp := h.GetJSON(t, "/api/downloads/"+id, &response)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return response.Item
}

// WaitForStatus polls a download until it reaches status or the timeout passes
func (h *TestHelper) WaitForStatus(t *testing.T, id string, status types.ItemStatus, timeout time.Duration) itemView {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		item := h.GetItem(t, id)
		if item.Status == status {
			return item
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Fatalf("download %s did not reach %s within %s", id, status, timeout)
	return itemView{}
}

// ConnectWebSocket connects to a WebSocket endpoint
func (h *TestHelper) ConnectWebSocket(t *testing.T, path string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(h.Server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// ReadMessage reads the next progress message, failing after a few seconds
func ReadMessage(t *testing.T, conn *websocket.Conn) types.ProgressMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var message types.ProgressMessage
	require.NoError(t, conn.ReadJSON(&message))
	return message
}

// CreateTestFile creates a file under the download directory
func (h *TestHelper) CreateTestFile(t *testing.T, relativePath string, content []byte) {
	t.Helper()

	fullPath := filepath.Join(h.DownloadDir, relativePath)
	require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0755))
	require.NoError(t, os.WriteFile(fullPath, content, 0644))
}

func testRequest(url string) types.DownloadRequest {
	return types.DownloadRequest{
		URL:         url,
		VideoTitle:  "Test Video",
		AudioFormat: &types.Format{FormatID: "251", Ext: "webm"},
		VideoFormat: &types.Format{FormatID: "137", Ext: "mp4"},
	}
}
