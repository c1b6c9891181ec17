package cmd

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

	"mixdeck/config"
	"mixdeck/services"
	"mixdeck/sources"
	"mixdeck/types"
	"mixdeck/websocket"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// TestHelper runs the full router against fake adapters
type TestHelper struct {
	Server      *httptest.Server
	TestDataDir string
	Manager     services.DownloadManager
	release     chan struct{}
}

// NewTestHelper starts a server whose "youtube" adapter writes a small file
// and whose "slow" adapter blocks until the helper is cleaned up.
func NewTestHelper(t *testing.T) *TestHelper {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logrus.SetOutput(io.Discard)
	t.Cleanup(func() { logrus.SetOutput(os.Stderr) })

	testDir := t.TempDir()
	release := make(chan struct{})

	registry := sources.NewRegistry()
	registry.Register(sources.TagYouTube, sources.AdapterFunc(
		func(ctx context.Context, url string, progress sources.ProgressFunc) (string, error) {
			if strings.Contains(url, "broken") {
				return "", io.ErrUnexpectedEOF
			}
			progress(50)
			dir := filepath.Join(testDir, "Artist", "Album")
			if err := os.MkdirAll(dir, 0755); err != nil {
				return "", err
			}
			path := filepath.Join(dir, "01 - Song.mp3")
			return path, os.WriteFile(path, []byte("0123456789"), 0644)
		}))
	registry.Register("slow", sources.AdapterFunc(
		func(ctx context.Context, url string, progress sources.ProgressFunc) (string, error) {
			select {
			case <-release:
				return "", context.Canceled
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}))

	hubCtx, stopHub := context.WithCancel(context.Background())
	hub := websocket.NewHub()
	go hub.Run(hubCtx)

	cfg := &config.Config{
		Workers:          2,
		DownloadLocation: testDir,
		CORSOrigins:      []string{"*"},
	}
	manager := NewManager(cfg, registry, hub)
	manager.Start(context.Background())

	router := NewRouter(RouterDeps{
		Manager: manager,
		Library: services.NewLibraryService(testDir),
		Hub:     hub,
		Sources: registry.Tags(),
		Config:  cfg,
	})
	server := httptest.NewServer(router)

	h := &TestHelper{
		Server:      server,
		TestDataDir: testDir,
		Manager:     manager,
		release:     release,
	}
	t.Cleanup(func() {
		close(release)
		server.Close()
		manager.Stop()
		stopHub()
	})
	return h
}

// Do sends a request with an optional JSON body and decodes a JSON response into out
func (h *TestHelper) Do(t *testing.T, method, path string, body any, out any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, h.Server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

// Enqueue posts a download and returns the job id
func (h *TestHelper) Enqueue(t *testing.T, d types.JobDescriptor) string {
	t.Helper()
	var created struct {
		JobID string `json:"job_id"`
	}
	resp := h.Do(t, http.MethodPost, "/api/downloads", d, &created)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NotEmpty(t, created.JobID)
	return created.JobID
}

// WaitJob polls the job endpoint until it reports state
func (h *TestHelper) WaitJob(t *testing.T, id string, state types.JobState) types.Job {
	t.Helper()
	var job types.Job
	require.Eventually(t, func() bool {
		job = types.Job{}
		resp := h.Do(t, http.MethodGet, "/api/downloads/"+id, nil, &job)
		return resp.StatusCode == http.StatusOK && job.Status == state
	}, 2*time.Second, 10*time.Millisecond)
	return job
}

// ConnectWebSocket dials a websocket endpoint on the test server
func (h *TestHelper) ConnectWebSocket(t *testing.T, path string) *gorilla.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(h.Server.URL, "http") + path
	conn, resp, err := gorilla.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}
