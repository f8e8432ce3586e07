package wsingest

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moabualruz/rice-search/internal/app"
	"github.com/moabualruz/rice-search/internal/config"
)

func dialTestServer(t *testing.T) (*websocket.Conn, *app.App) {
	t.Helper()

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	a, err := app.New(cfg, nil)
	require.NoError(t, err)

	ts := httptest.NewServer(NewHandler(a, nil))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn, a
}

func readFrame(t *testing.T, conn *websocket.Conn) serverFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame serverFrame
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestPingPong(t *testing.T) {
	conn, _ := dialTestServer(t)

	require.NoError(t, conn.WriteJSON(clientFrame{Type: "ping"}))
	frame := readFrame(t, conn)
	assert.Equal(t, "pong", frame.Type)
}

func TestFileFrameIndexedAck(t *testing.T) {
	conn, a := dialTestServer(t)

	require.NoError(t, conn.WriteJSON(clientFrame{
		Type:    "file",
		Path:    "ws.go",
		Content: "package main\nfunc FromSocket(){}\n",
	}))

	frame := readFrame(t, conn)
	require.Equal(t, "indexed", frame.Type)
	assert.NotEmpty(t, frame.BatchID)
	assert.Equal(t, 1, frame.FilesCount)
	assert.Equal(t, 1, frame.ChunksQueued)

	// The batch landed in the default store's tracker.
	assert.NotNil(t, a.Tracker.Get("default", "ws.go"))
}

func TestInvalidPathErrorFrame(t *testing.T) {
	conn, _ := dialTestServer(t)

	require.NoError(t, conn.WriteJSON(clientFrame{Type: "file", Path: "../evil", Content: "x"}))
	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame.Type)
	assert.Equal(t, "INVALID_PATH", frame.Code)
}

func TestUnknownFrameType(t *testing.T) {
	conn, _ := dialTestServer(t)

	require.NoError(t, conn.WriteJSON(clientFrame{Type: "bogus"}))
	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame.Type)
	assert.Equal(t, "UNKNOWN_TYPE", frame.Code)
}

func TestBatchesMultipleFiles(t *testing.T) {
	conn, _ := dialTestServer(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, conn.WriteJSON(clientFrame{
			Type:    "file",
			Path:    "f" + string(rune('0'+i)) + ".txt",
			Content: "some text content",
		}))
	}

	// All three files are acked, possibly across multiple batches.
	total := 0
	for total < 3 {
		frame := readFrame(t, conn)
		require.Equal(t, "indexed", frame.Type)
		total += frame.FilesCount
	}
	assert.Equal(t, 3, total)
}
