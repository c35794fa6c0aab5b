package server_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/tenk/internal/models"
	"github.com/xhad/tenk/server"
)

type fakeEmbedder struct{ err error }

func (e fakeEmbedder) EmbedTexts(context.Context, []string) ([][]float32, error) { return nil, nil }

func (e fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []float32{1, 0, 0}, nil
}

type fakeStore struct {
	results []models.SearchResult
	limit   atomic.Int32
}

func (s *fakeStore) ReplaceItem(context.Context, models.FilingID, string, []models.EmbeddedChunk) error {
	return nil
}

func (s *fakeStore) Query(_ context.Context, _ []float32, limit int) ([]models.SearchResult, error) {
	s.limit.Store(int32(limit))
	return s.results, nil
}

func (s *fakeStore) Close() {}

type fakeChat struct{}

func (fakeChat) Chat(_ context.Context, query string, results []models.SearchResult) (string, error) {
	return "Net sales were $260,174 million [1].", nil
}

func (fakeChat) ChatStream(_ context.Context, query string, results []models.SearchResult) (<-chan string, error) {
	ch := make(chan string, 3)
	ch <- "Net sales "
	ch <- "were $260,174 million [1]."
	close(ch)
	return ch, nil
}

func searchResults() []models.SearchResult {
	return []models.SearchResult{
		{Chunk: models.Chunk{Ticker: "AAPL", FiscalYear: 2019, Item: "item8", Index: 2, Text: "[Financial Metric] Net sales: 2019: $260,174"}, Similarity: 0.93},
		{Chunk: models.Chunk{Ticker: "AAPL", FiscalYear: 2019, Item: "item7", Index: 0, Text: "Total net sales decreased 2%."}, Similarity: 0.90},
	}
}

func dial(t *testing.T, config server.Config, emb fakeEmbedder, vs *fakeStore) *websocket.Conn {
	t.Helper()
	s := server.NewWSServer(config, emb, vs, fakeChat{})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntilDone collects messages up to the closing "done" or "error".
func readUntilDone(t *testing.T, conn *websocket.Conn) []server.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msgs []server.Message
	for {
		var msg server.Message
		require.NoError(t, conn.ReadJSON(&msg))
		msgs = append(msgs, msg)
		if msg.Type == server.TypeDone || msg.Type == server.TypeError {
			return msgs
		}
	}
}

func types(msgs []server.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

func TestHealth(t *testing.T) {
	s := server.NewWSServer(server.Config{}, fakeEmbedder{}, &fakeStore{}, fakeChat{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestChatStreaming(t *testing.T) {
	vs := &fakeStore{results: searchResults()}
	conn := dial(t, server.Config{Streaming: true, SearchLimit: 3}, fakeEmbedder{}, vs)

	require.NoError(t, conn.WriteJSON(server.Message{Type: "chat", Content: "What were Apple's 2019 net sales?"}))
	msgs := readUntilDone(t, conn)

	assert.Equal(t, []string{"sources", "stream", "stream", "done"}, types(msgs))
	assert.Equal(t, "Sources:\nAAPL 2019 item8\nAAPL 2019 item7", msgs[0].Content)
	assert.Equal(t, "Net sales were $260,174 million [1].", msgs[1].Content+msgs[2].Content)
	assert.Equal(t, int32(3), vs.limit.Load())
}

func TestChatComplete(t *testing.T) {
	conn := dial(t, server.Config{}, fakeEmbedder{}, &fakeStore{results: searchResults()})

	require.NoError(t, conn.WriteJSON(server.Message{Content: "net sales?"}))
	msgs := readUntilDone(t, conn)

	assert.Equal(t, []string{"sources", "response", "done"}, types(msgs))
	assert.Equal(t, "Net sales were $260,174 million [1].", msgs[1].Content)
}

func TestSearch(t *testing.T) {
	vs := &fakeStore{results: searchResults()}
	conn := dial(t, server.Config{}, fakeEmbedder{}, vs)

	require.NoError(t, conn.WriteJSON(server.Message{Type: "search", Content: "net sales"}))
	msgs := readUntilDone(t, conn)

	require.Equal(t, []string{"results", "done"}, types(msgs))
	data, ok := msgs[0].Data.([]interface{})
	require.True(t, ok)
	require.Len(t, data, 2)
	first := data[0].(map[string]interface{})
	assert.Equal(t, "AAPL 2019 item8 chunk 2", first["citation"])
	assert.Equal(t, "[Financial Metric] Net sales: 2019: $260,174", first["text"])
	assert.Equal(t, int32(5), vs.limit.Load())
}

func TestErrors(t *testing.T) {
	conn := dial(t, server.Config{}, fakeEmbedder{err: errors.New("ollama down")}, &fakeStore{})

	require.NoError(t, conn.WriteJSON(server.Message{Content: "q"}))
	msgs := readUntilDone(t, conn)
	require.Len(t, msgs, 1)
	assert.Equal(t, server.TypeError, msgs[0].Type)
	assert.Contains(t, msgs[0].Content, "ollama down")

	require.NoError(t, conn.WriteJSON(server.Message{Content: "   "}))
	msgs = readUntilDone(t, conn)
	assert.Equal(t, "empty question", msgs[0].Content)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	msgs = readUntilDone(t, conn)
	assert.Contains(t, msgs[0].Content, "invalid message")
}

func TestAllowedOrigins(t *testing.T) {
	s := server.NewWSServer(server.Config{AllowedOrigins: []string{"https://tenk.example"}}, fakeEmbedder{}, &fakeStore{}, fakeChat{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://tenk.example"}})
	require.NoError(t, err)
	conn.Close()
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	s := server.NewWSServer(server.Config{}, fakeEmbedder{}, &fakeStore{}, fakeChat{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
