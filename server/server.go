// Package server answers questions about ingested filings over a websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xhad/tenk/internal/models"
	"github.com/xhad/tenk/internal/types"
	"github.com/xhad/tenk/pkg/llm"
)

// Message types sent to clients.
const (
	TypeStatus   = "status"
	TypeSources  = "sources"
	TypeStream   = "stream"
	TypeResponse = "response"
	TypeResults  = "results"
	TypeError    = "error"
	TypeDone     = "done"
)

// Message is the envelope of every frame. Clients send {"type": "chat"} or
// {"type": "search"} with the question in Content.
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

type Source struct {
	Citation   string  `json:"citation"`
	Ticker     string  `json:"ticker"`
	FiscalYear int     `json:"fiscal_year"`
	Item       string  `json:"item"`
	Index      int     `json:"chunk_index"`
	Similarity float64 `json:"similarity"`
	Text       string  `json:"text,omitempty"`
}

type Config struct {
	SearchLimit int
	Streaming   bool
	// AllowedOrigins restricts browser clients; empty allows any origin.
	AllowedOrigins []string
}

type Option func(*WSServer)

func WithLogger(logger *zap.Logger) Option {
	return func(s *WSServer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

type WSServer struct {
	config      Config
	embedder    types.Embedder
	vectorStore types.VectorStore
	chatEngine  types.ChatEngine
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

func NewWSServer(config Config, embedder types.Embedder, vectorStore types.VectorStore, chatEngine types.ChatEngine, opts ...Option) *WSServer {
	if config.SearchLimit == 0 {
		config.SearchLimit = 5
	}

	s := &WSServer{
		config:      config,
		embedder:    embedder,
		vectorStore: vectorStore,
		chatEngine:  chatEngine,
		logger:      zap.NewNop(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *WSServer) checkOrigin(r *http.Request) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.config.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

// Handler serves /ws and /health.
func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// ListenAndServe runs until ctx is done, then shuts down gracefully.
func (s *WSServer) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting websocket server", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// client serializes writes; gorilla connections allow one writer at a time.
type client struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	logger *zap.Logger
}

func (c *client) send(msgType, content string, data interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(Message{Type: msgType, Content: content, Data: data}); err != nil {
		c.logger.Debug("error sending message", zap.Error(err))
	}
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &client{conn: conn, logger: s.logger}
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("error reading message", zap.Error(err))
			}
			cancel()
			return
		}

		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.send(TypeError, fmt.Sprintf("invalid message: %v", err), nil)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleMessage(ctx, c, msg)
		}()
	}
}

func (s *WSServer) handleMessage(ctx context.Context, c *client, msg Message) {
	query := strings.TrimSpace(msg.Content)
	if query == "" {
		c.send(TypeError, "empty question", nil)
		return
	}

	embedding, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		c.send(TypeError, fmt.Sprintf("Failed to create query embedding: %v", err), nil)
		return
	}

	results, err := s.vectorStore.Query(ctx, embedding, s.config.SearchLimit)
	if err != nil {
		c.send(TypeError, fmt.Sprintf("Error querying filings: %v", err), nil)
		return
	}

	switch msg.Type {
	case "search":
		c.send(TypeResults, fmt.Sprintf("%d results", len(results)), sources(results, true))
		c.send(TypeDone, "", nil)
		return
	case "", "chat":
	default:
		c.send(TypeError, fmt.Sprintf("unknown message type %q", msg.Type), nil)
		return
	}

	c.send(TypeSources, strings.TrimSpace(llm.FormatSources(results)), sources(results, false))

	if s.config.Streaming {
		stream, err := s.chatEngine.ChatStream(ctx, query, results)
		if err != nil {
			c.send(TypeError, fmt.Sprintf("Error: %v", err), nil)
			return
		}
		for chunk := range stream {
			if strings.HasPrefix(chunk, "Error:") {
				c.send(TypeError, chunk, nil)
				return
			}
			c.send(TypeStream, chunk, nil)
		}
	} else {
		response, err := s.chatEngine.Chat(ctx, query, results)
		if err != nil {
			c.send(TypeError, fmt.Sprintf("Error: %v", err), nil)
			return
		}
		c.send(TypeResponse, response, nil)
	}
	c.send(TypeDone, "", nil)
}

func sources(results []models.SearchResult, withText bool) []Source {
	out := make([]Source, len(results))
	for i, r := range results {
		out[i] = Source{
			Citation:   r.Citation(),
			Ticker:     r.Ticker,
			FiscalYear: r.FiscalYear,
			Item:       r.Item,
			Index:      r.Index,
			Similarity: r.Similarity,
		}
		if withText {
			out[i].Text = r.Text
		}
	}
	return out
}
