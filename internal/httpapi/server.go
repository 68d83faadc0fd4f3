// Package httpapi serves the REST collaborators around the gateway: the
// agent-to-agent message bus with SSE fan-out and an append-only log, the
// chat-completion proxies, the model catalog, and the static UI.
package httpapi

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultRecentMax = 500

type ServerConfig struct {
	Version    string
	UIDir      string
	A2ALogPath string
	RecentMax  int
	Chat       ChatConfig
}

type Server struct {
	cfg       ServerConfig
	providers map[string]chatProvider

	mu     sync.Mutex
	recent []Message

	sseMu sync.Mutex
	sse   map[*sseClient]struct{}
}

// Message is one bus entry. Replies from the chat proxies land here like
// any agent-sent message.
type Message struct {
	ID            string `json:"id"`
	TS            int64  `json:"ts"`
	From          string `json:"from"`
	To            string `json:"to"`
	Project       string `json:"project,omitempty"`
	Subject       string `json:"subject,omitempty"`
	Body          string `json:"body"`
	CorrelationID string `json:"correlationId,omitempty"`
}

type sseClient struct {
	ch chan []byte
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.RecentMax <= 0 {
		cfg.RecentMax = defaultRecentMax
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return &Server{
		cfg:       cfg,
		providers: buildProviders(cfg.Chat),
		sse:       map[*sseClient]struct{}{},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == "/api/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": s.cfg.Version})
		return
	}
	if path == "/api/a2a/send" && r.Method == http.MethodPost {
		s.handleSend(w, r)
		return
	}
	if path == "/api/a2a/messages" && r.Method == http.MethodGet {
		s.handleMessages(w, r)
		return
	}
	if path == "/api/a2a/feed" && r.Method == http.MethodGet {
		s.handleFeed(w, r)
		return
	}
	if path == "/api/chatgpt/send" && r.Method == http.MethodPost {
		s.handleProviderSend(w, r, providerOpenAI)
		return
	}
	if path == "/api/claude/send" && r.Method == http.MethodPost {
		s.handleProviderSend(w, r, providerAnthropic)
		return
	}
	if path == "/api/models" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, modelCatalog)
		return
	}
	if strings.HasPrefix(path, "/api/models/") && r.Method == http.MethodGet {
		s.handleModelsProvider(w, strings.TrimPrefix(path, "/api/models/"))
		return
	}
	if strings.HasPrefix(path, "/ui/") {
		s.handleUI(w, r)
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "route not found"})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From          string `json:"from"`
		To            string `json:"to"`
		Project       string `json:"project"`
		Subject       string `json:"subject"`
		Body          string `json:"body"`
		CorrelationID string `json:"correlationId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid json body"})
		return
	}
	if req.From == "" || req.To == "" || req.Body == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "from, to, body are required"})
		return
	}
	msg := Message{
		ID:            uuid.NewString(),
		TS:            time.Now().UnixMilli(),
		From:          req.From,
		To:            req.To,
		Project:       req.Project,
		Subject:       req.Subject,
		Body:          req.Body,
		CorrelationID: req.CorrelationID,
	}
	s.publish(msg)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": msg.ID, "ts": msg.TS})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	sinceTS, _ := strconv.ParseInt(r.URL.Query().Get("sinceTs"), 10, 64)
	s.mu.Lock()
	out := make([]Message, 0, len(s.recent))
	for _, msg := range s.recent {
		if msg.TS > sinceTS {
			out = append(out, msg)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "messages": out})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "streaming unsupported"})
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Subscribe before the hello frame so nothing published after the
	// handshake can slip past this client.
	client := &sseClient{ch: make(chan []byte, 16)}
	s.sseMu.Lock()
	s.sse[client] = struct{}{}
	s.sseMu.Unlock()
	defer func() {
		s.sseMu.Lock()
		delete(s.sse, client)
		s.sseMu.Unlock()
	}()

	hello, _ := json.Marshal(map[string]any{"ok": true, "ts": time.Now().UnixMilli()})
	if _, err := w.Write(sseFrame("hello", hello)); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame := <-client.ch:
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// publish records the message in the recent ring, appends it to the NDJSON
// log, and fans it out to SSE subscribers. Log and fan-out are best effort.
func (s *Server) publish(msg Message) {
	s.mu.Lock()
	s.recent = append(s.recent, msg)
	if len(s.recent) > s.cfg.RecentMax {
		s.recent = s.recent[len(s.recent)-s.cfg.RecentMax:]
	}
	s.mu.Unlock()

	s.appendLog(msg)
	s.broadcast("a2a.message", msg)
}

func (s *Server) appendLog(msg Message) {
	if s.cfg.A2ALogPath == "" {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.cfg.A2ALogPath), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(s.cfg.A2ALogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	_, _ = f.Write(append(data, '\n'))
	_ = f.Close()
}

// broadcast delivers the event to every subscriber whose channel has room.
// A slow subscriber misses events rather than blocking the bus.
func (s *Server) broadcast(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	frame := sseFrame(event, data)
	s.sseMu.Lock()
	defer s.sseMu.Unlock()
	for client := range s.sse {
		select {
		case client.ch <- frame:
		default:
		}
	}
}

func sseFrame(event string, data []byte) []byte {
	out := make([]byte, 0, len(event)+len(data)+16)
	out = append(out, "event: "...)
	out = append(out, event...)
	out = append(out, "\ndata: "...)
	out = append(out, data...)
	out = append(out, "\n\n"...)
	return out
}

func (s *Server) handleModelsProvider(w http.ResponseWriter, provider string) {
	cfg, ok := modelCatalog[provider]
	if !ok {
		known := make([]string, 0, len(modelCatalog))
		for name := range modelCatalog {
			known = append(known, name)
		}
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":          "Unknown provider '" + provider + "'",
			"knownProviders": known,
		})
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleUI(w http.ResponseWriter, r *http.Request) {
	dir := s.cfg.UIDir
	if dir == "" {
		dir = "ui"
	}
	http.StripPrefix("/ui/", http.FileServer(http.Dir(dir))).ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
