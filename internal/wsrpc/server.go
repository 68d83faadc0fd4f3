// Package wsrpc is the WebSocket JSON-RPC gateway. It authenticates
// connections, supervises liveness, frames and dispatches messages, and
// routes the supported methods to the document adapter.
package wsrpc

import (
	"context"
	"crypto/hmac"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/agentworkforce/docgate/internal/airtable"
	"github.com/agentworkforce/docgate/internal/statelog"
)

type WriteDocRequest = airtable.WriteDocRequest
type WriteResult = airtable.WriteResult

// DocService is what the gateway needs from the document adapter.
type DocService interface {
	ListProjects() []string
	ListDocs(ctx context.Context, project string) ([]airtable.Fields, error)
	WriteDoc(ctx context.Context, req WriteDocRequest) (WriteResult, error)
}

// Secrets shorter than this are treated as absent: a gateway configured
// with a trivial token rejects every connection instead of guarding with
// it.
const minBearerLength = 12

const defaultPingInterval = 30 * time.Second

type ServerOptions struct {
	Bearer       string
	Docs         DocService
	Sink         statelog.Sink
	PingInterval time.Duration
	Name         string
	Version      string
	WSPort       int
}

type Server struct {
	bearer       string
	docs         DocService
	sink         statelog.Sink
	pingInterval time.Duration
	name         string
	version      string
	wsPort       int

	handlers map[Method]handlerFunc

	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

func NewServer(opts ServerOptions) *Server {
	pingInterval := opts.PingInterval
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = "docgate"
	}
	s := &Server{
		bearer:       strings.TrimSpace(opts.Bearer),
		docs:         opts.Docs,
		sink:         opts.Sink,
		pingInterval: pingInterval,
		name:         name,
		version:      opts.Version,
		wsPort:       opts.WSPort,
		conns:        map[string]*websocket.Conn{},
	}
	s.handlers = map[Method]handlerFunc{
		MethodPing:         s.handlePing,
		MethodInfo:         s.handleInfo,
		MethodListProjects: s.handleListProjects,
		MethodListDocs:     s.handleListDocs,
		MethodWriteDoc:     s.handleWriteDoc,
	}
	return s
}

// authorized compares the handshake bearer against the expected secret in
// constant time. It never reads any frame, so unauthenticated peers get no
// protocol surface to probe.
func (s *Server) authorized(r *http.Request) bool {
	if len(s.bearer) < minBearerLength {
		return false
	}
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return false
	}
	supplied := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return hmac.Equal([]byte(supplied), []byte(s.bearer))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	authorized := s.authorized(r)
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	if !authorized {
		_ = conn.Close(websocket.StatusPolicyViolation, "Unauthorized")
		s.log("ws:reject", map[string]any{"reason": "unauthorized", "ip": remoteIP(r)})
		return
	}

	cid := uuid.NewString()
	s.addConn(cid, conn)
	s.log("ws:connect", map[string]any{"cid": cid, "ip": remoteIP(r), "ua": r.Header.Get("User-Agent")})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.supervise(ctx, conn, cancel)

	readErr := s.readLoop(ctx, conn)
	s.removeConn(cid)
	s.log("ws:disconnect", map[string]any{"cid": cid, "code": int(websocket.CloseStatus(readErr))})
	_ = conn.CloseNow()
}

// readLoop processes frames until the connection dies. Each message is
// handled in its own goroutine: a dispatch that suspends on the store does
// not hold up later messages, and replies carry no completion-order
// guarantee.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		go s.handleMessage(ctx, conn, data)
	}
}

// supervise pings on a fixed interval. Ping blocks until the pong arrives,
// so a context bounded by the interval turns a dead peer into an error at
// the next tick: detection within twice the interval.
func (s *Server) supervise(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, s.pingInterval)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				_ = conn.Close(websocket.StatusGoingAway, "ping timeout")
				cancel()
				return
			}
		}
	}
}

func (s *Server) addConn(cid string, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[cid] = conn
}

func (s *Server) removeConn(cid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, cid)
}

// ConnectionCount reports the number of live authenticated connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// log appends to the state sink, fire and forget. Sink failures never
// touch the RPC path.
func (s *Server) log(event string, data map[string]any) {
	if s.sink == nil {
		return
	}
	_ = s.sink.Append(statelog.NewEntry(event, data))
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
