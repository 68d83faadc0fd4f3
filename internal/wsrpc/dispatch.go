package wsrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Method is the closed set of operations the gateway dispatches. Unknown
// strings off the wire fall through to the MethodNotFound reply; nothing
// else routes dynamically.
type Method string

const (
	MethodPing         Method = "ping"
	MethodInfo         Method = "info"
	MethodListProjects Method = "list_projects"
	MethodListDocs     Method = "list_docs"
	MethodWriteDoc     Method = "write_doc"
)

// Methods returns the supported set in a stable order, as advertised by
// the info descriptor.
func Methods() []Method {
	return []Method{MethodPing, MethodInfo, MethodListProjects, MethodListDocs, MethodWriteDoc}
}

const (
	CodeBadJSON        = "BadJSON"
	CodeBadRequest     = "BadRequest"
	CodeMethodNotFound = "MethodNotFound"
	CodeInternal       = "Internal"
)

// Error is the wire error object: {code, message, hint}.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// The id is kept as raw JSON and echoed verbatim: it is opaque to the
// gateway.
type response struct {
	ID     json.RawMessage `json:"id,omitempty"`
	OK     bool            `json:"ok"`
	Result any             `json:"result,omitempty"`
	Err    *Error          `json:"error,omitempty"`
}

func errorResponse(id json.RawMessage, code, message, hint string) response {
	return response{ID: id, OK: false, Err: &Error{Code: code, Message: message, Hint: hint}}
}

const (
	infoHint     = "Call info to list capabilities"
	internalHint = "Check server logs and store config"
)

type handlerFunc func(ctx context.Context, params json.RawMessage) (any, *Error)

func (s *Server) handleMessage(ctx context.Context, conn *websocket.Conn, raw []byte) {
	var frame struct {
		ID     json.RawMessage `json:"id"`
		Method json.RawMessage `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.send(ctx, conn, errorResponse(nil, CodeBadJSON, "Invalid JSON", "Send a JSON-RPC-like object"))
		return
	}
	var method string
	if len(frame.Method) == 0 || json.Unmarshal(frame.Method, &method) != nil || method == "" {
		s.send(ctx, conn, errorResponse(frame.ID, CodeBadRequest, "Missing method", `Include a string "method"`))
		return
	}
	resp := s.dispatch(ctx, method, frame.Params)
	resp.ID = frame.ID
	s.send(ctx, conn, resp)
}

// dispatch times every call and forwards the timing to the state log. A
// handler error or panic becomes an Internal reply; the connection always
// survives a failed call.
func (s *Server) dispatch(ctx context.Context, method string, params json.RawMessage) (resp response) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			resp = errorResponse(nil, CodeInternal, fmt.Sprint(r), internalHint)
		}
		s.log("ws:rpc", map[string]any{"method": method, "ms": time.Since(start).Milliseconds()})
	}()

	handler, ok := s.handlers[Method(method)]
	if !ok {
		return errorResponse(nil, CodeMethodNotFound, "Unknown method "+method, infoHint)
	}
	result, rpcErr := handler(ctx, params)
	if rpcErr != nil {
		return response{OK: false, Err: rpcErr}
	}
	return response{OK: true, Result: result}
}

func (s *Server) send(ctx context.Context, conn *websocket.Conn, resp response) {
	if err := wsjson.Write(ctx, conn, resp); err != nil {
		s.log("ws:error", map[string]any{"message": err.Error()})
	}
}

func (s *Server) handlePing(_ context.Context, _ json.RawMessage) (any, *Error) {
	return map[string]any{
		"ok":    true,
		"ts":    time.Now().UTC().Format(time.RFC3339),
		"agent": s.name,
	}, nil
}

func (s *Server) handleInfo(_ context.Context, _ json.RawMessage) (any, *Error) {
	capabilities := make([]string, 0, len(s.handlers))
	for _, method := range Methods() {
		capabilities = append(capabilities, string(method))
	}
	return map[string]any{
		"name":         s.name,
		"version":      s.version,
		"ws_port":      s.wsPort,
		"capabilities": capabilities,
	}, nil
}

func (s *Server) handleListProjects(_ context.Context, _ json.RawMessage) (any, *Error) {
	projects := s.docs.ListProjects()
	if projects == nil {
		projects = []string{}
	}
	return map[string]any{"projects": projects}, nil
}

func (s *Server) handleListDocs(ctx context.Context, params json.RawMessage) (any, *Error) {
	var p struct {
		Project string `json:"project"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &Error{Code: CodeBadRequest, Message: "Invalid params", Hint: `Provide { project: "<slug>" }`}
		}
	}
	project := strings.TrimSpace(p.Project)
	if project == "" {
		return nil, &Error{Code: CodeBadRequest, Message: "Missing required param: project", Hint: `Provide { project: "<slug>" }`}
	}
	docs, err := s.docs.ListDocs(ctx, project)
	if err != nil {
		return nil, &Error{Code: CodeInternal, Message: err.Error(), Hint: internalHint}
	}
	if docs == nil {
		docs = []map[string]any{}
	}
	return map[string]any{"project": project, "docs": docs}, nil
}

func (s *Server) handleWriteDoc(ctx context.Context, params json.RawMessage) (any, *Error) {
	writeHint := "Provide { project, slug, name?, doctype?, status?, content? }"
	if len(params) == 0 {
		return nil, &Error{Code: CodeBadRequest, Message: "Missing params", Hint: writeHint}
	}
	var p struct {
		Project string `json:"project"`
		Slug    string `json:"slug"`
		Name    string `json:"name"`
		Doctype string `json:"doctype"`
		Status  string `json:"status"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &Error{Code: CodeBadRequest, Message: "Invalid params", Hint: writeHint}
	}
	if p.Project == "" || p.Slug == "" {
		return nil, &Error{Code: CodeBadRequest, Message: "project and slug are required", Hint: `Provide { project:"...", slug:"..." }`}
	}
	if p.Doctype == "" {
		p.Doctype = "md"
	}
	if p.Status == "" {
		p.Status = "draft"
	}
	written, err := s.docs.WriteDoc(ctx, WriteDocRequest{
		Project: p.Project,
		Slug:    p.Slug,
		Name:    p.Name,
		Doctype: p.Doctype,
		Status:  p.Status,
		Content: p.Content,
	})
	if err != nil {
		return nil, &Error{Code: CodeInternal, Message: err.Error(), Hint: internalHint}
	}
	return map[string]any{"written": written}, nil
}
