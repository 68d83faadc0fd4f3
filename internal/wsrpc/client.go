package wsrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const defaultCallTimeout = 15 * time.Second

type ClientOptions struct {
	URL         string
	Bearer      string
	HTTPClient  *http.Client
	CallTimeout time.Duration
}

// Client correlates replies to outstanding requests by id. Each call
// carries its own timeout; on timeout the pending entry is discarded and
// a reply arriving later is dropped unmatched.
type Client struct {
	conn        *websocket.Conn
	callTimeout time.Duration

	mu      sync.Mutex
	pending map[string]chan clientReply
	nextID  int64
	readErr error

	closed chan struct{}
}

type clientReply struct {
	ID     json.RawMessage `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Err    *Error          `json:"error"`
}

func Dial(ctx context.Context, opts ClientOptions) (*Client, error) {
	header := http.Header{}
	if opts.Bearer != "" {
		header.Set("Authorization", "Bearer "+opts.Bearer)
	}
	conn, _, err := websocket.Dial(ctx, opts.URL, &websocket.DialOptions{
		HTTPHeader: header,
		HTTPClient: opts.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	callTimeout := opts.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	c := &Client{
		conn:        conn,
		callTimeout: callTimeout,
		pending:     map[string]chan clientReply{},
		closed:      make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.closed)
	for {
		var reply clientReply
		if err := wsjson.Read(context.Background(), c.conn, &reply); err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}
		var id string
		if len(reply.ID) == 0 || json.Unmarshal(reply.ID, &id) != nil {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[id]
		if ok {
			delete(c.pending, id)
		}
		c.mu.Unlock()
		if !ok {
			// Late or unsolicited reply; nothing is waiting for it.
			continue
		}
		ch <- reply
	}
}

// Call sends one request and waits for the correlated reply.
func (c *Client) Call(ctx context.Context, method Method, params any) (json.RawMessage, error) {
	c.mu.Lock()
	c.nextID++
	id := strconv.FormatInt(c.nextID, 10)
	ch := make(chan clientReply, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := map[string]any{
		"id":      id,
		"jsonrpc": "2.0",
		"method":  string(method),
	}
	if params != nil {
		req["params"] = params
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	if err := wsjson.Write(callCtx, c.conn, req); err != nil {
		c.discard(id)
		return nil, err
	}

	select {
	case reply := <-ch:
		if !reply.OK {
			if reply.Err != nil {
				return nil, reply.Err
			}
			return nil, errors.New("rpc failed")
		}
		return reply.Result, nil
	case <-c.closed:
		c.discard(id)
		c.mu.Lock()
		err := c.readErr
		c.mu.Unlock()
		if err == nil {
			err = errors.New("connection closed")
		}
		return nil, err
	case <-callCtx.Done():
		c.discard(id)
		return nil, fmt.Errorf("rpc timeout: %s", method)
	}
}

func (c *Client) discard(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
