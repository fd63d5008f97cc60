// Package authclient talks to the external identity service over a
// line-delimited JSON connection. Every request carries a correlation id; the
// read loop resolves responses back to their waiting callers, and a timeout
// converts a silent service into a typed failure instead of a request pending
// forever.
package authclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"clipstream/presence/internal/identity"
	"clipstream/presence/internal/logging"
)

var (
	// ErrClosed reports a request issued against, or interrupted by, a closed
	// client.
	ErrClosed = errors.New("authclient: connection closed")
	// ErrInvalidToken reports a token the identity service rejected.
	ErrInvalidToken = errors.New("authclient: invalid token")
	// ErrNoVersion reports a startup handshake without a server version.
	ErrNoVersion = errors.New("authclient: identity service reported no version")
)

const (
	actionDecrypt   = "getDecryptedInfo"
	actionSocketObj = "SocketDataObj"

	// maxResponseBytes bounds one response line from the identity service.
	maxResponseBytes = 1 << 20
)

type request struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	Token  string `json:"token,omitempty"`
}

type response struct {
	ID       string          `json:"id"`
	Response json.RawMessage `json:"response"`
}

type socketDataObj struct {
	ServerVersion string `json:"serverVersion"`
}

// Client is a correlation-table RPC client over one long-lived connection.
type Client struct {
	conn    net.Conn
	timeout time.Duration
	log     *logging.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan json.RawMessage
	closed  bool

	doneCh chan struct{}
}

// Dial connects to the identity service and starts the read loop.
func Dial(network, addr string, timeout time.Duration, log *logging.Logger) (*Client, error) {
	conn, err := net.DialTimeout(network, addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("authclient: dial %s %s: %w", network, addr, err)
	}
	return NewClient(conn, timeout, log), nil
}

// NewClient wraps an established connection. Useful for tests over net.Pipe.
func NewClient(conn net.Conn, timeout time.Duration, log *logging.Logger) *Client {
	if log == nil {
		log = logging.L()
	}
	c := &Client{
		conn:    conn,
		timeout: timeout,
		log:     log,
		pending: make(map[string]chan json.RawMessage),
		doneCh:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	defer c.failPending()
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 64*1024), maxResponseBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.log.Warn("malformed identity response", logging.Error(err))
			continue
		}
		c.resolve(resp)
	}
	if err := scanner.Err(); err != nil {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if !closed {
			c.log.Error("identity link read failed", logging.Error(err))
		}
	}
}

func (c *Client) resolve(resp response) {
	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()
	if !ok {
		c.log.Debug("response without pending request", logging.String("id", resp.ID))
		return
	}
	ch <- resp.Response
	close(ch)
}

// failPending wakes every in-flight caller after the link dies. Callers
// observe the closed channel and report ErrClosed.
func (c *Client) failPending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan json.RawMessage)
	c.closed = true
	c.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
	close(c.doneCh)
}

func (c *Client) call(ctx context.Context, action, token string) (json.RawMessage, error) {
	if c == nil {
		return nil, ErrClosed
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	id := uuid.NewString()
	ch := make(chan json.RawMessage, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	payload, err := json.Marshal(request{ID: id, Action: action, Token: token})
	if err != nil {
		c.abandon(id)
		return nil, fmt.Errorf("authclient: encode request: %w", err)
	}
	payload = append(payload, '\n')

	c.writeMu.Lock()
	_, err = c.conn.Write(payload)
	c.writeMu.Unlock()
	if err != nil {
		c.abandon(id)
		return nil, fmt.Errorf("authclient: write request: %w", err)
	}

	select {
	case raw, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		return raw, nil
	case <-ctx.Done():
		c.abandon(id)
		return nil, fmt.Errorf("authclient: %s: %w", action, ctx.Err())
	}
}

func (c *Client) abandon(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Err reports the link state: nil while the read loop is running, ErrClosed
// once the connection is gone.
func (c *Client) Err() error {
	if c == nil {
		return ErrClosed
	}
	select {
	case <-c.doneCh:
		return ErrClosed
	default:
		return nil
	}
}

// GetDecryptedInfo resolves a client token to its decrypted identity. A falsy
// response means the service rejected the token.
func (c *Client) GetDecryptedInfo(ctx context.Context, token string) (identity.Identity, error) {
	raw, err := c.call(ctx, actionDecrypt, token)
	if err != nil {
		return identity.Identity{}, err
	}
	ident, ok := identity.Decode(raw)
	if !ok {
		return identity.Identity{}, ErrInvalidToken
	}
	return ident, nil
}

// ServerVersion performs the one-time startup handshake and returns the
// identity service's reported version.
func (c *Client) ServerVersion(ctx context.Context) (string, error) {
	raw, err := c.call(ctx, actionSocketObj, "")
	if err != nil {
		return "", err
	}
	var obj socketDataObj
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("authclient: decode handshake: %w", err)
	}
	if obj.ServerVersion == "" {
		return "", ErrNoVersion
	}
	return obj.ServerVersion, nil
}

// Close tears down the link. In-flight requests fail with ErrClosed once the
// read loop drains.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	c.mu.Unlock()
	err := c.conn.Close()
	<-c.doneCh
	if alreadyClosed {
		return nil
	}
	return err
}
