package surreal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofrs/uuid"
	gorilla "github.com/gorilla/websocket"
	"github.com/surrealdb/vuser.go/pkg/constants"
	"github.com/surrealdb/vuser.go/pkg/logger"
)

// DefaultDialer is the gorilla dialer used by Connect. It is the gorilla
// default with compression enabled.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
}

// conn is a JSON-RPC session over one WebSocket.
type conn struct {
	ws       *gorilla.Conn
	connLock sync.Mutex
	timeout  time.Duration
	logger   logger.Logger

	responseChannels     map[string]chan rawResponse
	responseChannelsLock sync.RWMutex

	closeChan  chan struct{}
	closeOnce  sync.Once
	closeError error
}

func dial(ctx context.Context, url string, timeout time.Duration, log logger.Logger) (*conn, error) {
	ws, res, err := DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	c := &conn{
		ws:               ws,
		timeout:          timeout,
		logger:           log,
		responseChannels: make(map[string]chan rawResponse),
		closeChan:        make(chan struct{}),
	}
	go c.initialize()
	return c, nil
}

// Close sends a close frame and releases the socket. The context bounds how
// long we wait for the close frame to be written.
func (c *conn) Close(ctx context.Context) error {
	c.shutdown(nil)

	writeErr := make(chan error, 1)
	go func() {
		c.connLock.Lock()
		defer c.connLock.Unlock()
		writeErr <- c.ws.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(constants.CloseMessageCode, ""))
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			c.logger.Error("failed to write close message", "error", err)
		}
	case <-ctx.Done():
	}

	return c.ws.Close()
}

func newRequestID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Send issues method with params and waits for the matching response. The
// context is wrapped with the connection timeout when one is set.
func (c *conn) Send(ctx context.Context, method string, params ...any) (rawResponse, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	select {
	case <-c.closeChan:
		return rawResponse{}, c.closed()
	case <-ctx.Done():
		return rawResponse{}, ctx.Err()
	default:
	}

	id, err := newRequestID()
	if err != nil {
		return rawResponse{}, err
	}

	responseChan, err := c.createResponseChannel(id)
	if err != nil {
		return rawResponse{}, err
	}
	defer c.removeResponseChannel(id)

	if err := c.write(&RPCRequest{ID: id, Method: method, Params: params}); err != nil {
		return rawResponse{}, err
	}

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return rawResponse{}, fmt.Errorf("%w: %s", constants.ErrTimeout, method)
		}
		return rawResponse{}, ctx.Err()
	case <-c.closeChan:
		return rawResponse{}, c.closed()
	case res := <-responseChan:
		if err := res.err(); err != nil {
			return rawResponse{}, err
		}
		return res, nil
	}
}

func (c *conn) closed() error {
	if c.closeError != nil {
		return fmt.Errorf("%w: %w", constants.ErrConnectionClosed, c.closeError)
	}
	return constants.ErrConnectionClosed
}

func (c *conn) createResponseChannel(id string) (chan rawResponse, error) {
	c.responseChannelsLock.Lock()
	defer c.responseChannelsLock.Unlock()

	if _, ok := c.responseChannels[id]; ok {
		return nil, fmt.Errorf("%w: %v", constants.ErrIDInUse, id)
	}

	ch := make(chan rawResponse, 1)
	c.responseChannels[id] = ch
	return ch, nil
}

func (c *conn) removeResponseChannel(id string) {
	c.responseChannelsLock.Lock()
	defer c.responseChannelsLock.Unlock()
	delete(c.responseChannels, id)
}

func (c *conn) getResponseChannel(id string) (chan rawResponse, bool) {
	c.responseChannelsLock.RLock()
	defer c.responseChannelsLock.RUnlock()
	ch, ok := c.responseChannels[id]
	return ch, ok
}

func (c *conn) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.connLock.Lock()
	defer c.connLock.Unlock()
	return c.ws.WriteMessage(gorilla.TextMessage, data)
}

func (c *conn) initialize() {
	for {
		select {
		case <-c.closeChan:
			return
		default:
			_, data, err := c.ws.ReadMessage()
			if err != nil {
				c.handleError(err)
				return
			}
			c.handleResponse(data)
		}
	}
}

// handleError closes the connection with the cause of a failed read.
func (c *conn) handleError(err error) {
	var closeErr *gorilla.CloseError
	switch {
	case errors.Is(err, net.ErrClosed):
		c.shutdown(net.ErrClosed)
	case errors.As(err, &closeErr), errors.Is(err, io.ErrUnexpectedEOF):
		c.shutdown(io.ErrClosedPipe)
	default:
		c.logger.Error("websocket read failed", "error", err)
		c.shutdown(err)
	}
}

// shutdown marks the connection closed. Only the first cause is kept.
func (c *conn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.closeError = cause
		close(c.closeChan)
	})
}

func (c *conn) handleResponse(data []byte) {
	res := rawResponse{data: data}
	id, err := res.id()
	if err != nil || id == "" {
		c.logger.Warn("dropping response without id", "error", err)
		return
	}

	responseChan, ok := c.getResponseChannel(id)
	if !ok {
		c.logger.Warn("dropping response", "error", fmt.Errorf("%w: %s", constants.ErrInvalidResponseID, id))
		return
	}
	responseChan <- res
}
