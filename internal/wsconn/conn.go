// Package wsconn manages the single WebSocket stream to the assistant
// service.
package wsconn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/campus-assistant/internal/model"
	"github.com/capitalize-ai/campus-assistant/pkg/logger"
	"github.com/capitalize-ai/campus-assistant/pkg/metrics"
)

// ErrNotConnected is returned by Send when the stream is closed.
var ErrNotConnected = errors.New("assistant stream is not connected")

const (
	writeWait     = 10 * time.Second
	maxFrameBytes = 1 << 20
)

// Handler receives inbound frames in arrival order.
type Handler interface {
	HandleFrame(f model.Frame)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(f model.Frame)

// HandleFrame calls f.
func (f HandlerFunc) HandleFrame(fr model.Frame) { f(fr) }

// Conn is an open assistant stream. Frames are delivered to the handler from
// a single reader goroutine; Send may be called from any goroutine.
type Conn struct {
	ws      *websocket.Conn
	handler Handler
	logger  *logger.Logger

	writeMu sync.Mutex
	closed  atomic.Bool
	done    chan struct{}
	err     error
}

// Dial opens the stream at url. A non-empty token is sent as a bearer
// Authorization header.
func Dial(ctx context.Context, url, token string, h Handler, log *logger.Logger) (*Conn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to assistant stream: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect to assistant stream: %w", err)
	}
	ws.SetReadLimit(maxFrameBytes)

	c := &Conn{
		ws:      ws,
		handler: h,
		logger:  logger.OrNop(log).Named("wsconn"),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	c.logger.Info("connected to assistant stream", zap.String("url", url))
	return c, nil
}

func (c *Conn) readLoop() {
	defer close(c.done)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !c.closed.Swap(true) {
				c.err = err
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.logger.Info("assistant stream closed by server")
				} else {
					c.logger.Warn("assistant stream read failed", zap.Error(err))
				}
				_ = c.ws.Close()
			}
			return
		}

		frame, err := model.ParseFrame(data)
		if err != nil {
			metrics.FrameParseFailures.Inc()
			c.logger.Warn("dropping inbound frame",
				zap.Error(err),
				zap.Int("bytes", len(data)),
			)
			continue
		}

		metrics.FramesReceived.WithLabelValues(string(frame.Status)).Inc()
		c.handler.HandleFrame(frame)
	}
}

// Send transmits one query. It returns ErrNotConnected without writing when
// the stream is closed.
func (c *Conn) Send(ctx context.Context, q model.Query) error {
	if c.closed.Load() {
		c.logger.Warn("send on closed assistant stream")
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetWriteDeadline(deadline)

	if err := c.ws.WriteJSON(q); err != nil {
		return fmt.Errorf("failed to send query: %w", err)
	}
	return nil
}

// Connected reports whether the stream is open.
func (c *Conn) Connected() bool {
	return !c.closed.Load()
}

// Done is closed when the reader goroutine exits.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the stream, if the server or network
// closed it. It is valid after Done is closed.
func (c *Conn) Err() error {
	<-c.done
	return c.err
}

// Close closes the stream and waits for the reader goroutine to exit.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		<-c.done
		return nil
	}

	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := c.ws.Close()
	<-c.done
	return err
}
