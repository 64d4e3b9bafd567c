package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/cwrk-planet/muc-session/internal/stanza"
)

// Subprotocol: подпротокол XMPP поверх WebSocket.
const Subprotocol = "xmpp"

var (
	ErrClosed      = errors.New("ws: connection closed")
	ErrQueueFull   = errors.New("ws: outbound queue is full")
	ErrSubprotocol = errors.New("ws: server did not accept the xmpp subprotocol")
)

type ClientConfig struct {
	URL    string
	Origin string
	// Domain: значение to в <open/>.
	Domain string
	From   string

	// SendRate: станз в секунду; 0 отключает ограничение.
	SendRate  float64
	SendBurst int
	QueueSize int
	PingEvery time.Duration
}

func (c *ClientConfig) setDefaults() {
	if c.SendBurst <= 0 {
		c.SendBurst = 10
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.PingEvery <= 0 {
		c.PingEvery = 30 * time.Second
	}
}

// Client: XMPP-соединение поверх WebSocket (RFC 7395): одна станза на кадр.
type Client struct {
	cfg     ClientConfig
	conn    *websocket.Conn
	handle  func(*stanza.Element)
	limiter *rate.Limiter
	log     *slog.Logger

	out       chan []byte
	closed    chan struct{}
	done      chan struct{}
	writer    sync.WaitGroup
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// Dial открывает соединение и обменивается <open/>. Входящие станзы
// передаются в handle из горутины чтения.
func Dial(ctx context.Context, cfg ClientConfig, handle func(*stanza.Element), logger *slog.Logger) (*Client, error) {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	header := http.Header{}
	if cfg.Origin != "" {
		header.Set("Origin", cfg.Origin)
	}
	dialer := websocket.Dialer{
		Subprotocols:     []string{Subprotocol},
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}
	conn, resp, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("ws dial %s: %w", cfg.URL, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if conn.Subprotocol() != Subprotocol {
		_ = conn.Close()
		return nil, ErrSubprotocol
	}

	limit := rate.Inf
	if cfg.SendRate > 0 {
		limit = rate.Limit(cfg.SendRate)
	}
	c := &Client{
		cfg:     cfg,
		conn:    conn,
		handle:  handle,
		limiter: rate.NewLimiter(limit, cfg.SendBurst),
		log:     logger.With(slog.String("ws", cfg.URL)),
		out:     make(chan []byte, cfg.QueueSize),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}

	if err := c.open(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	c.writer.Add(1)
	go c.writeLoop()
	go c.readLoop()
	return c, nil
}

func (c *Client) open(ctx context.Context) error {
	open := stanza.NS("open", stanza.NSFraming).
		Set("to", c.cfg.Domain).
		Set("from", c.cfg.From).
		Set("version", "1.0")

	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(open.String())); err != nil {
		return fmt.Errorf("ws open: %w", err)
	}

	_ = c.conn.SetReadDeadline(deadline)
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("ws open: %w", err)
	}
	el, err := stanza.Parse(data)
	if err != nil {
		return fmt.Errorf("ws open: %w", err)
	}
	if el.Name != "open" || el.Space != stanza.NSFraming {
		return fmt.Errorf("ws open: unexpected <%s>", el.Name)
	}
	return nil
}

// Send ставит станзу в очередь и не блокируется.
func (c *Client) Send(el *stanza.Element) error {
	frame := *el
	if frame.Space == "" {
		frame.Space = stanza.NSClient
	}
	data := []byte(frame.String())

	select {
	case <-c.closed:
		return ErrClosed
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

// Done закрывается, когда соединение потеряно или закрыто.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err: причина обрыва; nil после штатного Close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close отправляет <close/> и закрывает соединение.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writer.Wait()

		select {
		case <-c.done:
			return
		default:
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		frame := stanza.NS("close", stanza.NSFraming).String()
		if werr := c.conn.WriteMessage(websocket.TextMessage, []byte(frame)); werr != nil {
			c.log.Debug("ws close frame failed", slog.Any("err", werr))
		}
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = c.conn.Close()
	})
	<-c.done
	return err
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
}

// writeFailed закрывает сокет, чтобы readLoop вышел сразу, а не по дедлайну чтения.
func (c *Client) writeFailed(err error) {
	c.fail(err)
	c.log.Warn("ws write failed", slog.Any("err", err))
	_ = c.conn.Close()
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer func() { _ = c.conn.Close() }()

	c.conn.SetReadLimit(1 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * c.cfg.PingEvery))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * c.cfg.PingEvery))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.fail(err)
				c.log.Warn("ws read failed", slog.Any("err", err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(2 * c.cfg.PingEvery))

		el, err := stanza.Parse(data)
		if err != nil {
			c.log.Debug("ws bad frame", slog.Any("err", err))
			continue
		}
		if el.Space == stanza.NSFraming {
			if el.Name == "close" {
				c.fail(ErrClosed)
				c.log.Info("ws closed by server")
				return
			}
			continue
		}
		c.handle(el)
	}
}

func (c *Client) writeLoop() {
	defer c.writer.Done()

	ticker := time.NewTicker(c.cfg.PingEvery)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.closed:
		case <-c.done:
		}
		cancel()
	}()

	for {
		select {
		case data := <-c.out:
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.writeFailed(err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				c.writeFailed(err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
