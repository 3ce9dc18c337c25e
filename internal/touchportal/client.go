package touchportal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and sizes for the plugin socket.
const (
	// DefaultAddress is where TouchPortal listens for plugins.
	DefaultAddress = "127.0.0.1:12136"

	// defaultConnectTimeout is the maximum time to wait for the socket.
	defaultConnectTimeout = 10 * time.Second

	// defaultWriteTimeout is the timeout for write operations.
	defaultWriteTimeout = 5 * time.Second

	// maxMessageSize bounds a single host message line.
	maxMessageSize = 1 << 20

	// dispatchQueueSize is the buffer between the reader and the handler.
	dispatchQueueSize = 64
)

// Config holds plugin socket configuration.
type Config struct {
	// Address is host:port of the TouchPortal plugin socket.
	// Default: 127.0.0.1:12136.
	Address string

	// PluginID is the id declared in entry.tp; sent in the pair message.
	PluginID string

	// ConnectTimeout is the maximum time to wait for connection.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// WriteTimeout bounds each message write.
	// Default: 5 seconds.
	WriteTimeout time.Duration
}

// Handler receives host messages.
//
// Calls are made from a single goroutine in arrival order, so an info
// message is always handled before any later settings message.
// Handlers must not call Client.Close; watch Done() instead.
type Handler interface {
	// OnInfo is called once after pairing with the host's info and settings.
	OnInfo(info Info)

	// OnSettings is called with the full settings map whenever the user saves settings.
	OnSettings(settings map[string]string)

	// OnClosePlugin is called when the host asks the plugin to stop.
	OnClosePlugin()

	// OnEvent receives every other host message (broadcast, action, listChange, ...).
	OnEvent(msg Message)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Stats holds operational statistics.
type Stats struct {
	MessagesRx   uint64
	MessagesTx   uint64
	StateUpdates uint64
	ErrorsTotal  uint64
	LastActivity time.Time
	Connected    bool
	Paired       bool
}

// Client is a connection to the TouchPortal plugin socket.
//
// The host speaks newline-delimited JSON. The client sends "pair" on
// connect and then reads host messages until the socket closes or the host
// sends closePlugin; either ends the session and closes Done().
// There is no reconnection: TouchPortal restarts plugins itself.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Handler methods are invoked sequentially on a dedicated goroutine.
type Client struct {
	cfg     Config
	conn    net.Conn
	handler Handler

	writeMu sync.Mutex

	connected atomic.Bool
	paired    atomic.Bool

	info   Info
	infoMu sync.RWMutex

	dispatchQueue chan Message

	done *closeOnce
	wg   sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	messagesRx   atomic.Uint64
	messagesTx   atomic.Uint64
	stateUpdates atomic.Uint64
	errorsTotal  atomic.Uint64
	lastActivity atomic.Int64
}

// Connect dials the plugin socket, sends the pair message and starts the
// receive loop. handler must not be nil.
func Connect(ctx context.Context, cfg Config, handler Handler) (*Client, error) {
	return ConnectWithLogger(ctx, cfg, handler, nil)
}

// ConnectWithLogger is Connect with a logger installed before the receive loop starts.
func ConnectWithLogger(ctx context.Context, cfg Config, handler Handler, logger Logger) (*Client, error) {
	if handler == nil {
		return nil, fmt.Errorf("%w: handler cannot be nil", ErrConnectionFailed)
	}
	if cfg.PluginID == "" {
		return nil, fmt.Errorf("%w: plugin id is required", ErrConnectionFailed)
	}
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(connectCtx, "tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial failed: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		cfg:           cfg,
		conn:          conn,
		handler:       handler,
		logger:        logger,
		done:          newCloseOnce(),
		dispatchQueue: make(chan Message, dispatchQueueSize),
	}
	c.connected.Store(true)
	c.lastActivity.Store(time.Now().Unix())

	if err := c.send(connectCtx, pairMessage{Type: typePair, ID: cfg.PluginID}); err != nil {
		conn.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("%w: pair: %w", ErrConnectionFailed, err)
	}

	c.wg.Add(2)
	go c.dispatchWorker()
	go c.receiveLoop()

	return c, nil
}

// receiveLoop reads host messages until the socket closes.
func (c *Client) receiveLoop() {
	defer c.wg.Done()
	defer c.endSession()

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 4096), maxMessageSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		msg, err := decodeMessage(line)
		if err != nil {
			c.errorsTotal.Add(1)
			c.logError("decode host message failed", err)
			continue
		}

		c.messagesRx.Add(1)
		c.lastActivity.Store(time.Now().Unix())

		if msg.Type == TypeInfo {
			c.storeInfo(msg.Info())
		}

		select {
		case c.dispatchQueue <- msg:
		case <-c.done.Done():
			return
		}

		if msg.Type == TypeClosePlugin {
			return
		}
	}

	if err := scanner.Err(); err != nil && !c.isClosed() && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
		c.errorsTotal.Add(1)
		c.logError("read failed", err)
	}
}

// dispatchWorker hands messages to the handler in arrival order.
func (c *Client) dispatchWorker() {
	defer c.wg.Done()

	for {
		select {
		case msg := <-c.dispatchQueue:
			c.dispatch(msg)
		case <-c.done.Done():
			c.drainDispatchQueue()
			return
		}
	}
}

// drainDispatchQueue delivers messages read before shutdown, so a
// closePlugin is never lost.
func (c *Client) drainDispatchQueue() {
	for {
		select {
		case msg := <-c.dispatchQueue:
			c.dispatch(msg)
		default:
			return
		}
	}
}

func (c *Client) dispatch(msg Message) {
	defer func() {
		if r := recover(); r != nil {
			c.errorsTotal.Add(1)
			c.logError("handler panic", fmt.Errorf("%v", r))
		}
	}()

	switch msg.Type {
	case TypeInfo:
		c.paired.Store(true)
		c.logInfo("paired with TouchPortal",
			"tp_version", msg.TPVersionString,
			"sdk_version", msg.SDKVersion,
		)
		c.handler.OnInfo(msg.Info())
	case TypeSettings:
		c.handler.OnSettings(msg.Settings())
	case TypeClosePlugin:
		c.logInfo("TouchPortal requested plugin close")
		c.handler.OnClosePlugin()
	default:
		c.handler.OnEvent(msg)
	}
}

// endSession marks the connection finished and releases Done().
func (c *Client) endSession() {
	if c.connected.Swap(false) {
		c.logInfo("TouchPortal session ended")
	}
	c.done.Close()
}

// UpdateState sets a plugin state value in TouchPortal.
func (c *Client) UpdateState(ctx context.Context, id, value string) error {
	if err := c.send(ctx, stateUpdateMessage{Type: typeStateUpdate, ID: id, Value: value}); err != nil {
		return err
	}
	c.stateUpdates.Add(1)
	return nil
}

// UpdateSetting writes a value back into the plugin's settings.
func (c *Client) UpdateSetting(ctx context.Context, name, value string) error {
	return c.send(ctx, settingUpdateMessage{Type: typeSettingUpdate, Name: name, Value: value})
}

// send writes one JSON line to the host.
func (c *Client) send(ctx context.Context, v any) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrSendFailed, ctx.Err())
	default:
	}

	if !c.connected.Load() {
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrSendFailed, err)
	}
	data = append(data, '\n')

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrSendFailed, err)
	}
	if _, err := c.conn.Write(data); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: write: %w", ErrSendFailed, err)
	}

	c.messagesTx.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	return nil
}

// Done is closed when the host session ends (closePlugin, socket loss or Close).
func (c *Client) Done() <-chan struct{} {
	return c.done.Done()
}

// Info returns the host info received after pairing.
func (c *Client) Info() (Info, bool) {
	c.infoMu.RLock()
	defer c.infoMu.RUnlock()
	return c.info, c.paired.Load()
}

func (c *Client) storeInfo(info Info) {
	c.infoMu.Lock()
	c.info = info
	c.infoMu.Unlock()
}

// Close closes the socket and waits for the receive and dispatch goroutines.
// Safe to call multiple times.
func (c *Client) Close() error {
	c.connected.Store(false)
	c.done.Close()

	c.writeMu.Lock()
	err := c.conn.Close()
	c.writeMu.Unlock()

	c.wg.Wait()

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("closing touchportal socket: %w", err)
	}
	return nil
}

// IsConnected returns true while the host session is open.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// HealthCheck reports whether the host session is open.
func (c *Client) HealthCheck(_ context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	return Stats{
		MessagesRx:   c.messagesRx.Load(),
		MessagesTx:   c.messagesTx.Load(),
		StateUpdates: c.stateUpdates.Load(),
		ErrorsTotal:  c.errorsTotal.Load(),
		LastActivity: time.Unix(c.lastActivity.Load(), 0),
		Connected:    c.IsConnected(),
		Paired:       c.paired.Load(),
	}
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

func (c *Client) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *Client) logError(msg string, err error) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
