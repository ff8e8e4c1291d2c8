package rio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Default settings for RIO connections.
const (
	// DefaultPort is the RIO control port.
	DefaultPort = 9621

	// defaultConnectTimeout is the maximum time to wait for the TCP dial.
	defaultConnectTimeout = 10 * time.Second

	// defaultWriteTimeout is the deadline for writing one command.
	defaultWriteTimeout = 5 * time.Second

	// defaultReconnectDelay is the fixed pause between reconnection attempts.
	defaultReconnectDelay = 5 * time.Second

	// defaultKeepAliveInterval is how often an idle connection is exercised.
	defaultKeepAliveInterval = 15 * time.Minute

	// commandQueueSize bounds commands waiting for the session loop.
	commandQueueSize = 64

	// keepAliveCommand is a harmless query whose reply is discarded.
	keepAliveCommand = "VERSION"
)

// Config holds RIO connection settings.
type Config struct {
	// Host is the controller address.
	Host string

	// Port is the controller TCP port.
	// Default: 9621.
	Port int

	// Reconnect enables the reconnect loop after an established session fails.
	Reconnect bool

	// ReconnectDelay is the pause before each reconnection attempt.
	// Default: 5 seconds.
	ReconnectDelay time.Duration

	// MaxReconnectAttempts caps consecutive failed attempts. 0 means unlimited.
	MaxReconnectAttempts int

	// KeepAliveInterval is how often VERSION is sent to keep the link busy.
	// Default: 15 minutes.
	KeepAliveInterval time.Duration

	// ConnectTimeout is the maximum time to wait for the TCP dial.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// WriteTimeout is the deadline for writing one command.
	// Default: 5 seconds.
	WriteTimeout time.Duration

	// CommandTimeout bounds each command's wait for its reply.
	// Default: 0 (wait until the reply, cancellation or connection loss).
	CommandTimeout time.Duration

	// MinVersion is the oldest accepted controller API version.
	// Default: "1.03.00".
	MinVersion string

	// Dialer opens the transport. Default: TCPDialer(WriteTimeout).
	Dialer Dialer
}

// State is the connection state owned by the supervisor.
type State int

const (
	// StateDisconnected means no session is running.
	StateDisconnected State = iota

	// StateConnecting means a transport is open and the handshake is running.
	StateConnecting

	// StateConnected means the handshake finished and watches are replayed.
	StateConnected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Stats holds operational statistics.
type Stats struct {
	CommandsTx      uint64
	RepliesRx       uint64
	EventsRx        uint64
	CommandErrors   uint64 // E replies
	UnparsedLines   uint64
	ErrorsTotal     uint64
	ReconnectsTotal uint64 // Successful reconnections
	LastActivity    time.Time
	State           State
	Connected       bool
	Reconnecting    bool // True while the reconnect loop runs
	Version         string
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// ConnectionCallback is invoked with true when the client reaches Connected
// and with false when a connected client drops or is closed.
type ConnectionCallback func(connected bool)

type connectionEntry struct {
	id CallbackID
	fn ConnectionCallback
}

// liveSession is the running session goroutine plus its keep-alive.
type liveSession struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{} // closed when the session loop returns
}

func (l *liveSession) stop() {
	l.cancel()
	l.wg.Wait()
}

// Client is a persistent connection to one RIO controller.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Variable and connection callbacks run on internal goroutines and must
//     not block on commands sent through the same client.
//
// Auto-Reconnection:
//   - When Reconnect is set and an established session fails, the client
//     retries every ReconnectDelay until it succeeds, Close is called, or
//     MaxReconnectAttempts is reached.
//   - Commands issued while reconnecting wait in the queue.
type Client struct {
	cfg     Config
	dial    Dialer
	cache   *Cache
	watches *watchRegistry
	queue   chan *pendingCommand

	// Lifecycle, guarded by mu
	mu         sync.Mutex
	state      State
	started    bool // Connect succeeded or in progress, not closed
	closing    bool
	version    string
	life       context.Context
	lifeCancel context.CancelFunc
	current    *liveSession

	reconnecting atomic.Bool
	wg           sync.WaitGroup // reconnect loops

	connCallbackMu sync.RWMutex
	connCallbacks  []connectionEntry
	nextConnID     CallbackID

	counters counters

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a client. Call Connect to open the session.
func New(cfg Config) *Client {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.KeepAliveInterval == 0 {
		cfg.KeepAliveInterval = defaultKeepAliveInterval
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.MinVersion == "" {
		cfg.MinVersion = DefaultMinVersion
	}

	dial := cfg.Dialer
	if dial == nil {
		dial = TCPDialer(cfg.WriteTimeout)
	}

	c := &Client{
		cfg:     cfg,
		dial:    dial,
		cache:   NewCache(nil),
		watches: newWatchRegistry(),
		queue:   make(chan *pendingCommand, commandQueueSize),
	}
	c.counters.touch()
	return c
}

// Address returns the controller's host:port.
func (c *Client) Address() string {
	return net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
}

// Connect opens the transport, checks the controller version, replays
// watches and reports Connected.
//
// A failed initial connect is returned to the caller and not retried.
//
// Parameters:
//   - ctx: Context for cancellation of the dial and handshake
//
// Returns:
//   - error: ErrConnectionFailed, ErrUnsupportedFeature or ErrAlreadyConnected
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	if c.lifeCancel != nil {
		c.lifeCancel()
	}
	c.started = true
	c.life, c.lifeCancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		c.mu.Lock()
		c.started = false
		cancel := c.lifeCancel
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		c.failQueued(err)
		return err
	}
	return nil
}

// connect performs one connection attempt.
func (c *Client) connect(ctx context.Context) error {
	life, ok := c.lifeContext()
	if !ok {
		return ErrClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(life, cancel)
	defer stop()

	c.setState(StateConnecting)

	dialCtx, dialCancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	transport, err := c.dial(dialCtx, c.Address())
	dialCancel()
	if err != nil {
		c.counters.errorsTotal.Add(1)
		c.setState(StateDisconnected)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	live := c.startSession(transport)

	if err := c.handshake(ctx); err != nil {
		c.abortAttempt(live)
		return err
	}

	if err := c.markConnected(live); err != nil {
		c.abortAttempt(live)
		return err
	}
	c.logInfo("connected to controller",
		"address", c.Address(),
		"version", c.Version())
	return nil
}

// abortAttempt stops a session whose connect attempt failed.
func (c *Client) abortAttempt(live *liveSession) {
	live.stop()
	c.mu.Lock()
	if c.current == live {
		c.current = nil
	}
	c.mu.Unlock()
	c.setState(StateDisconnected)
}

// startSession runs a session and its keep-alive on transport.
func (c *Client) startSession(transport Transport) *liveSession {
	sessCtx, cancel := context.WithCancel(context.Background())
	live := &liveSession{cancel: cancel, done: make(chan struct{})}

	s := &session{
		transport: transport,
		cache:     c.cache,
		queue:     c.queue,
		counters:  &c.counters,
		logger:    c.getLogger(),
	}

	c.mu.Lock()
	c.current = live
	c.mu.Unlock()

	live.wg.Add(2)
	go func() {
		defer live.wg.Done()
		err := s.run(sessCtx)
		cancel()
		close(live.done)
		c.sessionEnded(live, err)
	}()
	go func() {
		defer live.wg.Done()
		c.keepAlive(sessCtx)
	}()

	return live
}

// handshake checks the controller version and replays the watch set.
func (c *Client) handshake(ctx context.Context) error {
	version, err := c.send(ctx, "VERSION")
	if err != nil {
		return fmt.Errorf("%w: version query: %w", ErrConnectionFailed, err)
	}
	if !IsVersionAtLeast(version, c.cfg.MinVersion) {
		return fmt.Errorf("%w: controller reports %q, minimum is %s",
			ErrUnsupportedFeature, version, c.cfg.MinVersion)
	}

	c.mu.Lock()
	c.version = version
	c.mu.Unlock()

	for _, id := range c.watches.list() {
		if _, err := c.send(ctx, watchCommand(id, true)); err != nil {
			var cmdErr *CommandError
			if errors.As(err, &cmdErr) {
				c.logWarn("watch replay rejected", "device", id, "error", err)
				continue
			}
			return fmt.Errorf("%w: watch replay: %w", ErrConnectionFailed, err)
		}
	}
	return nil
}

// markConnected moves to Connected unless the session already ended. The
// check and the transition share c.mu with sessionEnded, so a session that
// dies after this point is seen there as a lost connection.
func (c *Client) markConnected(live *liveSession) error {
	c.mu.Lock()
	select {
	case <-live.done:
		c.mu.Unlock()
		return fmt.Errorf("%w: session ended during handshake: %w", ErrConnectionFailed, ErrConnectionLost)
	default:
	}
	prev := c.state
	c.state = StateConnected
	c.mu.Unlock()

	if prev != StateConnected {
		c.notifyConnection(true)
	}
	return nil
}

// sessionEnded handles a session that stopped on its own.
func (c *Client) sessionEnded(live *liveSession, err error) {
	c.mu.Lock()
	if c.current != live || c.state != StateConnected || c.closing {
		c.mu.Unlock()
		return
	}
	c.current = nil
	reconnect := c.cfg.Reconnect && c.started
	if reconnect {
		c.wg.Add(1)
	} else {
		c.started = false
	}
	c.mu.Unlock()

	c.counters.errorsTotal.Add(1)
	c.logWarn("connection lost", "address", c.Address(), "error", err)
	c.setState(StateDisconnected)

	if reconnect {
		go c.reconnectLoop()
		return
	}
	c.failQueued(fmt.Errorf("%w: %w", ErrNotConnected, err))
}

// reconnectLoop retries connect at a fixed interval.
func (c *Client) reconnectLoop() {
	defer c.wg.Done()

	c.reconnecting.Store(true)
	defer c.reconnecting.Store(false)

	life, ok := c.lifeContext()
	if !ok {
		return
	}

	for attempt := 1; ; attempt++ {
		select {
		case <-life.Done():
			return
		case <-time.After(c.cfg.ReconnectDelay):
		}

		c.logInfo("attempting reconnection", "attempt", attempt)

		err := c.connect(life)
		if err == nil {
			c.counters.reconnectsTotal.Add(1)
			c.logInfo("reconnection successful",
				"total_reconnects", c.counters.reconnectsTotal.Load())
			return
		}
		if life.Err() != nil {
			return
		}

		if errors.Is(err, ErrUnsupportedFeature) {
			c.abandon(err)
			return
		}
		if c.cfg.MaxReconnectAttempts > 0 && attempt >= c.cfg.MaxReconnectAttempts {
			c.abandon(fmt.Errorf("%w: gave up after %d attempts: %w", ErrNotConnected, attempt, err))
			return
		}
		c.logError("reconnection failed", "attempt", attempt, "error", err)
	}
}

// abandon stops accepting commands after the reconnect loop gives up.
func (c *Client) abandon(err error) {
	c.logError("reconnection abandoned", "error", err)

	c.mu.Lock()
	c.started = false
	c.mu.Unlock()

	c.failQueued(err)
}

// keepAlive sends a no-op query on a fixed interval until ctx is done.
func (c *Client) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.send(ctx, keepAliveCommand); err != nil && ctx.Err() == nil {
				c.logWarn("keep-alive failed", "error", err)
			}
		}
	}
}

// Close stops the session, the keep-alive and any reconnect loop.
//
// Queued commands fail with ErrClosed and the in-flight command with
// ErrCancelled. Safe to call multiple times. The client may be connected
// again afterwards.
//
// Returns:
//   - error: nil (closing is best-effort)
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.started = false
	cancel := c.lifeCancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	c.mu.Lock()
	live := c.current
	c.current = nil
	c.mu.Unlock()

	if live != nil {
		live.stop()
	}

	c.failQueued(ErrClosed)
	c.setState(StateDisconnected)

	c.mu.Lock()
	c.closing = false
	c.life = nil
	c.lifeCancel = nil
	c.mu.Unlock()

	c.logInfo("connection closed", "address", c.Address())
	return nil
}

// SendCommand sends raw command text and waits for its terminal reply.
//
// Parameters:
//   - ctx: Context for cancellation while queued or awaiting the reply
//   - text: Command without terminator, e.g. "GET C[1].Z[1].volume"
//
// Returns:
//   - string: The reply value (may be empty)
//   - error: *CommandError on an E reply, ErrInvalidCommand when text holds
//     a line break, ErrNotConnected, ErrClosed or a connection error
func (c *Client) SendCommand(ctx context.Context, text string) (string, error) {
	if strings.ContainsAny(text, "\r\n") {
		return "", fmt.Errorf("%w: line break in %q", ErrInvalidCommand, text)
	}

	life, err := c.acceptCommands()
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(life, cancel)
	defer stop()

	value, err := c.send(ctx, text)
	if err != nil && errors.Is(err, context.Canceled) && life.Err() != nil {
		return "", ErrClosed
	}
	return value, err
}

// send queues a command and waits for its result.
func (c *Client) send(ctx context.Context, text string) (string, error) {
	if c.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CommandTimeout)
		defer cancel()
	}

	cmd := newPendingCommand(ctx, text)
	select {
	case c.queue <- cmd:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case res := <-cmd.result:
		return res.value, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// acceptCommands returns the lifecycle context when commands may be queued.
func (c *Client) acceptCommands() (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started || c.closing || c.life == nil {
		return nil, ErrNotConnected
	}
	return c.life, nil
}

// failQueued resolves every command still waiting in the queue.
func (c *Client) failQueued(err error) {
	for {
		select {
		case cmd := <-c.queue:
			cmd.resolve("", err)
		default:
			return
		}
	}
}

// GetVariable returns a cached value, falling back to a GET command.
func (c *Client) GetVariable(ctx context.Context, deviceID, key string) (string, error) {
	if value, err := c.cache.Read(deviceID, key); err == nil {
		return value, nil
	}
	return c.SendCommand(ctx, fmt.Sprintf("GET %s.%s", deviceID, key))
}

// GetCachedVariable returns a cached value or def. It never touches the network.
func (c *Client) GetCachedVariable(deviceID, key, def string) string {
	return c.cache.ReadOrDefault(deviceID, key, def)
}

// SetVariable writes a device variable.
func (c *Client) SetVariable(ctx context.Context, deviceID, key, value string) (string, error) {
	return c.SendCommand(ctx, fmt.Sprintf(`SET %s.%s="%s"`, deviceID, key, value))
}

// SendEvent sends an EVENT command, e.g. SendEvent(ctx, "C[1].Z[1]", "KeyPress", "Volume", "20").
func (c *Client) SendEvent(ctx context.Context, deviceID, event string, args ...string) (string, error) {
	text := fmt.Sprintf("EVENT %s!%s", deviceID, event)
	if len(args) > 0 {
		text += " " + strings.Join(args, " ")
	}
	return c.SendCommand(ctx, text)
}

// Watch subscribes to push updates for deviceID. The subscription is
// replayed after every reconnect.
func (c *Client) Watch(ctx context.Context, deviceID string) (string, error) {
	c.watches.add(deviceID)
	return c.SendCommand(ctx, watchCommand(deviceID, true))
}

// Unwatch cancels push updates for deviceID.
func (c *Client) Unwatch(ctx context.Context, deviceID string) (string, error) {
	c.watches.remove(deviceID)
	return c.SendCommand(ctx, watchCommand(deviceID, false))
}

// Watched returns the identifiers currently in the watch set.
func (c *Client) Watched() []string {
	return c.watches.list()
}

// AddCallback registers fn for variable updates of deviceID.
func (c *Client) AddCallback(deviceID string, fn Callback) CallbackID {
	return c.cache.AddCallback(deviceID, fn)
}

// RemoveCallback drops a variable callback registration.
func (c *Client) RemoveCallback(id CallbackID) {
	c.cache.RemoveCallback(id)
}

// AddConnectionCallback registers fn for connection state changes.
func (c *Client) AddConnectionCallback(fn ConnectionCallback) CallbackID {
	c.connCallbackMu.Lock()
	defer c.connCallbackMu.Unlock()

	c.nextConnID++
	c.connCallbacks = append(c.connCallbacks, connectionEntry{id: c.nextConnID, fn: fn})
	return c.nextConnID
}

// RemoveConnectionCallback drops a connection callback registration.
func (c *Client) RemoveConnectionCallback(id CallbackID) {
	c.connCallbackMu.Lock()
	defer c.connCallbackMu.Unlock()

	for i, e := range c.connCallbacks {
		if e.id == id {
			c.connCallbacks = append(c.connCallbacks[:i:i], c.connCallbacks[i+1:]...)
			return
		}
	}
}

// Snapshot returns a copy of a device's cached variables.
func (c *Client) Snapshot(deviceID string) map[string]string {
	return c.cache.Snapshot(deviceID)
}

// Devices returns every device identifier with cached state.
func (c *Client) Devices() []string {
	return c.cache.Devices()
}

// setState records a transition and fires connection callbacks.
func (c *Client) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()

	switch {
	case prev == s:
	case s == StateConnected:
		c.notifyConnection(true)
	case prev == StateConnected:
		c.notifyConnection(false)
	}
}

func (c *Client) notifyConnection(connected bool) {
	c.connCallbackMu.RLock()
	fns := make([]ConnectionCallback, len(c.connCallbacks))
	for i, e := range c.connCallbacks {
		fns[i] = e.fn
	}
	c.connCallbackMu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logError("connection callback panic", "panic", fmt.Sprint(r))
				}
			}()
			fn(connected)
		}()
	}
}

func (c *Client) lifeContext() (context.Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.life, c.life != nil
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected returns true once the handshake has completed.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Version returns the controller API version from the last handshake.
func (c *Client) Version() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	state := c.State()
	return Stats{
		CommandsTx:      c.counters.commandsTx.Load(),
		RepliesRx:       c.counters.repliesRx.Load(),
		EventsRx:        c.counters.eventsRx.Load(),
		CommandErrors:   c.counters.commandErrors.Load(),
		UnparsedLines:   c.counters.unparsedLines.Load(),
		ErrorsTotal:     c.counters.errorsTotal.Load(),
		ReconnectsTotal: c.counters.reconnectsTotal.Load(),
		LastActivity:    time.Unix(c.counters.lastActivity.Load(), 0),
		State:           state,
		Connected:       state == StateConnected,
		Reconnecting:    c.reconnecting.Load(),
		Version:         c.Version(),
	}
}

// HealthCheck verifies the connection is established.
//
// Note: This only checks connection state. Send VERSION for an end-to-end check.
func (c *Client) HealthCheck(_ context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// SetLogger sets the logger for this client.
// Sessions started afterwards use the new logger.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()

	c.cache.SetLogger(logger)
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// logInfo logs an info message if logger is set.
func (c *Client) logInfo(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (c *Client) logWarn(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (c *Client) logError(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Error(msg, keysAndValues...)
	}
}
