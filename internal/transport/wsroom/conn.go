package wsroom

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/park285/cheese-p2pchess/internal/transport"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// State is the relay connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

var errNotConnected = errors.New("wsroom: not connected")

type stateCallbackEntry struct {
	id       int
	callback func(State)
}

// conn is a relay connection that keeps itself alive: ping loop, reconnect with backoff.
type conn struct {
	url    string
	logger *zap.Logger

	ws     *websocket.Conn
	wsM    sync.RWMutex
	state  State
	stateM sync.RWMutex

	stateCbs []stateCallbackEntry
	cbM      sync.RWMutex

	onEnvelope  func(transport.Envelope)
	onReconnect func()

	maxReconnectAttempts int
	reconnectDelay       time.Duration
	pingInterval         time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

func newConn(url string, cfg Config, logger *zap.Logger) *conn {
	ping := cfg.PingInterval
	if ping <= 0 {
		ping = 30 * time.Second
	}
	c := &conn{
		url:                  url,
		logger:               logger,
		state:                StateDisconnected,
		maxReconnectAttempts: cfg.MaxReconnect,
		reconnectDelay:       cfg.ReconnectDelay,
		pingInterval:         ping,
		stopCh:               make(chan struct{}),
	}
	c.rootCtx, c.rootCancel = context.WithCancel(context.Background())
	return c
}

func (c *conn) Connect(ctx context.Context) error {
	c.setState(StateConnecting)
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	ws, err := c.dial(dialCtx)
	if err != nil {
		c.setState(StateFailed)
		return err
	}
	c.attach(ws)
	return nil
}

func (c *conn) dial(ctx context.Context) (*websocket.Conn, error) {
	ws, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	return ws, err
}

func (c *conn) attach(ws *websocket.Conn) {
	c.wsM.Lock()
	c.ws = ws
	c.wsM.Unlock()
	c.setState(StateConnected)
	c.wg.Add(2)
	go c.listen(ws)
	go c.pingLoop(ws)
}

func (c *conn) current() *websocket.Conn {
	c.wsM.RLock()
	defer c.wsM.RUnlock()
	return c.ws
}

func (c *conn) publish(ctx context.Context, env transport.Envelope) error {
	ws := c.current()
	if ws == nil {
		return errNotConnected
	}
	return wsjson.Write(ctx, ws, env)
}

func (c *conn) listen(ws *websocket.Conn) {
	defer c.wg.Done()
	for {
		var env transport.Envelope
		if err := wsjson.Read(c.rootCtx, ws, &env); err != nil {
			if c.isStopping() {
				return
			}
			c.logger.Warn("wsroom_read_failed", zap.Error(err))
			c.drop(ws, "reconnect")
			return
		}
		if env.From == "" {
			continue
		}
		if c.onEnvelope != nil {
			c.onEnvelope(env)
		}
	}
}

func (c *conn) pingLoop(ws *websocket.Conn) {
	defer c.wg.Done()
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-c.stopCh:
			return
		case <-t.C:
			if c.current() != ws {
				return
			}
			ctx, cancel := context.WithTimeout(c.rootCtx, 3*time.Second)
			err := ws.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				if c.isStopping() {
					return
				}
				c.drop(ws, "ping failure")
				return
			}
		}
	}
}

// drop closes ws if it is still the active socket and starts reconnecting.
func (c *conn) drop(ws *websocket.Conn, reason string) {
	c.wsM.Lock()
	if c.ws != ws {
		c.wsM.Unlock()
		return
	}
	c.ws = nil
	c.wsM.Unlock()
	_ = ws.Close(websocket.StatusGoingAway, reason)
	c.setState(StateDisconnected)
	c.scheduleReconnect()
}

func (c *conn) scheduleReconnect() {
	if c.maxReconnectAttempts <= 0 {
		c.setState(StateFailed)
		return
	}
	c.setState(StateReconnecting)
	go func() {
		for attempt := 1; attempt <= c.maxReconnectAttempts; attempt++ {
			select {
			case <-c.stopCh:
				return
			case <-time.After(backoffDuration(c.reconnectDelay, attempt)):
			}
			dialCtx, cancel := context.WithTimeout(c.rootCtx, 10*time.Second)
			ws, err := c.dial(dialCtx)
			cancel()
			if err != nil {
				c.logger.Debug("wsroom_reconnect_failed", zap.Int("attempt", attempt), zap.Error(err))
				continue
			}
			if c.isStopping() {
				_ = ws.Close(websocket.StatusNormalClosure, "close")
				return
			}
			c.attach(ws)
			if c.onReconnect != nil {
				c.onReconnect()
			}
			return
		}
		c.setState(StateFailed)
	}()
}

func backoffDuration(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= 30*time.Second {
			return 30 * time.Second
		}
	}
	return d
}

func (c *conn) OnStateChange(cb func(State)) int {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	id := len(c.stateCbs) + 1
	c.stateCbs = append(c.stateCbs, stateCallbackEntry{id: id, callback: cb})
	return id
}

func (c *conn) State() State {
	c.stateM.RLock()
	defer c.stateM.RUnlock()
	return c.state
}

func (c *conn) setState(s State) {
	c.stateM.Lock()
	c.state = s
	c.stateM.Unlock()

	c.cbM.RLock()
	cbs := make([]stateCallbackEntry, len(c.stateCbs))
	copy(cbs, c.stateCbs)
	c.cbM.RUnlock()
	for _, e := range cbs {
		if e.callback != nil {
			e.callback(s)
		}
	}
}

func (c *conn) Close(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wsM.Lock()
	ws := c.ws
	c.ws = nil
	c.wsM.Unlock()
	if ws != nil {
		_ = ws.Close(websocket.StatusNormalClosure, "close")
	}
	c.rootCancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		c.setState(StateDisconnected)
		return nil
	}
}

func (c *conn) isStopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}
