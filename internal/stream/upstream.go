package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fmogensen/investment-platform/internal/provider"
)

// State names one phase of the upstream connection lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateStreaming    State = "streaming"
	StateBackoff      State = "backoff"
	StateUnconfigured State = "unconfigured"
)

// errLifetimeExpired marks the scheduled self-termination of a healthy
// connection; it forces a fresh handshake without counting as a failure.
var errLifetimeExpired = errors.New("connection lifetime expired")

// ErrReconnectExhausted is returned when the attempt budget is spent.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// Upstream drives one streaming provider connection through an explicit
// state machine: disconnected -> connecting -> streaming -> (error) ->
// backoff -> connecting, looping until the context is canceled, the
// credential is found missing, or the attempt budget runs out.
type Upstream struct {
	streamer provider.Streamer
	broker   *Broker
	cfg      Config
	dialer   *websocket.Dialer

	mu    sync.RWMutex
	state State

	// connMu guards conn and serializes all writes to it.
	connMu sync.Mutex
	conn   *websocket.Conn
}

func NewUpstream(streamer provider.Streamer, broker *Broker, cfg Config) *Upstream {
	return &Upstream{
		streamer: streamer,
		broker:   broker,
		cfg:      cfg,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		state:    StateDisconnected,
	}
}

func (u *Upstream) State() State {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.state
}

func (u *Upstream) setState(s State) {
	u.mu.Lock()
	u.state = s
	u.mu.Unlock()
}

// Run owns the reconnect loop. It returns when ctx is canceled, when the
// provider has no credential, or when consecutive failures exceed the
// attempt budget; the terminal condition is broadcast to subscribers before
// returning.
func (u *Upstream) Run(ctx context.Context) error {
	attempts := 0
	for {
		if ctx.Err() != nil {
			u.setState(StateDisconnected)
			return ctx.Err()
		}

		url, err := u.streamer.StreamURL()
		if err != nil {
			// a missing credential is terminal until configuration changes;
			// retrying forever would never help
			u.setState(StateUnconfigured)
			u.broker.Broadcast(Event{Type: "error", Message: "streaming provider unconfigured"})
			return err
		}

		u.setState(StateConnecting)
		conn, _, err := u.dialer.DialContext(ctx, url, nil)
		if err != nil {
			log.Printf("stream: %s dial: %v", u.streamer.Name(), err)
			if !u.backoff(ctx, &attempts) {
				return u.giveUp(ctx)
			}
			continue
		}

		u.setConn(conn)
		if err := u.subscribeAll(); err != nil {
			log.Printf("stream: %s subscribe: %v", u.streamer.Name(), err)
			u.setConn(nil)
			conn.Close()
			if !u.backoff(ctx, &attempts) {
				return u.giveUp(ctx)
			}
			continue
		}

		u.setState(StateStreaming)
		attempts = 0

		err = u.readLoop(ctx, conn)
		u.setConn(nil)
		conn.Close()
		switch {
		case ctx.Err() != nil:
			u.setState(StateDisconnected)
			return ctx.Err()
		case errors.Is(err, errLifetimeExpired):
			// scheduled rotation; reconnect immediately with a fresh handshake
			log.Printf("stream: %s lifetime reached, rotating connection", u.streamer.Name())
			continue
		default:
			log.Printf("stream: %s transport error: %v", u.streamer.Name(), err)
			if !u.backoff(ctx, &attempts) {
				return u.giveUp(ctx)
			}
		}
	}
}

func (u *Upstream) setConn(conn *websocket.Conn) {
	u.connMu.Lock()
	u.conn = conn
	u.connMu.Unlock()
}

func (u *Upstream) subscribeAll() error {
	u.connMu.Lock()
	defer u.connMu.Unlock()
	for _, symbol := range u.broker.Symbols() {
		frame, err := u.streamer.SubscribeFrame(symbol)
		if err != nil {
			return fmt.Errorf("build subscribe frame for %s: %w", symbol, err)
		}
		if err := u.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return fmt.Errorf("send subscribe frame for %s: %w", symbol, err)
		}
	}
	return nil
}

// SymbolsChanged adjusts the live subscription set. Wired as the broker's
// symbol listener. With no open connection the change waits for the next
// handshake, which subscribes the full union.
func (u *Upstream) SymbolsChanged(added, removed []string) {
	u.connMu.Lock()
	defer u.connMu.Unlock()
	if u.conn == nil {
		return
	}
	for _, symbol := range added {
		frame, err := u.streamer.SubscribeFrame(symbol)
		if err == nil {
			err = u.conn.WriteMessage(websocket.TextMessage, frame)
		}
		if err != nil {
			log.Printf("stream: %s subscribe %s: %v", u.streamer.Name(), symbol, err)
		}
	}
	for _, symbol := range removed {
		frame, err := u.streamer.UnsubscribeFrame(symbol)
		if err == nil {
			err = u.conn.WriteMessage(websocket.TextMessage, frame)
		}
		if err != nil {
			log.Printf("stream: %s unsubscribe %s: %v", u.streamer.Name(), symbol, err)
		}
	}
}

// readLoop pumps frames into the broker until a transport error, the
// context, or the connection lifetime cap ends it.
func (u *Upstream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	expired := make(chan struct{})
	done := make(chan struct{})
	defer close(done)
	go func() {
		t := time.NewTimer(u.cfg.MaxLifetime)
		defer t.Stop()
		select {
		case <-ctx.Done():
			conn.Close()
		case <-t.C:
			close(expired)
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-expired:
				return errLifetimeExpired
			default:
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read frame: %w", err)
		}
		trades, err := u.streamer.ParseFrame(data)
		if err != nil {
			// malformed frame is a transport-level failure
			return err
		}
		for _, t := range trades {
			u.broker.Publish(t)
		}
	}
}

// backoff waits before the next attempt. It reports false when the attempt
// budget is spent or the context ended.
func (u *Upstream) backoff(ctx context.Context, attempts *int) bool {
	*attempts++
	if u.cfg.MaxReconnectAttempts > 0 && *attempts > u.cfg.MaxReconnectAttempts {
		return false
	}
	delay := backoffDelay(u.cfg.BackoffBase, u.cfg.BackoffMax, *attempts-1)
	u.setState(StateBackoff)
	log.Printf("stream: %s reconnect attempt %d in %s", u.streamer.Name(), *attempts, delay)

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (u *Upstream) giveUp(ctx context.Context) error {
	u.setState(StateDisconnected)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	u.broker.Broadcast(Event{Type: "error", Message: "stream disconnected; reconnect attempts exhausted"})
	return ErrReconnectExhausted
}

// backoffDelay doubles base per attempt (0-based) up to max.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
