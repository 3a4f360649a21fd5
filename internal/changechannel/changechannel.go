// Package changechannel propagates working-set change events (a node
// added to or evicted from a robot's working memory, a robot promoted or
// failed over) across process boundaries using Postgres LISTEN/NOTIFY, so
// every process sharing the same Long-Term Memory database observes the
// same change stream without a separate message broker.
package changechannel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Event is one NOTIFY delivered to a subscriber.
type Event struct {
	Channel    string
	Payload    string
	ReceivedAt time.Time
}

// Publish sends a NOTIFY on channel carrying payload. Uses pg_notify so the
// payload is passed as a bound parameter rather than interpolated SQL.
func Publish(ctx context.Context, pool *pgxpool.Pool, channel, payload string) error {
	_, err := pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload)
	if err != nil {
		return fmt.Errorf("changechannel: publish on %q: %w", channel, err)
	}
	return nil
}

// listenCmd is a LISTEN/UNLISTEN request serialized through the receive
// loop, the only goroutine allowed to touch the dedicated connection.
type listenCmd struct {
	sql     string
	channel string
	gen     uint64 // generation captured at Unsubscribe time; 0 for LISTEN
	result  chan error
}

// Listener holds one dedicated connection LISTENing on behalf of every
// local subscriber, fanning each NOTIFY out to whichever subscriber
// channels are currently registered for that Postgres channel name.
type Listener struct {
	connString string
	conn       *pgx.Conn
	connMu     sync.Mutex

	cmdCh   chan listenCmd
	running atomic.Bool

	// listenGen guards against a stale UNLISTEN (queued before a
	// resubscribe) winning a race against the newer LISTEN.
	listenGen   map[string]uint64
	listenGenMu sync.Mutex

	subscribers map[string][]chan Event
	subMu       sync.RWMutex

	logger     *zap.Logger
	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// NewListener creates a Listener for the given connection string. Start
// must be called before Subscribe.
func NewListener(connString string, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		connString:  connString,
		cmdCh:       make(chan listenCmd, 16),
		listenGen:   make(map[string]uint64),
		subscribers: make(map[string][]chan Event),
		logger:      logger,
	}
}

// Start opens the dedicated LISTEN connection and begins the receive loop.
func (l *Listener) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("changechannel: connect: %w", err)
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()
	l.running.Store(true)

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancelLoop = cancel
	l.loopDone = make(chan struct{})
	go func() {
		defer close(l.loopDone)
		l.receiveLoop(loopCtx)
	}()

	l.logger.Info("change channel listener started")
	return nil
}

// Stop cancels the receive loop, waits for it to exit, and closes the
// connection. Waiting for the loop first avoids a close racing a pending
// WaitForNotification call.
func (l *Listener) Stop(ctx context.Context) {
	l.running.Store(false)
	if l.cancelLoop != nil {
		l.cancelLoop()
	}
	if l.loopDone != nil {
		<-l.loopDone
	}

	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
}

// Subscribe registers a new subscriber on channel, issuing LISTEN if this
// is the first local subscriber for it, and returns a receive-only event
// channel plus an unsubscribe function. The returned channel is buffered;
// a slow subscriber drops events rather than blocking the receive loop.
func (l *Listener) Subscribe(ctx context.Context, channel string) (<-chan Event, func(), error) {
	if !l.running.Load() {
		return nil, nil, fmt.Errorf("changechannel: listener not started")
	}

	events := make(chan Event, 32)

	l.subMu.Lock()
	first := len(l.subscribers[channel]) == 0
	l.subscribers[channel] = append(l.subscribers[channel], events)
	l.subMu.Unlock()

	if first {
		if err := l.sendCommand(ctx, listenCmd{sql: "LISTEN " + sanitize(channel), channel: channel}); err != nil {
			l.removeSubscriber(channel, events)
			return nil, nil, err
		}
	}

	unsubscribe := func() {
		remaining := l.removeSubscriber(channel, events)
		if remaining == 0 {
			l.listenGenMu.Lock()
			gen := l.listenGen[channel]
			l.listenGenMu.Unlock()
			_ = l.sendCommand(context.Background(), listenCmd{
				sql:     "UNLISTEN " + sanitize(channel),
				channel: channel,
				gen:     gen,
			})
		}
	}
	return events, unsubscribe, nil
}

func (l *Listener) removeSubscriber(channel string, target chan Event) int {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	subs := l.subscribers[channel]
	for i, c := range subs {
		if c == target {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	close(target)
	if len(subs) == 0 {
		delete(l.subscribers, channel)
		return 0
	}
	l.subscribers[channel] = subs
	return len(subs)
}

func (l *Listener) sendCommand(ctx context.Context, cmd listenCmd) error {
	cmd.result = make(chan error, 1)
	select {
	case l.cmdCh <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Listener) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.processPendingCmds(ctx)

		l.connMu.Lock()
		conn := l.conn
		l.connMu.Unlock()
		if conn == nil {
			l.reconnect(ctx)
			continue
		}

		waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		notification, err := conn.WaitForNotification(waitCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if waitCtx.Err() != nil {
				continue
			}
			l.logger.Error("notify receive error", zap.Error(err))
			l.reconnect(ctx)
			continue
		}

		l.dispatch(Event{
			Channel:    notification.Channel,
			Payload:    notification.Payload,
			ReceivedAt: time.Now(),
		})
	}
}

func (l *Listener) dispatch(ev Event) {
	l.subMu.RLock()
	defer l.subMu.RUnlock()
	for _, sub := range l.subscribers[ev.Channel] {
		select {
		case sub <- ev:
		default:
			l.logger.Warn("dropping event for slow subscriber", zap.String("channel", ev.Channel))
		}
	}
}

func (l *Listener) processPendingCmds(ctx context.Context) {
	for {
		select {
		case cmd := <-l.cmdCh:
			if cmd.gen > 0 {
				l.listenGenMu.Lock()
				stale := l.listenGen[cmd.channel] != cmd.gen
				l.listenGenMu.Unlock()
				if stale {
					cmd.result <- nil
					continue
				}
			}

			l.connMu.Lock()
			conn := l.conn
			l.connMu.Unlock()
			if conn == nil {
				cmd.result <- fmt.Errorf("changechannel: connection not established")
				continue
			}

			_, err := conn.Exec(ctx, cmd.sql)
			if err == nil && cmd.gen == 0 && cmd.channel != "" {
				l.listenGenMu.Lock()
				l.listenGen[cmd.channel]++
				l.listenGenMu.Unlock()
			}
			cmd.result <- err
		default:
			return
		}
	}
}

func (l *Listener) reconnect(ctx context.Context) {
	l.connMu.Lock()
	defer l.connMu.Unlock()

	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		conn, err := pgx.Connect(ctx, l.connString)
		if err != nil {
			l.logger.Error("reconnect failed", zap.Error(err), zap.Duration("backoff", backoff))
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			continue
		}
		l.conn = conn

		l.subMu.RLock()
		for channel := range l.subscribers {
			if _, err := conn.Exec(ctx, "LISTEN "+sanitize(channel)); err != nil {
				l.logger.Error("re-listen failed", zap.String("channel", channel), zap.Error(err))
			}
		}
		l.subMu.RUnlock()

		l.logger.Info("change channel listener reconnected")
		return
	}
}

func sanitize(channel string) string {
	return pgx.Identifier{channel}.Sanitize()
}
