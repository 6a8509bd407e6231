package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"

	"triage-intake/internal/logger"
)

// Notifier publishes "record updated" events keyed by session ID and lets
// the doctor stream subscribe to them.
type Notifier interface {
	Notify(ctx context.Context, sessionID string) error
	// Subscribe returns a channel of session IDs that is closed when ctx is
	// done.  Slow subscribers miss events rather than block publishers.
	Subscribe(ctx context.Context) <-chan string
}

// hub fans one event out to every live subscriber.
type hub struct {
	mu   sync.Mutex
	subs map[chan string]struct{}
}

func (h *hub) subscribe(ctx context.Context) <-chan string {
	ch := make(chan string, 16)
	h.mu.Lock()
	if h.subs == nil {
		h.subs = make(map[chan string]struct{})
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, ch)
		close(ch)
		h.mu.Unlock()
	}()
	return ch
}

func (h *hub) publish(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- sessionID:
		default:
		}
	}
}

// LocalNotifier delivers events within the process.  It is used with the
// SQLite backend and in tests.
type LocalNotifier struct {
	hub hub
}

func NewLocalNotifier() *LocalNotifier { return &LocalNotifier{} }

func (n *LocalNotifier) Notify(_ context.Context, sessionID string) error {
	n.hub.publish(sessionID)
	return nil
}

func (n *LocalNotifier) Subscribe(ctx context.Context) <-chan string {
	return n.hub.subscribe(ctx)
}

// PGNotifier wraps the LISTEN/NOTIFY mechanism in PostgreSQL so that every
// server instance sharing the database sees every update.
type PGNotifier struct {
	DB      *sql.DB
	DSN     string
	Channel string
	hub     hub
}

// NewPGNotifier constructs a new PGNotifier.  Events reach subscribers only
// while Listen is running.
func NewPGNotifier(db *sql.DB, dsn, channel string) *PGNotifier {
	return &PGNotifier{DB: db, DSN: dsn, Channel: channel}
}

// Notify sends a notification to the channel with the session ID as payload.
func (n *PGNotifier) Notify(ctx context.Context, sessionID string) error {
	stmt := fmt.Sprintf("NOTIFY %s, %s", pq.QuoteIdentifier(n.Channel), pq.QuoteLiteral(sessionID))
	if _, err := n.DB.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

func (n *PGNotifier) Subscribe(ctx context.Context) <-chan string {
	return n.hub.subscribe(ctx)
}

// Listen holds a dedicated connection on the channel and forwards every
// payload to subscribers until ctx is cancelled.
func (n *PGNotifier) Listen(ctx context.Context) error {
	report := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("notify listener event", "event", ev, "err", err)
		}
	}
	listener := pq.NewListener(n.DSN, 10*time.Second, time.Minute, report)
	defer listener.Close()

	if err := listener.Listen(n.Channel); err != nil {
		return fmt.Errorf("listen %s: %w", n.Channel, err)
	}
	logger.Info("listening for record updates", "channel", n.Channel)

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case note := <-listener.Notify:
			// nil is sent after a reconnect; events in between are lost.
			if note == nil {
				continue
			}
			n.hub.publish(note.Extra)
		case <-ping.C:
			if err := listener.Ping(); err != nil {
				logger.Warn("notify listener ping failed", "err", err)
			}
		}
	}
}
