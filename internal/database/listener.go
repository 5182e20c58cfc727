package database

import (
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
	pingInterval         = 90 * time.Second
)

// Listener delivers payloads published on one notification channel
type Listener struct {
	pq      *pq.Listener
	channel string
	out     chan string
	done    chan struct{}
	logger  *zap.Logger
}

// NewListener subscribes to channel. Reconnects happen inside lib/pq and are
// only logged here.
func NewListener(dsn, channel string, logger *zap.Logger) (*Listener, error) {
	logger = logger.Named("listener")

	l := pq.NewListener(dsn, minReconnectInterval, maxReconnectInterval, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventDisconnected:
			logger.Warn("Notification connection lost", zap.Error(err))
		case pq.ListenerEventReconnected:
			logger.Info("Notification connection re-established")
		case pq.ListenerEventConnectionAttemptFailed:
			logger.Error("Notification reconnect failed", zap.Error(err))
		}
	})

	if err := l.Listen(channel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", channel, err)
	}

	listener := &Listener{
		pq:      l,
		channel: channel,
		out:     make(chan string),
		done:    make(chan struct{}),
		logger:  logger,
	}
	go listener.forward()

	logger.Info("Listening for notifications", zap.String("channel", channel))
	return listener, nil
}

// Notifications yields each notification payload. It is closed by Close.
func (l *Listener) Notifications() <-chan string {
	return l.out
}

func (l *Listener) forward() {
	defer close(l.out)
	for {
		select {
		case n, ok := <-l.pq.Notify:
			if !ok {
				return
			}
			// nil after a reconnect: notifications may have been missed and
			// the reconciliation pass picks them up
			if n == nil {
				continue
			}
			select {
			case l.out <- n.Extra:
			case <-l.done:
				return
			}
		case <-time.After(pingInterval):
			go func() {
				if err := l.pq.Ping(); err != nil {
					l.logger.Warn("Notification connection ping failed", zap.Error(err))
				}
			}()
		}
	}
}

// Close unsubscribes and releases the connection
func (l *Listener) Close() error {
	close(l.done)
	if err := l.pq.UnlistenAll(); err != nil {
		l.logger.Warn("Failed to unlisten", zap.String("channel", l.channel), zap.Error(err))
	}
	return l.pq.Close()
}
