package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const listenerPingInterval = 90 * time.Second

// ErrFeedClosed is returned by Subscribe once the feed has been closed
var ErrFeedClosed = errors.New("change feed closed")

// PostgresChangeFeed receives row change notifications raised by the
// entitlements table trigger through LISTEN/NOTIFY.
//
// Publish is a no-op because the trigger already notifies on every write.
// A dropped connection is reported to subscribers as a resync notification.
type PostgresChangeFeed struct {
	listener *pq.Listener
	channel  string
	logger   *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
}

var _ entitlement.ChangeFeed = (*PostgresChangeFeed)(nil)

// NewPostgresChangeFeed starts listening on channel using a dedicated connection
func NewPostgresChangeFeed(dsn, channel string, logger *zap.Logger) (*PostgresChangeFeed, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &PostgresChangeFeed{
		channel: channel,
		logger:  logger.With(zap.String("component", "pg_change_feed"), zap.String("channel", channel)),
		done:    make(chan struct{}),
	}
	f.listener = pq.NewListener(dsn, 2*time.Second, time.Minute, f.onListenerEvent)
	if err := f.listener.Listen(channel); err != nil {
		_ = f.listener.Close()
		return nil, fmt.Errorf("listen on %s: %w", channel, err)
	}
	f.logger.Info("Listening for entitlement changes")
	return f, nil
}

func (f *PostgresChangeFeed) onListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnectionAttemptFailed:
		f.logger.Warn("Change feed connection attempt failed", zap.Error(err))
	case pq.ListenerEventDisconnected:
		f.logger.Warn("Change feed disconnected", zap.Error(err))
	case pq.ListenerEventReconnected:
		f.logger.Info("Change feed reconnected")
	}
}

// Publish is a no-op; the database trigger notifies on every write
func (f *PostgresChangeFeed) Publish(context.Context, entitlement.ChangeNotification) error {
	return nil
}

// Subscribe delivers notifications to fn until ctx is done or the feed closes
func (f *PostgresChangeFeed) Subscribe(ctx context.Context, fn func(entitlement.ChangeNotification)) error {
	ticker := time.NewTicker(listenerPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return ErrFeedClosed
		case n, ok := <-f.listener.Notify:
			if !ok {
				return ErrFeedClosed
			}
			if n == nil {
				// pq sends nil after a reconnect; anything in between is lost
				fn(entitlement.ChangeNotification{Op: entitlement.OpResync})
				continue
			}
			change, err := DecodeChangeNotification([]byte(n.Extra))
			if err != nil {
				f.logger.Warn("Dropping malformed change notification", zap.String("payload", n.Extra), zap.Error(err))
				continue
			}
			fn(change)
		case <-ticker.C:
			go func() {
				if err := f.listener.Ping(); err != nil {
					f.logger.Debug("Change feed ping failed", zap.Error(err))
				}
			}()
		}
	}
}

// Close stops listening and releases the connection
func (f *PostgresChangeFeed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		err = f.listener.Close()
	})
	return err
}

// DecodeChangeNotification parses the trigger payload
func DecodeChangeNotification(payload []byte) (entitlement.ChangeNotification, error) {
	var n entitlement.ChangeNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return n, err
	}
	if n.Op == "" {
		n.Op = entitlement.OpUpdate
	}
	return n, nil
}
