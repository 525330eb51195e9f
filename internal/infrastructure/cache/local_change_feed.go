package cache

import (
	"context"
	"sync"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
)

// LocalChangeFeed fans notifications out within one process. It backs the
// "none" change feed setting, where only this instance writes to the store.
type LocalChangeFeed struct {
	mu     sync.Mutex
	subs   map[chan entitlement.ChangeNotification]struct{}
	closed chan struct{}
	once   sync.Once
	buffer int
}

var _ entitlement.ChangeFeed = (*LocalChangeFeed)(nil)

// NewLocalChangeFeed creates a feed whose subscribers buffer up to buffer notifications
func NewLocalChangeFeed(buffer int) *LocalChangeFeed {
	if buffer <= 0 {
		buffer = 64
	}
	return &LocalChangeFeed{
		subs:   make(map[chan entitlement.ChangeNotification]struct{}),
		closed: make(chan struct{}),
		buffer: buffer,
	}
}

// Publish delivers n to every subscriber. A full subscriber gets a resync instead.
func (f *LocalChangeFeed) Publish(_ context.Context, n entitlement.ChangeNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- n:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- entitlement.ChangeNotification{Op: entitlement.OpResync}:
			default:
			}
		}
	}
	return nil
}

func (f *LocalChangeFeed) Subscribe(ctx context.Context, fn func(entitlement.ChangeNotification)) error {
	ch := make(chan entitlement.ChangeNotification, f.buffer)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		delete(f.subs, ch)
		f.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.closed:
			return nil
		case n := <-ch:
			fn(n)
		}
	}
}

func (f *LocalChangeFeed) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}
