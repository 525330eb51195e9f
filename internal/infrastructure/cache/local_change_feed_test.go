package cache

import (
	"context"
	"testing"
	"time"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalChangeFeed(t *testing.T) {
	feed := NewLocalChangeFeed(8)
	got := make(chan entitlement.ChangeNotification, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- feed.Subscribe(ctx, func(n entitlement.ChangeNotification) { got <- n })
	}()

	userID := uuid.New()
	require.Eventually(t, func() bool {
		_ = feed.Publish(ctx, entitlement.ChangeNotification{UserID: userID, Op: entitlement.OpInsert})
		select {
		case n := <-got:
			return n.UserID == userID
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, feed.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not stop after Close")
	}
}
