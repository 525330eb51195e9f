package cache

import (
	"context"
	"testing"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreFactory_Create(t *testing.T) {
	ctx := context.Background()
	unreachable := config.RedisConfig{Enabled: true, Host: "127.0.0.1", Port: 1}

	t.Run("redis disabled uses memory", func(t *testing.T) {
		stores, err := NewStoreFactory(config.RedisConfig{}).Create(ctx)
		require.NoError(t, err)
		defer stores.Close()

		assert.Nil(t, stores.Client)
		assert.IsType(t, &InMemorySlotStore{}, stores.Slots)
		assert.IsType(t, &InMemoryTrialMarkerStore{}, stores.Markers)
	})

	t.Run("unreachable redis falls back", func(t *testing.T) {
		stores, err := NewStoreFactory(unreachable).Create(ctx)
		require.NoError(t, err)
		assert.Nil(t, stores.Client)
	})

	t.Run("unreachable redis without fallback fails", func(t *testing.T) {
		_, err := NewStoreFactory(unreachable, WithInMemoryFallback(false)).Create(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redis required")
	})
}
