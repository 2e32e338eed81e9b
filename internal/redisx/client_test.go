package redisx

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilCacheIsInert(t *testing.T) {
	ctx := context.Background()
	c := NewCache(nil)
	require.Nil(t, c)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, c.Set(ctx, "k", []byte("v"), TTLCampaignView))
	assert.NoError(t, c.Del(ctx, "k"))

	seen, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, seen)
	assert.NoError(t, c.Ping(ctx))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "idem:join:c1:u1:abc", fmt.Sprintf(KeyIdemJoin, "c1", "u1", "abc"))
	assert.Equal(t, "dedup:notifier:e1", fmt.Sprintf(KeyDedup, "notifier", "e1"))
}
