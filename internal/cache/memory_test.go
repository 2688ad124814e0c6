package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_SetGet(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", map[string]int{"a": 1}, time.Minute))

	var got map[string]int
	found, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, got["a"])

	found, err = c.Get(ctx, "missing", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", 1, 20*time.Millisecond, TagPaymentsData.For("c1")))

	var got int
	found, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, found)

	time.Sleep(50 * time.Millisecond)

	found, err = c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Invalidate(ctx, TagPaymentsData.For("c1")))
	assert.Empty(t, c.tags)
}

func TestMemoryCache_InvalidateByTag(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	company := "c1"

	require.NoError(t, c.Set(ctx, "payments:1", 1, time.Minute, TagPaymentsData.For(company)))
	require.NoError(t, c.Set(ctx, "sales:1", 2, time.Minute, TagUnreconciledSales.For(company)))
	require.NoError(t, c.Set(ctx, "accounts:1", 3, time.Minute, TagBankAccounts.For(company)))
	require.NoError(t, c.Set(ctx, "payments:other", 4, time.Minute, TagPaymentsData.For("c2")))

	require.NoError(t, c.Invalidate(ctx, TagPaymentsData.For(company), TagUnreconciledSales.For(company)))

	var v int
	found, _ := c.Get(ctx, "payments:1", &v)
	assert.False(t, found)
	found, _ = c.Get(ctx, "sales:1", &v)
	assert.False(t, found)
	found, _ = c.Get(ctx, "accounts:1", &v)
	assert.True(t, found)
	found, _ = c.Get(ctx, "payments:other", &v)
	assert.True(t, found)
}

func TestMemoryLocker(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	release, err := l.Obtain(ctx, "repair", time.Minute)
	require.NoError(t, err)

	_, err = l.Obtain(ctx, "repair", time.Minute)
	assert.True(t, errors.Is(err, ErrNotObtained))

	_, err = l.Obtain(ctx, "other", time.Minute)
	assert.NoError(t, err)

	require.NoError(t, release(ctx))

	_, err = l.Obtain(ctx, "repair", time.Minute)
	assert.NoError(t, err)
}

func TestMemoryLocker_Expiry(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	stale, err := l.Obtain(ctx, "repair", 20*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	_, err = l.Obtain(ctx, "repair", time.Minute)
	require.NoError(t, err, "expired lock must be obtainable")

	require.NoError(t, stale(ctx))

	_, err = l.Obtain(ctx, "repair", time.Minute)
	assert.True(t, errors.Is(err, ErrNotObtained), "stale release must keep the new lease")
}
