package redisx

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestGetStringAndExists(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })
	ctx := context.Background()

	key := fmt.Sprintf(KeyTxStatus, "pi_1")

	_, ok, err := GetString(ctx, rdb, key)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = Exists(ctx, rdb, key)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, rdb.Set(ctx, key, `{"status":"settled"}`, TTLStatusCache).Err())

	s, ok, err := GetString(ctx, rdb, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"status":"settled"}`, s)

	ok, err = Exists(ctx, rdb, key)
	require.NoError(t, err)
	require.True(t, ok)
}
