//go:build integration

package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bruteguard/internal/platform/config"
	"bruteguard/pkg/testutil/containers"
)

func TestPoolAgainstPostgres(t *testing.T) {
	pg := containers.GetManager().GetPostgres(t)
	ctx := context.Background()

	pool, err := New(ctx, config.DatabaseConfig{URL: pg.DSN, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pool.Health(ctx))

	var one int
	require.NoError(t, pool.DB().QueryRowContext(ctx, "SELECT 1").Scan(&one))
	assert.Equal(t, 1, one)
	assert.EqualValues(t, 4, pool.Stats().MaxConns())
}

func TestNewWithoutURL(t *testing.T) {
	pool, err := New(context.Background(), config.DatabaseConfig{})
	require.NoError(t, err)
	assert.Nil(t, pool)
	assert.Error(t, pool.Health(context.Background()))
	pool.Close()
}
