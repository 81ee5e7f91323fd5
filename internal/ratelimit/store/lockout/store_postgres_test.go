package lockout

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bruteguard/pkg/testutil"
)

func TestPostgresIndex(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	idx := NewPostgresIndex(mock)
	ctx := context.Background()
	now := testutil.TestTime

	mock.ExpectExec(regexp.QuoteMeta(pgRecordSQL)).
		WithArgs("hash-a", now.Add(15*time.Minute)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, idx.Record(ctx, "hash-a", now.Add(15*time.Minute)))

	mock.ExpectQuery(regexp.QuoteMeta(pgAnyAfterSQL)).
		WithArgs(now.Add(-10 * time.Minute)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	found, err := idx.AnyAfter(ctx, now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.True(t, found)

	mock.ExpectExec(regexp.QuoteMeta(pgPruneSQL)).
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))
	removed, err := idx.Prune(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 4, removed)

	mock.ExpectExec(regexp.QuoteMeta(pgRemoveSQL)).
		WithArgs("hash-a").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, idx.Remove(ctx, "hash-a"))

	mock.ExpectQuery(regexp.QuoteMeta(pgAnyAfterSQL)).
		WithArgs(now).
		WillReturnError(errors.New("too many connections"))
	_, err = idx.AnyAfter(ctx, now)
	assert.ErrorContains(t, err, "query lockout expiries")

	require.NoError(t, mock.ExpectationsWereMet())
}
