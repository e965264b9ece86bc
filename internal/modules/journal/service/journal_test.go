package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"dca_bot/internal/models"
	"dca_bot/pkg/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTx struct {
	sql  string
	args []any
	err  error
}

func (f *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.sql, f.args = sql, args
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }

type fakeManager struct {
	tx    *fakeTx
	calls int
}

func (m *fakeManager) Write(ctx context.Context, fn func(context.Context, db.Querier) error) error {
	m.calls++
	return fn(ctx, m.tx)
}

func Test_Journal_Record(t *testing.T) {
	m := &fakeManager{tx: &fakeTx{}}
	j := NewJournal(m, zap.NewNop())
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return at }

	j.Record(context.Background(), Event{
		Account: "main", Symbol: "BTC-USDT-SWAP", Side: models.PosLong,
		Action: string(models.ActionScaledIn), Price: 94.9, Size: 5, AvgPrice: 98.3, DcaCount: 2,
	})

	require.Equal(t, 1, m.calls)
	require.Contains(t, m.tx.sql, "INSERT INTO position_events")
	require.Equal(t, []any{"main", "BTC-USDT-SWAP", "long", "scaledIn", 94.9, 5.0, 98.3, 2, "", at}, m.tx.args)
}

func Test_Journal_FailureIsSwallowed(t *testing.T) {
	m := &fakeManager{tx: &fakeTx{err: errors.New("connection refused")}}
	j := NewJournal(m, zap.NewNop())
	require.NotPanics(t, func() {
		j.Record(context.Background(), Event{Account: "a", Symbol: "s", Action: "opened"})
	})
	require.Equal(t, 1, m.calls)
}

func Test_Journal_EnsureSchema(t *testing.T) {
	m := &fakeManager{tx: &fakeTx{}}
	j := NewJournal(m, zap.NewNop())
	require.NoError(t, j.EnsureSchema(context.Background()))
	require.Contains(t, m.tx.sql, "CREATE TABLE IF NOT EXISTS position_events")

	m.tx.err = errors.New("permission denied")
	require.ErrorContains(t, j.EnsureSchema(context.Background()), "permission denied")

	require.NoError(t, NewJournal(nil, zap.NewNop()).EnsureSchema(context.Background()))
}

func Test_Journal_Disabled(t *testing.T) {
	j := NewJournal(nil, zap.NewNop())
	require.False(t, j.Enabled())
	j.Record(context.Background(), Event{Account: "a"})

	var none *Journal
	require.False(t, none.Enabled())
}
