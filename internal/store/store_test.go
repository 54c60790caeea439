package store

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectPing()
	s, err := New(context.Background(), mock, nil)
	require.NoError(t, err)
	return s, mock
}

func TestStorePutAndGet(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO macros").
		WithArgs("login.iim", "URL GOTO=https://example.org").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.Put(context.Background(), "login.iim", "URL GOTO=https://example.org"))

	mock.ExpectQuery("SELECT body FROM macros").
		WithArgs("login.iim").
		WillReturnRows(pgxmock.NewRows([]string{"body"}).AddRow("URL GOTO=https://example.org"))
	body, err := s.Get(context.Background(), "login.iim")
	require.NoError(t, err)
	assert.Equal(t, "URL GOTO=https://example.org", body)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreList(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT name FROM macros").
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("a.iim").AddRow("b.iim"))

	names, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.iim", "b.iim"}, names)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreDelete(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM macros").
		WithArgs("old.iim").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	assert.NoError(t, s.Delete(context.Background(), "old.iim"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreLoadMissingIsNotAnError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT body FROM macros").
		WithArgs("absent.iim").
		WillReturnError(pgx.ErrNoRows)

	_, ok, err := s.Load(context.Background(), "absent.iim")
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectQuery("SELECT body FROM macros").
		WithArgs("present.iim").
		WillReturnRows(pgxmock.NewRows([]string{"body"}).AddRow("PAUSE"))

	body, ok, err := s.Load(context.Background(), "present.iim")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "PAUSE", body)
}

func TestStoreEnsureSchema(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS macros").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	assert.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
