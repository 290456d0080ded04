package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopadmin/internal/domain/catalog"
)

func TestContainer_WithCatalogTx(t *testing.T) {
	count := regexp.QuoteMeta("SELECT COUNT(*) FROM sales_order_detail WHERE product_id = $1")

	t.Run("commits on success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(count).WithArgs(int64(1)).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectCommit()

		c := NewContainer(db)
		err = c.WithCatalogTx(context.Background(), func(s catalog.Store) error {
			_, err := s.CountOrderLines(context.Background(), 1)
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		c := NewContainer(db)
		err = c.WithCatalogTx(context.Background(), func(catalog.Store) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestContainer_Ping(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing().WillReturnError(errors.New("down"))

	c := NewContainer(db)
	assert.Error(t, c.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
