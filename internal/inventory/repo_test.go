package inventory

import (
	"context"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*Repo, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &Repo{DB: mock}, mock
}

func TestDecrement(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE products SET stock = stock - $3")).
		WithArgs("t1", "prod_A", 3).
		WillReturnRows(pgxmock.NewRows([]string{"stock"}).AddRow(7))

	left, err := repo.Decrement(ctx, nil, "t1", "prod_A", 3)
	require.NoError(t, err)
	require.Equal(t, 7, left)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDecrementUnknownProduct(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE products SET stock")).
		WithArgs("t1", "ghost", 1).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.Decrement(context.Background(), nil, "t1", "ghost", 1)
	require.ErrorIs(t, err, ErrProductNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimIsOncePerOrderAndProduct(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO stock_movements")).
		WithArgs("o1", "prod_A", "t1", 3).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO stock_movements")).
		WithArgs("o1", "prod_A", "t1", 3).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	first, err := repo.Claim(ctx, mock, "o1", "t1", "prod_A", 3)
	require.NoError(t, err)
	require.True(t, first)

	second, err := repo.Claim(ctx, mock, "o1", "t1", "prod_A", 3)
	require.NoError(t, err)
	require.False(t, second)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSalePrice(t *testing.T) {
	tests := []struct {
		name string
		p    Product
		want int64
	}{
		{"no bonus", Product{PriceCents: 500}, 500},
		{"bonus flag without percentage", Product{PriceCents: 500, InBonus: true}, 500},
		{"20 percent off", Product{PriceCents: 1000, InBonus: true, BonusPercentage: 20}, 800},
		{"rounds half up", Product{PriceCents: 333, InBonus: true, BonusPercentage: 50}, 167},
		{"capped at free", Product{PriceCents: 500, InBonus: true, BonusPercentage: 150}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.p.SalePrice())
		})
	}
}
