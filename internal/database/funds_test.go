package database

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trogers1052/fund-quotes/internal/models"
)

func TestFundRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	testDB := SetupTestDB(t)
	defer testDB.Cleanup(t)
	ctx := context.Background()

	t.Run("EnsureFund creates once", func(t *testing.T) {
		testDB.TruncateAll(t)

		f1, created, err := testDB.EnsureFund(ctx, "CGD", "Caixa Ações Europa")
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotZero(t, f1.ID)

		f2, created, err := testDB.EnsureFund(ctx, "CGD", "Caixa Ações Europa")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, f1.ID, f2.ID)
	})

	t.Run("EnsureFund on an existing fund leaves the id sequence alone", func(t *testing.T) {
		testDB.TruncateAll(t)

		a, _, err := testDB.EnsureFund(ctx, "CGD", "Caixa Ações Europa")
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			_, created, err := testDB.EnsureFund(ctx, "CGD", "Caixa Ações Europa")
			require.NoError(t, err)
			assert.False(t, created)
		}

		b, created, err := testDB.EnsureFund(ctx, "CGD", "Caixa Ações Portugal Espanha")
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, a.ID+1, b.ID)
	})

	t.Run("same name in different banks are distinct", func(t *testing.T) {
		testDB.TruncateAll(t)

		a, _, err := testDB.EnsureFund(ctx, "CGD", "PPR")
		require.NoError(t, err)
		b, _, err := testDB.EnsureFund(ctx, "BPI", "PPR")
		require.NoError(t, err)
		assert.NotEqual(t, a.ID, b.ID)

		funds, err := testDB.ListFunds(ctx)
		require.NoError(t, err)
		require.Len(t, funds, 2)
		assert.Equal(t, "BPI", funds[0].Bank)
	})

	t.Run("GetFundByID missing returns nil", func(t *testing.T) {
		testDB.TruncateAll(t)
		f, err := testDB.GetFundByID(ctx, 12345)
		require.NoError(t, err)
		assert.Nil(t, f)
	})

	t.Run("SetFundStartDate keeps the earliest date", func(t *testing.T) {
		testDB.TruncateAll(t)
		f, _, err := testDB.EnsureFund(ctx, "AR", "PPR")
		require.NoError(t, err)

		require.NoError(t, testDB.SetFundStartDate(ctx, f.ID, time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)))
		require.NoError(t, testDB.SetFundStartDate(ctx, f.ID, time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)))

		got, err := testDB.GetFundByID(ctx, f.ID)
		require.NoError(t, err)
		require.NotNil(t, got.StartDate)
		assert.Equal(t, 2020, got.StartDate.Year())
	})

	t.Run("Stats counts rows", func(t *testing.T) {
		testDB.TruncateAll(t)
		f, _, err := testDB.EnsureFund(ctx, "AR", "PPR")
		require.NoError(t, err)
		now := time.Now()
		_, err = testDB.InsertQuote(ctx, &models.Quote{
			FundID: f.ID, Date: time.Now(), Value: decimal.NewFromInt(1), Created: now, Modified: now,
		})
		require.NoError(t, err)

		stats, err := testDB.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.FundCount)
		assert.Equal(t, int64(1), stats.QuoteCount)
	})
}
