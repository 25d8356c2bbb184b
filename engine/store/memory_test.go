package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/icms-refund/engine"
	"github.com/warp/icms-refund/engine/store"
)

func record(owner string, final string, months ...engine.Month) engine.Record {
	details := make([]engine.MonthlyDetail, 0, len(months))
	for _, m := range months {
		details = append(details, engine.MonthlyDetail{
			MonthYear:            m,
			BaseValue:            decimal.RequireFromString("177.2"),
			CorrectedValue:       decimal.RequireFromString("177.2"),
			CompensatedEnergyKWh: 800,
		})
	}
	f := decimal.RequireFromString(final)
	return engine.Record{
		OwnerID: owner,
		Input: engine.CalculationInput{
			SupplyType:        engine.SupplyThreePhase,
			InjectedEnergyKWh: 1000,
			ConsumptionKWh:    800,
			InstallationDate:  time.Date(2023, time.March, 10, 0, 0, 0, 0, time.UTC),
		},
		Result: engine.CalculationResult{
			TotalBaseValue:       f.Div(decimal.NewFromInt(2)),
			TotalCorrectedValue:  f.Div(decimal.NewFromInt(2)),
			FinalIndemnification: f,
			MonthsCount:          len(months),
			Details:              details,
		},
	}
}

func TestMemory_SaveAndGet(t *testing.T) {
	// GIVEN: a record whose details are out of month order
	m := store.NewMemory()
	ctx := context.Background()
	jun, jul := engine.NewMonth(2024, time.June), engine.NewMonth(2024, time.July)

	// WHEN: it is saved and read back
	id, err := m.Save(ctx, record("u-1", "100", jul, jun))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := m.Get(ctx, id)
	require.NoError(t, err)

	// THEN: the store assigned identity and details come back in month order
	assert.Equal(t, id, got.ID)
	assert.False(t, got.CreatedAt.IsZero())
	require.Len(t, got.Result.Details, 2)
	assert.Equal(t, jun, got.Result.Details[0].MonthYear)
	assert.Equal(t, jul, got.Result.Details[1].MonthYear)
}

func TestMemory_GetUnknown(t *testing.T) {
	_, err := store.NewMemory().Get(context.Background(), "nope")
	assert.ErrorIs(t, err, engine.ErrCalculationNotFound)
}

func TestMemory_ListNewestFirstByOwner(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	first, _ := m.Save(ctx, record("u-1", "10", engine.NewMonth(2024, time.June)))
	_, _ = m.Save(ctx, record("u-2", "20"))
	third, _ := m.Save(ctx, record("u-1", "30"))

	all, err := m.List(ctx, engine.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, third, all[0].ID)

	mine, err := m.List(ctx, engine.ListFilter{OwnerID: "u-1"})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, third, mine[0].ID)
	assert.Equal(t, first, mine[1].ID)
	assert.Nil(t, mine[1].Result.Details, "list does not load details")

	limited, err := m.List(ctx, engine.ListFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMemory_Summarize(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	_, _ = m.Save(ctx, record("u-1", "10.50"))
	_, _ = m.Save(ctx, record("u-2", "20.25"))
	_, _ = m.Save(ctx, record("u-1", "1"))

	all, err := m.Summarize(ctx, engine.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, all.Count)
	assert.True(t, decimal.RequireFromString("31.75").Equal(all.TotalIndemnification))

	mine, err := m.Summarize(ctx, engine.ListFilter{OwnerID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, mine.Count)
	assert.True(t, decimal.RequireFromString("5.75").Equal(mine.TotalBaseValue))
}

func TestMemory_SaveCopiesDetails(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	rec := record("", "1", engine.NewMonth(2024, time.June))

	id, err := m.Save(ctx, rec)
	require.NoError(t, err)
	rec.Result.Details[0].CompensatedEnergyKWh = 1

	got, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(800), got.Result.Details[0].CompensatedEnergyKWh)
}
