package deliverables

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/ledgerd/pkg/db/dbtest"
	"github.com/angelmondragon/ledgerd/pkg/db/models"
	"github.com/angelmondragon/ledgerd/pkg/enums"
)

func seed(t *testing.T, r Repository, seller uuid.UUID, completed *time.Time) *models.Deliverable {
	t.Helper()
	d := &models.Deliverable{
		SellerID:    seller,
		Amount:      decimal.NewFromInt(10),
		Currency:    enums.CurrencyUSD,
		CompletedOn: completed,
	}
	require.NoError(t, r.Create(context.Background(), d))
	return d
}

func TestUnpaidDeliverablesLifecycle(t *testing.T) {
	r := NewRepository(dbtest.Open(t))
	ctx := context.Background()
	seller := uuid.New()
	other := uuid.New()
	now := time.Now().UTC().Truncate(time.Second)
	earlier := now.Add(-time.Hour)

	late := seed(t, r, seller, &now)
	early := seed(t, r, seller, &earlier)
	seed(t, r, seller, nil)
	seed(t, r, other, &now)

	unpaid, err := r.ListUnpaid(ctx, seller, 0)
	require.NoError(t, err)
	require.Len(t, unpaid, 2)
	assert.Equal(t, early.ID, unpaid[0].ID)
	assert.Equal(t, late.ID, unpaid[1].ID)

	sellers, err := r.SellersAwaitingPayout(ctx, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{seller, other}, sellers)

	require.NoError(t, r.SetPayoutSent(ctx, []uuid.UUID{early.ID}, true, &now))
	unpaid, err = r.ListUnpaid(ctx, seller, 0)
	require.NoError(t, err)
	require.Len(t, unpaid, 1)
	assert.Equal(t, late.ID, unpaid[0].ID)

	require.NoError(t, r.SetPayoutSent(ctx, []uuid.UUID{early.ID}, false, nil))
	unpaid, err = r.ListUnpaid(ctx, seller, 1)
	require.NoError(t, err)
	require.Len(t, unpaid, 1)
	assert.Equal(t, early.ID, unpaid[0].ID)
}

func TestMarkCompletedOnce(t *testing.T) {
	r := NewRepository(dbtest.Open(t))
	ctx := context.Background()
	d := seed(t, r, uuid.New(), nil)

	n, err := r.MarkCompleted(ctx, d.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = r.MarkCompleted(ctx, d.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, n)

	loaded, err := r.FindByID(ctx, d.ID, false)
	require.NoError(t, err)
	assert.NotNil(t, loaded.CompletedOn)
}
