package cron

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/ledgerd/internal/ledger"
	"github.com/angelmondragon/ledgerd/pkg/db/dbtest"
	"github.com/angelmondragon/ledgerd/pkg/enums"
	"github.com/angelmondragon/ledgerd/pkg/money"
)

type fakeWarehouse struct {
	watermark time.Time
	inserts   [][]any
}

func (f *fakeWarehouse) MaxTimestamp(context.Context, string, string) (time.Time, error) {
	return f.watermark, nil
}

func (f *fakeWarehouse) InsertRows(_ context.Context, _ string, rows []any) error {
	f.inserts = append(f.inserts, rows)
	return nil
}

func TestLedgerExportCopiesFinalizedRecordsInBatches(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	led, err := ledger.NewService(ledger.ServiceParams{Repo: ledger.NewRepository(conn)})
	require.NoError(t, err)

	payee := uuid.New()
	for _, amount := range []string{"1.00", "2.00", "3.00"} {
		_, err := led.Record(ctx, ledger.RecordInput{
			Amount:   money.MustParse(amount, enums.CurrencyUSD),
			Category: enums.CategoryTip,
			PayeeID:  &payee,
			Status:   enums.TransactionSuccess,
		})
		require.NoError(t, err)
	}
	_, err = led.Record(ctx, ledger.RecordInput{
		Amount:   money.MustParse("4.00", enums.CurrencyUSD),
		Category: enums.CategoryTip,
		PayeeID:  &payee,
		Status:   enums.TransactionPending,
	})
	require.NoError(t, err)

	wh := &fakeWarehouse{}
	jobIface, err := NewLedgerExportJob(LedgerExportJobParams{
		Logger:    testLogger(),
		Ledger:    led,
		Warehouse: wh,
		Table:     "transaction_records",
		BatchSize: 2,
	})
	require.NoError(t, err)
	job := jobIface.(*ledgerExportJob)
	job.now = func() time.Time { return time.Now().Add(time.Hour) }

	require.NoError(t, job.Run(ctx))
	require.Len(t, wh.inserts, 2)
	assert.Len(t, wh.inserts[0], 2)
	assert.Len(t, wh.inserts[1], 1)

	saver, ok := wh.inserts[0][0].(*bigquery.StructSaver)
	require.True(t, ok)
	row := saver.Struct.(ledgerRow)
	assert.Equal(t, saver.InsertID, row.ID)
	assert.Equal(t, string(enums.CategoryTip), row.Category)
	require.NotNil(t, row.Amount)
	assert.Equal(t, "USD", row.Currency)
	assert.True(t, row.PayeeID.Valid)
	assert.False(t, row.PayerID.Valid)

	wh.inserts = nil
	wh.watermark = time.Now().Add(2 * time.Hour)
	require.NoError(t, job.Run(ctx))
	assert.Empty(t, wh.inserts)
}
