package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/ledgerd/internal/ledger"
	"github.com/angelmondragon/ledgerd/pkg/db/models"
	"github.com/angelmondragon/ledgerd/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgerd/pkg/errors"
)

type fakeRecords struct {
	records  []models.TransactionRecord
	query    ledger.Query
	appended map[uuid.UUID][]string
}

func (f *fakeRecords) Find(_ context.Context, q ledger.Query) ([]models.TransactionRecord, error) {
	f.query = q
	return f.records, nil
}

func (f *fakeRecords) AppendRemoteIDs(_ context.Context, id uuid.UUID, remoteIDs ...string) (*models.TransactionRecord, error) {
	if f.appended == nil {
		f.appended = map[uuid.UUID][]string{}
	}
	f.appended[id] = append(f.appended[id], remoteIDs...)
	return &models.TransactionRecord{ID: id}, nil
}

type fakeFees map[string]string

func (f fakeFees) BalanceTransactionID(_ context.Context, chargeID string) (string, error) {
	if chargeID == "ch_broken" {
		return "", errors.New("stripe unavailable")
	}
	return f[chargeID], nil
}

func record(remoteIDs ...string) models.TransactionRecord {
	return models.TransactionRecord{ID: uuid.New(), RemoteIDs: remoteIDs}
}

func TestFeeReconcilerAppendsMissingSettlementIDs(t *testing.T) {
	needsFee := record("pi_1", "ch_1")
	settled := record("pi_2", "ch_2", "txn_2")
	noCharge := record("pi_3")
	unsettled := record("ch_4")
	store := &fakeRecords{records: []models.TransactionRecord{needsFee, settled, noCharge, unsettled}}

	rec, err := NewFeeReconciler(store, fakeFees{"ch_1": "txn_1"}, nil)
	require.NoError(t, err)

	report, err := rec.Run(context.Background(), FeeOptions{})
	require.NoError(t, err)
	assert.Equal(t, FeeReport{Scanned: 4, Updated: 1, Missing: 1, Complete: 2}, report)
	assert.Equal(t, map[uuid.UUID][]string{needsFee.ID: {"txn_1"}}, store.appended)
	assert.Equal(t, []enums.AccountType{enums.AccountCard}, store.query.Sources)
	assert.Equal(t, []enums.TransactionStatus{enums.TransactionSuccess}, store.query.Statuses)
	assert.Equal(t, defaultLimit, store.query.Limit)
}

func TestFeeReconcilerDryRunDoesNotWrite(t *testing.T) {
	store := &fakeRecords{records: []models.TransactionRecord{record("ch_1")}}
	rec, err := NewFeeReconciler(store, fakeFees{"ch_1": "txn_1"}, nil)
	require.NoError(t, err)

	report, err := rec.Run(context.Background(), FeeOptions{DryRun: true, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)
	assert.Empty(t, store.appended)
	assert.Equal(t, 10, store.query.Limit)
}

func TestFeeReconcilerCollectsLookupFailures(t *testing.T) {
	good := record("ch_1")
	store := &fakeRecords{records: []models.TransactionRecord{record("ch_broken"), good}}
	rec, err := NewFeeReconciler(store, fakeFees{"ch_1": "txn_1"}, nil)
	require.NoError(t, err)

	report, err := rec.Run(context.Background(), FeeOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stripe unavailable")
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, []string{"txn_1"}, store.appended[good.ID])
}

func TestNewFeeReconcilerRequiresLookup(t *testing.T) {
	_, err := NewFeeReconciler(&fakeRecords{}, nil, nil)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeDependency))
}
