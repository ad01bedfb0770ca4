package squaregw

import (
	"context"
	"errors"
	"net/http"
	"testing"

	sq "github.com/square/square-go-sdk"
	sqcore "github.com/square/square-go-sdk/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/ledgerd/internal/gateway"
	"github.com/angelmondragon/ledgerd/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgerd/pkg/errors"
	"github.com/angelmondragon/ledgerd/pkg/money"
	"github.com/angelmondragon/ledgerd/pkg/square"
)

type fakeAPI struct {
	paymentFn func(square.PaymentCreateParams) (*sq.Payment, error)
	refundFn  func(square.RefundCreateParams) (*sq.PaymentRefund, error)
}

func (f *fakeAPI) CreatePayment(_ context.Context, p square.PaymentCreateParams) (*sq.Payment, error) {
	return f.paymentFn(p)
}

func (f *fakeAPI) RefundPayment(_ context.Context, p square.RefundCreateParams) (*sq.PaymentRefund, error) {
	return f.refundFn(p)
}

func strPtr(s string) *string { return &s }
func int64Ptr(v int64) *int64 { return &v }

func TestChargeCompleted(t *testing.T) {
	var seen square.PaymentCreateParams
	g, err := New(&fakeAPI{paymentFn: func(p square.PaymentCreateParams) (*sq.Payment, error) {
		seen = p
		return &sq.Payment{
			ID:          strPtr("sqpay_1"),
			Status:      strPtr("COMPLETED"),
			AmountMoney: &sq.Money{Amount: int64Ptr(p.AmountCents)},
		}, nil
	}})
	require.NoError(t, err)

	res, err := g.Charge(context.Background(), gateway.ChargeRequest{
		Amount:         money.MustParse("12.50", enums.CurrencyUSD),
		PaymentToken:   "ccof:abc",
		IdempotencyKey: "intent-7",
	})
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.Equal(t, "sqpay_1", res.ID)
	assert.True(t, res.Amount.Equal(money.MustParse("12.50", enums.CurrencyUSD)))
	assert.Equal(t, int64(1250), seen.AmountCents)
	assert.Equal(t, "intent-7", seen.ReferenceID)
	assert.True(t, seen.Autocomplete)
}

func TestChargeDeclined(t *testing.T) {
	g, err := New(&fakeAPI{paymentFn: func(square.PaymentCreateParams) (*sq.Payment, error) {
		return nil, sqcore.NewAPIError(http.StatusPaymentRequired,
			errors.New(`{"errors":[{"category":"PAYMENT_METHOD_ERROR","code":"CARD_EXPIRED"}]}`))
	}})
	require.NoError(t, err)

	res, err := g.Charge(context.Background(), gateway.ChargeRequest{Amount: money.MustParse("1.00", enums.CurrencyUSD)})
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusFailed, res.Status)
	assert.Equal(t, "CARD_EXPIRED", res.FailureCode)
	assert.Equal(t, gateway.HumanMessage("CARD_EXPIRED"), res.FailureMessage)
}

func TestChargeOutagePassesThrough(t *testing.T) {
	outage := pkgerrors.New(pkgerrors.CodeGatewayTransient, "square create payment failed")
	g, err := New(&fakeAPI{paymentFn: func(square.PaymentCreateParams) (*sq.Payment, error) {
		return nil, outage
	}})
	require.NoError(t, err)

	_, err = g.Charge(context.Background(), gateway.ChargeRequest{Amount: money.MustParse("1.00", enums.CurrencyUSD)})
	assert.True(t, gateway.IsTransient(err))
}

func TestRefund(t *testing.T) {
	g, err := New(&fakeAPI{refundFn: func(p square.RefundCreateParams) (*sq.PaymentRefund, error) {
		assert.Equal(t, "sqpay_1", p.PaymentID)
		return &sq.PaymentRefund{ID: "sqref_1", Status: strPtr("PENDING")}, nil
	}})
	require.NoError(t, err)

	res, err := g.Refund(context.Background(), gateway.RefundRequest{ChargeID: "sqpay_1", Amount: money.MustParse("3.00", enums.CurrencyUSD)})
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusPending, res.Status)
	assert.Equal(t, []string{"sqref_1"}, res.RemoteIDs)
}

func TestTransferUnsupported(t *testing.T) {
	g, err := New(&fakeAPI{})
	require.NoError(t, err)
	_, err = g.Transfer(context.Background(), gateway.TransferRequest{})
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.CodeOf(err))
	assert.Equal(t, enums.GatewaySquare, g.Provider())
}
