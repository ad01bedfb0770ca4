package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/ledgerd/pkg/config"
	"github.com/angelmondragon/ledgerd/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgerd/pkg/errors"
)

func fastRetry(attempts uint64) config.RetryConfig {
	return config.RetryConfig{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), fastRetry(5), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", Transient(errors.New("timeout"), "charge")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestRetryGivesUpAfterBudget(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastRetry(3), func(context.Context) (int, error) {
		calls++
		return 0, Transient(errors.New("503"), "transfer")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, IsTransient(err))
}

func TestRetryDoesNotRetryPermanentErrors(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastRetry(5), func(context.Context) (int, error) {
		calls++
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "bad token")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Retry(ctx, fastRetry(5), func(context.Context) (int, error) {
		return 0, Transient(errors.New("timeout"), "charge")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHumanMessage(t *testing.T) {
	assert.Equal(t, "Your card has insufficient funds.", HumanMessage("insufficient_funds"))
	assert.Equal(t, "Your card has insufficient funds.", HumanMessage("INSUFFICIENT_FUNDS"))
	assert.Equal(t, "Your card has expired. Please update your card details.", HumanMessage(" CARD_EXPIRED "))
	assert.Equal(t, defaultMessage, HumanMessage("something_new"))
	assert.Equal(t, defaultMessage, HumanMessage(""))
}

func TestResultReason(t *testing.T) {
	assert.Empty(t, Result{Status: StatusSucceeded}.Reason())
	assert.Equal(t, HumanMessage("card_declined"), Result{Status: StatusFailed, FailureCode: "card_declined"}.Reason())
}

type stubGateway struct{ provider enums.GatewayProvider }

func (s stubGateway) Provider() enums.GatewayProvider { return s.provider }
func (stubGateway) Charge(context.Context, ChargeRequest) (Result, error) {
	return Result{}, nil
}
func (stubGateway) Refund(context.Context, RefundRequest) (Result, error) {
	return Result{}, nil
}
func (stubGateway) Transfer(context.Context, TransferRequest) (Result, error) {
	return Result{}, nil
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(stubGateway{provider: enums.GatewayStripe}, nil)

	g, err := reg.For(enums.GatewayStripe)
	require.NoError(t, err)
	assert.Equal(t, enums.GatewayStripe, g.Provider())

	_, err = reg.For(enums.GatewaySquare)
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.CodeOf(err))
}
