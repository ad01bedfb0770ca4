package money

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/ledgerd/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgerd/pkg/errors"
)

func TestDigits(t *testing.T) {
	assert.Equal(t, int32(2), Digits(enums.CurrencyUSD))
	assert.Equal(t, int32(0), Digits(enums.CurrencyJPY))
	assert.Equal(t, int32(3), Digits(enums.CurrencyKWD))
	assert.Equal(t, int32(2), Digits(enums.Currency("XYZ")))
	assert.True(t, SmallestUnit(enums.CurrencyUSD).Equal(decimal.RequireFromString("0.01")))
	assert.True(t, Zero(enums.CurrencyUSD).IsZero())
}

func TestRoundingModes(t *testing.T) {
	cases := []struct {
		in   string
		mode RoundingMode
		want string
	}{
		{"18.825", RoundHalfEven, "18.82"},
		{"18.835", RoundHalfEven, "18.84"},
		{"18.825", RoundHalfUp, "18.83"},
		{"18.829", RoundDown, "18.82"},
		{"-18.829", RoundDown, "-18.82"},
		{"18.821", RoundCeiling, "18.83"},
		{"-18.829", RoundCeiling, "-18.82"},
	}
	for _, tc := range cases {
		got := MustParse(tc.in, enums.CurrencyUSD).Round(tc.mode)
		assert.Truef(t, got.Amount.Equal(decimal.RequireFromString(tc.want)), "%s %s: got %s", tc.in, tc.mode, got.Amount)
	}
}

func TestArithmeticRejectsMixedCurrencies(t *testing.T) {
	usd := MustParse("1.00", enums.CurrencyUSD)
	eur := MustParse("1.00", enums.CurrencyEUR)

	_, err := usd.Add(eur)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeInvalidCurrency, pkgerrors.CodeOf(err))

	_, err = usd.Sub(eur)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidCurrency))

	_, err = usd.Cmp(eur)
	assert.Error(t, err)

	_, err = Sum(enums.CurrencyUSD, usd, eur)
	assert.Error(t, err)

	total, err := Sum(enums.CurrencyUSD, usd, usd)
	require.NoError(t, err)
	assert.Equal(t, "2.00 USD", total.String())
}

func TestMinorUnits(t *testing.T) {
	units, err := MustParse("18.83", enums.CurrencyUSD).MinorUnits()
	require.NoError(t, err)
	assert.Equal(t, int64(1883), units)

	units, err = MustParse("500", enums.CurrencyJPY).MinorUnits()
	require.NoError(t, err)
	assert.Equal(t, int64(500), units)

	_, err = MustParse("3.825", enums.CurrencyUSD).MinorUnits()
	assert.Error(t, err)

	assert.True(t, FromMinorUnits(1883, enums.CurrencyUSD).Equal(MustParse("18.83", enums.CurrencyUSD)))
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse("twelve", enums.CurrencyUSD)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestDivideEvenly(t *testing.T) {
	parts, err := DivideEvenly(MustParse("10.00", enums.CurrencyUSD), 3)
	require.NoError(t, err)
	require.Len(t, parts, 3)
	assert.Equal(t, "3.34 USD", parts[0].String())
	assert.Equal(t, "3.33 USD", parts[1].String())
	assert.Equal(t, "3.33 USD", parts[2].String())

	parts, err = DivideEvenly(MustParse("-0.05", enums.CurrencyUSD), 2)
	require.NoError(t, err)
	assert.Equal(t, "-0.03 USD", parts[0].String())
	assert.Equal(t, "-0.02 USD", parts[1].String())

	_, err = DivideEvenly(MustParse("1.00", enums.CurrencyUSD), 0)
	assert.Error(t, err)
}

func TestDivideEvenlyRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	currencies := []enums.Currency{enums.CurrencyUSD, enums.CurrencyJPY, enums.CurrencyKWD}

	for i := 0; i < 500; i++ {
		currency := currencies[rng.Intn(len(currencies))]
		amount := FromMinorUnits(rng.Int63n(10_000_000), currency)
		n := rng.Intn(50) + 1

		parts, err := DivideEvenly(amount, n)
		require.NoError(t, err)
		require.Len(t, parts, n)

		sum, err := Sum(currency, parts...)
		require.NoError(t, err)
		require.Truef(t, sum.Equal(amount), "sum %s != %s for n=%d", sum, amount, n)

		lo, hi := parts[0].Amount, parts[0].Amount
		for _, p := range parts {
			lo = decimal.Min(lo, p.Amount)
			hi = decimal.Max(hi, p.Amount)
		}
		require.Truef(t, hi.Sub(lo).LessThanOrEqual(SmallestUnit(currency)), "spread %s too wide for %s/%d", hi.Sub(lo), amount, n)
	}
}

func TestDivideEvenlySubUnitResidueIsConserved(t *testing.T) {
	amount := MustParse("3.825", enums.CurrencyUSD)
	parts, err := DivideEvenly(amount, 2)
	require.NoError(t, err)
	sum, err := Sum(enums.CurrencyUSD, parts...)
	require.NoError(t, err)
	assert.True(t, sum.Equal(amount))
}

func TestPercent(t *testing.T) {
	got := MustParse("15.00", enums.CurrencyUSD).Percent(decimal.RequireFromString("5.5"))
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("0.825")))
}
