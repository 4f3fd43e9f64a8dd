package numeric

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestCheckRange(t *testing.T) {
	assert.NoError(t, CheckRange(d("9999999999999999999999.99999999")))
	assert.ErrorIs(t, CheckRange(decimal.New(1, 22)), ErrOverflow)
	assert.ErrorIs(t, CheckRange(decimal.New(-1, 22)), ErrOverflow)
	assert.NoError(t, CheckRange(decimal.Zero))
}

func TestMulOverflow(t *testing.T) {
	big := decimal.New(1, 21)
	_, err := Mul(big, d("100"))
	assert.ErrorIs(t, err, ErrOverflow)

	v, err := Mul(d("0.0001"), d("50000"))
	require.NoError(t, err)
	assert.True(t, v.Equal(d("5")))
}

func TestDivBankersRounding(t *testing.T) {
	// Ties round half-to-even at the target scale.
	v, err := Div(d("0.5"), d("2"), 1)
	require.NoError(t, err)
	assert.True(t, v.Equal(d("0.2")), "0.25 ties to even 0.2, got %s", v)

	v, err = Div(d("0.3"), d("2"), 1)
	require.NoError(t, err)
	assert.True(t, v.Equal(d("0.2")), "0.15 ties to even 0.2, got %s", v)

	v, err = Div(d("1"), d("3"), 4)
	require.NoError(t, err)
	assert.True(t, v.Equal(d("0.3333")), "got %s", v)

	_, err = Div(d("1"), decimal.Zero, 2)
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestDivFloor(t *testing.T) {
	v, err := DivFloor(d("15000"), d("50100"), 4)
	require.NoError(t, err)
	assert.True(t, v.Equal(d("0.2994")), "got %s", v)

	// Never rounds up past what the numerator can pay for.
	assert.True(t, v.Mul(d("50100")).LessThanOrEqual(d("15000")))

	_, err = DivFloor(d("1"), decimal.Zero, 2)
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestQuantize(t *testing.T) {
	assert.True(t, TruncateAmount(d("0.29940119"), 4).Equal(d("0.2994")))
	assert.True(t, CeilAmount(d("50100.001"), 2).Equal(d("50100.01")))
	assert.True(t, CeilAmount(d("50100.00"), 2).Equal(d("50100")))
	assert.True(t, RoundBank(d("2.345"), 2).Equal(d("2.34")))

	assert.True(t, IsQuantized(d("50000.12"), 2))
	assert.False(t, IsQuantized(d("50000.123"), 2))
	assert.ErrorIs(t, RequireQuantized(d("1.001"), 2), ErrScale)
	assert.NoError(t, RequireQuantized(d("1.00"), 2))
}

func TestDust(t *testing.T) {
	assert.True(t, IsDust(d("0.00009"), 4))
	assert.False(t, IsDust(d("0.0001"), 4))
	assert.False(t, IsDust(decimal.Zero, 4), "zero is not dust, it is nothing")
	assert.False(t, IsDust(d("0.06"), 2))
	assert.True(t, UnitAt(2).Equal(d("0.01")))
}
