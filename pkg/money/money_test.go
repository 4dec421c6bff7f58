package money

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain", input: "50", want: "50.00"},
		{name: "currency and separators", input: "$1,250.75", want: "1250.75"},
		{name: "currency code", input: "CAD 12.5", want: "12.50"},
		{name: "accounting negative", input: "(12.00)", want: "-12.00"},
		{name: "leading minus", input: "-3.10", want: "-3.10"},
		{name: "empty", input: "", wantErr: true},
		{name: "letters", input: "abc", wantErr: true},
		{name: "only symbol", input: "$", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParseNonNegative_RejectsNegative(t *testing.T) {
	_, err := ParseNonNegative("-1.00")
	assert.ErrorIs(t, err, ErrNegativeAmount)
}

func TestArithmeticIsExact(t *testing.T) {
	total := Zero
	for i := 0; i < 10; i++ {
		total = total.Add(MustParse("0.10"))
	}
	assert.True(t, total.Equal(MustParse("1.00")))

	rate := decimal.RequireFromString("0.015")
	assert.Equal(t, "15.01", MustParse("1000.50").Mul(rate).Round().String())
}

func TestRound_HalfAwayFromZero(t *testing.T) {
	assert.Equal(t, "0.13", MustParse("0.125").Round().String())
	assert.Equal(t, "-0.13", MustParse("-0.125").Round().String())
}

func TestMinMaxSum(t *testing.T) {
	a := MustParse("10")
	b := MustParse("20.5")
	assert.True(t, Min(a, b).Equal(a))
	assert.True(t, Max(a, b).Equal(b))
	assert.Equal(t, "30.50", Sum(a, b).String())
	assert.True(t, Sum().IsZero())
}

func TestJSON(t *testing.T) {
	payload := struct {
		Amount Money `json:"amount"`
	}{Amount: FromCents(5000)}

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"50.00"}`, string(data))

	var decoded struct {
		Amount Money `json:"amount"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"amount":12.34}`), &decoded))
	assert.Equal(t, "12.34", decoded.Amount.String())
}

func TestScan(t *testing.T) {
	var m Money
	require.NoError(t, m.Scan("19.99"))
	assert.Equal(t, "19.99", m.String())

	require.NoError(t, m.Scan([]byte("7")))
	assert.Equal(t, "7.00", m.String())

	require.NoError(t, m.Scan(nil))
	assert.True(t, m.IsZero())

	a, b := 0.1, 0.2
	require.NoError(t, m.Scan(a+b))
	assert.True(t, m.Equal(MustParse("0.30")))
	assert.Equal(t, "0.30", m.String())

	require.NoError(t, m.Scan(19.999999999))
	assert.True(t, m.Equal(FromInt(20)))

	assert.Error(t, m.Scan(true))
}
